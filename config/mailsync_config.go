package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "mailsync"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// JWT
	JWTSecret string

	// Credential encryption
	EncryptionKey string

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GoogleProjectID    string
	GooglePubSubTopic  string

	// OAuth - Microsoft
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftRedirectURL  string
	MicrosoftTenantID     string

	// IMAP relay
	RelayBaseURL string
	RelayAPIKey  string

	// Webhook endpoints
	WebhookBaseURL        string
	WebhookRenewalWindow  time.Duration // 만료 전 갱신 구간 (기본: 24시간)
	WebhookRenewFailLimit int           // 갱신 실패 허용 횟수, 초과 시 폴링 전환

	// Worker
	WorkerID        string
	WorkerCount     int
	WorkerQueueSize int

	// Consumer (Redis Stream)
	ConsumerBatchSize  int
	ConsumerBlockMS    int
	ConsumerMaxRetries int

	// Sync
	SyncInterval        time.Duration // 스케줄 폴링 간격
	SyncAttemptTimeout  time.Duration // 시도당 최대 실행 시간 (기본: 5분)
	SyncBackoffBase     time.Duration // 백오프 시작값 (기본: 30초)
	SyncBackoffCap      time.Duration // 백오프 상한 (기본: 1시간)
	SyncQuarantineAfter int           // 연속 실패 허용 횟수 (기본: 5)
	SyncBatchSize       int           // 델타 페이지 크기

	// CORS
	AllowedOrigins []string

	// Scheduler
	SchedulerEnabled bool
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "mailsync"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// Credential encryption
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),
		GoogleProjectID:    getEnv("GOOGLE_PROJECT_ID", ""),
		GooglePubSubTopic:  getEnv("GOOGLE_PUBSUB_TOPIC", "gmail-push"),

		// OAuth - Microsoft
		MicrosoftClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
		MicrosoftRedirectURL:  getEnv("MICROSOFT_REDIRECT_URL", ""),
		MicrosoftTenantID:     getEnv("MICROSOFT_TENANT_ID", "common"),

		// IMAP relay
		RelayBaseURL: getEnv("RELAY_BASE_URL", ""),
		RelayAPIKey:  getEnv("RELAY_API_KEY", ""),

		// Webhook
		WebhookBaseURL:        getEnv("WEBHOOK_BASE_URL", ""),
		WebhookRenewalWindow:  time.Duration(getEnvInt("WEBHOOK_RENEWAL_WINDOW_HOUR", 24)) * time.Hour,
		WebhookRenewFailLimit: getEnvInt("WEBHOOK_RENEW_FAIL_LIMIT", 3),

		// Worker
		WorkerID:        getEnv("WORKER_ID", generateWorkerID()),
		WorkerCount:     getEnvInt("WORKER_COUNT", 8),
		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 1000),

		// Consumer
		ConsumerBatchSize:  getEnvInt("CONSUMER_BATCH_SIZE", 50),
		ConsumerBlockMS:    getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries: getEnvInt("CONSUMER_MAX_RETRIES", 3),

		// Sync
		SyncInterval:        time.Duration(getEnvInt("SYNC_INTERVAL_MIN", 5)) * time.Minute,
		SyncAttemptTimeout:  time.Duration(getEnvInt("SYNC_ATTEMPT_TIMEOUT_MIN", 5)) * time.Minute,
		SyncBackoffBase:     time.Duration(getEnvInt("SYNC_BACKOFF_BASE_SEC", 30)) * time.Second,
		SyncBackoffCap:      time.Duration(getEnvInt("SYNC_BACKOFF_CAP_MIN", 60)) * time.Minute,
		SyncQuarantineAfter: getEnvInt("SYNC_QUARANTINE_AFTER", 5),
		SyncBatchSize:       getEnvInt("SYNC_BATCH_SIZE", 100),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		// Scheduler
		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

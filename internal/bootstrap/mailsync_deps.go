package bootstrap

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"mailsync_server/adapter/out/messaging"
	"mailsync_server/adapter/out/mongodb"
	"mailsync_server/adapter/out/persistence"
	"mailsync_server/adapter/out/provider"
	"mailsync_server/adapter/out/realtime"
	"mailsync_server/config"
	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/core/service/credential"
	"mailsync_server/core/service/folder"
	orchestrator "mailsync_server/core/service/sync"
	"mailsync_server/core/service/webhook"
	"mailsync_server/infra/database"
	"mailsync_server/pkg/cache"
	"mailsync_server/pkg/crypto"
	"mailsync_server/pkg/logger"
	"mailsync_server/pkg/ratelimit"
)

type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Repositories
	AccountRepo    domain.AccountRepository
	CredentialRepo domain.CredentialRepository
	EmailRepo      domain.EmailRepository
	EmailBodyRepo  domain.EmailBodyRepository
	CursorRepo     domain.CursorRepository
	FolderRepo     domain.FolderRepository
	ExecutionRepo  domain.ExecutionRepository
	WebhookRepo    domain.WebhookSubscriptionRepository

	// Providers
	Providers *provider.Registry

	// Messaging
	MessageProducer out.MessageProducer

	// Realtime
	RealtimeAdapter *realtime.SSEAdapter
	SSEHub          *realtime.SSEHub

	// Services
	CredentialService *credential.Service
	Orchestrator      *orchestrator.Orchestrator
	WebhookService    *webhook.Service
	FolderService     *folder.Service
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	// Credential encryption (ENCRYPTION_KEY)
	if err := crypto.Init(); err != nil {
		logger.Warn("Credential encryption not initialized: %v", err)
	}

	// Database (pgxpool)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	// Database (sqlx for the adapters)
	// simple_protocol로 PgBouncer prepared statement 충돌 회피
	logger.Debug("Connecting to database via sqlx...")
	sqlxURL := cfg.DatabaseURL
	if strings.Contains(sqlxURL, "?") {
		sqlxURL += "&default_query_exec_mode=simple_protocol"
	} else {
		sqlxURL += "?default_query_exec_mode=simple_protocol"
	}
	sqlDB, err := sqlx.Connect("pgx", sqlxURL)
	if err != nil {
		for _, c := range cleanups {
			c()
		}
		return nil, nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })
	logger.Info("sqlx database connection successful (pool: max=%d, idle=%d)", 25, 10)

	// Redis
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Warn("Redis connection failed: %v", err)
	} else {
		deps.Redis = redisClient
		cleanups = append(cleanups, func() { redisClient.Close() })
	}

	// MongoDB (이메일 본문 저장소)
	if cfg.MongoDBURL != "" {
		mongoClient, err := mongodb.NewClient(cfg.MongoDBURL)
		if err != nil {
			logger.Warn("MongoDB connection failed: %v", err)
		} else {
			deps.MongoDB = mongoClient
			cleanups = append(cleanups, func() {
				_ = mongoClient.Disconnect(context.Background())
			})
			deps.EmailBodyRepo = mongodb.NewEmailBodyAdapter(mongoClient.Database(cfg.MongoDBName))
		}
	}

	// Repositories (sqlx)
	deps.AccountRepo = persistence.NewAccountAdapter(sqlDB)
	deps.CredentialRepo = persistence.NewCredentialAdapter(sqlDB)
	deps.EmailRepo = persistence.NewEmailAdapter(sqlDB)
	deps.CursorRepo = persistence.NewCursorAdapter(sqlDB)
	deps.FolderRepo = persistence.NewFolderAdapter(sqlDB)
	deps.ExecutionRepo = persistence.NewExecutionAdapter(sqlDB)
	deps.WebhookRepo = persistence.NewWebhookAdapter(sqlDB)

	// Provider registry
	registryCfg := &provider.RegistryConfig{}
	if cfg.GoogleClientID != "" {
		registryCfg.Gmail = &provider.GmailConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			ProjectID:    cfg.GoogleProjectID,
			PushTopic:    cfg.GooglePubSubTopic,
		}
	}
	if cfg.MicrosoftClientID != "" {
		registryCfg.Graph = &provider.GraphConfig{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			RedirectURL:  cfg.MicrosoftRedirectURL,
			TenantID:     cfg.MicrosoftTenantID,
		}
	}
	if cfg.RelayBaseURL != "" {
		registryCfg.Relay = &provider.RelayConfig{
			BaseURL: cfg.RelayBaseURL,
			APIKey:  cfg.RelayAPIKey,
		}
	}
	deps.Providers = provider.NewRegistry(registryCfg)

	// Messaging (Redis Streams)
	if deps.Redis != nil {
		deps.MessageProducer = messaging.NewRedisProducer(deps.Redis)
	}

	// Realtime (SSE)
	zlog := newZerolog()
	deps.RealtimeAdapter = realtime.NewSSEAdapter(zlog)
	deps.SSEHub = realtime.NewSSEHub(deps.RealtimeAdapter, zlog)

	// Credential service (토큰 갱신 + relay key)
	deps.CredentialService = credential.NewService(deps.CredentialRepo, deps.Providers.OAuthConfigs())

	// Folder service
	deps.FolderService = folder.NewService(
		deps.AccountRepo,
		deps.FolderRepo,
		deps.CredentialService,
		deps.Providers,
		deps.RealtimeAdapter,
	)

	// Sync orchestrator - 계정 상태 전이의 단일 소유자
	deps.Orchestrator = orchestrator.New(
		deps.AccountRepo,
		deps.EmailRepo,
		deps.EmailBodyRepo,
		deps.CursorRepo,
		deps.FolderRepo,
		deps.ExecutionRepo,
		deps.CredentialService,
		deps.Providers,
		deps.RealtimeAdapter,
		&orchestrator.Config{
			AttemptTimeout:  cfg.SyncAttemptTimeout,
			BatchSize:       cfg.SyncBatchSize,
			BackoffBase:     cfg.SyncBackoffBase,
			BackoffCap:      cfg.SyncBackoffCap,
			QuarantineAfter: cfg.SyncQuarantineAfter,
			// Redis 없으면 로컬 fallback으로 동작
			Throttle:        ratelimit.NewProviderThrottle(deps.Redis, nil),
			FolderDiscovery: deps.FolderService,
		},
	)

	// Webhook manager
	var dedup *cache.RedisCache
	if deps.Redis != nil {
		dedup = cache.NewRedisCache(deps.Redis)
	}
	deps.WebhookService = webhook.NewService(
		deps.AccountRepo,
		deps.WebhookRepo,
		deps.CredentialService,
		deps.Providers,
		deps.Orchestrator,
		dedup,
		&webhook.Config{
			NotificationBaseURL: cfg.WebhookBaseURL,
			RenewalWindow:       cfg.WebhookRenewalWindow,
			RenewFailureLimit:   cfg.WebhookRenewFailLimit,
		},
	)

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	return deps, cleanup, nil
}

func newZerolog() zerolog.Logger {
	return zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
}

package bootstrap

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"mailsync_server/adapter/in/http"
	"mailsync_server/config"
	"mailsync_server/infra/middleware"
	"mailsync_server/pkg/logger"
)

func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "mailsync-api",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		Prefork:               false,

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,

		// go-json: 표준 encoding/json 대비 2~3배 빠른 JSON 직렬화
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:   4 * 1024 * 1024, // 웹훅 배치도 수 KB 수준
		Concurrency: 256 * 1024,

		ServerHeader:       "",
		DisableDefaultDate: true,

		// SSE 스트리밍
		StreamRequestBody: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// CORS - AllowCredentials:true requires explicit origins (not "*")
	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	// Health check (no auth required)
	healthHandler := http.NewHealthHandlerWithDeps(deps.DB, deps.Redis, deps.MongoDB)
	healthHandler.Register(app)

	// Webhook routes (no auth - called by Google/Microsoft; validated inside)
	// IP 기반 rate limit으로 무인증 엔드포인트 보호, 알림 바디는 수 KB 수준
	app.Use("/webhooks", middleware.MaxBodySize(1024*1024))
	app.Use("/webhooks", middleware.NewRateLimiter(600, time.Minute).Handler())
	webhookHandler := http.NewWebhookHandler(deps.WebhookService)
	webhookHandler.Register(app)

	// API routes (JWT auth)
	api := app.Group("/api")
	api.Use(middleware.NewRateLimiter(120, time.Minute).Handler())
	api.Use(middleware.JWTAuth(cfg.JWTSecret))

	accountHandler := http.NewAccountHandler(deps.AccountRepo, deps.Orchestrator, deps.WebhookService)
	accountHandler.Register(api)

	folderHandler := http.NewFolderHandler(deps.AccountRepo, deps.FolderService)
	folderHandler.Register(api)

	sseHandler := http.NewSSEHandler(deps.AccountRepo, deps.SSEHub, newZerolog())
	sseHandler.Register(api)

	logger.Info("API server initialized successfully")

	return app, cleanup, nil
}

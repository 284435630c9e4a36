// @title           Photo Orders Bot API
// @version         1.0.0
// @description     Admin API and Telegram webhook for the photo work-order bot. Requesters submit photo orders, performers claim and deliver them, requesters review results.

// @contact.name   API Support
// @contact.email  support@example.com

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"photo-orders-bot/docs"
	"photo-orders-bot/internal/config"
	"photo-orders-bot/internal/database"
	"photo-orders-bot/internal/events"
	"photo-orders-bot/internal/handlers"
	"photo-orders-bot/internal/memstore"
	"photo-orders-bot/internal/middleware"
	"photo-orders-bot/internal/models"
	"photo-orders-bot/internal/reports"
	"photo-orders-bot/internal/session"
	"photo-orders-bot/internal/supabase"
	"photo-orders-bot/internal/sweeper"
	"photo-orders-bot/internal/telegram"
	"photo-orders-bot/internal/workflow"
)

const moduleName = "main"

type orderStore interface {
	workflow.Store
	Ping(ctx context.Context) error
	ListCompletedForReport(ctx context.Context) ([]models.ReportRow, error)
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat)

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Update Swagger docs with dynamic base URL
	if cfg.BaseURL != "" {
		if baseURL, err := url.Parse(cfg.BaseURL); err == nil {
			docs.SwaggerInfo.Host = baseURL.Host
			if baseURL.Scheme == "https" {
				docs.SwaggerInfo.Schemes = []string{"https", "http"}
			} else {
				docs.SwaggerInfo.Schemes = []string{"http", "https"}
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	bot, err := telegram.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize telegram bot")
	}
	logger.WithField("bot", bot.Self.UserName).Info("authorized on telegram")
	notifier := telegram.NewNotifier(bot)

	// In-flight photo collection
	sessions := session.NewTracker(cfg.SessionTTL, nil)
	go sessions.Run(ctx, time.Minute, logger)

	publisher := newPublisher(ctx, cfg, logger)
	defer publisher.Close()

	coord := workflow.NewCoordinator(store, notifier, sessions, publisher, logger, workflow.Options{
		AdminChats: cfg.AdminChatIDs,
	})
	if n, err := coord.RecoverSubmitted(ctx); err != nil {
		config.LogError(logger, moduleName, "main", "recover submitted orders", nil, err)
	} else if n > 0 {
		logger.WithField("orders", n).Info("recovered submitted orders")
	}

	var archive reports.Archive
	if cfg.SupabaseURL != "" {
		storageClient, err := supabase.NewStorageClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseReportsBucket)
		if err != nil {
			config.LogError(logger, moduleName, "main", "initialize storage client", nil, err)
		} else {
			archive = storageClient
		}
	}
	reportService := reports.NewService(store, archive, logger)

	dispatcher := workflow.NewDispatcher(coord, notifier, reportService, cfg.AdminChatIDs, cfg.EventTimeout, logger)

	sweep := newSweeper(ctx, cfg, store, coord, logger)
	go sweep.Run(ctx)

	// Setup router
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check (no auth)
	router.GET("/health", handlers.NewHealthHandler(store).Check)

	// API routes
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg.AdminJWTSecret))
	api.GET("/orders/:order_id", handlers.NewOrdersHandler(store).GetOrder)
	reportsHandler := handlers.NewReportsHandler(reportService)
	api.GET("/reports/completed", reportsHandler.Completed)
	api.GET("/reports/requesters/:telegram_id", reportsHandler.Requester)

	// Telegram webhook (no auth, uses the secret token header)
	router.POST("/telegram/webhook", handlers.NewWebhookHandler(cfg.WebhookSecret, dispatcher, logger).HandleUpdate)

	switch cfg.UpdateMode {
	case "webhook":
		if err := telegram.SetWebhook(bot, cfg.WebhookURL, cfg.WebhookSecret); err != nil {
			logger.WithError(err).Fatal("failed to register webhook")
		}
		logger.WithField("url", cfg.WebhookURL).Info("webhook registered")
	default:
		if err := telegram.DeleteWebhook(bot); err != nil {
			config.LogError(logger, moduleName, "main", "delete webhook", nil, err)
		}
		go telegram.Poll(ctx, bot, dispatcher, logger.WithField("module", "telegram"))
	}

	// Start server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.WithField("port", cfg.Port).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		config.LogError(logger, moduleName, "main", "shutdown server", nil, err)
	}
	dispatcher.Wait()
	logger.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (orderStore, func()) {
	if cfg.UsesMemoryStore() {
		logger.Warn("using in-memory order store; data is lost on restart")
		return memstore.New(nil), func() {}
	}

	dbClient, err := supabase.NewDatabaseClient(cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize database client")
	}
	if err := sweeper.WaitFor(ctx, "postgres", dbClient.Ping, sweeper.DefaultBackoff, logger); err != nil {
		logger.WithError(err).Fatal("database not reachable")
	}

	// Run migrations
	if err := database.NewMigrator(dbClient.DB(), logger).Run(ctx); err != nil {
		logger.WithError(err).Fatal("migration failed")
	}
	logger.Info("migrations completed successfully")

	return dbClient, func() {
		if err := dbClient.Close(); err != nil {
			config.LogError(logger, moduleName, "openStore", "close database", nil, err)
		}
	}
}

func newPublisher(ctx context.Context, cfg *config.Config, logger *logrus.Logger) events.Publisher {
	if cfg.PubSubProjectID == "" {
		return events.NewLogPublisher(logger)
	}
	publisher, err := events.NewPubSubPublisher(ctx, cfg.PubSubProjectID, cfg.PubSubTopic,
		events.CredentialsOption(cfg.PubSubCredentialsFile)...)
	if err != nil {
		config.LogError(logger, moduleName, "newPublisher", "initialize pubsub", cfg.PubSubTopic, err)
		return events.NewLogPublisher(logger)
	}
	return publisher
}

func newSweeper(ctx context.Context, cfg *config.Config, store orderStore, coord *workflow.Coordinator, logger *logrus.Logger) *sweeper.Sweeper {
	opts := sweeper.Options{
		Interval:  cfg.SweepInterval,
		Threshold: cfg.ReminderThreshold,
	}
	if cfg.RedisAddress == "" {
		return sweeper.New(store, coord, sweeper.NewMemoryMarker(), logger, opts)
	}

	rdb, err := sweeper.ConnectRedis(ctx, cfg.RedisAddress, sweeper.DefaultBackoff, logger)
	if err != nil {
		logger.WithError(err).Fatal("redis not reachable")
	}
	opts.Locker = sweeper.NewRedisLocker(rdb, uuid.NewString())
	return sweeper.New(store, coord, sweeper.NewRedisMarker(rdb, 0), logger, opts)
}

package application

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aiadmin/aiadmin/internal/application/usecase"
	"github.com/aiadmin/aiadmin/internal/domain/repository"
	"github.com/aiadmin/aiadmin/internal/domain/service"
	domaintool "github.com/aiadmin/aiadmin/internal/domain/tool"
	"github.com/aiadmin/aiadmin/internal/infrastructure/config"
	"github.com/aiadmin/aiadmin/internal/infrastructure/crm"
	"github.com/aiadmin/aiadmin/internal/infrastructure/eventbus"
	"github.com/aiadmin/aiadmin/internal/infrastructure/hotstore"
	"github.com/aiadmin/aiadmin/internal/infrastructure/llm"
	_ "github.com/aiadmin/aiadmin/internal/infrastructure/llm/gemini" // register gemini provider factory
	"github.com/aiadmin/aiadmin/internal/infrastructure/monitoring"
	"github.com/aiadmin/aiadmin/internal/infrastructure/persistence"
	"github.com/aiadmin/aiadmin/internal/infrastructure/prompt"
	"github.com/aiadmin/aiadmin/internal/infrastructure/tenant"
	toolpkg "github.com/aiadmin/aiadmin/internal/infrastructure/tool"
	"github.com/aiadmin/aiadmin/internal/infrastructure/vault"
	httpserver "github.com/aiadmin/aiadmin/internal/interfaces/http"
	"github.com/aiadmin/aiadmin/internal/interfaces/http/handlers"
	"github.com/aiadmin/aiadmin/internal/interfaces/telegram"
	"github.com/aiadmin/aiadmin/pkg/safego"
)

// App 应用程序 (依赖注入容器)
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB
	redis  *redis.Client

	// 仓储层
	messageRepo repository.MessageRepository
	sessionRepo repository.SessionRepository
	tenantRepo  repository.TenantRepository

	// 领域服务
	locker    *service.SessionLocker
	retention *service.RetentionService

	// 基础设施
	vault          *vault.Vault
	sessionStore   *hotstore.SessionStore
	rateLimitStore *hotstore.RateLimitStore
	registry       *tenant.Registry
	provider       llm.Provider
	prompts        *prompt.Builder
	monitor        *monitoring.Monitor
	events         *eventbus.InMemoryBus

	// 应用服务
	orchestrator *usecase.Orchestrator
	analytics    *usecase.AnalyticsService

	// 接口层
	sender     *telegram.Sender
	httpServer *httpserver.Server

	sweeperCancel context.CancelFunc
}

// NewApp 创建应用程序
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}

	if err := app.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}
	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}
	app.initDomainServices()
	app.initApplicationServices()
	app.initInterfaces()

	return app, nil
}

func (app *App) initRepositories() error {
	db, err := persistence.NewDBConnection(&app.config.Database)
	if err != nil {
		return err
	}
	app.db = db
	app.messageRepo = persistence.NewGormMessageRepository(db)
	app.sessionRepo = persistence.NewGormSessionRepository(db)
	app.tenantRepo = persistence.NewGormTenantRepository(db)
	return nil
}

func (app *App) initInfrastructure() error {
	v, err := vault.New(app.config.Security.EncryptionMasterKey)
	if err != nil {
		return err
	}
	app.vault = v

	redisClient, err := hotstore.NewClient(app.config.Redis.URL)
	if err != nil {
		return err
	}
	app.redis = redisClient
	app.sessionStore = hotstore.NewSessionStore(redisClient, app.config.Session.TTL, app.config.Redis.OpTimeout)
	app.rateLimitStore = hotstore.NewRateLimitStore(redisClient, app.config.Redis.OpTimeout)

	app.registry = tenant.NewRegistry(app.tenantRepo, app.logger)

	provider, err := llm.CreateProvider(llm.ProviderConfig{
		Type:         app.config.LLM.Provider,
		BaseURL:      app.config.LLM.BaseURL,
		APIKey:       app.config.LLM.APIKey,
		DefaultModel: app.config.LLM.DefaultModel,
		MaxRetries:   app.config.LLM.MaxRetries,
	}, app.logger)
	if err != nil {
		return err
	}
	app.provider = provider

	app.prompts = prompt.NewBuilder()
	app.monitor = monitoring.NewMonitor(app.logger)
	app.events = eventbus.NewInMemoryBus(app.logger, 256)
	monitoring.BindEventBus(app.events, app.monitor)
	return nil
}

func (app *App) initDomainServices() {
	app.locker = service.NewSessionLocker()
	app.retention = service.NewRetentionService(app.messageRepo, app.sessionRepo, app.tenantRepo, app.logger)
}

func (app *App) initApplicationServices() {
	app.orchestrator = usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Tenants:    app.registry,
		Vault:      app.vault,
		Hot:        app.sessionStore,
		Provider:   app.provider,
		Messages:   app.messageRepo,
		Sessions:   app.sessionRepo,
		Locker:     app.locker,
		Prompts:    app.prompts,
		NewAdapter: crm.New,
		NewCatalogue: func(adapter crm.Adapter, logger *zap.Logger) domaintool.Catalogue {
			return toolpkg.NewCatalog(adapter, logger)
		},
		Events:     app.events,
		SessionTTL: app.config.Session.TTL,
		MaxHistory: app.config.Session.MaxHistory,
		Logger:     app.logger,
	})
	app.analytics = usecase.NewAnalyticsService(app.messageRepo, app.sessionRepo, app.logger)
}

func (app *App) initInterfaces() {
	if app.config.Telegram.Enabled {
		app.sender = telegram.NewSender(app.logger)
	}

	var sender handlers.ReplySender
	if app.sender != nil {
		sender = app.sender
	}

	webhooks := handlers.NewWebhookHandler(app.registry, app.orchestrator, sender, app.monitor, app.logger)
	messages := handlers.NewMessageHandler(app.orchestrator, app.monitor, app.logger)
	admin := handlers.NewAdminHandler(app.sessionRepo, app.messageRepo, app.analytics, app.retention, app.monitor, app.logger)
	health := handlers.NewHealthHandler(map[string]handlers.Probe{
		"database": app.pingDB,
		"redis":    app.sessionStore.Ping,
		"llm":      app.provider.HealthCheck,
	}, app.logger)

	app.httpServer = httpserver.NewServer(httpserver.Config{
		Host: app.config.Gateway.Host,
		Port: app.config.Gateway.Port,
		Mode: app.config.Gateway.Mode,
	}, httpserver.Deps{
		Webhooks:      webhooks,
		Messages:      messages,
		Admin:         admin,
		Health:        health,
		Metrics:       app.monitor.PrometheusHandler(),
		Limiter:       app.rateLimitStore,
		RateLimitOn:   app.config.RateLimit.Enabled,
		WindowSeconds: app.config.RateLimit.WindowSeconds,
		AdminAPIKey:   app.config.Security.APIKeySecret,
		WebhookSecret: app.config.Security.WebhookSecret,
		Logger:        app.logger,
	})
}

func (app *App) pingDB(ctx context.Context) error {
	sqlDB, err := app.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Start 启动应用程序
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting application")

	if err := app.httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if app.config.Retention.SweepEnabled {
		sweepCtx, cancel := context.WithCancel(context.Background())
		app.sweeperCancel = cancel
		interval := app.config.Retention.SweepInterval
		safego.Go(app.logger, "retention-sweeper", func() {
			app.retention.RunSweeper(sweepCtx, interval)
		})
	}

	app.logger.Info("Application started successfully")
	return nil
}

// Stop 停止应用程序
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("Stopping application")

	if app.sweeperCancel != nil {
		app.sweeperCancel()
	}

	if err := app.httpServer.Stop(ctx); err != nil {
		app.logger.Error("Failed to stop HTTP server", zap.Error(err))
	}

	app.events.Close()

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}

	if app.db != nil {
		sqlDB, err := app.db.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				app.logger.Error("Failed to close database connection", zap.Error(err))
			}
		}
	}

	app.logger.Info("Application stopped successfully")
	return nil
}

// Orchestrator 暴露编排器 (测试与内部调用)
func (app *App) Orchestrator() *usecase.Orchestrator {
	return app.orchestrator
}

// Logger 返回日志实例
func (app *App) Logger() *zap.Logger {
	return app.logger
}

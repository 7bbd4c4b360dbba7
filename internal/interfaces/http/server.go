package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/interfaces/http/handlers"
	"github.com/aiadmin/aiadmin/internal/interfaces/http/middleware"
)

// Config HTTP 服务器配置
type Config struct {
	Host string
	Port int
	Mode string // local, production
}

// Deps 路由装配所需的处理器与横切件
type Deps struct {
	Webhooks *handlers.WebhookHandler
	Messages *handlers.MessageHandler
	Admin    *handlers.AdminHandler
	Health   *handlers.HealthHandler
	Metrics  http.Handler

	Limiter       middleware.RateLimiter
	RateLimitOn   bool
	WindowSeconds int
	AdminAPIKey   string
	WebhookSecret string

	Logger *zap.Logger
}

// Server HTTP 服务器
type Server struct {
	config Config
	engine *gin.Engine
	server *http.Server
	logger *zap.Logger
}

// NewServer 创建 HTTP 服务器并装配路由
func NewServer(config Config, deps Deps) *Server {
	if config.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(ginLogger(deps.Logger))

	s := &Server{
		config: config,
		engine: engine,
		logger: deps.Logger,
	}
	s.setupRoutes(deps)
	return s
}

// setupRoutes 装配路由
// 限流按路径类别分级: webhook 流量远高于管理接口
func (s *Server) setupRoutes(deps Deps) {
	window := time.Duration(deps.WindowSeconds) * time.Second
	limit := func(perWindow int) gin.HandlerFunc {
		if !deps.RateLimitOn || deps.Limiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimit(deps.Limiter, perWindow, window, deps.Logger)
	}

	s.engine.GET("/health", limit(middleware.LimitHealth), deps.Health.HandleHealth)
	s.engine.GET("/health/live", deps.Health.HandleLiveness)
	if deps.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	v1 := s.engine.Group("/api/v1")

	webhooks := v1.Group("")
	webhooks.Use(limit(middleware.LimitWebhook))
	webhooks.Use(middleware.WebhookSignature(deps.WebhookSecret, deps.Logger))
	webhooks.POST("/telegram/webhook/:token", deps.Webhooks.HandleTelegram)
	webhooks.POST("/whatsapp/webhook/:token", deps.Webhooks.HandleWhatsApp)
	webhooks.GET("/whatsapp/webhook/:token", deps.Webhooks.HandleWhatsAppVerify)

	// 消息入口是公开面: 渠道挂件没有 API key, 靠默认限流类保护
	intake := v1.Group("")
	intake.Use(limit(middleware.LimitDefault))
	intake.POST("/messages", deps.Messages.HandleProcess)
	intake.POST("/process", deps.Messages.HandleProcess)

	admin := v1.Group("/admin")
	admin.Use(limit(middleware.LimitAuthenticated))
	admin.Use(middleware.APIKeyAuth(deps.AdminAPIKey))
	admin.GET("/sessions", deps.Admin.HandleListSessions)
	admin.GET("/sessions/:id", deps.Admin.HandleGetSession)
	admin.GET("/messages", deps.Admin.HandleListMessages)
	admin.GET("/analytics", deps.Admin.HandleAnalytics)
	admin.GET("/analytics/daily", deps.Admin.HandleAnalyticsDaily)
	admin.POST("/cleanup", deps.Admin.HandleCleanup)
	admin.POST("/cleanup/estimate", deps.Admin.HandleCleanupEstimate)
	admin.DELETE("/tenants/:id/data", deps.Admin.HandleDeleteTenantData)
	admin.GET("/tenants/:id/statistics", deps.Admin.HandleTenantStatistics)
	admin.GET("/stats", deps.Admin.HandleStats)
}

// Start 启动服务器 (非阻塞)
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("HTTP server starting", zap.String("addr", addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("HTTP server stopping")
	return s.server.Shutdown(ctx)
}

// Engine 暴露底层 engine (测试用)
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// ginLogger zap 请求日志中间件
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

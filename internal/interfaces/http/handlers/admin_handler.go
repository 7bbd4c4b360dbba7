package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/application/usecase"
	"github.com/aiadmin/aiadmin/internal/domain/entity"
	"github.com/aiadmin/aiadmin/internal/domain/repository"
	"github.com/aiadmin/aiadmin/internal/domain/service"
	"github.com/aiadmin/aiadmin/internal/infrastructure/monitoring"
	apperrors "github.com/aiadmin/aiadmin/pkg/errors"
)

// AdminHandler 管理接口: 会话/消息查询, 分析, 数据保留
// 挂在 APIKeyAuth 之后, 不做自己的鉴权
type AdminHandler struct {
	sessions  repository.SessionRepository
	messages  repository.MessageRepository
	analytics *usecase.AnalyticsService
	retention *service.RetentionService
	monitor   *monitoring.Monitor
	logger    *zap.Logger
}

// NewAdminHandler 创建管理处理器
func NewAdminHandler(
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	analytics *usecase.AnalyticsService,
	retention *service.RetentionService,
	monitor *monitoring.Monitor,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		sessions:  sessions,
		messages:  messages,
		analytics: analytics,
		retention: retention,
		monitor:   monitor,
		logger:    logger,
	}
}

// requireTenant 读取并校验 company_id 查询参数
func requireTenant(c *gin.Context) (string, bool) {
	tenantID := c.Query("company_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "company_id query parameter is required"})
		return "", false
	}
	return tenantID, true
}

func intQuery(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return v
}

// dateQuery 解析日期查询参数, 接受 RFC3339 或 2006-01-02; 缺失/无法解析返回零值
func dateQuery(c *gin.Context, key string) time.Time {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t
	}
	return time.Time{}
}

// respondError 把领域错误映射到 HTTP 状态码
func (h *AdminHandler) respondError(c *gin.Context, err error) {
	switch {
	case apperrors.IsInvalidInput(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case apperrors.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Admin request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// HandleListSessions GET /api/v1/admin/sessions
func (h *AdminHandler) HandleListSessions(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}

	page, err := h.sessions.FindByTenant(c.Request.Context(), repository.SessionFilter{
		TenantID:  tenantID,
		Channel:   entity.Channel(c.Query("channel")),
		State:     entity.SessionState(c.Query("state")),
		StartDate: dateQuery(c, "start_date"),
		EndDate:   dateQuery(c, "end_date"),
		Page:      intQuery(c, "page", 1),
		PerPage:   intQuery(c, "per_page", 20),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// HandleGetSession GET /api/v1/admin/sessions/:id
// 会话详情连同其消息一起返回
func (h *AdminHandler) HandleGetSession(c *gin.Context) {
	session, err := h.sessions.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	messages, err := h.messages.FindBySession(c.Request.Context(), session.ID, intQuery(c, "limit", 100))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":  session,
		"messages": messages,
	})
}

// HandleListMessages GET /api/v1/admin/messages
func (h *AdminHandler) HandleListMessages(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}

	page, err := h.messages.FindByTenant(c.Request.Context(), repository.MessageFilter{
		TenantID:  tenantID,
		SessionID: c.Query("session_id"),
		Channel:   entity.Channel(c.Query("channel")),
		StartDate: dateQuery(c, "start_date"),
		EndDate:   dateQuery(c, "end_date"),
		Page:      intQuery(c, "page", 1),
		PerPage:   intQuery(c, "per_page", 50),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// HandleAnalytics GET /api/v1/admin/analytics
func (h *AdminHandler) HandleAnalytics(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	summary, err := h.analytics.Summary(c.Request.Context(), tenantID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// HandleAnalyticsDaily GET /api/v1/admin/analytics/daily
func (h *AdminHandler) HandleAnalyticsDaily(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	series, err := h.analytics.DailySeries(c.Request.Context(), tenantID, intQuery(c, "days", 30))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"company_id": tenantID, "daily": series})
}

// cleanupRequest 保留清理请求体
type cleanupRequest struct {
	CompanyID             string `json:"company_id"`
	MessagesRetentionDays int    `json:"messages_retention_days"`
	SessionsRetentionDays int    `json:"sessions_retention_days"`
}

func (r *cleanupRequest) policy() service.RetentionPolicy {
	return service.RetentionPolicy{
		MessagesRetentionDays: r.MessagesRetentionDays,
		SessionsRetentionDays: r.SessionsRetentionDays,
	}
}

// cleanupParams 清理参数既接受 JSON body 也接受查询参数, 查询参数兜底
func (h *AdminHandler) cleanupParams(c *gin.Context) (string, service.RetentionPolicy, bool) {
	var req cleanupRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
			return "", service.RetentionPolicy{}, false
		}
	}
	if req.CompanyID == "" {
		req.CompanyID = c.Query("company_id")
	}
	if req.MessagesRetentionDays == 0 {
		req.MessagesRetentionDays = intQuery(c, "messages_retention_days", 0)
	}
	if req.SessionsRetentionDays == 0 {
		req.SessionsRetentionDays = intQuery(c, "sessions_retention_days", 0)
	}
	if req.CompanyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "company_id is required"})
		return "", service.RetentionPolicy{}, false
	}
	return req.CompanyID, req.policy(), true
}

// HandleCleanup POST /api/v1/admin/cleanup
func (h *AdminHandler) HandleCleanup(c *gin.Context) {
	tenantID, policy, ok := h.cleanupParams(c)
	if !ok {
		return
	}
	result, err := h.retention.Cleanup(c.Request.Context(), tenantID, policy)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleCleanupEstimate POST /api/v1/admin/cleanup/estimate
func (h *AdminHandler) HandleCleanupEstimate(c *gin.Context) {
	tenantID, policy, ok := h.cleanupParams(c)
	if !ok {
		return
	}
	estimate, err := h.retention.Estimate(c.Request.Context(), tenantID, policy)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, estimate)
}

// HandleDeleteTenantData DELETE /api/v1/admin/tenants/:id/data
// 被遗忘权: 删除租户全部消息与会话
func (h *AdminHandler) HandleDeleteTenantData(c *gin.Context) {
	result, err := h.retention.DeleteAllTenantData(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleTenantStatistics GET /api/v1/admin/tenants/:id/statistics
func (h *AdminHandler) HandleTenantStatistics(c *gin.Context) {
	stats, err := h.retention.Statistics(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HandleStats GET /api/v1/admin/stats 进程级运行指标
func (h *AdminHandler) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.GetStats())
}

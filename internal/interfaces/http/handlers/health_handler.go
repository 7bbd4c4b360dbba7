package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Probe 单个依赖的健康探测
type Probe func(ctx context.Context) error

// probeTimeout 单个探测的最长等待
const probeTimeout = 3 * time.Second

// HealthHandler GET /health 依赖探测
// 任一依赖失败时整体降级为 degraded, 但仍回 200:
// 网关在 LLM 或 CRM 抖动时依然能接收 webhook
type HealthHandler struct {
	probes map[string]Probe
	logger *zap.Logger
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(probes map[string]Probe, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{probes: probes, logger: logger}
}

// HandleHealth GET /health
func (h *HealthHandler) HandleHealth(c *gin.Context) {
	components := make(map[string]string, len(h.probes))
	status := "healthy"

	for name, probe := range h.probes {
		ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
		err := probe(ctx)
		cancel()
		if err != nil {
			components[name] = "unavailable"
			status = "degraded"
			h.logger.Warn("Health probe failed", zap.String("component", name), zap.Error(err))
			continue
		}
		components[name] = "ok"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleLiveness GET /health/live 进程存活探测, 不触碰依赖
func (h *HealthHandler) HandleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
	"github.com/aiadmin/aiadmin/internal/infrastructure/monitoring"
	apperrors "github.com/aiadmin/aiadmin/pkg/errors"
)

// MessageHandler 渠道无关的消息入口 (web 挂件, 语音网关, 内部测试)
type MessageHandler struct {
	orchestrator MessageProcessor
	monitor      *monitoring.Monitor
	logger       *zap.Logger
}

// NewMessageHandler 创建消息处理器
func NewMessageHandler(orchestrator MessageProcessor, monitor *monitoring.Monitor, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{
		orchestrator: orchestrator,
		monitor:      monitor,
		logger:       logger,
	}
}

// processRequest 入站请求体
type processRequest struct {
	CompanyID string `json:"company_id" binding:"required"`
	UserID    string `json:"user_id" binding:"required"`
	UserName  string `json:"user_name"`
	SessionID string `json:"session_id"`
	Channel   string `json:"channel"`
	Text      string `json:"text" binding:"required"`
}

// HandleProcess POST /api/v1/messages (别名 POST /process)
func (h *MessageHandler) HandleProcess(c *gin.Context) {
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "company_id, user_id and text are required"})
		return
	}

	channel := entity.Channel(req.Channel)
	if channel == "" {
		channel = entity.ChannelWeb
	}
	switch channel {
	case entity.ChannelTelegram, entity.ChannelWhatsApp, entity.ChannelVoice, entity.ChannelWeb:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel: " + req.Channel})
		return
	}

	msg := &entity.Message{
		SessionID: req.SessionID,
		TenantID:  req.CompanyID,
		UserID:    req.UserID,
		UserName:  req.UserName,
		Channel:   channel,
		Kind:      entity.MessageKindText,
		Text:      req.Text,
		Timestamp: time.Now(),
	}

	start := time.Now()
	h.monitor.IncRequestTotal()
	h.monitor.IncMessageProcessed()

	reply, err := h.orchestrator.ProcessMessage(c.Request.Context(), msg)
	h.monitor.RecordRequestLatency(time.Since(start))
	if err != nil {
		h.monitor.IncRequestFailed()
		if apperrors.IsInvalidInput(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Message processing failed",
			zap.String("tenant", req.CompanyID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.monitor.IncRequestSuccess()
	c.JSON(http.StatusOK, reply)
}

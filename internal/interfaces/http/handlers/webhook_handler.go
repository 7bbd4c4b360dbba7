package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
	"github.com/aiadmin/aiadmin/internal/infrastructure/monitoring"
	"github.com/aiadmin/aiadmin/internal/infrastructure/tenant"
	apperrors "github.com/aiadmin/aiadmin/pkg/errors"
)

// MessageProcessor 编排器的处理入口, 生产实现是 usecase.Orchestrator
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, msg *entity.Message) (*entity.Reply, error)
}

// ReplySender 出站回复投递 (best-effort, 失败只记日志)
type ReplySender interface {
	SendText(ctx context.Context, botToken string, chatID int64, text string) error
}

// WebhookHandler 渠道 webhook 入口
// URL 中的 token 是唯一的租户标识, 负载里的任何 ID 都不可信
type WebhookHandler struct {
	registry     *tenant.Registry
	orchestrator MessageProcessor
	sender       ReplySender
	monitor      *monitoring.Monitor
	logger       *zap.Logger
}

// NewWebhookHandler 创建 webhook 处理器, sender 可为 nil (不投递出站回复)
func NewWebhookHandler(
	registry *tenant.Registry,
	orchestrator MessageProcessor,
	sender ReplySender,
	monitor *monitoring.Monitor,
	logger *zap.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		registry:     registry,
		orchestrator: orchestrator,
		sender:       sender,
		monitor:      monitor,
		logger:       logger,
	}
}

// resolveToken 解析 webhook token 并在失败时写好响应
func (h *WebhookHandler) resolveToken(c *gin.Context) (*entity.ChannelBinding, *entity.Company, bool) {
	channel, company, err := h.registry.ResolveByWebhookToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		status := http.StatusUnauthorized
		switch apperrors.CodeOf(err) {
		case apperrors.CodeNotFound:
			status = http.StatusNotFound
		case apperrors.CodeForbidden:
			status = http.StatusForbidden
		}
		h.logger.Warn("Webhook token rejected",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"error": "webhook token rejected"})
		return nil, nil, false
	}
	return channel, company, true
}

// HandleTelegram POST /api/v1/telegram/webhook/:token
// 一旦 token 通过校验就始终回 200, 否则 Telegram 会无限重试同一条更新
func (h *WebhookHandler) HandleTelegram(c *gin.Context) {
	channel, company, ok := h.resolveToken(c)
	if !ok {
		return
	}

	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		h.logger.Warn("Malformed telegram update", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	if update.Message == nil || update.Message.From == nil {
		// 非消息更新 (edited_message, callback 等) 直接确认
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	tgMsg := update.Message
	msg := &entity.Message{
		TenantID: company.ID,
		UserID:   strconv.FormatInt(tgMsg.From.ID, 10),
		UserName: tgMsg.From.FirstName,
		Channel:  entity.ChannelTelegram,
		Kind:     entity.MessageKindText,
		Text:     tgMsg.Text,
		Metadata: map[string]interface{}{
			"chat_id":    tgMsg.Chat.ID,
			"message_id": tgMsg.MessageID,
		},
		Timestamp: time.Unix(int64(tgMsg.Date), 0),
	}

	reply := h.process(c.Request.Context(), channel, msg)
	if reply != nil && reply.Text != "" && h.sender != nil {
		h.deliverTelegram(c.Request.Context(), channel, tgMsg.Chat.ID, reply.Text)
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// deliverTelegram 把回复发回聊天, bot token 来自渠道配置
func (h *WebhookHandler) deliverTelegram(ctx context.Context, channel *entity.ChannelBinding, chatID int64, text string) {
	botToken, _ := channel.Config["bot_token"].(string)
	if botToken == "" {
		h.logger.Warn("Channel has no bot_token, skipping outbound reply",
			zap.String("channel_id", channel.ID),
		)
		return
	}
	if err := h.sender.SendText(ctx, botToken, chatID, text); err != nil {
		h.logger.Warn("Failed to deliver telegram reply",
			zap.String("channel_id", channel.ID),
			zap.Error(err),
		)
		return
	}
	h.registry.RecordChannelTraffic(ctx, channel.ID, 0, 1)
}

// whatsAppPayload Meta Cloud API webhook 负载
type whatsAppPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// HandleWhatsAppVerify GET /api/v1/whatsapp/webhook/:token
// Meta 的订阅验证握手: 校验 verify_token 并回显 challenge
func (h *WebhookHandler) HandleWhatsAppVerify(c *gin.Context) {
	channel, _, ok := h.resolveToken(c)
	if !ok {
		return
	}

	mode := c.Query("hub.mode")
	verifyToken := c.Query("hub.verify_token")
	expected, _ := channel.Config["verify_token"].(string)

	if mode != "subscribe" || expected == "" || verifyToken != expected {
		c.JSON(http.StatusForbidden, gin.H{"error": "verification failed"})
		return
	}
	c.String(http.StatusOK, c.Query("hub.challenge"))
}

// HandleWhatsApp POST /api/v1/whatsapp/webhook/:token
func (h *WebhookHandler) HandleWhatsApp(c *gin.Context) {
	channel, company, ok := h.resolveToken(c)
	if !ok {
		return
	}

	var payload whatsAppPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.logger.Warn("Malformed whatsapp payload", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := map[string]string{}
			for _, contact := range change.Value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}
			for _, wm := range change.Value.Messages {
				if wm.Type != "" && wm.Type != "text" {
					continue
				}
				msg := &entity.Message{
					TenantID: company.ID,
					UserID:   wm.From,
					UserName: names[wm.From],
					Channel:  entity.ChannelWhatsApp,
					Kind:     entity.MessageKindText,
					Text:     wm.Text.Body,
					Metadata: map[string]interface{}{
						"wa_message_id": wm.ID,
					},
					Timestamp: parseUnixString(wm.Timestamp),
				}
				h.process(c.Request.Context(), channel, msg)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// process 归一化消息进编排器并记录渠道流量
// 编排器对处理故障返回降级回复而非 error, 这里的 error 只剩调用方输入问题
func (h *WebhookHandler) process(ctx context.Context, channel *entity.ChannelBinding, msg *entity.Message) *entity.Reply {
	start := time.Now()
	h.monitor.IncRequestTotal()
	h.monitor.IncMessageProcessed()
	h.registry.RecordChannelTraffic(ctx, channel.ID, 1, 0)

	reply, err := h.orchestrator.ProcessMessage(ctx, msg)
	h.monitor.RecordRequestLatency(time.Since(start))
	if err != nil {
		h.monitor.IncRequestFailed()
		h.logger.Error("Webhook message rejected",
			zap.String("tenant", msg.TenantID),
			zap.String("channel", string(msg.Channel)),
			zap.Error(err),
		)
		return nil
	}
	h.monitor.IncRequestSuccess()
	return reply
}

func parseUnixString(s string) time.Time {
	unix, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(unix, 0)
}

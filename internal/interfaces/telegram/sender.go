package telegram

import (
	"context"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	apperrors "github.com/aiadmin/aiadmin/pkg/errors"
)

// Sender 出站回复投递
// 多租户: 每个渠道带自己的 bot token, 客户端按 token 缓存复用
type Sender struct {
	mu     sync.Mutex
	bots   map[string]*tgbotapi.BotAPI
	logger *zap.Logger
}

// NewSender 创建投递器
func NewSender(logger *zap.Logger) *Sender {
	return &Sender{
		bots:   make(map[string]*tgbotapi.BotAPI),
		logger: logger,
	}
}

// bot 按 token 取缓存客户端, 首次创建会向 Telegram 校验 token
func (s *Sender) bot(botToken string) (*tgbotapi.BotAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bot, ok := s.bots[botToken]; ok {
		return bot, nil
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, apperrors.NewTransportError("failed to initialize telegram bot", err)
	}
	s.logger.Info("Telegram bot initialized", zap.String("username", bot.Self.UserName))
	s.bots[botToken] = bot
	return bot, nil
}

// SendText 发送文本回复
func (s *Sender) SendText(ctx context.Context, botToken string, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if botToken == "" {
		return apperrors.NewConfigError("telegram bot token is empty")
	}

	bot, err := s.bot(botToken)
	if err != nil {
		return err
	}

	if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return apperrors.NewTransportError("failed to send telegram message", err)
	}
	return nil
}

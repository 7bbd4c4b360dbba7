package usecase

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/domain/repository"
)

// AnalyticsSummary 租户级只读聚合
type AnalyticsSummary struct {
	TenantID          string           `json:"company_id"`
	TotalMessages     int64            `json:"total_messages"`
	TotalSessions     int64            `json:"total_sessions"`
	MessagesLast30d   int64            `json:"messages_last_30d"`
	SessionsLast30d   int64            `json:"sessions_last_30d"`
	MessagesByChannel map[string]int64 `json:"messages_by_channel"`
	SessionsByState   map[string]int64 `json:"sessions_by_state"`
	SessionsByChannel map[string]int64 `json:"sessions_by_channel"`
	ConversionRate    float64          `json:"conversion_rate"`
}

// AnalyticsService C11: 只读报表, 不产生任何写入
type AnalyticsService struct {
	messages repository.MessageRepository
	sessions repository.SessionRepository
	logger   *zap.Logger
	now      func() time.Time
}

func NewAnalyticsService(
	messages repository.MessageRepository,
	sessions repository.SessionRepository,
	logger *zap.Logger,
) *AnalyticsService {
	return &AnalyticsService{
		messages: messages,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// Summary 汇总租户的消息/会话统计与转化率
func (s *AnalyticsService) Summary(ctx context.Context, tenantID string) (*AnalyticsSummary, error) {
	since := s.now().UTC().AddDate(0, 0, -30)

	totalMessages, err := s.messages.CountByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	totalSessions, err := s.sessions.CountByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	messages30d, err := s.messages.CountByTenantSince(ctx, tenantID, since)
	if err != nil {
		return nil, err
	}
	sessions30d, err := s.sessions.CountByTenantSince(ctx, tenantID, since)
	if err != nil {
		return nil, err
	}
	byChannel, err := s.messages.CountByChannel(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	byState, err := s.sessions.CountByState(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	sessionsByChannel, err := s.sessions.CountByChannel(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	// 转化率按全量口径计算
	completed, err := s.sessions.CountCompletedWithAppointment(ctx, tenantID, time.Time{})
	if err != nil {
		return nil, err
	}

	return &AnalyticsSummary{
		TenantID:          tenantID,
		TotalMessages:     totalMessages,
		TotalSessions:     totalSessions,
		MessagesLast30d:   messages30d,
		SessionsLast30d:   sessions30d,
		MessagesByChannel: byChannel,
		SessionsByState:   byState,
		SessionsByChannel: sessionsByChannel,
		ConversionRate:    conversionRate(completed, totalSessions),
	}, nil
}

// DailySeries 最近 days 天的逐日消息数
func (s *AnalyticsService) DailySeries(ctx context.Context, tenantID string, days int) ([]repository.DailyCount, error) {
	if days <= 0 || days > 365 {
		days = 30
	}
	return s.messages.DailySeries(ctx, tenantID, days)
}

// conversionRate = completed_with_appointment / total_sessions × 100, 保留两位
func conversionRate(completed, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(completed)/float64(total)*100*100) / 100
}

package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/domain/repository"
	apperrors "github.com/aiadmin/aiadmin/pkg/errors"
)

const (
	// MinRetentionDays 保留期下限, 任何策略不得低于 30 天
	MinRetentionDays = 30

	// deleteBatchSize 单批删除上限
	deleteBatchSize = 1000
)

// planRetentionDays 订阅计划 → 保留天数
var planRetentionDays = map[string]int{
	"free":       30,
	"starter":    90,
	"pro":        365,
	"enterprise": 730,
}

// RetentionPolicy 一次清理的保留策略
type RetentionPolicy struct {
	MessagesRetentionDays int `json:"messages_retention_days"`
	SessionsRetentionDays int `json:"sessions_retention_days"`
}

// PolicyForPlan 按订阅计划返回保留策略, 未知计划按 free 处理
func PolicyForPlan(plan string) RetentionPolicy {
	days, ok := planRetentionDays[plan]
	if !ok {
		days = planRetentionDays["free"]
	}
	return RetentionPolicy{MessagesRetentionDays: days, SessionsRetentionDays: days}
}

// Validate 校验策略不低于下限
func (p RetentionPolicy) Validate() error {
	if p.MessagesRetentionDays < MinRetentionDays {
		return apperrors.NewInvalidInputError("messages retention must be at least 30 days")
	}
	if p.SessionsRetentionDays < MinRetentionDays {
		return apperrors.NewInvalidInputError("sessions retention must be at least 30 days")
	}
	return nil
}

// CleanupResult 清理结果计数
type CleanupResult struct {
	MessagesDeleted int64 `json:"messages_deleted"`
	SessionsDeleted int64 `json:"sessions_deleted"`
}

// CleanupEstimate 清理预估计数 (不删除)
type CleanupEstimate struct {
	MessagesToDelete int64 `json:"messages_to_delete"`
	SessionsToDelete int64 `json:"sessions_to_delete"`
}

// DataStatistics 租户数据统计
type DataStatistics struct {
	TotalMessages int64 `json:"total_messages"`
	TotalSessions int64 `json:"total_sessions"`
}

// RetentionService 数据保留引擎: 按策略删除过期消息与会话
type RetentionService struct {
	messages repository.MessageRepository
	sessions repository.SessionRepository
	tenants  repository.TenantRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewRetentionService 创建保留引擎
func NewRetentionService(
	messages repository.MessageRepository,
	sessions repository.SessionRepository,
	tenants repository.TenantRepository,
	logger *zap.Logger,
) *RetentionService {
	return &RetentionService{
		messages: messages,
		sessions: sessions,
		tenants:  tenants,
		logger:   logger,
		now:      time.Now,
	}
}

// Cleanup 删除租户早于策略截止时间的消息与会话
// 先删消息再删会话, 分批执行; 幂等: 重跑删除数为 0
func (s *RetentionService) Cleanup(ctx context.Context, tenantID string, policy RetentionPolicy) (*CleanupResult, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	msgCutoff := now.AddDate(0, 0, -policy.MessagesRetentionDays)
	sessCutoff := now.AddDate(0, 0, -policy.SessionsRetentionDays)

	result := &CleanupResult{}

	for {
		n, err := s.messages.DeleteOlderThan(ctx, tenantID, msgCutoff, deleteBatchSize)
		if err != nil {
			return result, err
		}
		result.MessagesDeleted += n
		if n < deleteBatchSize {
			break
		}
	}

	for {
		n, err := s.sessions.DeleteOlderThan(ctx, tenantID, sessCutoff, deleteBatchSize)
		if err != nil {
			return result, err
		}
		result.SessionsDeleted += n
		if n < deleteBatchSize {
			break
		}
	}

	s.logger.Info("Retention cleanup finished",
		zap.String("tenant", tenantID),
		zap.Int64("messages_deleted", result.MessagesDeleted),
		zap.Int64("sessions_deleted", result.SessionsDeleted),
	)
	return result, nil
}

// Estimate 返回将被删除的记录数, 不执行删除
func (s *RetentionService) Estimate(ctx context.Context, tenantID string, policy RetentionPolicy) (*CleanupEstimate, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	msgCutoff := now.AddDate(0, 0, -policy.MessagesRetentionDays)
	sessCutoff := now.AddDate(0, 0, -policy.SessionsRetentionDays)

	msgs, err := s.messages.CountOlderThan(ctx, tenantID, msgCutoff)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.CountOlderThan(ctx, tenantID, sessCutoff)
	if err != nil {
		return nil, err
	}

	return &CleanupEstimate{MessagesToDelete: msgs, SessionsToDelete: sess}, nil
}

// DeleteAllTenantData 被遗忘权: 删除租户全部消息与会话
func (s *RetentionService) DeleteAllTenantData(ctx context.Context, tenantID string) (*CleanupResult, error) {
	msgs, err := s.messages.DeleteAllByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.DeleteAllByTenant(ctx, tenantID)
	if err != nil {
		return &CleanupResult{MessagesDeleted: msgs}, err
	}

	s.logger.Info("Tenant data erased",
		zap.String("tenant", tenantID),
		zap.Int64("messages_deleted", msgs),
		zap.Int64("sessions_deleted", sess),
	)
	return &CleanupResult{MessagesDeleted: msgs, SessionsDeleted: sess}, nil
}

// Statistics 租户数据量统计
func (s *RetentionService) Statistics(ctx context.Context, tenantID string) (*DataStatistics, error) {
	msgs, err := s.messages.CountByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.CountByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &DataStatistics{TotalMessages: msgs, TotalSessions: sess}, nil
}

// SweepAll 对所有活跃租户执行按计划的保留清理
// 单个租户失败只记日志, 不中断整批
func (s *RetentionService) SweepAll(ctx context.Context) {
	companies, err := s.tenants.FindActiveCompanies(ctx)
	if err != nil {
		s.logger.Error("Retention sweep: failed to list tenants", zap.Error(err))
		return
	}

	for _, c := range companies {
		policy := PolicyForPlan(c.SubscriptionPlan)
		if _, err := s.Cleanup(ctx, c.ID, policy); err != nil {
			s.logger.Error("Retention sweep: tenant cleanup failed",
				zap.String("tenant", c.ID),
				zap.String("plan", c.SubscriptionPlan),
				zap.Error(err),
			)
		}
	}
}

// RunSweeper 周期清扫循环, ctx 取消时退出
func (s *RetentionService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepAll(ctx)
		}
	}
}

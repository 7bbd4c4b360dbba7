package repository

import (
	"context"
	"time"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
)

// SessionFilter 分页会话查询的过滤条件
type SessionFilter struct {
	TenantID  string
	Channel   entity.Channel
	State     entity.SessionState
	StartDate time.Time
	EndDate   time.Time
	Page      int
	PerPage   int
}

// SessionRepository 持久化会话仓储接口
type SessionRepository interface {
	// Upsert 创建或更新会话快照, 更新时保留原 created_at
	Upsert(ctx context.Context, session *entity.Session) error

	// FindByID 根据ID查找会话
	FindByID(ctx context.Context, id string) (*entity.Session, error)

	// FindByTenant 按租户分页查询会话
	FindByTenant(ctx context.Context, filter SessionFilter) (*Page[*entity.Session], error)

	// CountByTenant 统计租户会话总数
	CountByTenant(ctx context.Context, tenantID string) (int64, error)

	// CountByTenantSince 统计窗口内会话数
	CountByTenantSince(ctx context.Context, tenantID string, since time.Time) (int64, error)

	// CountByState 按状态统计
	CountByState(ctx context.Context, tenantID string) (map[string]int64, error)

	// CountByChannel 按渠道统计
	CountByChannel(ctx context.Context, tenantID string) (map[string]int64, error)

	// CountCompletedWithAppointment 统计窗口内带预约引用的已完成会话数
	CountCompletedWithAppointment(ctx context.Context, tenantID string, since time.Time) (int64, error)

	// CountOlderThan 统计早于 cutoff 的会话数
	CountOlderThan(ctx context.Context, tenantID string, cutoff time.Time) (int64, error)

	// DeleteOlderThan 批量删除早于 cutoff 的会话
	DeleteOlderThan(ctx context.Context, tenantID string, cutoff time.Time, batchSize int) (int64, error)

	// DeleteAllByTenant 删除租户全部会话
	DeleteAllByTenant(ctx context.Context, tenantID string) (int64, error)
}

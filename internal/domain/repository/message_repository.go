package repository

import (
	"context"
	"time"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
)

// MessageFilter 分页消息查询的过滤条件
type MessageFilter struct {
	TenantID  string
	SessionID string
	Channel   entity.Channel
	StartDate time.Time
	EndDate   time.Time
	Page      int
	PerPage   int
}

// Page 分页查询结果快照, 不暴露游标
type Page[T any] struct {
	Items   []T   `json:"items"`
	Total   int64 `json:"total"`
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Pages   int   `json:"pages"`
}

// DailyCount 按天聚合的消息数
type DailyCount struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int64  `json:"count"`
}

// MessageRepository 持久化消息仓储接口
// 定义在领域层, 实现在基础设施层
type MessageRepository interface {
	// Save 保存消息记录
	Save(ctx context.Context, record *entity.MessageRecord) error

	// FindByTenant 按租户分页查询消息
	FindByTenant(ctx context.Context, filter MessageFilter) (*Page[*entity.MessageRecord], error)

	// FindBySession 查询会话内消息 (时间升序)
	FindBySession(ctx context.Context, sessionID string, limit int) ([]*entity.MessageRecord, error)

	// CountByTenant 统计租户消息总数
	CountByTenant(ctx context.Context, tenantID string) (int64, error)

	// CountByTenantSince 统计窗口内消息数
	CountByTenantSince(ctx context.Context, tenantID string, since time.Time) (int64, error)

	// CountByChannel 按渠道统计
	CountByChannel(ctx context.Context, tenantID string) (map[string]int64, error)

	// DailySeries 最近 days 天的逐日消息数
	DailySeries(ctx context.Context, tenantID string, days int) ([]DailyCount, error)

	// CountOlderThan 统计早于 cutoff 的消息数 (清理预估)
	CountOlderThan(ctx context.Context, tenantID string, cutoff time.Time) (int64, error)

	// DeleteOlderThan 批量删除早于 cutoff 的消息, 单批不超过 batchSize, 返回删除数
	DeleteOlderThan(ctx context.Context, tenantID string, cutoff time.Time, batchSize int) (int64, error)

	// DeleteAllByTenant 删除租户全部消息 (被遗忘权)
	DeleteAllByTenant(ctx context.Context, tenantID string) (int64, error)
}

package repository

import (
	"context"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
)

// TenantRepository 租户与租户配置仓储接口
type TenantRepository interface {
	// FindCompany 查找租户
	FindCompany(ctx context.Context, id string) (*entity.Company, error)

	// FindActiveCompanies 查找所有活跃租户 (保留策略清扫用)
	FindActiveCompanies(ctx context.Context) ([]*entity.Company, error)

	// FindChannelByToken 根据 webhook token 查找渠道记录
	FindChannelByToken(ctx context.Context, token string) (*entity.ChannelBinding, error)

	// FindCRMBinding 查找租户的 CRM 绑定
	FindCRMBinding(ctx context.Context, tenantID string) (*entity.CRMBinding, error)

	// FindAgentPolicy 查找租户的代理策略
	FindAgentPolicy(ctx context.Context, tenantID string) (*entity.AgentPolicy, error)

	// IncrementChannelCounters 渠道收发计数与最后活跃时间
	IncrementChannelCounters(ctx context.Context, channelID string, received, sent int64) error
}

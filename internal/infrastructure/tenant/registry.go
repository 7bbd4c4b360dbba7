// Package tenant resolves inbound requests to tenants and serves tenant
// configuration (CRM binding, agent policy, prompt context) with a short
// read-through cache in front of the durable store.
package tenant

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
	"github.com/aiadmin/aiadmin/internal/domain/repository"
	apperrors "github.com/aiadmin/aiadmin/pkg/errors"
)

const cacheTTL = 30 * time.Second

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// Registry 租户注册表, 解析与配置读取都经过这里
type Registry struct {
	repo   repository.TenantRepository
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry

	now func() time.Time
}

func NewRegistry(repo repository.TenantRepository, logger *zap.Logger) *Registry {
	return &Registry{
		repo:   repo,
		logger: logger,
		cache:  make(map[string]cacheEntry),
		now:    time.Now,
	}
}

func (r *Registry) cached(key string) (interface{}, bool) {
	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if !ok || r.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

func (r *Registry) store(key string, value interface{}) {
	r.mu.Lock()
	r.cache[key] = cacheEntry{value: value, expiresAt: r.now().Add(cacheTTL)}
	r.mu.Unlock()
}

// ResolveByWebhookToken maps a webhook token to its channel binding and
// owning company. Inactive channels and companies resolve to errors, never
// to a usable tenant.
func (r *Registry) ResolveByWebhookToken(ctx context.Context, token string) (*entity.ChannelBinding, *entity.Company, error) {
	if token == "" {
		return nil, nil, apperrors.NewUnauthorizedError("missing webhook token")
	}

	type resolved struct {
		channel *entity.ChannelBinding
		company *entity.Company
	}
	key := "token:" + token
	if v, ok := r.cached(key); ok {
		res := v.(resolved)
		return res.channel, res.company, nil
	}

	channel, err := r.repo.FindChannelByToken(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if channel == nil {
		return nil, nil, apperrors.NewNotFoundError("unknown webhook token")
	}
	if !channel.IsActive {
		return nil, nil, apperrors.NewForbiddenError("channel is disabled")
	}

	company, err := r.repo.FindCompany(ctx, channel.TenantID)
	if err != nil {
		return nil, nil, err
	}
	if company == nil {
		return nil, nil, apperrors.NewNotFoundError("tenant not found for channel")
	}
	if !company.IsActive {
		return nil, nil, apperrors.NewForbiddenError("tenant is disabled")
	}

	r.store(key, resolved{channel: channel, company: company})
	return channel, company, nil
}

// LoadCompany 按 ID 加载租户
func (r *Registry) LoadCompany(ctx context.Context, tenantID string) (*entity.Company, error) {
	key := "company:" + tenantID
	if v, ok := r.cached(key); ok {
		return v.(*entity.Company), nil
	}

	company, err := r.repo.FindCompany(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, apperrors.NewNotFoundError("tenant not found: " + tenantID)
	}
	r.store(key, company)
	return company, nil
}

// LoadCRMBinding loads the tenant's active CRM binding. Absence is a config
// error: the tenant exists but cannot serve conversations.
func (r *Registry) LoadCRMBinding(ctx context.Context, tenantID string) (*entity.CRMBinding, error) {
	key := "crm:" + tenantID
	if v, ok := r.cached(key); ok {
		return v.(*entity.CRMBinding), nil
	}

	binding, err := r.repo.FindCRMBinding(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if binding == nil {
		return nil, apperrors.NewConfigError("tenant has no active crm binding: " + tenantID)
	}
	r.store(key, binding)
	return binding, nil
}

// LoadAgentPolicy returns the tenant's policy, falling back to the
// deterministic default when none is configured. Generation knobs are
// clamped before the policy leaves the registry.
func (r *Registry) LoadAgentPolicy(ctx context.Context, tenantID string) (*entity.AgentPolicy, error) {
	key := "policy:" + tenantID
	if v, ok := r.cached(key); ok {
		return v.(*entity.AgentPolicy), nil
	}

	policy, err := r.repo.FindAgentPolicy(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		policy = entity.DefaultAgentPolicy(tenantID)
		r.logger.Debug("No agent policy configured, using default",
			zap.String("tenant_id", tenantID))
	}
	policy.ClampGenerationKnobs()

	r.store(key, policy)
	return policy, nil
}

// LoadPromptContext 组装系统指令用的租户投影
func (r *Registry) LoadPromptContext(ctx context.Context, tenantID string) (*entity.PromptContext, error) {
	company, err := r.LoadCompany(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	policy, err := r.LoadAgentPolicy(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &entity.PromptContext{
		CompanyName: company.Name,
		Policy:      policy,
	}, nil
}

// RecordChannelTraffic 渠道收发计数, 失败只记日志不阻断请求
func (r *Registry) RecordChannelTraffic(ctx context.Context, channelID string, received, sent int64) {
	if channelID == "" {
		return
	}
	if err := r.repo.IncrementChannelCounters(ctx, channelID, received, sent); err != nil {
		r.logger.Warn("Failed to update channel counters",
			zap.String("channel_id", channelID),
			zap.Error(err),
		)
	}
}

// Invalidate drops all cached entries for a tenant. Token entries are keyed
// by token, not tenant, so they age out via TTL instead.
func (r *Registry) Invalidate(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, "company:"+tenantID)
	delete(r.cache, "crm:"+tenantID)
	delete(r.cache, "policy:"+tenantID)
}

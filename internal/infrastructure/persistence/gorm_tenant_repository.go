package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
	"github.com/aiadmin/aiadmin/internal/domain/repository"
	"github.com/aiadmin/aiadmin/internal/infrastructure/persistence/models"
	domainErrors "github.com/aiadmin/aiadmin/pkg/errors"
)

// GormTenantRepository GORM 实现的租户配置仓储
type GormTenantRepository struct {
	db *gorm.DB
}

// NewGormTenantRepository 创建 GORM 租户仓储
func NewGormTenantRepository(db *gorm.DB) repository.TenantRepository {
	return &GormTenantRepository{
		db: db,
	}
}

// FindCompany 查找租户
func (r *GormTenantRepository) FindCompany(ctx context.Context, id string) (*entity.Company, error) {
	var model models.CompanyModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("company not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find company", err)
	}
	return companyToEntity(&model), nil
}

// FindActiveCompanies 查找所有活跃租户
func (r *GormTenantRepository) FindActiveCompanies(ctx context.Context) ([]*entity.Company, error) {
	var rows []models.CompanyModel
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Find(&rows).Error; err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list active companies", err)
	}

	companies := make([]*entity.Company, 0, len(rows))
	for i := range rows {
		companies = append(companies, companyToEntity(&rows[i]))
	}
	return companies, nil
}

// FindChannelByToken 根据 webhook token 查找渠道记录
// token 本身是随机不透明值, 直接索引查找即可
func (r *GormTenantRepository) FindChannelByToken(ctx context.Context, token string) (*entity.ChannelBinding, error) {
	var model models.ChannelModel
	if err := r.db.WithContext(ctx).First(&model, "webhook_token = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("channel not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find channel", err)
	}

	var config map[string]interface{}
	if model.Config != "" {
		if err := json.Unmarshal([]byte(model.Config), &config); err != nil {
			return nil, domainErrors.NewInternalErrorWithCause("failed to decode channel config", err)
		}
	}

	binding := &entity.ChannelBinding{
		ID:               model.ID,
		TenantID:         model.CompanyID,
		Kind:             entity.Channel(model.ChannelKind),
		Name:             model.ChannelName,
		IsActive:         model.IsActive,
		Config:           config,
		WebhookToken:     model.WebhookToken,
		WebhookURL:       model.WebhookURL,
		MessagesReceived: model.MessagesReceived,
		MessagesSent:     model.MessagesSent,
	}
	if model.LastActivityAt != nil {
		binding.LastActivityAt = *model.LastActivityAt
	}
	return binding, nil
}

// FindCRMBinding 查找租户的 CRM 绑定
func (r *GormTenantRepository) FindCRMBinding(ctx context.Context, tenantID string) (*entity.CRMBinding, error) {
	var model models.CRMSettingsModel
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND is_active = ?", tenantID, true).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("crm binding not configured")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find crm binding", err)
	}

	var extra map[string]interface{}
	if model.AdditionalSettings != "" {
		if err := json.Unmarshal([]byte(model.AdditionalSettings), &extra); err != nil {
			return nil, domainErrors.NewInternalErrorWithCause("failed to decode crm settings", err)
		}
	}

	binding := &entity.CRMBinding{
		TenantID:        model.CompanyID,
		CRMKind:         model.CRMKind,
		APIKeyEncrypted: model.APIKeyEncrypted,
		BaseURL:         model.BaseURL,
		RemoteAccountID: model.CompanyIDInCRM,
		Extra:           extra,
		IsActive:        model.IsActive,
		LastSyncStatus:  model.LastSyncStatus,
	}
	if model.LastSyncAt != nil {
		binding.LastSyncAt = *model.LastSyncAt
	}
	return binding, nil
}

// FindAgentPolicy 查找租户的代理策略
func (r *GormTenantRepository) FindAgentPolicy(ctx context.Context, tenantID string) (*entity.AgentPolicy, error) {
	var model models.AgentSettingsModel
	if err := r.db.WithContext(ctx).Where("company_id = ?", tenantID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("agent policy not configured")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find agent policy", err)
	}

	policy := &entity.AgentPolicy{
		TenantID:           model.CompanyID,
		Description:        model.Description,
		BusinessType:       model.BusinessType,
		TargetAudience:     model.TargetAudience,
		WorkingHours:       model.WorkingHours,
		Address:            model.Address,
		PhoneDisplay:       model.PhoneDisplay,
		BusinessHighlights: model.BusinessHighlights,
		Greeting:           model.Greeting,
		Farewell:           model.Farewell,
		CustomInstructions: model.CustomInstructions,
		Temperature:        model.Temperature,
		MaxTokens:          model.MaxTokens,
		ModelName:          model.ModelName,
	}

	if model.ServicesCatalog != "" {
		if err := json.Unmarshal([]byte(model.ServicesCatalog), &policy.Services); err != nil {
			return nil, domainErrors.NewInternalErrorWithCause("failed to decode services catalog", err)
		}
	}
	if model.ProductsCatalog != "" {
		if err := json.Unmarshal([]byte(model.ProductsCatalog), &policy.Products); err != nil {
			return nil, domainErrors.NewInternalErrorWithCause("failed to decode products catalog", err)
		}
	}
	if model.Features != "" {
		if err := json.Unmarshal([]byte(model.Features), &policy.Features); err != nil {
			return nil, domainErrors.NewInternalErrorWithCause("failed to decode feature flags", err)
		}
	}
	return policy, nil
}

// IncrementChannelCounters 渠道收发计数与最后活跃时间
func (r *GormTenantRepository) IncrementChannelCounters(ctx context.Context, channelID string, received, sent int64) error {
	updates := map[string]interface{}{
		"last_activity_at": time.Now().UTC(),
	}
	if received != 0 {
		updates["messages_received"] = gorm.Expr("messages_received + ?", received)
	}
	if sent != 0 {
		updates["messages_sent"] = gorm.Expr("messages_sent + ?", sent)
	}

	err := r.db.WithContext(ctx).Model(&models.ChannelModel{}).
		Where("id = ?", channelID).
		Updates(updates).Error
	if err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to update channel counters", err)
	}
	return nil
}

// companyToEntity 数据库模型 → 租户实体
func companyToEntity(model *models.CompanyModel) *entity.Company {
	c := &entity.Company{
		ID:                 model.ID,
		Name:               model.Name,
		Email:              model.Email,
		Phone:              model.Phone,
		SubscriptionPlan:   model.SubscriptionPlan,
		SubscriptionStatus: model.SubscriptionStatus,
		IsActive:           model.IsActive,
		CreatedAt:          model.CreatedAt,
		UpdatedAt:          model.UpdatedAt,
	}
	if model.SubscriptionExpiresAt != nil {
		c.SubscriptionExpiresAt = *model.SubscriptionExpiresAt
	}
	return c
}

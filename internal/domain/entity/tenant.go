package entity

import "time"

// Company 租户 (计费与隔离单元)
type Company struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	Email                 string    `json:"email"`
	Phone                 string    `json:"phone,omitempty"`
	SubscriptionPlan      string    `json:"subscription_plan"`
	SubscriptionStatus    string    `json:"subscription_status,omitempty"`
	SubscriptionExpiresAt time.Time `json:"subscription_expires_at,omitempty"`
	IsActive              bool      `json:"is_active"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// CRMBinding 租户的 CRM 绑定
// APIKeyEncrypted 只允许在编排器内解密, 不得写入日志或 API 响应
type CRMBinding struct {
	TenantID        string                 `json:"company_id"`
	CRMKind         string                 `json:"crm_kind"`
	APIKeyEncrypted string                 `json:"-"`
	BaseURL         string                 `json:"base_url,omitempty"`
	RemoteAccountID string                 `json:"company_id_in_crm,omitempty"`
	Extra           map[string]interface{} `json:"additional_settings,omitempty"`
	IsActive        bool                   `json:"is_active"`
	LastSyncAt      time.Time              `json:"last_sync_at,omitempty"`
	LastSyncStatus  string                 `json:"last_sync_status,omitempty"`
}

// CatalogItem 服务/商品目录条目
type CatalogItem struct {
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	Price           float64 `json:"price,omitempty"`
	DurationMinutes int     `json:"duration,omitempty"`
}

// AgentPolicy 租户的对话代理策略
type AgentPolicy struct {
	TenantID           string          `json:"company_id"`
	Description        string          `json:"description,omitempty"`
	BusinessType       string          `json:"business_type,omitempty"`
	TargetAudience     string          `json:"target_audience,omitempty"`
	WorkingHours       string          `json:"working_hours,omitempty"`
	Address            string          `json:"address,omitempty"`
	PhoneDisplay       string          `json:"phone,omitempty"`
	Services           []CatalogItem   `json:"services,omitempty"`
	Products           []CatalogItem   `json:"products,omitempty"`
	BusinessHighlights string          `json:"business_highlights,omitempty"`
	Greeting           string          `json:"greeting,omitempty"`
	Farewell           string          `json:"farewell,omitempty"`
	CustomInstructions string          `json:"custom_instructions,omitempty"`
	Temperature        float64         `json:"temperature"`
	MaxTokens          int             `json:"max_tokens"`
	ModelName          string          `json:"model_name,omitempty"`
	Features           map[string]bool `json:"features,omitempty"`
}

// DefaultAgentPolicy 缺失策略时的确定性默认值
func DefaultAgentPolicy(tenantID string) *AgentPolicy {
	return &AgentPolicy{
		TenantID:    tenantID,
		Temperature: 0.7,
		MaxTokens:   8192,
	}
}

// ClampGenerationKnobs 把 LLM 参数收敛到提供商合法区间
func (p *AgentPolicy) ClampGenerationKnobs() {
	if p.Temperature < 0 {
		p.Temperature = 0
	}
	if p.Temperature > 2 {
		p.Temperature = 2
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = 8192
	}
}

// PromptContext 系统指令所需的租户投影 (策略 + 租户名)
type PromptContext struct {
	CompanyName string
	Policy      *AgentPolicy
}

// ChannelBinding 租户的渠道记录, webhook_token 是唯一的入口租户标识
type ChannelBinding struct {
	ID               string                 `json:"id"`
	TenantID         string                 `json:"company_id"`
	Kind             Channel                `json:"channel_kind"`
	Name             string                 `json:"channel_name,omitempty"`
	IsActive         bool                   `json:"is_active"`
	Config           map[string]interface{} `json:"config,omitempty"`
	WebhookToken     string                 `json:"-"`
	WebhookURL       string                 `json:"webhook_url,omitempty"`
	MessagesReceived int64                  `json:"messages_received"`
	MessagesSent     int64                  `json:"messages_sent"`
	LastActivityAt   time.Time              `json:"last_activity_at,omitempty"`
}

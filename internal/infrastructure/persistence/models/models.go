package models

import "time"

// CompanyModel 租户表
type CompanyModel struct {
	ID                    string `gorm:"primaryKey;size:64"`
	Name                  string `gorm:"size:255;not null"`
	Email                 string `gorm:"size:255;uniqueIndex;not null"`
	Phone                 string `gorm:"size:32"`
	SubscriptionPlan      string `gorm:"size:32;default:free"`
	SubscriptionStatus    string `gorm:"size:32"`
	SubscriptionExpiresAt *time.Time
	BillingEmail          string `gorm:"size:255"`
	IsActive              bool   `gorm:"default:true"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// TableName 指定表名
func (CompanyModel) TableName() string {
	return "companies"
}

// CRMSettingsModel 租户 CRM 绑定表, api_key_encrypted 存 vault 信封
type CRMSettingsModel struct {
	ID                 string `gorm:"primaryKey;size:64"`
	CompanyID          string `gorm:"index;size:64;not null"`
	CRMKind            string `gorm:"size:32;not null"`
	APIKeyEncrypted    string `gorm:"type:text"`
	BaseURL            string `gorm:"size:512"`
	CompanyIDInCRM     string `gorm:"size:128"`
	AdditionalSettings string `gorm:"type:text"` // JSON
	IsActive           bool   `gorm:"default:true"`
	LastSyncAt         *time.Time
	LastSyncStatus     string `gorm:"size:32"`
	LastSyncError      string `gorm:"type:text"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TableName 指定表名
func (CRMSettingsModel) TableName() string {
	return "company_crm_settings"
}

// AgentSettingsModel 租户代理策略表
type AgentSettingsModel struct {
	ID                 string `gorm:"primaryKey;size:64"`
	CompanyID          string `gorm:"uniqueIndex;size:64;not null"`
	Description        string `gorm:"type:text"`
	BusinessType       string `gorm:"size:128"`
	TargetAudience     string `gorm:"type:text"`
	WorkingHours       string `gorm:"size:255"`
	Address            string `gorm:"size:512"`
	PhoneDisplay       string `gorm:"size:32"`
	ServicesCatalog    string `gorm:"type:text"` // JSON array of catalog items
	ProductsCatalog    string `gorm:"type:text"` // JSON array of catalog items
	BusinessHighlights string `gorm:"type:text"`
	Greeting           string `gorm:"type:text"`
	Farewell           string `gorm:"type:text"`
	CustomInstructions string `gorm:"type:text"`
	Temperature        float64 `gorm:"default:0.7"`
	MaxTokens          int     `gorm:"default:8192"`
	ModelName          string  `gorm:"size:128"`
	Features           string  `gorm:"type:text"` // JSON map of feature flags
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TableName 指定表名
func (AgentSettingsModel) TableName() string {
	return "company_agent_settings"
}

// ChannelModel 租户渠道表, webhook_token 是入口侧唯一租户标识
type ChannelModel struct {
	ID               string `gorm:"primaryKey;size:64"`
	CompanyID        string `gorm:"index;size:64;not null"`
	ChannelKind      string `gorm:"size:32;not null"`
	ChannelName      string `gorm:"size:128"`
	IsActive         bool   `gorm:"default:true"`
	Config           string `gorm:"type:text"` // JSON
	WebhookToken     string `gorm:"uniqueIndex;size:128;not null"`
	WebhookURL       string `gorm:"size:512"`
	MessagesReceived int64  `gorm:"default:0"`
	MessagesSent     int64  `gorm:"default:0"`
	LastActivityAt   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName 指定表名
func (ChannelModel) TableName() string {
	return "company_channels"
}

// SessionModel 会话快照表
type SessionModel struct {
	ID               string `gorm:"primaryKey;size:64"`
	CompanyID        string `gorm:"index;index:idx_sessions_company_created,priority:1;index:idx_sessions_company_state,priority:1;index:idx_sessions_company_channel,priority:1;size:64;not null"`
	UserID           string `gorm:"size:128;not null"`
	ChannelKind      string `gorm:"index:idx_sessions_company_channel,priority:2;size:32;not null"`
	State            string `gorm:"index:idx_sessions_company_state,priority:2;size:32;not null"`
	Context          string `gorm:"type:text"` // JSON context map
	CRMClientID      string `gorm:"size:128"`
	// 部分索引: 仅索引带预约引用的行 (postgres 与 sqlite 都支持 partial index)
	CRMAppointmentID string `gorm:"index:idx_sessions_appointment,where:crm_appointment_id IS NOT NULL;size:128"`
	CreatedAt        time.Time `gorm:"index;index:idx_sessions_company_created,priority:2"`
	LastActivity     time.Time
	UpdatedAt        time.Time
}

// TableName 指定表名
func (SessionModel) TableName() string {
	return "sessions"
}

// MessageRecordModel 持久化消息表
type MessageRecordModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	SessionID   string `gorm:"index:idx_messages_session_created,priority:1;size:64;not null"`
	CompanyID   string `gorm:"index;index:idx_messages_company_created,priority:1;index:idx_messages_company_channel,priority:1;size:64;not null"`
	ChannelKind string `gorm:"index:idx_messages_company_channel,priority:2;size:32;not null"`
	MessageKind string `gorm:"size:32;not null"`
	Text        string `gorm:"type:text"`
	MediaURL    string `gorm:"size:1024"`
	IsFromBot   bool   `gorm:"not null"`
	FromUserID  string `gorm:"size:128"`
	FromUserName string `gorm:"size:255"`
	Metadata    string `gorm:"type:text"` // JSON
	CreatedAt   time.Time `gorm:"index;index:idx_messages_company_created,priority:2;index:idx_messages_session_created,priority:2"`
}

// TableName 指定表名
func (MessageRecordModel) TableName() string {
	return "messages"
}

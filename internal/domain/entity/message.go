package entity

import "time"

// Channel 渠道类型
type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelVoice    Channel = "voice"
	ChannelWeb      Channel = "web"
)

// MessageKind 消息内容类型
type MessageKind string

const (
	MessageKindText     MessageKind = "text"
	MessageKindAudio    MessageKind = "audio"
	MessageKindImage    MessageKind = "image"
	MessageKindVideo    MessageKind = "video"
	MessageKindDocument MessageKind = "document"
	MessageKindLocation MessageKind = "location"
	MessageKindContact  MessageKind = "contact"
)

// Role 对话角色 (热存储历史条目)
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message 渠道无关的入站消息
// 网关把各渠道的 webhook 负载归一化成这个形状后交给编排器
type Message struct {
	SessionID string                 `json:"session_id"`
	TenantID  string                 `json:"company_id"`
	UserID    string                 `json:"user_id"`
	UserName  string                 `json:"user_name,omitempty"`
	Channel   Channel                `json:"channel"`
	Kind      MessageKind            `json:"kind"`
	Text      string                 `json:"text"`
	MediaURL  string                 `json:"media_url,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// HistoryEntry 热存储中的对话历史条目
type HistoryEntry struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Reply 编排器对一条入站消息的处理结果
// Text 与 FunctionName/FunctionResult 互斥: 工具调用分支下 Text 为空,
// NeedsFollowup 提示调用方可再次触发一轮 LLM 把结果转述给用户
type Reply struct {
	Text           string                 `json:"text,omitempty"`
	FunctionCalled bool                   `json:"function_called"`
	FunctionName   string                 `json:"function_name,omitempty"`
	FunctionResult map[string]interface{} `json:"function_result,omitempty"`
	NeedsFollowup  bool                   `json:"needs_followup,omitempty"`
	SessionID      string                 `json:"session_id"`
	SessionState   SessionState           `json:"session_state"`
}

// MessageRecord 持久化的消息记录
type MessageRecord struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	TenantID  string                 `json:"company_id"`
	Channel   Channel                `json:"channel"`
	Kind      MessageKind            `json:"kind"`
	Text      string                 `json:"text,omitempty"`
	MediaURL  string                 `json:"media_url,omitempty"`
	IsFromBot bool                   `json:"is_from_bot"`
	FromID    string                 `json:"from_user_id,omitempty"`
	FromName  string                 `json:"from_user_name,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

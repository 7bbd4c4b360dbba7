package entity

import (
	"fmt"
	"time"
)

// SessionState 会话状态机状态
type SessionState string

const (
	StateInitiated      SessionState = "INITIATED"
	StateGreeting       SessionState = "GREETING"
	StateCollectingInfo SessionState = "COLLECTING_INFO"
	StateConsulting     SessionState = "CONSULTING"
	StateBooking        SessionState = "BOOKING"
	StateConfirming     SessionState = "CONFIRMING"
	StateCompleted      SessionState = "COMPLETED"
	StateFailed         SessionState = "FAILED"
)

// ValidStates 所有合法状态
var ValidStates = map[SessionState]bool{
	StateInitiated:      true,
	StateGreeting:       true,
	StateCollectingInfo: true,
	StateConsulting:     true,
	StateBooking:        true,
	StateConfirming:     true,
	StateCompleted:      true,
	StateFailed:         true,
}

// Session 一次对话会话: 一个终端用户在一个渠道上的一段交互
type Session struct {
	ID            string                 `json:"id"`
	TenantID      string                 `json:"company_id"`
	UserID        string                 `json:"user_id"`
	Channel       Channel                `json:"channel"`
	State         SessionState           `json:"state"`
	Context       map[string]interface{} `json:"context"`
	CRMClientRef  string                 `json:"crm_client_id,omitempty"`
	AppointmentRef string                `json:"crm_appointment_id,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	LastActivity  time.Time              `json:"last_activity"`
	TTL           time.Duration          `json:"-"`
}

// NewSession 为首条消息惰性创建会话, 初始状态 INITIATED
func NewSession(id, tenantID, userID string, channel Channel, ttl time.Duration) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           id,
		TenantID:     tenantID,
		UserID:       userID,
		Channel:      channel,
		State:        StateInitiated,
		Context:      make(map[string]interface{}),
		CreatedAt:    now,
		LastActivity: now,
		TTL:          ttl,
	}
}

// SessionIDFor 渠道稳定的会话标识: tg_<uid> / wa_<from> / web_<uid> / voice_<uid>
func SessionIDFor(channel Channel, externalUserID string) string {
	var prefix string
	switch channel {
	case ChannelTelegram:
		prefix = "tg"
	case ChannelWhatsApp:
		prefix = "wa"
	case ChannelVoice:
		prefix = "voice"
	default:
		prefix = "web"
	}
	return fmt.Sprintf("%s_%s", prefix, externalUserID)
}

// Terminal 终态会话不再接受 LLM 驱动的状态变更
func (s *Session) Terminal() bool {
	return s.State == StateCompleted || s.State == StateFailed
}

// Touch 更新最后活跃时间
func (s *Session) Touch() {
	s.LastActivity = time.Now().UTC()
}

// SetContext 写入会话上下文
func (s *Session) SetContext(key string, value interface{}) {
	if s.Context == nil {
		s.Context = make(map[string]interface{})
	}
	s.Context[key] = value
}

// contextHas 判断上下文中键存在且非空
func (s *Session) contextHas(key string) bool {
	v, ok := s.Context[key]
	if !ok || v == nil {
		return false
	}
	if str, isStr := v.(string); isStr {
		return str != ""
	}
	return true
}

// AdvanceState 按确定性规则推进状态机, 返回是否发生了转移
// 幸福路径: INITIATED → GREETING → COLLECTING_INFO → BOOKING → CONFIRMING → COMPLETED
func (s *Session) AdvanceState() bool {
	if s.Terminal() {
		return false
	}

	switch s.State {
	case StateInitiated:
		// 首次回复后无条件进入问候态
		s.State = StateGreeting
		return true
	case StateGreeting:
		if s.contextHas("desired_service") || s.contextHas("name") || s.contextHas("phone") {
			s.State = StateCollectingInfo
			return true
		}
	case StateCollectingInfo:
		if s.contextHas("name") && s.contextHas("phone") && s.contextHas("desired_service") {
			s.State = StateBooking
			return true
		}
	case StateBooking:
		if s.contextHas("selected_slot") {
			s.State = StateConfirming
			return true
		}
	case StateConfirming:
		if s.contextHas("appointment_id") {
			s.State = StateCompleted
			return true
		}
	}
	return false
}

// Fail 异常路径: 会话标记为失败
func (s *Session) Fail() {
	s.State = StateFailed
}

package eventbus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
)

// Event 领域事件
type Event interface {
	Type() string
	Timestamp() time.Time
	Payload() any
}

// BaseEvent 基础事件实现
type BaseEvent struct {
	EventType      string
	EventTimestamp time.Time
	EventPayload   any
}

func (e *BaseEvent) Type() string         { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTimestamp }
func (e *BaseEvent) Payload() any         { return e.EventPayload }

// NewEvent 创建新事件
func NewEvent(eventType string, payload any) *BaseEvent {
	return &BaseEvent{
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   payload,
	}
}

// Handler 事件处理函数
type Handler func(ctx context.Context, event Event)

// Bus 事件总线接口
type Bus interface {
	// Publish 发布事件 (非阻塞, 缓冲满时丢弃)
	Publish(ctx context.Context, event Event)
	// Subscribe 订阅事件, "*" 匹配全部
	Subscribe(eventType string, handler Handler)
	// Close 关闭事件总线, 等待已入队事件分发完
	Close()
}

// InMemoryBus 内存事件总线
// 编排器在请求路径上发布, 订阅者 (指标桥接, 审计日志) 异步消费;
// 事件丢失只影响可观测性, 不影响对话语义
type InMemoryBus struct {
	mu        sync.RWMutex
	handlers  map[string][]Handler
	eventChan chan eventWrapper
	closed    bool
	logger    *zap.Logger
	wg        sync.WaitGroup
}

type eventWrapper struct {
	ctx   context.Context
	event Event
}

// NewInMemoryBus 创建内存事件总线
func NewInMemoryBus(logger *zap.Logger, bufferSize int) *InMemoryBus {
	bus := &InMemoryBus{
		handlers:  make(map[string][]Handler),
		eventChan: make(chan eventWrapper, bufferSize),
		logger:    logger,
	}

	bus.wg.Add(1)
	go bus.dispatch()

	return bus
}

// Publish 发布事件
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	select {
	case b.eventChan <- eventWrapper{ctx: ctx, event: event}:
	default:
		b.logger.Warn("Event buffer full, dropping event",
			zap.String("type", event.Type()),
		)
	}
}

// Subscribe 订阅事件
func (b *InMemoryBus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Close 关闭事件总线
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.eventChan)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("Event bus closed")
}

func (b *InMemoryBus) dispatch() {
	defer b.wg.Done()
	for wrapper := range b.eventChan {
		b.dispatchEvent(wrapper.ctx, wrapper.event)
	}
}

func (b *InMemoryBus) dispatchEvent(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0)
	if h, ok := b.handlers[event.Type()]; ok {
		handlers = append(handlers, h...)
	}
	if h, ok := b.handlers["*"]; ok {
		handlers = append(handlers, h...)
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("Event handler panicked",
						zap.String("event_type", event.Type()),
						zap.Any("panic", r),
					)
				}
			}()
			h(ctx, event)
		}(handler)
	}
	wg.Wait()
}

// 事件类型常量
const (
	EventTypeSessionCreated   = "session_created"
	EventTypeStateChange      = "state_change"
	EventTypeToolExecuted     = "tool_executed"
	EventTypeBookingCompleted = "booking_completed"
	EventTypeBookingCancelled = "booking_cancelled"
	EventTypeModelCall        = "model_call"
	EventTypeError            = "error"
)

// SessionCreatedPayload 新会话事件载荷
type SessionCreatedPayload struct {
	SessionID string
	TenantID  string
	Channel   entity.Channel
}

// StateChangePayload 会话状态迁移事件载荷
type StateChangePayload struct {
	SessionID string
	TenantID  string
	FromState entity.SessionState
	ToState   entity.SessionState
}

// ToolExecutedPayload 工具执行事件载荷
type ToolExecutedPayload struct {
	SessionID string
	TenantID  string
	ToolName  string
	Success   bool
	Duration  time.Duration
}

// BookingPayload 预约创建/取消事件载荷
type BookingPayload struct {
	SessionID     string
	TenantID      string
	AppointmentID string
}

// ModelCallPayload 模型调用事件载荷
type ModelCallPayload struct {
	SessionID string
	TenantID  string
	Model     string
	Success   bool
	Duration  time.Duration
}

// ErrorPayload 错误事件载荷
type ErrorPayload struct {
	SessionID string
	TenantID  string
	Component string
	Error     string
}

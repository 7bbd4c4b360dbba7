package monitoring

import (
	"context"

	"github.com/aiadmin/aiadmin/internal/infrastructure/eventbus"
)

// BindEventBus 把领域事件桥接到计数器
// 订阅者在总线协程里跑, 计数全部原子操作, 无需额外同步
func BindEventBus(bus eventbus.Bus, m *Monitor) {
	bus.Subscribe(eventbus.EventTypeSessionCreated, func(_ context.Context, _ eventbus.Event) {
		m.IncSessionCreated()
	})
	bus.Subscribe(eventbus.EventTypeToolExecuted, func(_ context.Context, e eventbus.Event) {
		m.IncToolCallTotal()
		if p, ok := e.Payload().(*eventbus.ToolExecutedPayload); ok && !p.Success {
			m.IncToolCallFailed()
		}
	})
	bus.Subscribe(eventbus.EventTypeBookingCompleted, func(_ context.Context, _ eventbus.Event) {
		m.IncBookingCompleted()
	})
	bus.Subscribe(eventbus.EventTypeModelCall, func(_ context.Context, e eventbus.Event) {
		m.IncModelCall()
		if p, ok := e.Payload().(*eventbus.ModelCallPayload); ok && !p.Success {
			m.IncModelCallFailed()
		}
	})
	bus.Subscribe(eventbus.EventTypeError, func(_ context.Context, _ eventbus.Event) {
		m.IncError()
	})
}

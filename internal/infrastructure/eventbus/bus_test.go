package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func TestPublishReachesSubscriber(t *testing.T) {
	bus := NewInMemoryBus(testLogger(), 16)

	var mu sync.Mutex
	var got []Event
	done := make(chan struct{}, 1)
	bus.Subscribe(EventTypeBookingCompleted, func(_ context.Context, e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		done <- struct{}{}
	})

	bus.Publish(context.Background(), NewEvent(EventTypeBookingCompleted, &BookingPayload{
		SessionID:     "tg_42",
		TenantID:      "t1",
		AppointmentID: "appt-77",
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscriber was not invoked")
	}
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("events delivered = %d", len(got))
	}
	payload, ok := got[0].Payload().(*BookingPayload)
	if !ok || payload.AppointmentID != "appt-77" {
		t.Errorf("payload = %+v", got[0].Payload())
	}
}

func TestWildcardSubscriber(t *testing.T) {
	bus := NewInMemoryBus(testLogger(), 16)

	var count atomic.Int64
	bus.Subscribe("*", func(_ context.Context, _ Event) {
		count.Add(1)
	})

	bus.Publish(context.Background(), NewEvent(EventTypeSessionCreated, &SessionCreatedPayload{
		SessionID: "s1", TenantID: "t1", Channel: entity.ChannelTelegram,
	}))
	bus.Publish(context.Background(), NewEvent(EventTypeStateChange, &StateChangePayload{
		SessionID: "s1", FromState: entity.StateGreeting, ToState: entity.StateCollectingInfo,
	}))
	bus.Close()

	if count.Load() != 2 {
		t.Errorf("wildcard deliveries = %d, want 2", count.Load())
	}
}

func TestPanickingHandlerDoesNotKillBus(t *testing.T) {
	bus := NewInMemoryBus(testLogger(), 16)

	delivered := make(chan struct{}, 1)
	bus.Subscribe(EventTypeError, func(_ context.Context, _ Event) {
		panic("handler bug")
	})
	bus.Subscribe(EventTypeError, func(_ context.Context, _ Event) {
		delivered <- struct{}{}
	})

	bus.Publish(context.Background(), NewEvent(EventTypeError, &ErrorPayload{Component: "llm"}))

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("second handler must still run after sibling panic")
	}
	bus.Close()
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	bus := NewInMemoryBus(testLogger(), 16)
	bus.Close()

	// 不应 panic
	bus.Publish(context.Background(), NewEvent(EventTypeSessionCreated, nil))
	bus.Close()
}

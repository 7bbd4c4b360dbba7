package monitoring

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/infrastructure/eventbus"
)

func TestMonitorCounters(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	m := NewMonitor(logger)

	m.IncRequestTotal()
	m.IncRequestTotal()
	m.IncRequestSuccess()
	m.IncRequestFailed()
	m.IncToolCallTotal()
	m.IncBookingCompleted()
	m.RecordRequestLatency(20 * time.Millisecond)

	stats := m.GetStats()
	if stats["requests_total"].(uint64) != 2 {
		t.Errorf("requests_total = %v", stats["requests_total"])
	}
	if stats["bookings_completed"].(uint64) != 1 {
		t.Errorf("bookings_completed = %v", stats["bookings_completed"])
	}
	if stats["avg_latency_ms"].(float64) != 20 {
		t.Errorf("avg_latency_ms = %v", stats["avg_latency_ms"])
	}
}

func TestEventBusBridge(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	m := NewMonitor(logger)
	bus := eventbus.NewInMemoryBus(logger, 16)
	BindEventBus(bus, m)

	ctx := context.Background()
	bus.Publish(ctx, eventbus.NewEvent(eventbus.EventTypeSessionCreated, &eventbus.SessionCreatedPayload{SessionID: "s1"}))
	bus.Publish(ctx, eventbus.NewEvent(eventbus.EventTypeToolExecuted, &eventbus.ToolExecutedPayload{ToolName: "get_services", Success: false}))
	bus.Publish(ctx, eventbus.NewEvent(eventbus.EventTypeBookingCompleted, &eventbus.BookingPayload{AppointmentID: "a1"}))
	bus.Close() // 等待分发完成

	stats := m.GetStats()
	if stats["sessions_created"].(uint64) != 1 {
		t.Errorf("sessions_created = %v", stats["sessions_created"])
	}
	if stats["tool_calls_total"].(uint64) != 1 || stats["tool_calls_failed"].(uint64) != 1 {
		t.Errorf("tool calls = %v/%v", stats["tool_calls_total"], stats["tool_calls_failed"])
	}
	if stats["bookings_completed"].(uint64) != 1 {
		t.Errorf("bookings_completed = %v", stats["bookings_completed"])
	}
}

func TestPrometheusExposition(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	m := NewMonitor(logger)
	m.IncRequestTotal()
	m.IncModelCall()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.PrometheusHandler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	for _, want := range []string{
		"# TYPE aiadmin_requests_total counter",
		"aiadmin_requests_total 1",
		"aiadmin_model_calls_total 1",
		"# TYPE aiadmin_goroutines gauge",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

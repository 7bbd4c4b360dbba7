package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// PrometheusHandler returns an http.Handler that serves Prometheus text format metrics.
// This avoids pulling in the full prometheus/client_golang dependency.
// Mount it at "/metrics" in your HTTP server.
func (m *Monitor) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(m.metrics.StartTime).Seconds()

		// Write metrics in Prometheus exposition format
		lines := []struct {
			name string
			help string
			typ  string
			val  interface{}
		}{
			// Request counters
			{"aiadmin_requests_total", "Total number of requests processed", "counter", atomic.LoadUint64(&m.metrics.RequestsTotal)},
			{"aiadmin_requests_success_total", "Total successful requests", "counter", atomic.LoadUint64(&m.metrics.RequestsSuccess)},
			{"aiadmin_requests_failed_total", "Total failed requests", "counter", atomic.LoadUint64(&m.metrics.RequestsFailed)},
			{"aiadmin_rate_limited_total", "Total requests rejected by the rate limiter", "counter", atomic.LoadUint64(&m.metrics.RateLimited)},

			// Orchestration counters
			{"aiadmin_messages_processed_total", "Total inbound messages orchestrated", "counter", atomic.LoadUint64(&m.metrics.MessagesProcessed)},
			{"aiadmin_tool_calls_total", "Total CRM tool calls executed", "counter", atomic.LoadUint64(&m.metrics.ToolCallsTotal)},
			{"aiadmin_tool_calls_failed_total", "Total failed CRM tool calls", "counter", atomic.LoadUint64(&m.metrics.ToolCallsFailed)},
			{"aiadmin_sessions_created_total", "Total sessions created", "counter", atomic.LoadUint64(&m.metrics.SessionsCreated)},
			{"aiadmin_bookings_completed_total", "Total bookings completed", "counter", atomic.LoadUint64(&m.metrics.BookingsCompleted)},

			// Model counters
			{"aiadmin_model_calls_total", "Total LLM model calls", "counter", atomic.LoadUint64(&m.metrics.ModelCallsTotal)},
			{"aiadmin_model_calls_failed_total", "Total failed LLM model calls", "counter", atomic.LoadUint64(&m.metrics.ModelCallsFailed)},

			// Errors
			{"aiadmin_errors_total", "Total errors encountered", "counter", atomic.LoadUint64(&m.metrics.ErrorsTotal)},

			// Gauges
			{"aiadmin_uptime_seconds", "Process uptime in seconds", "gauge", uptime},

			// Runtime metrics
			{"aiadmin_memory_alloc_bytes", "Current memory allocation in bytes", "gauge", memStats.Alloc},
			{"aiadmin_memory_sys_bytes", "Total memory obtained from OS", "gauge", memStats.Sys},
			{"aiadmin_goroutines", "Number of goroutines", "gauge", runtime.NumGoroutine()},
			{"aiadmin_gc_pause_total_ns", "Total GC pause time in nanoseconds", "counter", memStats.PauseTotalNs},
			{"aiadmin_gc_cycles_total", "Total number of completed GC cycles", "counter", memStats.NumGC},
		}

		for _, l := range lines {
			fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.typ)
			switch v := l.val.(type) {
			case uint64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case float64:
				fmt.Fprintf(w, "%s %f\n", l.name, v)
			case uint32:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			}
			fmt.Fprintln(w)
		}

		// Latency summary
		reqCount := atomic.LoadUint64(&m.metrics.RequestLatencyCount)
		if reqCount > 0 {
			avgMs := float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(reqCount) / 1e6
			fmt.Fprintf(w, "# HELP aiadmin_request_latency_avg_ms Average request latency in milliseconds\n")
			fmt.Fprintf(w, "# TYPE aiadmin_request_latency_avg_ms gauge\n")
			fmt.Fprintf(w, "aiadmin_request_latency_avg_ms %f\n\n", avgMs)
		}
	})
}

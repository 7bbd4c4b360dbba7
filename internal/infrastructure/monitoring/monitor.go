package monitoring

import (
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Metrics 指标收集器, 全部原子计数
type Metrics struct {
	// 请求计数
	RequestsTotal   uint64
	RequestsSuccess uint64
	RequestsFailed  uint64
	RateLimited     uint64

	// 编排
	MessagesProcessed uint64
	ToolCallsTotal    uint64
	ToolCallsFailed   uint64
	SessionsCreated   uint64
	BookingsCompleted uint64

	// 模型调用
	ModelCallsTotal  uint64
	ModelCallsFailed uint64

	// 错误
	ErrorsTotal uint64

	// 延迟 (纳秒)
	RequestLatencySum   uint64
	RequestLatencyCount uint64

	// 启动时间
	StartTime time.Time
}

// Monitor 性能监控器
type Monitor struct {
	metrics *Metrics
	logger  *zap.Logger
}

// NewMonitor 创建监控器
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		metrics: &Metrics{StartTime: time.Now()},
		logger:  logger,
	}
}

// 计数方法
func (m *Monitor) IncRequestTotal()      { atomic.AddUint64(&m.metrics.RequestsTotal, 1) }
func (m *Monitor) IncRequestSuccess()    { atomic.AddUint64(&m.metrics.RequestsSuccess, 1) }
func (m *Monitor) IncRequestFailed()     { atomic.AddUint64(&m.metrics.RequestsFailed, 1) }
func (m *Monitor) IncRateLimited()       { atomic.AddUint64(&m.metrics.RateLimited, 1) }
func (m *Monitor) IncMessageProcessed()  { atomic.AddUint64(&m.metrics.MessagesProcessed, 1) }
func (m *Monitor) IncToolCallTotal()     { atomic.AddUint64(&m.metrics.ToolCallsTotal, 1) }
func (m *Monitor) IncToolCallFailed()    { atomic.AddUint64(&m.metrics.ToolCallsFailed, 1) }
func (m *Monitor) IncSessionCreated()    { atomic.AddUint64(&m.metrics.SessionsCreated, 1) }
func (m *Monitor) IncBookingCompleted()  { atomic.AddUint64(&m.metrics.BookingsCompleted, 1) }
func (m *Monitor) IncModelCall()         { atomic.AddUint64(&m.metrics.ModelCallsTotal, 1) }
func (m *Monitor) IncModelCallFailed()   { atomic.AddUint64(&m.metrics.ModelCallsFailed, 1) }
func (m *Monitor) IncError()             { atomic.AddUint64(&m.metrics.ErrorsTotal, 1) }

func (m *Monitor) RecordRequestLatency(d time.Duration) {
	atomic.AddUint64(&m.metrics.RequestLatencySum, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.metrics.RequestLatencyCount, 1)
}

// GetStats 获取当前统计 (管理接口用)
func (m *Monitor) GetStats() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.metrics.StartTime)
	reqTotal := atomic.LoadUint64(&m.metrics.RequestsTotal)

	avgLatency := float64(0)
	if count := atomic.LoadUint64(&m.metrics.RequestLatencyCount); count > 0 {
		avgLatency = float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(count) / 1e6 // ms
	}

	return map[string]interface{}{
		"uptime_seconds":     uptime.Seconds(),
		"requests_total":     reqTotal,
		"requests_success":   atomic.LoadUint64(&m.metrics.RequestsSuccess),
		"requests_failed":    atomic.LoadUint64(&m.metrics.RequestsFailed),
		"rate_limited":       atomic.LoadUint64(&m.metrics.RateLimited),
		"messages_processed": atomic.LoadUint64(&m.metrics.MessagesProcessed),
		"tool_calls_total":   atomic.LoadUint64(&m.metrics.ToolCallsTotal),
		"tool_calls_failed":  atomic.LoadUint64(&m.metrics.ToolCallsFailed),
		"sessions_created":   atomic.LoadUint64(&m.metrics.SessionsCreated),
		"bookings_completed": atomic.LoadUint64(&m.metrics.BookingsCompleted),
		"model_calls_total":  atomic.LoadUint64(&m.metrics.ModelCallsTotal),
		"model_calls_failed": atomic.LoadUint64(&m.metrics.ModelCallsFailed),
		"errors_total":       atomic.LoadUint64(&m.metrics.ErrorsTotal),
		"avg_latency_ms":     avgLatency,
		"memory_mb":          float64(memStats.Alloc) / 1024 / 1024,
		"goroutines":         runtime.NumGoroutine(),
		"rps":                float64(reqTotal) / uptime.Seconds(),
	}
}

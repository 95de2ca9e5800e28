// Package health implements the metrics registry and the periodic
// sink-health evaluation / recovery loop.
package health

import (
	"encoding/json"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// latencySampleWindow bounds the number of recent write latencies kept
// for percentile computation; large enough for a stable p99 without
// unbounded memory growth.
const latencySampleWindow = 4096

// Metrics is the shared, concurrently-written state described in
// the same texture as elsewhere in the engine: counters as atomics, per-sink health behind a
// short-held mutex. It implements dispatch.Recorder.
type Metrics struct {
	logsWritten        atomic.Int64
	logsDropped        atomic.Int64
	channelSendBlocked atomic.Int64
	sinkErrors         atomic.Int64
	activeWorkers      atomic.Int64

	latencyMu      sync.Mutex
	latencySamples []float64 // microseconds, ring buffer
	latencyNext    int

	healthMu sync.Mutex
	sinkHealth map[string]SinkHealth

	channelMu       sync.Mutex
	channelDepth    map[string]int
	channelCapacity int

	startedAt time.Time

	promWrites  *prometheus.CounterVec
	promErrors  *prometheus.CounterVec
	promDropped prometheus.Counter
	promBlocked prometheus.Counter
	promWorkers prometheus.Gauge
	promLatency prometheus.Histogram
}

// NewMetrics registers all metrics in the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers all metrics in reg, letting tests
// avoid conflicts with the default global registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		sinkHealth:   make(map[string]SinkHealth),
		channelDepth: make(map[string]int),
		startedAt:    time.Now(),

		promWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "logcourier_logs_written_total",
			Help: "Total number of records successfully written by a sink.",
		}, []string{"sink"}),
		promErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "logcourier_sink_errors_total",
			Help: "Total number of failed sink writes.",
		}, []string{"sink"}),
		promDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "logcourier_logs_dropped_total",
			Help: "Total number of records dropped instead of enqueued.",
		}),
		promBlocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "logcourier_channel_send_blocked_total",
			Help: "Total number of times a producer suspended on a full sink channel.",
		}),
		promWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "logcourier_active_workers",
			Help: "Number of currently running sink worker goroutines.",
		}),
		promLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "logcourier_write_latency_microseconds",
			Help:    "Per-record sink write latency in microseconds.",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 5000, 10000, 50000, 100000},
		}),
	}
}

// ObserveWrite records a successful sink write. Implements dispatch.Recorder.
func (m *Metrics) ObserveWrite(sinkName string, latency time.Duration) {
	m.logsWritten.Add(1)
	m.promWrites.WithLabelValues(sinkName).Inc()

	us := float64(latency.Microseconds())
	m.promLatency.Observe(us)
	m.recordLatencySample(us)
}

// ObserveDrop records a dropped record. Implements dispatch.Recorder.
func (m *Metrics) ObserveDrop() {
	m.logsDropped.Add(1)
	m.promDropped.Inc()
}

// ObserveBlocked records a producer suspension. Implements dispatch.Recorder.
func (m *Metrics) ObserveBlocked() {
	m.channelSendBlocked.Add(1)
	m.promBlocked.Inc()
}

// ObserveSinkError records a failed sink write. Implements dispatch.Recorder.
func (m *Metrics) ObserveSinkError(sinkName string) {
	m.sinkErrors.Add(1)
	m.promErrors.WithLabelValues(sinkName).Inc()
}

func (m *Metrics) recordLatencySample(us float64) {
	m.latencyMu.Lock()
	defer m.latencyMu.Unlock()
	if len(m.latencySamples) < latencySampleWindow {
		m.latencySamples = append(m.latencySamples, us)
		return
	}
	m.latencySamples[m.latencyNext] = us
	m.latencyNext = (m.latencyNext + 1) % latencySampleWindow
}

func (m *Metrics) percentiles() (p50, p95, p99 float64) {
	m.latencyMu.Lock()
	samples := make([]float64, len(m.latencySamples))
	copy(samples, m.latencySamples)
	m.latencyMu.Unlock()

	if len(samples) == 0 {
		return 0, 0, 0
	}
	sort.Float64s(samples)
	return percentileOf(samples, 0.50), percentileOf(samples, 0.95), percentileOf(samples, 0.99)
}

func percentileOf(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// SetSinkHealth records the current health of a named sink; called by
// the Controller after each evaluation cycle.
func (m *Metrics) SetSinkHealth(name string, h SinkHealth) {
	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	m.sinkHealth[name] = h
}

// SetActiveWorkers records the number of running sink worker goroutines.
func (m *Metrics) SetActiveWorkers(n int) {
	m.activeWorkers.Store(int64(n))
	m.promWorkers.Set(float64(n))
}

// SetChannelStats records a named worker channel's current depth
// against a shared capacity, for the /health snapshot.
func (m *Metrics) SetChannelStats(name string, depth, capacity int) {
	m.channelMu.Lock()
	defer m.channelMu.Unlock()
	m.channelDepth[name] = depth
	m.channelCapacity = capacity
}

// Snapshot is a point-in-time, lock-safe, O(sinks) view of Metrics,
// consumed by the out-of-scope /health and /metrics HTTP handlers.
type Snapshot struct {
	LogsWritten        int64
	LogsDropped        int64
	ChannelSendBlocked int64
	SinkErrors         int64
	ActiveWorkers      int64
	LatencyP50Us       float64
	LatencyP95Us       float64
	LatencyP99Us       float64
	SinkHealth         map[string]SinkHealth
	ChannelDepth       map[string]int
	ChannelCapacity    int
	UptimeSeconds      float64
}

// Snapshot produces the current point-in-time view.
func (m *Metrics) Snapshot() Snapshot {
	p50, p95, p99 := m.percentiles()

	m.healthMu.Lock()
	health := make(map[string]SinkHealth, len(m.sinkHealth))
	for k, v := range m.sinkHealth {
		health[k] = v
	}
	m.healthMu.Unlock()

	m.channelMu.Lock()
	depth := make(map[string]int, len(m.channelDepth))
	for k, v := range m.channelDepth {
		depth[k] = v
	}
	capacity := m.channelCapacity
	m.channelMu.Unlock()

	return Snapshot{
		LogsWritten:        m.logsWritten.Load(),
		LogsDropped:        m.logsDropped.Load(),
		ChannelSendBlocked: m.channelSendBlocked.Load(),
		SinkErrors:         m.sinkErrors.Load(),
		ActiveWorkers:      m.activeWorkers.Load(),
		LatencyP50Us:       p50,
		LatencyP95Us:       p95,
		LatencyP99Us:       p99,
		SinkHealth:         health,
		ChannelDepth:       depth,
		ChannelCapacity:    capacity,
		UptimeSeconds:      time.Since(m.startedAt).Seconds(),
	}
}

// writeSnapshotJSON encodes snap as JSON to w, for the /health handler.
func writeSnapshotJSON(w io.Writer, snap Snapshot) error {
	return json.NewEncoder(w).Encode(snap)
}

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/eenness/Mix2Go/internal/stream"
)

// StatsSource exposes the lock-free stream counters sampled at scrape time
type StatsSource interface {
	State() stream.State
	PacketsSent() uint64
	BytesSent() uint64
	SendErrors() uint64
	FIFOOverruns() uint64
	FIFOUnderruns() uint64
	FIFOLevel() int
	FIFOCapacity() int
	HasAudioSignal() bool
	PeakDBFS() float64
}

// Metrics contains all Prometheus metrics for the Mix2Go streamer. It is a
// stream.Listener: register it with the manager to count state transitions
// and sessions.
type Metrics struct {
	// Network metrics, accumulated across sessions
	PacketsSent prometheus.Counter
	BytesSent   prometheus.Counter

	// Session metrics
	StateTransitions *prometheus.CounterVec
	SessionsStarted  prometheus.Counter
	SessionsFailed   prometheus.Counter
	SessionDuration  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec

	src StatsSource

	mu             sync.Mutex
	lastPackets    uint64
	lastBytes      uint64
	sessionStarted time.Time
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer, src StatsSource) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		src: src,

		PacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "mix2go_packets_sent_total",
			Help: "Total number of audio packets sent",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "mix2go_bytes_sent_total",
			Help: "Total number of bytes sent",
		}),

		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mix2go_state_transitions_total",
			Help: "Total number of stream state transitions by target state",
		}, []string{"state"}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mix2go_sessions_started_total",
			Help: "Total number of streaming sessions started",
		}),
		SessionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mix2go_sessions_failed_total",
			Help: "Total number of streaming attempts that ended in error",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mix2go_session_duration_seconds",
			Help:    "Duration of streaming sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2.3 hours
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mix2go_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mix2go_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mix2go_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}

	if src != nil {
		m.registerGauges(factory)
	}

	return m
}

// registerGauges exposes values read from src on every scrape
func (m *Metrics) registerGauges(factory promauto.Factory) {
	gauge := func(name, help string, value func() float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, value)
	}

	gauge("mix2go_stream_state", "Current stream state (0 disconnected, 1 connecting, 2 streaming, 3 error)",
		func() float64 { return float64(m.src.State()) })
	gauge("mix2go_session_packets_sent", "Packets sent in the current or last session",
		func() float64 { return float64(m.src.PacketsSent()) })
	gauge("mix2go_session_bytes_sent", "Bytes sent in the current or last session",
		func() float64 { return float64(m.src.BytesSent()) })
	gauge("mix2go_session_send_errors", "Failed sends in the current or last session",
		func() float64 { return float64(m.src.SendErrors()) })
	gauge("mix2go_fifo_overruns", "Audio blocks dropped because the FIFO was full",
		func() float64 { return float64(m.src.FIFOOverruns()) })
	gauge("mix2go_fifo_underruns", "Packet cycles skipped because the FIFO was short",
		func() float64 { return float64(m.src.FIFOUnderruns()) })
	gauge("mix2go_fifo_level_samples", "Samples per channel waiting in the FIFO",
		func() float64 { return float64(m.src.FIFOLevel()) })
	gauge("mix2go_fifo_capacity_samples", "FIFO capacity in samples per channel",
		func() float64 { return float64(m.src.FIFOCapacity()) })
	gauge("mix2go_audio_signal_present", "1 when recent blocks were above the silence threshold",
		func() float64 {
			if m.src.HasAudioSignal() {
				return 1
			}
			return 0
		})
	gauge("mix2go_audio_peak_dbfs", "Peak level of the most recent audio block",
		m.src.PeakDBFS)
}

// OnStateChanged records a state transition
func (m *Metrics) OnStateChanged(state stream.State) {
	m.StateTransitions.WithLabelValues(state.String()).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	switch state {
	case stream.StateStreaming:
		m.SessionsStarted.Inc()
		m.sessionStarted = time.Now()
		m.lastPackets, m.lastBytes = 0, 0
	case stream.StateError:
		m.SessionsFailed.Inc()
	case stream.StateDisconnected:
		if !m.sessionStarted.IsZero() {
			m.SessionDuration.Observe(time.Since(m.sessionStarted).Seconds())
			m.sessionStarted = time.Time{}
			if m.src != nil {
				m.accumulate(m.src.PacketsSent(), m.src.BytesSent())
			}
		}
	}
}

// OnStatsUpdated folds the per-session counters into the process totals
func (m *Metrics) OnStatsUpdated(packetsSent, bytesSent uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accumulate(packetsSent, bytesSent)
}

// accumulate adds the growth since the last report. Callers hold mu.
func (m *Metrics) accumulate(packetsSent, bytesSent uint64) {
	if packetsSent > m.lastPackets {
		m.PacketsSent.Add(float64(packetsSent - m.lastPackets))
		m.lastPackets = packetsSent
	}
	if bytesSent > m.lastBytes {
		m.BytesSent.Add(float64(bytesSent - m.lastBytes))
		m.lastBytes = bytesSent
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

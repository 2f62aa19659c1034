package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the channel client's Prometheus instruments. A nil *Metrics is a no-op.
type Metrics struct {
	frames      prometheus.Counter
	rejected    *prometheus.CounterVec
	rateLimited prometheus.Counter
	attempts    prometheus.Counter
	reconnects  prometheus.Counter
	state       prometheus.Gauge
}

// NewMetrics builds the instruments and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tbm", Subsystem: "channel", Name: "frames_received_total",
			Help: "WebSocket frames received from the realtime channel.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tbm", Subsystem: "channel", Name: "payloads_rejected_total",
			Help: "Inbound payloads dropped, by reason.",
		}, []string{"reason"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tbm", Subsystem: "channel", Name: "cursor_rate_limited_total",
			Help: "Cursor updates dropped by the per-identity rate limiter.",
		}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tbm", Subsystem: "channel", Name: "connect_attempts_total",
			Help: "Negotiate+dial attempts.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tbm", Subsystem: "channel", Name: "reconnects_total",
			Help: "Established connections that were lost and retried.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tbm", Subsystem: "channel", Name: "state",
			Help: "Channel client state (0=disconnected 1=negotiating 2=connected 3=reconnecting).",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.frames, m.rejected, m.rateLimited, m.attempts, m.reconnects, m.state)
	}
	return m
}

func (m *Metrics) frame() {
	if m != nil {
		m.frames.Inc()
	}
}

func (m *Metrics) reject(reason string) {
	if m != nil {
		m.rejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) limited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) attempt() {
	if m != nil {
		m.attempts.Inc()
	}
}

func (m *Metrics) reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) setState(s State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}

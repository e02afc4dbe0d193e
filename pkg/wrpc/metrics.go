package wrpc

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects dispatcher and server metrics. A nil *Metrics is a no-op.
type Metrics struct {
	calls       *prometheus.CounterVec
	pending     prometheus.Gauge
	late        prometheus.Counter
	broadcasts  *prometheus.CounterVec
	invocations *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with r if r is not nil.
func NewMetrics(r prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wrpc_calls_total",
			Help: "Calls settled by the dispatcher, by outcome.",
		}, []string{"service", "method", "outcome"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wrpc_pending_calls",
			Help: "Calls awaiting a terminal reply.",
		}),
		late: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wrpc_late_replies_total",
			Help: "Replies received for calls that were no longer pending.",
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wrpc_broadcasts_total",
			Help: "Broadcasts sent, by direction.",
		}, []string{"direction"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wrpc_invocations_total",
			Help: "Service method invocations on workers, by outcome.",
		}, []string{"service", "method", "outcome"}),
	}
	if r != nil {
		r.MustRegister(m.calls, m.pending, m.late, m.broadcasts, m.invocations)
	}
	return m
}

func (m *Metrics) callStarted() {
	if m != nil {
		m.pending.Inc()
	}
}

func (m *Metrics) callSettled(service, method string, state State) {
	if m != nil {
		m.pending.Dec()
		m.calls.WithLabelValues(service, method, state.String()).Inc()
	}
}

func (m *Metrics) lateReply() {
	if m != nil {
		m.late.Inc()
	}
}

func (m *Metrics) broadcast(direction string) {
	if m != nil {
		m.broadcasts.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) invoked(service, method, outcome string) {
	if m != nil {
		m.invocations.WithLabelValues(service, method, outcome).Inc()
	}
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters and histograms for booking and adjudication. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	decisions        *prometheus.CounterVec
	errors           *prometheus.CounterVec
	intakeRejections prometheus.Counter
	notifyFailures   prometheus.Counter
	duration         prometheus.Histogram
	outboxPublished  prometheus.Counter
	outboxBacklog    prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "adjudication",
			Name:      "decisions_total",
			Help:      "Adjudication outcomes by resulting status",
		}, []string{"status"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "adjudication",
			Name:      "errors_total",
			Help:      "Adjudication failures by stage",
		}, []string{"stage"}),
		intakeRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "intake",
			Name:      "rejections_total",
			Help:      "Bookings turned away by the advisory conflict check",
		}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "adjudication",
			Name:      "notification_failures_total",
			Help:      "Patient notifications that could not be handed off",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "frontdesk",
			Subsystem: "adjudication",
			Name:      "duration_seconds",
			Help:      "Time spent deciding one appointment, lock wait included",
			Buckets:   prometheus.DefBuckets,
		}),
		outboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events relayed to Kafka",
		}),
		outboxBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "frontdesk",
			Subsystem: "outbox",
			Name:      "backlog",
			Help:      "Outbox events not yet relayed",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.decisions, m.errors, m.intakeRejections, m.notifyFailures, m.duration, m.outboxPublished, m.outboxBacklog)
	return m
}

func (m *Metrics) ObserveDecision(status string, seconds float64) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(status).Inc()
	m.duration.Observe(seconds)
}

func (m *Metrics) ObserveError(stage string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveIntakeRejection() {
	if m == nil {
		return
	}
	m.intakeRejections.Inc()
}

func (m *Metrics) ObserveNotificationFailure() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

func (m *Metrics) ObserveOutboxPublished(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.outboxPublished.Add(float64(n))
}

func (m *Metrics) SetOutboxBacklog(n int64) {
	if m == nil {
		return
	}
	m.outboxBacklog.Set(float64(n))
}

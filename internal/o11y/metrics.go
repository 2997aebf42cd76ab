package o11y

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the coordinator's domain counters. A nil *Metrics records nothing.
type Metrics struct {
	requestsCreated     prometheus.Counter
	accepts             *prometheus.CounterVec
	rejections          prometheus.Counter
	closures            *prometheus.CounterVec
	completions         *prometheus.CounterVec
	manualVerifications prometheus.Counter
	pointsCredited      prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aeras", Name: "requests_created_total", Help: "Ride requests created",
		}),
		accepts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aeras", Name: "accepts_total", Help: "Accept attempts by outcome",
		}, []string{"outcome"}),
		rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aeras", Name: "operator_rejections_total", Help: "Operator rejections recorded",
		}),
		closures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aeras", Name: "request_closures_total", Help: "Requests closed as rejected by reason",
		}, []string{"reason"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aeras", Name: "ride_completions_total", Help: "Completed rides by reward status",
		}, []string{"status"}),
		manualVerifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aeras", Name: "manual_verifications_total", Help: "Drop-offs sent to manual verification",
		}),
		pointsCredited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aeras", Name: "points_credited_total", Help: "Reward points credited to operators",
		}),
	}
	reg.MustRegister(m.requestsCreated, m.accepts, m.rejections, m.closures,
		m.completions, m.manualVerifications, m.pointsCredited)
	return m
}

func (m *Metrics) RequestCreated() {
	if m != nil {
		m.requestsCreated.Inc()
	}
}

func (m *Metrics) Accept(outcome string) {
	if m != nil {
		m.accepts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Rejection() {
	if m != nil {
		m.rejections.Inc()
	}
}

func (m *Metrics) Closure(reason string) {
	if m != nil {
		m.closures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Completion(status string, credited int) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(status).Inc()
	if credited > 0 {
		m.pointsCredited.Add(float64(credited))
	}
}

func (m *Metrics) ManualVerification() {
	if m != nil {
		m.manualVerifications.Inc()
	}
}

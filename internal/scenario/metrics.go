package scenario

import (
	"github.com/prometheus/client_golang/prometheus"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Outcomes recorded in the probes_total counter
const (
	OutcomePass = "pass"
	OutcomeFail = "fail"
)

// Metrics holds the probe instruments of one run
type Metrics struct {
	ProbesTotal   *prometheus.CounterVec
	ProbeDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the probe instruments
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formprobe_probes_total",
			Help: "Total number of probes run.",
		}, []string{"flow", "family", "outcome"}),
		ProbeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formprobe_probe_duration_seconds",
			Help:    "Probe duration in seconds, submission and adjudication included.",
			Buckets: durationBuckets,
		}, []string{"flow", "family"}),
	}
	reg.MustRegister(m.ProbesTotal, m.ProbeDuration)
	return m
}

func (m *Metrics) observe(flow, family, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ProbesTotal.WithLabelValues(flow, family, outcome).Inc()
	m.ProbeDuration.WithLabelValues(flow, family).Observe(seconds)
}

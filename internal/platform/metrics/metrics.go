// Package metrics wires the engine's ledger, semaphore, and stream-router
// counters into a Prometheus registry. Disabled by default; Enabled()
// gates construction so a process that never sets METRICS_ENABLED pays no
// registration cost.
package metrics

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge/histogram the engine emits into.
type Metrics struct {
	ledgerIncrements  *prometheus.CounterVec
	faultTotal        *prometheus.CounterVec
	staleReplayTotal  *prometheus.CounterVec
	stepLatency       *prometheus.HistogramVec
	semaphoreApply    *prometheus.CounterVec
	jobsClosed        prometheus.Counter
	deadLetterTotal   *prometheus.CounterVec
	streamClaimed     *prometheus.CounterVec
	inflightActivites prometheus.Gauge
}

func Enabled() bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv("METRICS_ENABLED")))
	return v == "1" || v == "true" || v == "yes"
}

// New registers every metric against registry. Pass prometheus.DefaultRegisterer
// for the global registry, or a fresh prometheus.NewRegistry() for isolation
// in tests.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		ledgerIncrements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshrun",
			Name:      "ledger_increments_total",
			Help:      "Collator operations applied to an activity or GUID ledger, by op and leg.",
		}, []string{"op", "leg"}),
		faultTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshrun",
			Name:      "ledger_fault_total",
			Help:      "Fatal faults raised by ledger verification, by fault code.",
		}, []string{"code"}),
		staleReplayTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshrun",
			Name:      "stale_replay_total",
			Help:      "Duplicate/inactive Leg entries acked and dropped as stale replays, by leg.",
		}, []string{"leg"}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "meshrun",
			Name:      "activity_step_duration_seconds",
			Help:      "Duration of a Leg 1 or Leg 2 step handler, by activity kind and step.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"kind", "step"}),
		semaphoreApply: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshrun",
			Name:      "semaphore_apply_total",
			Help:      "Compound semaphore applications, by whether the threshold was crossed.",
		}, []string{"threshold_hit"}),
		jobsClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meshrun",
			Name:      "jobs_closed_total",
			Help:      "Jobs whose GUID ledger snapshot bit transitioned to closed.",
		}),
		deadLetterTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshrun",
			Name:      "stream_dead_letter_total",
			Help:      "Messages moved to the dead-letter stream, by topic.",
		}, []string{"topic"}),
		streamClaimed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshrun",
			Name:      "stream_reclaimed_total",
			Help:      "Pending entries reclaimed from an idle consumer, by topic.",
		}, []string{"topic"}),
		inflightActivites: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshrun",
			Name:      "activities_inflight",
			Help:      "Activity invocations currently inside a Leg 1 or Leg 2 handler.",
		}),
	}
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) IncLedger(op, leg string) {
	if m == nil {
		return
	}
	m.ledgerIncrements.WithLabelValues(op, leg).Inc()
}

func (m *Metrics) IncFault(code string) {
	if m == nil {
		return
	}
	m.faultTotal.WithLabelValues(code).Inc()
}

func (m *Metrics) IncStaleReplay(leg string) {
	if m == nil {
		return
	}
	m.staleReplayTotal.WithLabelValues(leg).Inc()
}

func (m *Metrics) ObserveStep(kind, step string, dur time.Duration) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(kind, step).Observe(dur.Seconds())
}

func (m *Metrics) ObserveSemaphoreApply(thresholdHit bool) {
	if m == nil {
		return
	}
	v := "false"
	if thresholdHit {
		v = "true"
		m.jobsClosed.Inc()
	}
	m.semaphoreApply.WithLabelValues(v).Inc()
}

func (m *Metrics) IncDeadLetter(topic string) {
	if m == nil {
		return
	}
	m.deadLetterTotal.WithLabelValues(topic).Inc()
}

func (m *Metrics) IncReclaimed(topic string) {
	if m == nil {
		return
	}
	m.streamClaimed.WithLabelValues(topic).Inc()
}

func (m *Metrics) InflightInc() {
	if m == nil {
		return
	}
	m.inflightActivites.Inc()
}

func (m *Metrics) InflightDec() {
	if m == nil {
		return
	}
	m.inflightActivites.Dec()
}

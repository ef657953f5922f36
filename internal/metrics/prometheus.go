package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all mudgate metrics.
type Registry struct {
	// Pipeline metrics
	RunsTotal    *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
	LastSuccess  *prometheus.GaugeVec
	VerdictTotal *prometheus.CounterVec

	// Rule metrics
	GeneratedRules *prometheus.GaugeVec
	SkippedEntries *prometheus.GaugeVec
	LoadedRules    *prometheus.GaugeVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = New(prometheus.DefaultRegisterer)
	})
	return registry
}

// New registers a fresh set of metrics with reg. Tests pass their own
// prometheus.NewRegistry() so registrations do not collide.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	r := &Registry{}

	r.RunsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mudgate_runs_total",
		Help: "Pipeline runs by device and result",
	}, []string{"device", "result"})

	r.RunDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mudgate_run_duration_seconds",
		Help:    "Pipeline run duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"device"})

	r.LastSuccess = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mudgate_last_success_timestamp",
		Help: "Unix timestamp of the last successful run",
	}, []string{"device"})

	r.VerdictTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mudgate_signature_verdicts_total",
		Help: "Signature verification verdicts by device, verdict and reason",
	}, []string{"device", "verdict", "reason"})

	r.GeneratedRules = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mudgate_generated_rules",
		Help: "Rules in the last generated script by direction",
	}, []string{"device", "direction"})

	r.SkippedEntries = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mudgate_skipped_entries",
		Help: "Access control entries the last generation could not express",
	}, []string{"device"})

	r.LoadedRules = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mudgate_loaded_rules",
		Help: "Rules currently loaded in the kernel per chain",
	}, []string{"device", "chain"})

	return r
}

// ResultOK labels a run that finished without error. Failed runs are
// labelled with their error kind.
const ResultOK = "ok"

// RecordRun records a finished pipeline run.
func (r *Registry) RecordRun(device, result string, duration time.Duration, finished time.Time) {
	r.RunsTotal.WithLabelValues(device, result).Inc()
	r.RunDuration.WithLabelValues(device).Observe(duration.Seconds())
	if result == ResultOK {
		r.LastSuccess.WithLabelValues(device).Set(float64(finished.Unix()))
	}
}

// RecordVerdict records a signature verification outcome.
func (r *Registry) RecordVerdict(device, verdict, reason string) {
	r.VerdictTotal.WithLabelValues(device, verdict, reason).Inc()
}

// RecordRules records the shape of a generated script.
func (r *Registry) RecordRules(device string, outbound, inbound, skipped int) {
	r.GeneratedRules.WithLabelValues(device, "from-device").Set(float64(outbound))
	r.GeneratedRules.WithLabelValues(device, "to-device").Set(float64(inbound))
	r.SkippedEntries.WithLabelValues(device).Set(float64(skipped))
}

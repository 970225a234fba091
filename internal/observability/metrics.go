package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/3leaps/trackside/pkg/finalizer"
)

// MetricsLogSubscriptionKey tags job-completion log lines so a log
// subscription can pick them out of the stream.
const MetricsLogSubscriptionKey = "TracksideJob"

// JobMetrics records job-completion events as Prometheus counters and a
// structured log line.
type JobMetrics struct {
	outcomes *prometheus.CounterVec
	minutes  *prometheus.CounterVec
	logger   *zap.Logger
}

var _ finalizer.Recorder = (*JobMetrics)(nil)

// NewJobMetrics registers the job counters with registerer (the default
// registry when nil). Registering twice reuses the existing collectors.
func NewJobMetrics(registerer prometheus.Registerer, logger *zap.Logger) *JobMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trackside_job_outcomes_total",
		Help: "Finalized jobs by kind and terminal status.",
	}, []string{"job_kind", "job_status"})
	minutes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trackside_compute_minutes_charged_total",
		Help: "Compute minutes charged to profiles by job kind.",
	}, []string{"job_kind"})

	return &JobMetrics{
		outcomes: registerCounterVec(registerer, outcomes),
		minutes:  registerCounterVec(registerer, minutes),
		logger:   logger,
	}
}

// JobCompleted implements finalizer.Recorder.
func (m *JobMetrics) JobCompleted(c finalizer.Completion) {
	if m == nil {
		return
	}
	kind := string(c.Kind)
	m.outcomes.WithLabelValues(kind, string(c.Status)).Inc()
	if c.ChargedMinutes > 0 {
		m.minutes.WithLabelValues(kind).Add(float64(c.ChargedMinutes))
	}

	fields := []zap.Field{
		zap.String("metricsLogSubscriptionKey", MetricsLogSubscriptionKey),
		zap.String("job_kind", kind),
		zap.String("job_status", string(c.Status)),
		zap.String("model_id", c.ModelID),
		zap.Int64("charged_minutes", c.ChargedMinutes),
	}
	if c.LeaderboardID != "" {
		fields = append(fields, zap.String("leaderboard_id", c.LeaderboardID))
	}
	m.logger.Info("job completed", fields...)
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func registerCounterVec(registerer prometheus.Registerer, counter *prometheus.CounterVec) *prometheus.CounterVec {
	if err := registerer.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return counter
}

package monitoring

import (
	"viewmux/internal/core/domain"
	"viewmux/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports session lifecycle measurements.
type PrometheusCollector struct {
	sessionsAdmittedTotal *prometheus.CounterVec
	sessionsRejectedTotal *prometheus.CounterVec
	sessionsRemovedTotal  *prometheus.CounterVec

	sessionsActive *prometheus.GaugeVec
	initQueueDepth *prometheus.GaugeVec

	initDuration *prometheus.HistogramVec

	retriesScheduledTotal *prometheus.CounterVec
	retriesExhaustedTotal *prometheus.CounterVec
	stageTimeoutsTotal    prometheus.Counter
}

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		sessionsAdmittedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "viewmux_sessions_admitted_total",
			Help: "Total number of sessions admitted",
		}, []string{"viewer_id"}),

		sessionsRejectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "viewmux_sessions_rejected_total",
			Help: "Total number of admission rejections",
		}, []string{"reason"}),

		sessionsRemovedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "viewmux_sessions_removed_total",
			Help: "Total number of sessions removed",
		}, []string{"viewer_id"}),

		sessionsActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "viewmux_sessions_active",
			Help: "Currently admitted sessions per viewer",
		}, []string{"viewer_id"}),

		initQueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "viewmux_init_queue_depth",
			Help: "Initialization tasks waiting per viewer",
		}, []string{"viewer_id"}),

		initDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "viewmux_session_init_duration_seconds",
			Help:    "Duration of session initialization",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"result"}),

		retriesScheduledTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "viewmux_retries_scheduled_total",
			Help: "Automatic retries scheduled by error type",
		}, []string{"error_type"}),

		retriesExhaustedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "viewmux_retries_exhausted_total",
			Help: "Sessions that exhausted their automatic retry budget",
		}, []string{"error_type"}),

		stageTimeoutsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "viewmux_stage_timeouts_total",
			Help: "Loading stages that exceeded their budget",
		}),
	}
}

func (p *PrometheusCollector) SessionAdmitted(viewerID domain.ViewerID) {
	p.sessionsAdmittedTotal.WithLabelValues(string(viewerID)).Inc()
}

func (p *PrometheusCollector) SessionRejected(reason string) {
	p.sessionsRejectedTotal.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) SessionRemoved(viewerID domain.ViewerID) {
	p.sessionsRemovedTotal.WithLabelValues(string(viewerID)).Inc()
}

func (p *PrometheusCollector) SetActiveSessions(viewerID domain.ViewerID, n int) {
	p.sessionsActive.WithLabelValues(string(viewerID)).Set(float64(n))
}

func (p *PrometheusCollector) SetQueueDepth(viewerID domain.ViewerID, n int) {
	p.initQueueDepth.WithLabelValues(string(viewerID)).Set(float64(n))
}

func (p *PrometheusCollector) InitFinished(seconds float64, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	p.initDuration.WithLabelValues(result).Observe(seconds)
}

func (p *PrometheusCollector) RetryScheduled(errType domain.ErrorType) {
	p.retriesScheduledTotal.WithLabelValues(string(errType)).Inc()
}

func (p *PrometheusCollector) RetriesExhausted(errType domain.ErrorType) {
	p.retriesExhaustedTotal.WithLabelValues(string(errType)).Inc()
}

func (p *PrometheusCollector) StageTimeout() {
	p.stageTimeoutsTotal.Inc()
}

// Package metrics exposes Prometheus collectors for negotiation runs.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds the negotiation metrics.
type Collector struct {
	roundsTotal       *prometheus.CounterVec
	evaluationsTotal  *prometheus.CounterVec
	terminationsTotal *prometheus.CounterVec
	judgeErrorsTotal  *prometheus.CounterVec
	activeSessions    prometheus.Gauge

	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers the collectors on reg. A nil reg uses the default
// Prometheus registerer.
func NewCollector(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.roundsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Completed negotiation rounds",
		},
		[]string{"scenario", "mode"},
	)

	c.evaluationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Judge evaluations by scope and normalized status",
		},
		[]string{"scope", "status"},
	)

	c.terminationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminations_total",
			Help:      "Terminated runs by reason",
		},
		[]string{"reason"},
	)

	c.judgeErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_parse_errors_total",
			Help:      "Judge outputs that were not a JSON object",
		},
		[]string{"scope"},
	)

	c.activeSessions = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently held in memory",
		},
	)

	c.llmRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.llmRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	return c
}

// RecordRound counts one completed round.
func (c *Collector) RecordRound(scenario, mode string) {
	c.roundsTotal.WithLabelValues(scenario, mode).Inc()
}

// RecordEvaluation counts a judge evaluation. Parse failures are also counted
// separately.
func (c *Collector) RecordEvaluation(scope, status string, parseError bool) {
	if status == "" {
		status = "unknown"
	}
	c.evaluationsTotal.WithLabelValues(scope, status).Inc()
	if parseError {
		c.judgeErrorsTotal.WithLabelValues(scope).Inc()
		c.logger.Debug("judge output not json", zap.String("scope", scope))
	}
}

// RecordTermination counts a run reaching a terminal state.
func (c *Collector) RecordTermination(reason string) {
	c.terminationsTotal.WithLabelValues(reason).Inc()
}

// SetActiveSessions sets the number of live sessions.
func (c *Collector) SetActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}

// ObserveLLM records one model call. It matches provider.LatencyObserver.
func (c *Collector) ObserveLLM(providerID, model string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.llmRequestsTotal.WithLabelValues(providerID, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(providerID, model).Observe(d.Seconds())
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Package metrics exports compression and continuation outcomes to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentpress/internal/compaction"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "agentpress"

// Collector records compression passes, model invocations and runs. A nil
// *Collector discards everything.
type Collector struct {
	compressionsTotal   *prometheus.CounterVec
	compressionAttempts *prometheus.HistogramVec
	tokensBefore        *prometheus.HistogramVec
	tokensAfter         *prometheus.HistogramVec

	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec

	runsTotal     *prometheus.CounterVec
	continuations prometheus.Histogram

	gatherer prometheus.Gatherer
}

// NewCollector registers the metrics on reg. A nil reg uses a fresh private
// registry.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	var gatherer prometheus.Gatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	f := promauto.With(reg)
	tokenBuckets := prometheus.ExponentialBuckets(1000, 2, 10)

	return &Collector{
		compressionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compressions_total",
				Help:      "Total number of compress calls by model and whether the result fit the budget",
			},
			[]string{"model", "converged"},
		),
		compressionAttempts: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "compression_attempts",
				Help:      "Truncation passes per compress call",
				Buckets:   []float64{0, 1, 2, 3, 4, 5, 8, 12},
			},
			[]string{"model"},
		),
		tokensBefore: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "compression_tokens_before",
				Help:      "Prompt tokens before compression",
				Buckets:   tokenBuckets,
			},
			[]string{"model"},
		),
		tokensAfter: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "compression_tokens_after",
				Help:      "Prompt tokens after compression",
				Buckets:   tokenBuckets,
			},
			[]string{"model"},
		),
		invocationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of model invocations by finish reason",
			},
			[]string{"model", "finish_reason"},
		),
		invocationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_seconds",
				Help:      "Model invocation duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"model"},
		),
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of runs by outcome",
			},
			[]string{"outcome"},
		),
		continuations: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_continuations",
				Help:      "Automatic continuations per run",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50},
			},
		),
		gatherer: gatherer,
	}
}

// ObserveCompression records one compress call.
func (c *Collector) ObserveCompression(model string, res compaction.Result) {
	if c == nil {
		return
	}
	converged := "false"
	if res.Converged {
		converged = "true"
	}
	c.compressionsTotal.WithLabelValues(model, converged).Inc()
	c.compressionAttempts.WithLabelValues(model).Observe(float64(res.Attempts))
	c.tokensBefore.WithLabelValues(model).Observe(float64(res.TokensBefore))
	c.tokensAfter.WithLabelValues(model).Observe(float64(res.TokensAfter))
}

// ObserveInvocation records one model invocation.
func (c *Collector) ObserveInvocation(model, finishReason string, elapsed time.Duration) {
	if c == nil {
		return
	}
	if finishReason == "" {
		finishReason = "none"
	}
	c.invocationsTotal.WithLabelValues(model, finishReason).Inc()
	c.invocationDuration.WithLabelValues(model).Observe(elapsed.Seconds())
}

// ObserveRun records the end of a run.
func (c *Collector) ObserveRun(outcome string, continuations int) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(outcome).Inc()
	c.continuations.Observe(float64(continuations))
}

// Handler serves the registry the collector was registered on. It falls
// back to the default gatherer when that registry cannot be gathered.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Package metrics holds the Prometheus collectors of the analysis pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/OFFIS-RIT/insight/backend/pkg/common"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insight_analysis_runs_total",
		Help: "Session analysis runs by final status and failure category",
	}, []string{"status", "category"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "insight_analysis_run_duration_seconds",
		Help:    "Duration of session analysis runs",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"status"})

	externalCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insight_external_calls_total",
		Help: "Calls to the analysis model by outcome",
	}, []string{"outcome"})

	droppedElements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "insight_parser_dropped_elements_total",
		Help: "Elements dropped during validation",
	})

	graphWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insight_graph_merges_total",
		Help: "Merged nodes and edges by type and result",
	}, []string{"type", "result"})
)

// ObserveRun records the end of one pipeline run.
func ObserveRun(status common.SessionStatus, category common.ErrorCategory, d time.Duration) {
	runsTotal.WithLabelValues(string(status), string(category)).Inc()
	runDuration.WithLabelValues(string(status)).Observe(d.Seconds())
}

// ObserveExternalCall records one model call. A nil error counts as "ok";
// otherwise the failure category of err is used.
func ObserveExternalCall(err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case common.IsTransient(err):
		outcome = "transient"
	default:
		outcome = string(common.CategoryOf(err))
	}
	externalCalls.WithLabelValues(outcome).Inc()
}

func ObserveDropped(n int) {
	if n > 0 {
		droppedElements.Add(float64(n))
	}
}

func ObserveWrite(c common.WriteCounts) {
	graphWrites.WithLabelValues("element", "created").Add(float64(c.ElementsCreated))
	graphWrites.WithLabelValues("element", "matched").Add(float64(c.ElementsMatched))
	graphWrites.WithLabelValues("topic", "created").Add(float64(c.TopicsCreated))
	graphWrites.WithLabelValues("topic", "matched").Add(float64(c.TopicsMatched))
	graphWrites.WithLabelValues("edge", "created").Add(float64(c.EdgesCreated))
	graphWrites.WithLabelValues("edge", "matched").Add(float64(c.EdgesMatched))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

// Recorder counts what the pipeline does. It registers on its own
// registry so embedding applications can expose it however they like.
type Recorder struct {
	registry *prometheus.Registry

	rowsLoaded      *prometheus.CounterVec
	rowsSkipped     *prometheus.CounterVec
	rowsFailed      *prometheus.CounterVec
	linksUnresolved prometheus.Counter
	runs            *prometheus.CounterVec
}

func New() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		rowsLoaded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booksight",
			Name:      "rows_loaded_total",
			Help:      "Raw rows read per source and record kind.",
		}, []string{"source", "kind"}),
		rowsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booksight",
			Name:      "rows_skipped_total",
			Help:      "Structurally malformed rows skipped during load.",
		}, []string{"source", "kind"}),
		rowsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booksight",
			Name:      "rows_failed_total",
			Help:      "Rows dropped by normalization.",
		}, []string{"source", "kind"}),
		linksUnresolved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "booksight",
			Name:      "links_unresolved_total",
			Help:      "Transactions excluded because a reference did not resolve.",
		}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booksight",
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) RowLoaded(source, kind string) {
	r.rowsLoaded.WithLabelValues(source, kind).Inc()
}

func (r *Recorder) RowsSkipped(source, kind string, n int) {
	if n > 0 {
		r.rowsSkipped.WithLabelValues(source, kind).Add(float64(n))
	}
}

func (r *Recorder) RowFailed(source, kind string) {
	r.rowsFailed.WithLabelValues(source, kind).Inc()
}

func (r *Recorder) LinksUnresolved(n int) {
	if n > 0 {
		r.linksUnresolved.Add(float64(n))
	}
}

func (r *Recorder) RunOutcome(outcome string) {
	r.runs.WithLabelValues(outcome).Inc()
}

var Module = fx.Module("observability.metrics",
	fx.Provide(New),
)

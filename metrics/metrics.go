// Package metrics exports Prometheus metrics for table fetches and resource writes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/damianoneill/nettables/common"
)

// Collector holds the Prometheus metrics fed by trace hooks.
type Collector struct {
	FetchTotal    *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	SubmitTotal   *prometheus.CounterVec
	SubmitSkipped prometheus.Counter
	Errors        *prometheus.CounterVec
}

// New creates a collector registered with the default registerer.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered with reg.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		FetchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nettables",
				Name:      "fetch_total",
				Help:      "Total number of fetch requests issued",
			},
			[]string{"kind", "status"},
		),
		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "nettables",
				Name:      "fetch_duration_seconds",
				Help:      "Fetch duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		SubmitTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nettables",
				Name:      "submit_total",
				Help:      "Total number of change documents submitted",
			},
			[]string{"mode", "status"},
		),
		SubmitSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "nettables",
				Name:      "submit_skipped_total",
				Help:      "Total number of writes abandoned because they made no change",
			},
		),
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nettables",
				Name:      "errors_total",
				Help:      "Total number of errors reported by trace hooks",
			},
			[]string{"context"},
		),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Hooks returns trace hooks recording into the collector. Install them with common.WithTrace.
func (c *Collector) Hooks() *common.Trace {
	return &common.Trace{
		FetchDone: func(req *common.FetchRequest, err error, d time.Duration) {
			kind := req.Kind.String()
			c.FetchTotal.WithLabelValues(kind, status(err)).Inc()
			c.FetchDuration.WithLabelValues(kind).Observe(d.Seconds())
		},
		SubmitDone: func(doc *common.ChangeDocument, mode common.Mode, res *common.Result, err error, d time.Duration) {
			st := status(err)
			if err == nil && res != nil && len(res.Warnings) > 0 {
				st = "warning"
			}
			c.SubmitTotal.WithLabelValues(string(mode), st).Inc()
		},
		SubmitSkipped: func(string) {
			c.SubmitSkipped.Inc()
		},
		Error: func(context, target string, err error) {
			c.Errors.WithLabelValues(context).Inc()
		},
	}
}

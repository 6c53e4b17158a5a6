// Package metrics exports worker pool activity as Prometheus metrics.
//
// Counters and histograms are fed from the event bus; pool gauges are read
// from a stats function at scrape time.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smazurov/tablemd/internal/events"
	"github.com/smazurov/tablemd/internal/process"
)

const namespace = "tablemd"

// Collector owns the tablemd metrics registered on one registry.
type Collector struct {
	reg prometheus.Registerer

	conversions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	flagged     prometheus.Counter
	restarts    *prometheus.CounterVec
	discarded   prometheus.Counter
	started     prometheus.Counter

	unsubs []func()
}

// New registers the conversion and worker metrics on reg and subscribes
// them to bus.
func New(reg prometheus.Registerer, bus *events.Bus) *Collector {
	factory := promauto.With(reg)
	c := &Collector{
		reg: reg,
		conversions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversions",
			Name:      "total",
			Help:      "Conversion calls by outcome",
		}, []string{"outcome"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "conversions",
			Name:      "duration_seconds",
			Help:      "Wall time of conversion calls",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),

		flagged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversions",
			Name:      "flagged_total",
			Help:      "Responses that carried the worker error marker",
		}),

		restarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workers",
			Name:      "restarts_total",
			Help:      "Worker restart attempts by reason and result",
		}, []string{"reason", "result"}),

		discarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workers",
			Name:      "discarded_total",
			Help:      "Workers dropped after a failed restart",
		}),

		started: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workers",
			Name:      "started_total",
			Help:      "Workers started at pool startup",
		}),
	}

	c.unsubs = append(c.unsubs,
		bus.Subscribe(c.onConversion),
		bus.Subscribe(c.onRestart),
		bus.Subscribe(func(events.WorkerDiscardedEvent) { c.discarded.Inc() }),
		bus.Subscribe(func(events.WorkerStartedEvent) { c.started.Inc() }),
	)
	return c
}

func (c *Collector) onConversion(e events.ConversionCompletedEvent) {
	c.conversions.WithLabelValues(e.Outcome).Inc()
	c.duration.WithLabelValues(e.Outcome).Observe(e.Duration.Seconds())
	if e.Flagged {
		c.flagged.Inc()
	}
}

func (c *Collector) onRestart(e events.WorkerRestartedEvent) {
	result := "ok"
	if e.Error != "" {
		result = "failed"
	}
	c.restarts.WithLabelValues(e.Reason, result).Inc()
}

// RegisterPool adds gauges that read stats on every scrape.
func (c *Collector) RegisterPool(stats func() process.Stats) {
	factory := promauto.With(c.reg)
	gauge := func(name, help string, value func(process.Stats) int) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(stats())) })
	}

	gauge("workers", "Workers started at pool startup", func(s process.Stats) int { return s.Size })
	gauge("alive_workers", "Workers with a live process", func(s process.Stats) int { return s.Alive })
	gauge("idle_workers", "Workers waiting for a request", func(s process.Stats) int { return s.Idle })
	gauge("active_requests", "Calls currently holding a worker", func(s process.Stats) int { return s.Active })
	gauge("shutting_down", "1 once pool shutdown has begun", func(s process.Stats) int {
		if s.ShuttingDown {
			return 1
		}
		return 0
	})
}

// Close unsubscribes from the event bus.
func (c *Collector) Close() {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
}

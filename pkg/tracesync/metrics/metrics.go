// Package metrics exposes a run's progress as Prometheus metrics, following
// this module's ancestry's TCPInfoCollector shape: a table of {description,
// supplier} pairs driven off a small set of atomically-updated counters,
// rather than a struct field per metric with hand-written Describe/Collect
// bodies.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

type sample struct {
	description *prometheus.Desc
	supplier    func(c *RunCollector) prometheus.Metric
}

// RunCollector is a prometheus.Collector tracking one synchronization run:
// events processed, violating receives found, slack injected by backward
// amortization, and bytes written to the rewritten trace.
type RunCollector struct {
	runID string

	eventsProcessed   uint64
	violatingReceives uint64
	slackInjectedNs   int64
	bytesWritten      uint64
	runDurationMs     uint64

	samples []sample
}

// NewRunCollector builds a collector labelled with runID, so a parallel
// run's per-rank metrics scrape can be told apart from another run's.
func NewRunCollector(runID string) *RunCollector {
	constLabels := prometheus.Labels{"run_id": runID}
	c := &RunCollector{runID: runID}
	c.samples = []sample{
		{
			description: prometheus.NewDesc("tracesync_events_processed_total", "Events rewritten so far.", nil, constLabels),
			supplier: func(c *RunCollector) prometheus.Metric {
				return prometheus.MustNewConstMetric(c.samples[0].description, prometheus.CounterValue, float64(atomic.LoadUint64(&c.eventsProcessed)))
			},
		},
		{
			description: prometheus.NewDesc("tracesync_violating_receives_total", "Receives whose raw timestamp had to be pushed forward.", nil, constLabels),
			supplier: func(c *RunCollector) prometheus.Metric {
				return prometheus.MustNewConstMetric(c.samples[1].description, prometheus.CounterValue, float64(atomic.LoadUint64(&c.violatingReceives)))
			},
		},
		{
			description: prometheus.NewDesc("tracesync_backward_slack_injected_ns_total", "Nanoseconds of slack backward amortization has redistributed.", nil, constLabels),
			supplier: func(c *RunCollector) prometheus.Metric {
				return prometheus.MustNewConstMetric(c.samples[2].description, prometheus.CounterValue, float64(atomic.LoadInt64(&c.slackInjectedNs)))
			},
		},
		{
			description: prometheus.NewDesc("tracesync_bytes_written_total", "Bytes written to rewritten trace output.", nil, constLabels),
			supplier: func(c *RunCollector) prometheus.Metric {
				return prometheus.MustNewConstMetric(c.samples[3].description, prometheus.CounterValue, float64(atomic.LoadUint64(&c.bytesWritten)))
			},
		},
		{
			description: prometheus.NewDesc("tracesync_run_duration_seconds", "Wall-clock duration of the run.", nil, constLabels),
			supplier: func(c *RunCollector) prometheus.Metric {
				return prometheus.MustNewConstMetric(c.samples[4].description, prometheus.GaugeValue, float64(atomic.LoadUint64(&c.runDurationMs))/1000)
			},
		},
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *RunCollector) Describe(descs chan<- *prometheus.Desc) {
	for _, s := range c.samples {
		descs <- s.description
	}
}

// Collect implements prometheus.Collector.
func (c *RunCollector) Collect(out chan<- prometheus.Metric) {
	for _, s := range c.samples {
		out <- s.supplier(c)
	}
}

// AddEventsProcessed increments the processed-event counter by n.
func (c *RunCollector) AddEventsProcessed(n uint64) { atomic.AddUint64(&c.eventsProcessed, n) }

// AddViolatingReceive increments the violating-receive counter by one.
func (c *RunCollector) AddViolatingReceive() { atomic.AddUint64(&c.violatingReceives, 1) }

// AddSlackInjected adds ns to the slack-injected counter. The CLI drivers
// pass the slack total from Synchronizer.Stats: the sum of every violating
// receive's forward push, which is never negative.
func (c *RunCollector) AddSlackInjected(ns int64) { atomic.AddInt64(&c.slackInjectedNs, ns) }

// AddBytesWritten increments the bytes-written counter by n.
func (c *RunCollector) AddBytesWritten(n uint64) { atomic.AddUint64(&c.bytesWritten, n) }

// SetRunDuration records the run's total wall-clock duration.
func (c *RunCollector) SetRunDuration(ms uint64) { atomic.StoreUint64(&c.runDurationMs, ms) }

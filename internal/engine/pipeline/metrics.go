package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports Stats as prometheus metrics.
type Collector struct {
	stats *Stats

	batches    *prometheus.Desc
	received   *prometheus.Desc
	filtered   *prometheus.Desc
	malformed  *prometheus.Desc
	classified *prometheus.Desc
	emitted    *prometheus.Desc
	emitErrors *prometheus.Desc
	results    *prometheus.Desc
}

// NewCollector creates a collector reading stats on every scrape.
func NewCollector(stats *Stats) *Collector {
	return &Collector{
		stats:      stats,
		batches:    prometheus.NewDesc("sshspectra_batches_total", "Batches taken from the flow source", nil, nil),
		received:   prometheus.NewDesc("sshspectra_records_received_total", "Flow records received", nil, nil),
		filtered:   prometheus.NewDesc("sshspectra_records_filtered_total", "Flow records rejected as not SSH", nil, nil),
		malformed:  prometheus.NewDesc("sshspectra_records_malformed_total", "Flow records with inconsistent packet sequences", nil, nil),
		classified: prometheus.NewDesc("sshspectra_flows_classified_total", "SSH flows classified", nil, nil),
		emitted:    prometheus.NewDesc("sshspectra_results_emitted_total", "Results accepted by a sink", nil, nil),
		emitErrors: prometheus.NewDesc("sshspectra_emit_errors_total", "Failed sink sends and flushes", nil, nil),
		results:    prometheus.NewDesc("sshspectra_results_total", "Classification outcomes", []string{"field", "value"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.batches
	ch <- c.received
	ch <- c.filtered
	ch <- c.malformed
	ch <- c.classified
	ch <- c.emitted
	ch <- c.emitErrors
	ch <- c.results
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.batches, prometheus.CounterValue, float64(snap.Batches))
	ch <- prometheus.MustNewConstMetric(c.received, prometheus.CounterValue, float64(snap.Received))
	ch <- prometheus.MustNewConstMetric(c.filtered, prometheus.CounterValue, float64(snap.Filtered))
	ch <- prometheus.MustNewConstMetric(c.malformed, prometheus.CounterValue, float64(snap.Malformed))
	ch <- prometheus.MustNewConstMetric(c.classified, prometheus.CounterValue, float64(snap.Classified))
	ch <- prometheus.MustNewConstMetric(c.emitted, prometheus.CounterValue, float64(snap.Emitted))
	ch <- prometheus.MustNewConstMetric(c.emitErrors, prometheus.CounterValue, float64(snap.EmitErrors))

	for field, counts := range map[string]map[string]uint64{
		"authentication_result": snap.Auth,
		"authentication_method": snap.Method,
		"authentication_timing": snap.Timing,
		"traffic_category":      snap.Traffic,
	} {
		for value, n := range counts {
			ch <- prometheus.MustNewConstMetric(c.results, prometheus.CounterValue, float64(n), field, value)
		}
	}
}

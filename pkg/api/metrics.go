package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "portserver"

// collector reads the counters at scrape time so nothing has to be mirrored
// into prometheus on the request path
type collector struct {
	source Source

	allocations  *prometheus.Desc
	denied       *prometheus.Desc
	clientErrors *prometheus.Desc
	poolSize     *prometheus.Desc
	scanDepth    *prometheus.Desc
}

func newCollector(src Source) *collector {
	return &collector{
		source: src,
		allocations: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "allocations_total"),
			"Ports handed out since start.", nil, nil),
		denied: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "denied_allocations_total"),
			"Requests refused by admission control or pool exhaustion.", nil, nil),
		clientErrors: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "client_request_errors_total"),
			"Requests dropped because they could not be read or parsed.", nil, nil),
		poolSize: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "size"),
			"Number of managed ports.", nil, nil),
		scanDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "last_scan_depth"),
			"Ports examined by the most recent allocation.", nil, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.allocations
	ch <- c.denied
	ch <- c.clientErrors
	ch <- c.poolSize
	ch <- c.scanDepth
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.allocations, prometheus.CounterValue, float64(s.TotalAllocations))
	ch <- prometheus.MustNewConstMetric(c.denied, prometheus.CounterValue, float64(s.DeniedAllocations))
	ch <- prometheus.MustNewConstMetric(c.clientErrors, prometheus.CounterValue, float64(s.ClientRequestErrors))
	ch <- prometheus.MustNewConstMetric(c.poolSize, prometheus.GaugeValue, float64(s.PoolSize))
	ch <- prometheus.MustNewConstMetric(c.scanDepth, prometheus.GaugeValue, float64(s.LastScanDepth))
}

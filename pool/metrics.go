package pool

import "github.com/prometheus/client_golang/prometheus"

var (
	idleDesc = prometheus.NewDesc(
		"poolman_connections_idle",
		"Current number of connections on the free list",
		[]string{"pool"}, nil,
	)
	activeDesc = prometheus.NewDesc(
		"poolman_connections_active",
		"Current number of outstanding leases",
		[]string{"pool"}, nil,
	)
	createdDesc = prometheus.NewDesc(
		"poolman_connections_created_total",
		"Total number of connections created by the factory",
		[]string{"pool"}, nil,
	)
	reusedDesc = prometheus.NewDesc(
		"poolman_acquire_reused_total",
		"Total number of acquires served from the free list",
		[]string{"pool"}, nil,
	)
	releasedDesc = prometheus.NewDesc(
		"poolman_release_total",
		"Total number of ended leases",
		[]string{"pool"}, nil,
	)
	leakDesc = prometheus.NewDesc(
		"poolman_leaks_total",
		"Total number of leases ended by the pool instead of the consumer",
		[]string{"pool", "reason"}, nil,
	)
	discardedDesc = prometheus.NewDesc(
		"poolman_connections_discarded_total",
		"Total number of connections dropped as broken",
		[]string{"pool"}, nil,
	)
	errorsDesc = prometheus.NewDesc(
		"poolman_errors_total",
		"Total number of errors by kind",
		[]string{"pool", "kind"}, nil,
	)
)

// Collector exports the Stats of a changing set of pools
type Collector struct {
	pools func() []*Pool
}

// NewCollector creates a collector reading its pools from source on every scrape
func NewCollector(source func() []*Pool) *Collector {
	return &Collector{pools: source}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- idleDesc
	ch <- activeDesc
	ch <- createdDesc
	ch <- reusedDesc
	ch <- releasedDesc
	ch <- leakDesc
	ch <- discardedDesc
	ch <- errorsDesc
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, p := range c.pools() {
		s := p.Stats()
		name := p.Name()

		ch <- prometheus.MustNewConstMetric(idleDesc, prometheus.GaugeValue, float64(s.Idle), name)
		ch <- prometheus.MustNewConstMetric(activeDesc, prometheus.GaugeValue, float64(s.Active), name)
		ch <- prometheus.MustNewConstMetric(createdDesc, prometheus.CounterValue, float64(s.Created), name)
		ch <- prometheus.MustNewConstMetric(reusedDesc, prometheus.CounterValue, float64(s.Reused), name)
		ch <- prometheus.MustNewConstMetric(releasedDesc, prometheus.CounterValue, float64(s.Released), name)
		ch <- prometheus.MustNewConstMetric(leakDesc, prometheus.CounterValue, float64(s.Reclaimed), name, string(LeakUnreachable))
		ch <- prometheus.MustNewConstMetric(leakDesc, prometheus.CounterValue, float64(s.Forced), name, string(LeakShutdown))
		ch <- prometheus.MustNewConstMetric(discardedDesc, prometheus.CounterValue, float64(s.Discarded), name)
		ch <- prometheus.MustNewConstMetric(errorsDesc, prometheus.CounterValue, float64(s.CreateErrors), name, "create")
		ch <- prometheus.MustNewConstMetric(errorsDesc, prometheus.CounterValue, float64(s.ResetErrors), name, "reset")
		ch <- prometheus.MustNewConstMetric(errorsDesc, prometheus.CounterValue, float64(s.CloseErrors), name, "close")
	}
}

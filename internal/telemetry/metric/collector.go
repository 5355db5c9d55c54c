package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// InventoryStats is a point-in-time view of what is on disk.
type InventoryStats struct {
	FullArchives            int
	FullArchiveBytes        int64
	IncrementalArchives     int
	IncrementalArchiveBytes int64
	BankSnapshots           int
}

// Collector reports the archive and bank snapshot inventory on every scrape.
type Collector struct {
	stats func() (InventoryStats, error)

	archives      *prometheus.Desc
	archiveBytes  *prometheus.Desc
	bankSnapshots *prometheus.Desc
	scrapeErrors  prometheus.Counter
}

// NewCollector creates a collector that calls stats on every scrape.
func NewCollector(stats func() (InventoryStats, error)) *Collector {
	return &Collector{
		stats: stats,
		archives: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "archives", "count"),
			"Snapshot archives on disk",
			[]string{"kind"}, nil,
		),
		archiveBytes: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "archives", "size_bytes"),
			"Total size of snapshot archives on disk",
			[]string{"kind"}, nil,
		),
		bankSnapshots: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "bank_snapshots", "count"),
			"Bank snapshot directories on disk",
			nil, nil,
		),
		scrapeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "inventory",
			Name:      "scrape_errors_total",
			Help:      "Failed inventory scans",
		}),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.archives
	ch <- c.archiveBytes
	ch <- c.bankSnapshots
	c.scrapeErrors.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s, err := c.stats()
	if err != nil {
		c.scrapeErrors.Inc()
	} else {
		ch <- prometheus.MustNewConstMetric(c.archives, prometheus.GaugeValue, float64(s.FullArchives), "full")
		ch <- prometheus.MustNewConstMetric(c.archives, prometheus.GaugeValue, float64(s.IncrementalArchives), "incremental")
		ch <- prometheus.MustNewConstMetric(c.archiveBytes, prometheus.GaugeValue, float64(s.FullArchiveBytes), "full")
		ch <- prometheus.MustNewConstMetric(c.archiveBytes, prometheus.GaugeValue, float64(s.IncrementalArchiveBytes), "incremental")
		ch <- prometheus.MustNewConstMetric(c.bankSnapshots, prometheus.GaugeValue, float64(s.BankSnapshots))
	}
	c.scrapeErrors.Collect(ch)
}

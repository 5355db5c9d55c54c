package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "ledgersnap"

// Registry holds all application metrics on a private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	// Request handling
	RequestsHandled prometheus.Counter
	RequestsDropped prometheus.Counter
	PrunedSlots     prometheus.Counter

	// Packages by kind (full, incremental, hash_only)
	PackagesCreated   *prometheus.CounterVec
	PackagesVerified  *prometheus.CounterVec
	PackagesCoalesced prometheus.Counter

	// Archives
	ArchivesWritten     *prometheus.CounterVec
	ArchivesFailed      prometheus.Counter
	ArchivesPurged      prometheus.Counter
	BankSnapshotsPurged prometheus.Counter
	LastArchivedSlot    *prometheus.GaugeVec

	// HashDuration is labelled by stage (request, verify, restore).
	HashDuration *prometheus.HistogramVec
}

// NewRegistry creates the metrics and registers them together with the Go
// runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		RequestsHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "requests",
			Name:      "handled_total",
			Help:      "Snapshot requests processed by the background service",
		}),
		RequestsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "requests",
			Name:      "dropped_total",
			Help:      "Snapshot requests discarded in favour of a newer one",
		}),
		PrunedSlots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "accounts",
			Name:      "pruned_slots_purged_total",
			Help:      "Dropped fork slots whose storages were purged",
		}),
		PackagesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "packages",
			Name:      "created_total",
			Help:      "Accounts packages created",
		}, []string{"kind"}),
		PackagesVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "packages",
			Name:      "verified_total",
			Help:      "Accounts packages whose hash matched the bank",
		}, []string{"kind"}),
		PackagesCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "packages",
			Name:      "coalesced_total",
			Help:      "Verified packages dropped before being archived",
		}),
		ArchivesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "archives",
			Name:      "written_total",
			Help:      "Snapshot archives written",
		}, []string{"kind"}),
		ArchivesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "archives",
			Name:      "failed_total",
			Help:      "Snapshot packages that could not be archived",
		}),
		ArchivesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "archives",
			Name:      "purged_total",
			Help:      "Snapshot archives removed by retention",
		}),
		BankSnapshotsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "bank_snapshots",
			Name:      "purged_total",
			Help:      "Bank snapshot directories removed by retention",
		}),
		LastArchivedSlot: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "archives",
			Name:      "last_slot",
			Help:      "Slot of the newest archive written",
		}, []string{"kind"}),
		HashDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "accounts",
			Name:      "hash_duration_seconds",
			Help:      "Time spent computing accounts hashes",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.RequestsHandled,
		r.RequestsDropped,
		r.PrunedSlots,
		r.PackagesCreated,
		r.PackagesVerified,
		r.PackagesCoalesced,
		r.ArchivesWritten,
		r.ArchivesFailed,
		r.ArchivesPurged,
		r.BankSnapshotsPurged,
		r.LastArchivedSlot,
		r.HashDuration,
	)
	return r
}

// Register adds an extra collector.
func (r *Registry) Register(c prometheus.Collector) error {
	return r.reg.Register(c)
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

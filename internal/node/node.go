package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/ledgersnap/internal/accounts"
	"github.com/yndnr/ledgersnap/internal/bank"
	"github.com/yndnr/ledgersnap/internal/core/domain"
	"github.com/yndnr/ledgersnap/internal/forks"
	"github.com/yndnr/ledgersnap/internal/pipeline"
	"github.com/yndnr/ledgersnap/internal/server/config"
	"github.com/yndnr/ledgersnap/internal/server/httpserver"
	"github.com/yndnr/ledgersnap/internal/snapshot"
	"github.com/yndnr/ledgersnap/internal/telemetry/metric"
)

// Options carries the process-level collaborators of a node.
type Options struct {
	Logger *slog.Logger

	// OnFatal is called once when the snapshot pipeline detects
	// corruption. The node keeps serving until it is closed.
	OnFatal func(error)

	// Announcer receives every written archive in addition to gossip.
	Announcer pipeline.Announcer
}

// Node is a running ledgersnap node.
type Node struct {
	cfg     *config.NodeConfig
	opts    Options
	logger  *slog.Logger
	metrics *metric.Registry
	hasher  *accounts.Hasher

	// Set by Recover.
	db       *accounts.DB
	forks    *forks.BankForks
	pruned   *accounts.PrunedBanks
	services *pipeline.Services
	producer *Producer
	restored *snapshot.RestoreResult

	gossip   *pipeline.GossipAnnouncer
	http     *httpserver.Server
	httpAddr string

	ready     atomic.Bool
	startedAt time.Time
	closeOnce sync.Once
}

// New validates cfg and creates the node without touching ledger state.
// Call Recover next.
func New(cfg *config.NodeConfig, opts Options) (*Node, error) {
	if cfg == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("node config is nil")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := config.ResolvePaths(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	n := &Node{
		cfg:     cfg,
		opts:    opts,
		logger:  opts.Logger.With("node", cfg.Node.ID),
		metrics: metric.NewRegistry(),
	}
	if err := n.metrics.Register(metric.NewCollector(n.inventory)); err != nil {
		return nil, fmt.Errorf("register inventory collector: %w", err)
	}
	n.hasher = accounts.NewHasher(cfg.Snapshot.HashWorkers)
	return n, nil
}

// Recover rebuilds the root bank from the newest full archive and its newest
// incremental archive. Without archives it creates a genesis bank. Leftovers
// of interrupted writes are removed first.
func (n *Node) Recover(ctx context.Context) error {
	if n.forks != nil {
		return errors.New("node: already recovered")
	}
	start := time.Now()

	if err := snapshot.RemoveTmpSnapshotFiles(n.cfg.Snapshot.ArchivesDir, n.cfg.Snapshot.BankSnapshotsDir); err != nil {
		n.logger.Warn("remove temporary snapshot files failed", "error", err)
	}

	var (
		root   *bank.Bank
		sc     *bank.StatusCache
		db     *accounts.DB
		lastFS *domain.Slot
	)
	res, err := snapshot.BankFromLatestSnapshotArchives(ctx, config.RestoreConfig(n.cfg, n.hasher, n.logger))
	switch {
	case err == nil:
		root, db, sc = res.Bank, res.DB, res.Bank.StatusCache()
		full := res.Full.Slot
		lastFS = &full
		n.restored = res
	case errors.Is(err, domain.ErrNoFullArchive):
		n.logger.Info("no snapshot archive found, starting from genesis")
		db, sc, root, err = n.genesis()
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("restore from snapshot archives: %w", err)
	}

	n.db = db
	n.pruned = accounts.NewPrunedBanks()
	n.forks, err = forks.New(root, config.ForksConfig(n.cfg, n.pruned, n.logger))
	if err != nil {
		db.Close()
		return err
	}

	pcfg, err := config.PipelineConfig(n.cfg, n.logger)
	if err != nil {
		db.Close()
		return err
	}
	pcfg.LastFullSnapshotSlot = lastFS
	pcfg.Metrics = n.metrics
	pcfg.OnFatal = n.fatal

	var announcers []pipeline.Announcer
	if n.opts.Announcer != nil {
		announcers = append(announcers, n.opts.Announcer)
	}
	if n.cfg.Gossip.Enabled {
		n.gossip, err = pipeline.NewGossipAnnouncer(config.GossipConfig(n.cfg, n.logger))
		if err != nil {
			db.Close()
			return fmt.Errorf("start gossip: %w", err)
		}
		announcers = append(announcers, n.gossip)
	}
	if len(announcers) > 0 {
		pcfg.Announcer = pipeline.MultiAnnouncer(announcers...)
	}

	n.services = pipeline.NewServices(pcfg, db, sc, n.pruned, n.hasher)
	if n.cfg.Producer.Enabled {
		n.producer = NewProducer(ProducerConfig{
			SlotInterval:        n.cfg.Producer.SlotInterval,
			RootDistance:        n.cfg.Producer.RootDistance,
			ForkEvery:           n.cfg.Producer.ForkEvery,
			TransactionsPerSlot: n.cfg.Producer.TransactionsPerSlot,
			Accounts:            GenesisPubkeys(n.cfg.Producer.GenesisAccounts),
			Logger:              n.logger,
		}, n.forks, n.services.Requests)
	}

	n.logger.Info("node recovered",
		"root_slot", uint64(root.Slot()),
		"restored", n.restored != nil,
		"duration", time.Since(start))
	return nil
}

func (n *Node) genesis() (*accounts.DB, *bank.StatusCache, *bank.Bank, error) {
	if _, err := accounts.RemoveStorageFiles(n.cfg.Accounts.Paths); err != nil {
		return nil, nil, nil, fmt.Errorf("clear account paths: %w", err)
	}
	db, err := accounts.New(config.AccountsConfig(n.cfg, n.logger))
	if err != nil {
		return nil, nil, nil, err
	}
	sc := bank.NewStatusCache(n.cfg.Snapshot.MaxCacheEntries)
	root, err := bank.NewGenesis(db, sc, GenesisAccounts(n.cfg.Producer.GenesisAccounts, n.cfg.Producer.GenesisLamports))
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return db, sc, root, nil
}

// Start launches the snapshot services, the producer and the HTTP endpoint.
func (n *Node) Start(ctx context.Context) error {
	if n.services == nil {
		return errors.New("node: Start called before Recover")
	}

	if n.cfg.HTTP.Addr != "" {
		ln, err := net.Listen("tcp", n.cfg.HTTP.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", n.cfg.HTTP.Addr, err)
		}
		n.httpAddr = ln.Addr().String()
		n.http = httpserver.New(n.httpAddr, httpserver.NewRouter(&httpserver.RouterConfig{
			Metrics:         n.metrics.Handler(),
			Ready:           n.ready.Load,
			Status:          func() any { return n.Status() },
			Logger:          n.logger,
			GlobalRateLimit: n.cfg.HTTP.RateLimit,
		}))
		go func() {
			if err := n.http.Serve(ln); err != nil {
				n.logger.Error("HTTP server error", "error", err)
			}
		}()
		n.logger.Info("HTTP server listening", "addr", n.httpAddr)
	}

	n.services.Start(ctx)
	if n.producer != nil {
		n.producer.Start(ctx)
	}

	n.startedAt = time.Now()
	n.ready.Store(true)
	return nil
}

// Close stops every component in reverse start order. Pending packages are
// released, not archived.
func (n *Node) Close(ctx context.Context) error {
	var errs []error
	n.closeOnce.Do(func() {
		n.ready.Store(false)
		if n.producer != nil {
			n.producer.Stop()
		}
		if n.services != nil {
			n.services.Stop()
		}
		if n.http != nil {
			if err := n.http.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown HTTP server: %w", err))
			}
		}
		if n.gossip != nil {
			if err := n.gossip.Shutdown(); err != nil {
				errs = append(errs, err)
			}
		}
		n.hasher.Stop()
		if n.db != nil {
			if err := n.db.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close accounts db: %w", err))
			}
		}
		n.logger.Info("node stopped")
	})
	return errors.Join(errs...)
}

func (n *Node) fatal(err error) {
	n.ready.Store(false)
	n.logger.Error("snapshot pipeline stopped on fatal error", "code", domain.CodeOf(err), "error", err)
	if n.opts.OnFatal != nil {
		n.opts.OnFatal(err)
	}
}

// Forks returns the fork set. It is nil before Recover.
func (n *Node) Forks() *forks.BankForks { return n.forks }

// Services returns the snapshot services. It is nil before Recover.
func (n *Node) Services() *pipeline.Services { return n.services }

// Producer returns the local slot producer, or nil when disabled.
func (n *Node) Producer() *Producer { return n.producer }

// Metrics returns the node's metric registry.
func (n *Node) Metrics() *metric.Registry { return n.metrics }

// HTTPAddr returns the bound admin address once started.
func (n *Node) HTTPAddr() string { return n.httpAddr }

// Restored returns the archives the node was restored from, or nil after a
// genesis start.
func (n *Node) Restored() *snapshot.RestoreResult { return n.restored }

// inventory feeds the archive collector.
func (n *Node) inventory() (metric.InventoryStats, error) {
	var st metric.InventoryStats

	full, err := snapshot.GetFullArchiveInfos(n.cfg.Snapshot.ArchivesDir)
	if err != nil {
		return st, err
	}
	incr, err := snapshot.GetIncrementalArchiveInfos(n.cfg.Snapshot.ArchivesDir)
	if err != nil {
		return st, err
	}
	st.FullArchives, st.FullArchiveBytes = len(full), totalSize(full)
	st.IncrementalArchives, st.IncrementalArchiveBytes = len(incr), totalSize(incr)

	bs, err := snapshot.GetBankSnapshots(n.cfg.Snapshot.BankSnapshotsDir)
	if err != nil {
		return st, err
	}
	st.BankSnapshots = len(bs)
	return st, nil
}

func totalSize(infos []snapshot.ArchiveInfo) int64 {
	var total int64
	for _, a := range infos {
		if fi, err := os.Stat(a.Path); err == nil {
			total += fi.Size()
		}
	}
	return total
}

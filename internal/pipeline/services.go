package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/yndnr/ledgersnap/internal/accounts"
	"github.com/yndnr/ledgersnap/internal/bank"
	"github.com/yndnr/ledgersnap/internal/core/domain"
	"github.com/yndnr/ledgersnap/internal/snapshot"
	"github.com/yndnr/ledgersnap/internal/telemetry/metric"
)

// Config configures the snapshot services.
type Config struct {
	Archive snapshot.ArchiveConfig

	FullSnapshotInterval        uint64
	IncrementalSnapshotInterval uint64
	PackageOnHashOnly           bool
	LastFullSnapshotSlot        *domain.Slot

	LoopInterval time.Duration
	Announcer    Announcer
	// OnFatal is called when hash verification detects corruption.
	OnFatal func(error)

	Metrics *metric.Registry
	Logger  *slog.Logger
}

// Services owns the snapshot pipeline goroutines and the queues between
// them.
type Services struct {
	Requests *RequestQueue
	Pending  *snapshot.PendingSnapshotPackage

	Handler    *RequestHandler
	Background *AccountsBackgroundService
	Verifier   *AccountsHashVerifier
	Packager   *SnapshotPackagerService

	packages chan *snapshot.AccountsPackage
	logger   *slog.Logger
}

// NewServices wires the pipeline. The hasher is shared by request handling
// and verification.
func NewServices(cfg Config, db *accounts.DB, sc *bank.StatusCache, pruned *accounts.PrunedBanks, hasher *accounts.Hasher) *Services {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.NewRegistry()
	}

	s := &Services{
		Requests: NewRequestQueue(),
		Pending:  snapshot.NewPendingSnapshotPackage(),
		packages: make(chan *snapshot.AccountsPackage, 1),
		logger:   cfg.Logger,
	}

	s.Handler = NewRequestHandler(HandlerConfig{
		Archive:                     cfg.Archive,
		FullSnapshotInterval:        cfg.FullSnapshotInterval,
		IncrementalSnapshotInterval: cfg.IncrementalSnapshotInterval,
		PackageOnHashOnly:           cfg.PackageOnHashOnly,
		LastFullSnapshotSlot:        cfg.LastFullSnapshotSlot,
		Metrics:                     cfg.Metrics,
		Logger:                      cfg.Logger.With("service", "request_handler"),
	}, s.Requests, hasher, s.packages)

	s.Background = NewAccountsBackgroundService(BackgroundConfig{
		DB:           db,
		StatusCache:  sc,
		Pruned:       pruned,
		LoopInterval: cfg.LoopInterval,
		Metrics:      cfg.Metrics,
		Logger:       cfg.Logger.With("service", "accounts_background"),
	}, s.Requests, s.Handler)

	s.Verifier = NewAccountsHashVerifier(VerifierConfig{
		OnFatal: cfg.OnFatal,
		Metrics: cfg.Metrics,
		Logger:  cfg.Logger.With("service", "hash_verifier"),
	}, s.packages, s.Pending, hasher)

	s.Packager = NewSnapshotPackagerService(PackagerConfig{
		Archive:      cfg.Archive,
		LoopInterval: cfg.LoopInterval,
		Announcer:    cfg.Announcer,
		Metrics:      cfg.Metrics,
		Logger:       cfg.Logger.With("service", "snapshot_packager"),
	}, s.Pending)

	return s
}

// Start launches every service.
func (s *Services) Start(ctx context.Context) {
	s.Packager.Start(ctx)
	s.Verifier.Start(ctx)
	s.Background.Start(ctx)
	s.logger.Info("snapshot services started")
}

// Stop stops the services in pipeline order and releases packages that
// were never archived.
func (s *Services) Stop() {
	s.Background.Stop()
	s.Verifier.Stop()
	s.Packager.Stop()

drain:
	for {
		select {
		case pkg := <-s.packages:
			pkg.Cleanup()
		default:
			break drain
		}
	}
	if pkg := s.Pending.Take(); pkg != nil {
		pkg.Cleanup()
	}
	s.logger.Info("snapshot services stopped")
}

// Err returns the fatal error that stopped verification, if any.
func (s *Services) Err() error {
	return s.Verifier.Err()
}

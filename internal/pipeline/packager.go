package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/yndnr/ledgersnap/internal/snapshot"
	"github.com/yndnr/ledgersnap/internal/telemetry/metric"
)

// PackagerConfig configures the SnapshotPackagerService.
type PackagerConfig struct {
	Archive      snapshot.ArchiveConfig
	LoopInterval time.Duration
	// AnnounceTimeout bounds each announcement.
	AnnounceTimeout time.Duration
	Announcer       Announcer

	Metrics *metric.Registry
	Logger  *slog.Logger
}

// SnapshotPackagerService archives the pending snapshot package.
type SnapshotPackagerService struct {
	cfg     PackagerConfig
	pending *snapshot.PendingSnapshotPackage
	metrics *metric.Registry
	logger  *slog.Logger

	mu          sync.Mutex
	full        *snapshot.ArchiveInfo
	incremental *snapshot.ArchiveInfo

	cancel context.CancelFunc
	doneCh chan struct{}
}

func NewSnapshotPackagerService(cfg PackagerConfig, pending *snapshot.PendingSnapshotPackage) *SnapshotPackagerService {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.NewRegistry()
	}
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = DefaultLoopInterval
	}
	if cfg.AnnounceTimeout <= 0 {
		cfg.AnnounceTimeout = 5 * time.Second
	}
	if cfg.Archive.MaxFullArchivesToRetain <= 0 {
		cfg.Archive.MaxFullArchivesToRetain = snapshot.DefaultMaxFullArchivesToRetain
	}
	if cfg.Archive.MaxIncrementalArchivesToRetain <= 0 {
		cfg.Archive.MaxIncrementalArchivesToRetain = snapshot.DefaultMaxIncrementalArchivesToRetain
	}
	return &SnapshotPackagerService{
		cfg:     cfg,
		pending: pending,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		doneCh:  make(chan struct{}),
	}
}

// Start launches the packager loop.
func (s *SnapshotPackagerService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

// Stop cancels the loop and waits for it. An archive in progress is
// finished first. Stop is a no-op before Start.
func (s *SnapshotPackagerService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.Join()
}

// Join waits for the loop to exit.
func (s *SnapshotPackagerService) Join() {
	<-s.doneCh
}

// Latest returns the newest full and incremental archives written by this
// service.
func (s *SnapshotPackagerService) Latest() (full, incremental *snapshot.ArchiveInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.full, s.incremental
}

func (s *SnapshotPackagerService) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.LoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.pending.Ready():
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}
		s.ArchivePending(ctx)
	}
}

// ArchivePending archives the pending package, if any. Failures are logged
// and counted; the package is discarded either way.
func (s *SnapshotPackagerService) ArchivePending(ctx context.Context) (snapshot.ArchiveInfo, bool) {
	pkg := s.pending.Take()
	if pkg == nil {
		return snapshot.ArchiveInfo{}, false
	}
	defer func() {
		if err := pkg.Cleanup(); err != nil {
			s.logger.Warn("cleanup snapshot package failed", "slot", pkg.Slot, "error", err)
		}
	}()

	start := time.Now()
	info, err := snapshot.ArchiveSnapshotPackage(pkg, s.cfg.Archive.ArchivesDir, s.cfg.Archive.Limiter)
	if err != nil {
		s.metrics.ArchivesFailed.Inc()
		s.logger.Error("archive snapshot package failed",
			"slot", pkg.Slot,
			"kind", pkg.Kind.String(),
			"error", err)
		return snapshot.ArchiveInfo{}, false
	}

	kind := pkg.Kind.String()
	s.metrics.ArchivesWritten.WithLabelValues(kind).Inc()
	s.metrics.LastArchivedSlot.WithLabelValues(kind).Set(float64(info.Slot))
	s.logger.Info("snapshot archive written",
		"path", info.Path,
		"kind", kind,
		"slot", info.Slot,
		"base_slot", info.BaseSlot,
		"superseded", pkg.Superseded,
		"duration", time.Since(start))

	s.mu.Lock()
	stored := info
	if info.Incremental {
		s.incremental = &stored
	} else {
		s.full = &stored
	}
	s.mu.Unlock()

	removed, err := snapshot.PurgeOldSnapshotArchives(s.cfg.Archive.ArchivesDir,
		s.cfg.Archive.MaxFullArchivesToRetain, s.cfg.Archive.MaxIncrementalArchivesToRetain)
	if err != nil {
		s.logger.Warn("purge snapshot archives failed", "error", err)
	}
	if len(removed) > 0 {
		s.metrics.ArchivesPurged.Add(float64(len(removed)))
		s.logger.Debug("purged snapshot archives", "count", len(removed))
	}

	if s.cfg.Announcer != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.AnnounceTimeout)
		if err := s.cfg.Announcer.Announce(actx, info); err != nil {
			s.logger.Warn("announce snapshot archive failed", "slot", info.Slot, "error", err)
		}
		cancel()
	}
	return info, true
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yndnr/ledgersnap/internal/accounts"
	"github.com/yndnr/ledgersnap/internal/bank"
	"github.com/yndnr/ledgersnap/internal/core/domain"
	"github.com/yndnr/ledgersnap/internal/snapshot"
	"github.com/yndnr/ledgersnap/internal/telemetry/metric"
)

// HandlerConfig configures a RequestHandler.
type HandlerConfig struct {
	// Archive supplies the bank snapshot directory, format, version and
	// bank snapshot retention.
	Archive snapshot.ArchiveConfig

	// FullSnapshotInterval and IncrementalSnapshotInterval are block height
	// intervals. Zero disables the class.
	FullSnapshotInterval        uint64
	IncrementalSnapshotInterval uint64

	// PackageOnHashOnly sends hash-only packages to the verifier.
	PackageOnHashOnly bool

	// LastFullSnapshotSlot seeds the incremental base, typically with the
	// slot of the full archive the node restored from.
	LastFullSnapshotSlot *domain.Slot

	Metrics *metric.Registry
	Logger  *slog.Logger
}

// RequestHandler turns snapshot requests into accounts packages.
type RequestHandler struct {
	cfg      HandlerConfig
	requests *RequestQueue
	hasher   *accounts.Hasher
	out      chan<- *snapshot.AccountsPackage
	metrics  *metric.Registry
	logger   *slog.Logger

	mu       sync.Mutex
	lastFull *domain.Slot
}

// NewRequestHandler creates a handler that reads from requests and sends
// packages to out.
func NewRequestHandler(cfg HandlerConfig, requests *RequestQueue, hasher *accounts.Hasher, out chan<- *snapshot.AccountsPackage) *RequestHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.NewRegistry()
	}
	if cfg.Archive.MaxBankSnapshotsToRetain <= 0 {
		cfg.Archive.MaxBankSnapshotsToRetain = snapshot.DefaultMaxBankSnapshotsToRetain
	}
	h := &RequestHandler{
		cfg:      cfg,
		requests: requests,
		hasher:   hasher,
		out:      out,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
	if cfg.LastFullSnapshotSlot != nil {
		s := *cfg.LastFullSnapshotSlot
		h.lastFull = &s
	}
	return h
}

// LastFullSnapshotSlot returns the slot of the newest full package built.
func (h *RequestHandler) LastFullSnapshotSlot() (domain.Slot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastFull == nil {
		return 0, false
	}
	return *h.lastFull, true
}

// HandleSnapshotRequests drains the queue and handles only the newest
// request. It reports whether a request was handled.
func (h *RequestHandler) HandleSnapshotRequests(ctx context.Context) (bool, error) {
	reqs := h.requests.Drain()
	if len(reqs) == 0 {
		return false, nil
	}

	newest := 0
	for i := range reqs {
		if reqs[i].Bank.Slot() > reqs[newest].Bank.Slot() {
			newest = i
		}
	}
	for i := range reqs {
		if i != newest {
			h.logger.Debug("discarding older snapshot request",
				"slot", reqs[i].Bank.Slot(),
				"newest_slot", reqs[newest].Bank.Slot())
		}
	}
	h.metrics.RequestsDropped.Add(float64(len(reqs) - 1))
	h.metrics.RequestsHandled.Inc()

	return true, h.handle(ctx, reqs[newest])
}

func (h *RequestHandler) handle(ctx context.Context, req snapshot.Request) error {
	b := req.Bank
	slot := b.Slot()
	kind := h.packageKind(req)

	if kind == snapshot.PackageHashOnly && !req.ForceHash && !h.cfg.PackageOnHashOnly {
		return nil
	}

	start := time.Now()
	hash, err := b.UpdateAccountsHash(ctx, h.hasher)
	if err != nil {
		return fmt.Errorf("pipeline: update accounts hash at slot %d: %w", slot, err)
	}
	h.metrics.HashDuration.WithLabelValues("request").Observe(time.Since(start).Seconds())

	h.logger.Debug("accounts hash updated",
		"slot", slot,
		"kind", kind.String(),
		"accounts_hash", hash.String(),
		"queued_for", time.Since(req.EnqueuedAt))

	if kind == snapshot.PackageHashOnly && !h.cfg.PackageOnHashOnly {
		return nil
	}

	deltas := req.SlotDeltas
	if deltas == nil {
		deltas = b.SlotDeltas()
	}

	pkg, err := h.buildPackage(req, kind, deltas)
	if err != nil {
		return err
	}
	h.metrics.PackagesCreated.WithLabelValues(kind.String()).Inc()

	select {
	case h.out <- pkg:
		return nil
	case <-ctx.Done():
		pkg.Cleanup()
		return ctx.Err()
	}
}

func (h *RequestHandler) buildPackage(req snapshot.Request, kind snapshot.PackageKind, deltas []bank.SlotDelta) (*snapshot.AccountsPackage, error) {
	b := req.Bank
	cfg := h.cfg.Archive.PackageConfig()

	if kind == snapshot.PackageHashOnly {
		return snapshot.NewHashOnlyAccountsPackage(cfg, b)
	}

	version := cfg.Version
	if version == "" {
		version = snapshot.DefaultSnapshotVersion
	}
	bs, err := snapshot.AddBankSnapshot(cfg.BankSnapshotsDir, b, deltas, version)
	if err != nil {
		return nil, fmt.Errorf("pipeline: add bank snapshot: %w", err)
	}

	var pkg *snapshot.AccountsPackage
	switch kind {
	case snapshot.PackageFull:
		pkg, err = snapshot.NewFullAccountsPackage(cfg, b, bs, deltas)
	case snapshot.PackageIncremental:
		base, _ := h.LastFullSnapshotSlot()
		pkg, err = snapshot.NewIncrementalAccountsPackage(cfg, b, bs, deltas, base)
	}
	if err != nil {
		return nil, err
	}
	if kind == snapshot.PackageFull {
		slot := pkg.Slot
		h.mu.Lock()
		h.lastFull = &slot
		h.mu.Unlock()
	}

	purged, err := snapshot.PurgeOldBankSnapshots(cfg.BankSnapshotsDir, h.cfg.Archive.MaxBankSnapshotsToRetain)
	if err != nil {
		h.logger.Warn("purge bank snapshots failed", "error", err)
	}
	h.metrics.BankSnapshotsPurged.Add(float64(len(purged)))

	h.logger.Info("accounts package created",
		"id", pkg.ID.String(),
		"kind", kind.String(),
		"slot", pkg.Slot,
		"base_slot", pkg.BaseSlot,
		"storages", len(pkg.Storages))
	return pkg, nil
}

// packageKind decides what req turns into. A full trigger wins over a
// coincident incremental one, and incrementals wait for a full snapshot.
func (h *RequestHandler) packageKind(req snapshot.Request) snapshot.PackageKind {
	if req.ForceSnapshot {
		return snapshot.PackageFull
	}
	if req.AccountsHashOnly {
		return snapshot.PackageHashOnly
	}
	height := req.Bank.BlockHeight()
	if hits(height, h.cfg.FullSnapshotInterval) {
		return snapshot.PackageFull
	}
	if hits(height, h.cfg.IncrementalSnapshotInterval) {
		if base, ok := h.LastFullSnapshotSlot(); ok && req.Bank.Slot() > base {
			return snapshot.PackageIncremental
		}
	}
	return snapshot.PackageHashOnly
}

func hits(height, interval uint64) bool {
	return interval > 0 && height%interval == 0
}

package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/yndnr/ledgersnap/internal/accounts"
	"github.com/yndnr/ledgersnap/internal/core/domain"
	"github.com/yndnr/ledgersnap/internal/snapshot"
	"github.com/yndnr/ledgersnap/internal/telemetry/metric"
)

// VerifierConfig configures the AccountsHashVerifier.
type VerifierConfig struct {
	// OnFatal is called once when a corruption-class error stops the
	// verifier.
	OnFatal func(error)

	Metrics *metric.Registry
	Logger  *slog.Logger
}

// AccountsHashVerifier re-hashes every accounts package from its staged
// storages and parks verified packages in the pending slot.
type AccountsHashVerifier struct {
	cfg     VerifierConfig
	in      <-chan *snapshot.AccountsPackage
	pending *snapshot.PendingSnapshotPackage
	hasher  *accounts.Hasher
	metrics *metric.Registry
	logger  *slog.Logger

	mu  sync.Mutex
	err error

	cancel context.CancelFunc
	doneCh chan struct{}
}

func NewAccountsHashVerifier(cfg VerifierConfig, in <-chan *snapshot.AccountsPackage, pending *snapshot.PendingSnapshotPackage, hasher *accounts.Hasher) *AccountsHashVerifier {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.NewRegistry()
	}
	return &AccountsHashVerifier{
		cfg:     cfg,
		in:      in,
		pending: pending,
		hasher:  hasher,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		doneCh:  make(chan struct{}),
	}
}

// Start launches the verifier loop.
func (v *AccountsHashVerifier) Start(ctx context.Context) {
	ctx, v.cancel = context.WithCancel(ctx)
	go v.run(ctx)
}

// Stop cancels the loop and waits for it. It is a no-op before Start.
func (v *AccountsHashVerifier) Stop() {
	if v.cancel == nil {
		return
	}
	v.cancel()
	v.Join()
}

// Join waits for the loop to exit.
func (v *AccountsHashVerifier) Join() {
	<-v.doneCh
}

// Err returns the fatal error that stopped the verifier, if any.
func (v *AccountsHashVerifier) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

func (v *AccountsHashVerifier) run(ctx context.Context) {
	defer close(v.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case pkg := <-v.in:
			if err := v.Process(ctx, pkg); err != nil && domain.IsFatal(err) {
				v.logger.Error("accounts hash verification failed, stopping",
					"slot", pkg.Slot,
					"kind", pkg.Kind.String(),
					"error", err)
				v.mu.Lock()
				v.err = err
				v.mu.Unlock()
				if v.cfg.OnFatal != nil {
					v.cfg.OnFatal(err)
				}
				return
			}
		}
	}
}

// Process verifies one package. Verified snapshot packages go to the
// pending slot; hash-only packages are released. Non-fatal failures are
// logged and the package is abandoned.
func (v *AccountsHashVerifier) Process(ctx context.Context, pkg *snapshot.AccountsPackage) error {
	start := time.Now()
	snap, err := snapshot.ProcessAccountsPackage(ctx, pkg, v.hasher)
	v.metrics.HashDuration.WithLabelValues("verify").Observe(time.Since(start).Seconds())
	if err != nil {
		pkg.Cleanup()
		if !domain.IsFatal(err) {
			v.logger.Error("accounts package abandoned", "slot", pkg.Slot, "error", err)
		}
		return err
	}
	v.metrics.PackagesVerified.WithLabelValues(pkg.Kind.String()).Inc()

	if snap == nil {
		v.logger.Debug("accounts hash verified", "slot", pkg.Slot)
		return nil
	}

	if dropped := v.pending.Offer(snap); dropped != nil {
		v.metrics.PackagesCoalesced.Inc()
		if err := dropped.Cleanup(); err != nil {
			v.logger.Warn("cleanup dropped package failed", "slot", dropped.Slot, "error", err)
		}
		v.logger.Debug("pending snapshot package dropped",
			"dropped_slot", dropped.Slot,
			"dropped_kind", dropped.Kind.String(),
			"offered_slot", snap.Slot)
	}
	return nil
}

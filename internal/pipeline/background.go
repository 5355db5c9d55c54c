package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/yndnr/ledgersnap/internal/accounts"
	"github.com/yndnr/ledgersnap/internal/bank"
	"github.com/yndnr/ledgersnap/internal/core/domain"
	"github.com/yndnr/ledgersnap/internal/telemetry/metric"
)

// DefaultLoopInterval bounds every wait in the service loops.
const DefaultLoopInterval = 100 * time.Millisecond

// BackgroundConfig configures the AccountsBackgroundService.
type BackgroundConfig struct {
	DB          *accounts.DB
	StatusCache *bank.StatusCache
	Pruned      *accounts.PrunedBanks

	LoopInterval time.Duration
	Metrics      *metric.Registry
	Logger       *slog.Logger
}

// AccountsBackgroundService purges dropped forks and hands snapshot requests
// to the RequestHandler.
type AccountsBackgroundService struct {
	cfg      BackgroundConfig
	handler  *RequestHandler
	requests *RequestQueue
	logger   *slog.Logger

	cancel context.CancelFunc
	doneCh chan struct{}
}

func NewAccountsBackgroundService(cfg BackgroundConfig, requests *RequestQueue, handler *RequestHandler) *AccountsBackgroundService {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.NewRegistry()
	}
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = DefaultLoopInterval
	}
	return &AccountsBackgroundService{
		cfg:      cfg,
		handler:  handler,
		requests: requests,
		logger:   cfg.Logger,
		doneCh:   make(chan struct{}),
	}
}

// Start launches the service loop.
func (s *AccountsBackgroundService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

// Stop cancels the loop and waits for it. It is a no-op before Start.
func (s *AccountsBackgroundService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.Join()
}

// Join waits for the loop to exit.
func (s *AccountsBackgroundService) Join() {
	<-s.doneCh
}

func (s *AccountsBackgroundService) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.LoopInterval)
	defer ticker.Stop()

	var pruned <-chan struct{}
	if s.cfg.Pruned != nil {
		pruned = s.cfg.Pruned.Signal()
	}

	s.logger.Info("accounts background service started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("accounts background service stopped")
			return
		case <-s.requests.Signal():
		case <-pruned:
		case <-ticker.C:
		}

		s.PurgePrunedBanks()

		if _, err := s.handler.HandleSnapshotRequests(ctx); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				continue
			}
			s.logger.Error("snapshot request failed", "error", err)
		}
	}
}

// PurgePrunedBanks removes the storages and status cache entries of every
// dropped fork slot reported so far.
func (s *AccountsBackgroundService) PurgePrunedBanks() int {
	if s.cfg.Pruned == nil {
		return 0
	}
	slots := s.cfg.Pruned.Drain()
	purged := 0
	for _, slot := range slots {
		if s.cfg.DB != nil {
			if err := s.cfg.DB.PurgeSlot(slot); err != nil {
				if errors.Is(err, domain.ErrSlotRooted) {
					continue
				}
				s.logger.Warn("purge dropped slot failed", "slot", slot, "error", err)
				continue
			}
		}
		if s.cfg.StatusCache != nil {
			s.cfg.StatusCache.ClearSlot(slot)
		}
		purged++
	}
	if len(slots) > 0 {
		s.cfg.Metrics.PrunedSlots.Add(float64(purged))
		s.logger.Debug("purged dropped slots", "count", purged)
	}
	return purged
}

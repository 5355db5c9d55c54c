package pipeline

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yndnr/ledgersnap/internal/core/domain"
	"github.com/yndnr/ledgersnap/internal/snapshot"
	"github.com/yndnr/ledgersnap/internal/telemetry/logger"
)

func TestBackgroundService_PurgesDroppedForks(t *testing.T) {
	n := newTestNode(t, 0, 0)
	n.grow(t, 0, 1)
	n.grow(t, 0, 2)
	n.grow(t, 2, 3)

	if len(n.db.StoragesForSlot(2)) == 0 {
		t.Fatal("slot 2 has no storage before pruning")
	}
	n.setRoot(t, 1, nil)
	if n.pruned.Len() != 2 {
		t.Fatalf("pruned queue = %d, want 2", n.pruned.Len())
	}

	out := make(chan *snapshot.AccountsPackage, 1)
	h, q := n.handler(t, HandlerConfig{}, out)
	bg := NewAccountsBackgroundService(BackgroundConfig{
		DB:          n.db,
		StatusCache: n.sc,
		Pruned:      n.pruned,
		Metrics:     n.metrics,
		Logger:      logger.Discard(),
	}, q, h)

	if got := bg.PurgePrunedBanks(); got != 2 {
		t.Fatalf("PurgePrunedBanks = %d, want 2", got)
	}
	for _, s := range []domain.Slot{2, 3} {
		if len(n.db.StoragesForSlot(s)) != 0 {
			t.Errorf("slot %d storages survived", s)
		}
		if _, _, ok := n.sc.Get(signatureFor(s), func(domain.Slot) bool { return true }); ok {
			t.Errorf("slot %d signature survived in the status cache", s)
		}
	}
	if _, _, ok := n.sc.Get(signatureFor(1), func(domain.Slot) bool { return true }); !ok {
		t.Error("rooted slot 1 signature was removed")
	}
	if got := testutil.ToFloat64(n.metrics.PrunedSlots); got != 2 {
		t.Errorf("pruned slots metric = %v, want 2", got)
	}
	if got := bg.PurgePrunedBanks(); got != 0 {
		t.Errorf("second PurgePrunedBanks = %d, want 0", got)
	}
}

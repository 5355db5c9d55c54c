package pipeline

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yndnr/ledgersnap/internal/core/domain"
	"github.com/yndnr/ledgersnap/internal/snapshot"
)

func TestRequestHandler_Cadence(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, 4, 2)
	out := make(chan *snapshot.AccountsPackage, 4)
	h, q := n.handler(t, HandlerConfig{FullSnapshotInterval: 4, IncrementalSnapshotInterval: 2}, out)

	take := func(t *testing.T) *snapshot.AccountsPackage {
		t.Helper()
		select {
		case pkg := <-out:
			t.Cleanup(func() { pkg.Cleanup() })
			return pkg
		default:
			t.Fatal("no package produced")
			return nil
		}
	}

	for s := domain.Slot(1); s <= 8; s++ {
		n.grow(t, s-1, s)
	}

	// Incremental trigger before any full snapshot: nothing is packaged.
	n.setRoot(t, 2, q)
	if handled, err := h.HandleSnapshotRequests(ctx); err != nil || !handled {
		t.Fatalf("HandleSnapshotRequests = %v, %v", handled, err)
	}
	if len(out) != 0 {
		t.Fatalf("incremental without base produced %d packages", len(out))
	}

	n.setRoot(t, 4, q)
	if _, err := h.HandleSnapshotRequests(ctx); err != nil {
		t.Fatalf("HandleSnapshotRequests: %v", err)
	}
	full := take(t)
	if full.Kind != snapshot.PackageFull || full.Slot != 4 {
		t.Fatalf("package = %s at %d, want full at 4", full.Kind, full.Slot)
	}
	if slot, ok := h.LastFullSnapshotSlot(); !ok || slot != 4 {
		t.Errorf("LastFullSnapshotSlot = %d, %v", slot, ok)
	}
	if bs, err := snapshot.GetHighestBankSnapshot(n.archive.BankSnapshotsDir); err != nil || bs.Slot != 4 {
		t.Errorf("GetHighestBankSnapshot = %v, %v", bs.Slot, err)
	}

	n.setRoot(t, 6, q)
	if _, err := h.HandleSnapshotRequests(ctx); err != nil {
		t.Fatalf("HandleSnapshotRequests: %v", err)
	}
	incr := take(t)
	if incr.Kind != snapshot.PackageIncremental || incr.Slot != 6 || incr.BaseSlot != 4 {
		t.Fatalf("package = %s at %d base %d, want incremental at 6 base 4", incr.Kind, incr.Slot, incr.BaseSlot)
	}
	bss, err := snapshot.GetBankSnapshots(n.archive.BankSnapshotsDir)
	if err != nil {
		t.Fatalf("GetBankSnapshots: %v", err)
	}
	if len(bss) != 1 || bss[0].Slot != 6 {
		t.Errorf("bank snapshots after purge = %v, want only slot 6", bss)
	}

	// Block height 8 hits both intervals: only a full package is built.
	n.setRoot(t, 8, q)
	if _, err := h.HandleSnapshotRequests(ctx); err != nil {
		t.Fatalf("HandleSnapshotRequests: %v", err)
	}
	coincident := take(t)
	if coincident.Kind != snapshot.PackageFull || coincident.Slot != 8 {
		t.Fatalf("package = %s at %d, want full at 8", coincident.Kind, coincident.Slot)
	}
	if len(out) != 0 {
		t.Errorf("coincident triggers produced %d extra packages", len(out))
	}

	if got := testutil.ToFloat64(n.metrics.PackagesCreated.WithLabelValues("full")); got != 2 {
		t.Errorf("full packages created = %v, want 2", got)
	}
	if got := testutil.ToFloat64(n.metrics.PackagesCreated.WithLabelValues("incremental")); got != 1 {
		t.Errorf("incremental packages created = %v, want 1", got)
	}
}

func TestRequestHandler_KeepsNewestRequest(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, 2, 0)
	out := make(chan *snapshot.AccountsPackage, 4)
	h, q := n.handler(t, HandlerConfig{FullSnapshotInterval: 2}, out)

	for s := domain.Slot(1); s <= 6; s++ {
		n.grow(t, s-1, s)
	}
	n.setRoot(t, 2, q)
	n.setRoot(t, 4, q)
	n.setRoot(t, 6, q)
	if q.Len() != 3 {
		t.Fatalf("queued requests = %d, want 3", q.Len())
	}

	handled, err := h.HandleSnapshotRequests(ctx)
	if err != nil || !handled {
		t.Fatalf("HandleSnapshotRequests = %v, %v", handled, err)
	}
	if len(out) != 1 {
		t.Fatalf("packages = %d, want 1", len(out))
	}
	pkg := <-out
	defer pkg.Cleanup()
	if pkg.Slot != 6 {
		t.Errorf("package slot = %d, want 6", pkg.Slot)
	}
	if got := testutil.ToFloat64(n.metrics.RequestsDropped); got != 2 {
		t.Errorf("dropped requests = %v, want 2", got)
	}

	handled, err = h.HandleSnapshotRequests(ctx)
	if err != nil || handled {
		t.Errorf("empty queue: HandleSnapshotRequests = %v, %v", handled, err)
	}
}

func TestRequestHandler_ForceSnapshotOffCadence(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, 100, 0)
	out := make(chan *snapshot.AccountsPackage, 1)
	h, q := n.handler(t, HandlerConfig{FullSnapshotInterval: 100}, out)

	for s := domain.Slot(1); s <= 3; s++ {
		n.grow(t, s-1, s)
	}
	n.setRoot(t, 3, nil)
	b, err := n.forks.Get(3)
	if err != nil {
		t.Fatalf("Get(3): %v", err)
	}

	// Without the flag, block height 3 only earns an accounts hash.
	q.Send(snapshot.Request{Bank: b, SlotDeltas: b.SlotDeltas(), AccountsHashOnly: true})
	if _, err := h.HandleSnapshotRequests(ctx); err != nil {
		t.Fatalf("HandleSnapshotRequests: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("off-cadence request produced %d packages", len(out))
	}

	q.Send(snapshot.Request{Bank: b, SlotDeltas: b.SlotDeltas(), AccountsHashOnly: true, ForceSnapshot: true})
	if _, err := h.HandleSnapshotRequests(ctx); err != nil {
		t.Fatalf("HandleSnapshotRequests: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("forced request produced %d packages, want 1", len(out))
	}
	pkg := <-out
	defer pkg.Cleanup()
	if pkg.Kind != snapshot.PackageFull || pkg.Slot != 3 {
		t.Errorf("package = %s at %d, want full at 3", pkg.Kind, pkg.Slot)
	}
	if slot, ok := h.LastFullSnapshotSlot(); !ok || slot != 3 {
		t.Errorf("LastFullSnapshotSlot = %d, %v, want 3", slot, ok)
	}
}

func TestRequestHandler_HashOnlyPackage(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, 0, 0)
	out := make(chan *snapshot.AccountsPackage, 1)
	h, q := n.handler(t, HandlerConfig{PackageOnHashOnly: true}, out)

	b := n.grow(t, 0, 1)
	n.setRoot(t, 1, nil)
	q.Send(snapshot.Request{Bank: b, ForceHash: true, AccountsHashOnly: true})

	if _, err := h.HandleSnapshotRequests(ctx); err != nil {
		t.Fatalf("HandleSnapshotRequests: %v", err)
	}
	pkg := <-out
	if pkg.Kind != snapshot.PackageHashOnly || pkg.StagingDir != "" {
		t.Fatalf("package = %s staged at %q, want unstaged hash-only", pkg.Kind, pkg.StagingDir)
	}
	if b.AccountsHash() == (domain.Hash{}) {
		t.Error("accounts hash was not updated")
	}
	if pkg.ExpectedHash != b.AccountsHash() {
		t.Errorf("ExpectedHash = %s, bank has %s", pkg.ExpectedHash, b.AccountsHash())
	}

	v := NewAccountsHashVerifier(VerifierConfig{Metrics: n.metrics}, nil, snapshot.NewPendingSnapshotPackage(), n.hasher)
	if err := v.Process(ctx, pkg); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if v.pending.Peek() != nil {
		t.Error("hash-only package reached the pending slot")
	}
	if got := testutil.ToFloat64(n.metrics.PackagesVerified.WithLabelValues("hash_only")); got != 1 {
		t.Errorf("verified hash-only packages = %v, want 1", got)
	}
}

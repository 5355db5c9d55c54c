package accounts

import (
	"context"
	"testing"

	"github.com/yndnr/ledgersnap/internal/core/domain"
)

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h := NewHasher(2)
	t.Cleanup(h.Stop)
	return h
}

func TestHasher_NewestVersionWins(t *testing.T) {
	db := newTestDB(t)
	h := newTestHasher(t)
	a := domain.NewPubkey("a")

	db.Store(1, map[domain.Pubkey]domain.Account{a: lamports(1)})
	first := db.StoragesForSlot(1)
	db.Store(2, map[domain.Pubkey]domain.Account{a: lamports(2)})

	ctx := context.Background()
	both, err := h.HashStorages(ctx, append(first, db.StoragesForSlot(2)...))
	if err != nil {
		t.Fatalf("HashStorages: %v", err)
	}

	// A single storage holding the newest version describes the same state.
	other := newTestDB(t)
	other.Store(2, map[domain.Pubkey]domain.Account{a: lamports(2)})
	want, err := h.HashStorages(ctx, other.StoragesForSlot(2))
	if err != nil {
		t.Fatalf("HashStorages: %v", err)
	}
	if both != want {
		t.Errorf("hash with superseded version = %s, want %s", both, want)
	}

	onlyOld, err := h.HashStorages(ctx, first)
	if err != nil {
		t.Fatalf("HashStorages: %v", err)
	}
	if onlyOld == want {
		t.Error("different states hashed equal")
	}
}

func TestHasher_OrderIndependent(t *testing.T) {
	db := newTestDB(t)
	h := newTestHasher(t)

	for slot := domain.Slot(1); slot <= 6; slot++ {
		accts := map[domain.Pubkey]domain.Account{}
		for i := 0; i < 20; i++ {
			accts[domain.NewPubkey(string(rune('a'+i)))] = lamports(uint64(slot)*100 + uint64(i))
		}
		db.Store(slot, accts)
		db.AddRoot(slot)
	}

	entries := db.SnapshotStorages(6)
	paths := StoragePaths(entries)
	reversed := make([]string, len(paths))
	for i := range paths {
		reversed[len(paths)-1-i] = paths[i]
	}

	ctx := context.Background()
	h1, err := h.HashFiles(ctx, paths)
	if err != nil {
		t.Fatalf("HashFiles: %v", err)
	}
	h2, err := h.HashFiles(ctx, reversed)
	if err != nil {
		t.Fatalf("HashFiles: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash depends on input order: %s != %s", h1, h2)
	}
}

func TestHasher_ZeroLamportExcluded(t *testing.T) {
	db := newTestDB(t)
	h := newTestHasher(t)
	a, b := domain.NewPubkey("a"), domain.NewPubkey("b")

	db.Store(1, map[domain.Pubkey]domain.Account{a: lamports(1), b: lamports(1)})
	db.Store(2, map[domain.Pubkey]domain.Account{b: lamports(0)})

	other := newTestDB(t)
	other.Store(1, map[domain.Pubkey]domain.Account{a: lamports(1)})

	ctx := context.Background()
	got, err := h.HashStorages(ctx, append(db.StoragesForSlot(1), db.StoragesForSlot(2)...))
	if err != nil {
		t.Fatalf("HashStorages: %v", err)
	}
	want, err := h.HashStorages(ctx, other.StoragesForSlot(1))
	if err != nil {
		t.Fatalf("HashStorages: %v", err)
	}
	if got != want {
		t.Errorf("zero-lamport account affected the hash")
	}
}

func TestHasher_CancelledContext(t *testing.T) {
	db := newTestDB(t)
	h := newTestHasher(t)
	db.Store(1, map[domain.Pubkey]domain.Account{domain.NewPubkey("a"): lamports(1)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.HashStorages(ctx, db.StoragesForSlot(1)); err == nil {
		t.Error("HashStorages with cancelled context should fail")
	}
}

func TestDeltaHash(t *testing.T) {
	a := map[domain.Pubkey]domain.Account{domain.NewPubkey("x"): lamports(1)}
	b := map[domain.Pubkey]domain.Account{domain.NewPubkey("x"): lamports(0)}
	if DeltaHash(a) == DeltaHash(b) {
		t.Error("zero-lamport write should change the delta hash")
	}
	if DeltaHash(nil) != DeltaHash(map[domain.Pubkey]domain.Account{}) {
		t.Error("empty deltas should hash equal")
	}
}

func TestPrunedBanks(t *testing.T) {
	p := NewPrunedBanks()
	p.BankDropped(3)
	p.BankDropped(5)

	select {
	case <-p.Signal():
	default:
		t.Fatal("no signal after BankDropped")
	}
	got := p.Drain()
	if len(got) != 2 || got[0] != 3 || got[1] != 5 {
		t.Errorf("Drain() = %v, want [3 5]", got)
	}
	if p.Len() != 0 {
		t.Errorf("Len() after Drain = %d", p.Len())
	}
}

func TestNewHasher_Workers(t *testing.T) {
	if n := DefaultHashWorkers(); n < 1 {
		t.Fatalf("DefaultHashWorkers() = %d, want at least 1", n)
	}
	for _, tt := range []struct{ in, want int }{{3, 3}, {0, DefaultHashWorkers()}, {-1, DefaultHashWorkers()}} {
		h := NewHasher(tt.in)
		if got := h.Workers(); got != tt.want {
			t.Errorf("NewHasher(%d).Workers() = %d, want %d", tt.in, got, tt.want)
		}
		h.Stop()
	}
}

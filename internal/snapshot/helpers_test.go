package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/yndnr/ledgersnap/internal/accounts"
	"github.com/yndnr/ledgersnap/internal/bank"
	"github.com/yndnr/ledgersnap/internal/core/domain"
)

var (
	mint  = domain.NewPubkey("mint")
	alice = domain.NewPubkey("alice")
	bob   = domain.NewPubkey("bob")
)

type testEnv struct {
	dir     string
	db      *accounts.DB
	hasher  *accounts.Hasher
	genesis *bank.Bank
	cfg     ArchiveConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	db, err := accounts.New(accounts.Config{
		AccountPaths: []string{filepath.Join(dir, "accounts-a"), filepath.Join(dir, "accounts-b")},
		Index:        accounts.IndexConfig{InMemory: true},
	})
	if err != nil {
		t.Fatalf("accounts.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	hasher := accounts.NewHasher(2)
	t.Cleanup(hasher.Stop)

	genesis, err := bank.NewGenesis(db, bank.NewStatusCache(0), map[domain.Pubkey]domain.Account{
		mint: {Lamports: 1_000_000, Owner: domain.NewPubkey("system")},
	})
	if err != nil {
		t.Fatalf("NewGenesis: %v", err)
	}

	return &testEnv{
		dir:     dir,
		db:      db,
		hasher:  hasher,
		genesis: genesis,
		cfg: ArchiveConfig{
			BankSnapshotsDir:               filepath.Join(dir, "bank-snapshots"),
			ArchivesDir:                    filepath.Join(dir, "archives"),
			Format:                         ArchiveFormatTarZstd,
			MaxFullArchivesToRetain:        2,
			MaxIncrementalArchivesToRetain: 4,
		},
	}
}

// advance creates a rooted child of parent at slot after applying transfers
// of n lamports from mint to each recipient.
func (e *testEnv) advance(t *testing.T, parent *bank.Bank, slot domain.Slot, n uint64, to ...domain.Pubkey) *bank.Bank {
	t.Helper()
	b, err := bank.NewFromParent(parent, slot)
	if err != nil {
		t.Fatalf("NewFromParent(%d): %v", slot, err)
	}
	for i, pk := range to {
		tx := bank.Transaction{
			Signature: domain.NewSignature(slot.String() + "/" + pk.String() + "/" + string(rune('a'+i))),
			From:      mint,
			To:        pk,
			Lamports:  n,
		}
		if err := b.ProcessTransaction(tx); err != nil {
			t.Fatalf("ProcessTransaction(%d): %v", slot, err)
		}
	}
	if err := b.Freeze(); err != nil {
		t.Fatalf("Freeze(%d): %v", slot, err)
	}
	if err := b.Squash(); err != nil {
		t.Fatalf("Squash(%d): %v", slot, err)
	}
	return b
}

func (e *testEnv) restoreConfig(t *testing.T) RestoreConfig {
	t.Helper()
	dir := t.TempDir()
	return RestoreConfig{
		ArchivesDir:      e.cfg.ArchivesDir,
		BankSnapshotsDir: filepath.Join(dir, "bank-snapshots"),
		AccountPaths:     []string{filepath.Join(dir, "accounts-1"), filepath.Join(dir, "accounts-2"), filepath.Join(dir, "accounts-3")},
		Index:            accounts.IndexConfig{InMemory: true},
		Hasher:           e.hasher,
	}
}

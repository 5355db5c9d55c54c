package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yndnr/ledgersnap/internal/accounts"
	"github.com/yndnr/ledgersnap/internal/bank"
	"github.com/yndnr/ledgersnap/internal/core/domain"
	"github.com/yndnr/ledgersnap/internal/forks"
	"github.com/yndnr/ledgersnap/internal/snapshot"
	"github.com/yndnr/ledgersnap/internal/telemetry/logger"
	"github.com/yndnr/ledgersnap/internal/telemetry/metric"
)

var mint = domain.NewPubkey("mint")

type testNode struct {
	dir     string
	db      *accounts.DB
	sc      *bank.StatusCache
	hasher  *accounts.Hasher
	pruned  *accounts.PrunedBanks
	forks   *forks.BankForks
	archive snapshot.ArchiveConfig
	metrics *metric.Registry
}

func newTestNode(t *testing.T, fullInterval, incrementalInterval uint64) *testNode {
	t.Helper()
	dir := t.TempDir()

	db, err := accounts.New(accounts.Config{
		AccountPaths: []string{filepath.Join(dir, "accounts")},
		Index:        accounts.IndexConfig{InMemory: true},
		Logger:       logger.Discard(),
	})
	if err != nil {
		t.Fatalf("accounts.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	hasher := accounts.NewHasher(2)
	t.Cleanup(hasher.Stop)

	sc := bank.NewStatusCache(0)
	genesis, err := bank.NewGenesis(db, sc, map[domain.Pubkey]domain.Account{
		mint: {Lamports: 1_000_000, Owner: domain.NewPubkey("system")},
	})
	if err != nil {
		t.Fatalf("NewGenesis: %v", err)
	}

	pruned := accounts.NewPrunedBanks()
	f, err := forks.New(genesis, forks.Config{
		FullSnapshotInterval:        fullInterval,
		IncrementalSnapshotInterval: incrementalInterval,
		Observer:                    pruned,
	})
	if err != nil {
		t.Fatalf("forks.New: %v", err)
	}

	return &testNode{
		dir:    dir,
		db:     db,
		sc:     sc,
		hasher: hasher,
		pruned: pruned,
		forks:  f,
		archive: snapshot.ArchiveConfig{
			BankSnapshotsDir:               filepath.Join(dir, "bank-snapshots"),
			ArchivesDir:                    filepath.Join(dir, "archives"),
			Format:                         snapshot.ArchiveFormatTar,
			MaxFullArchivesToRetain:        2,
			MaxIncrementalArchivesToRetain: 4,
			MaxBankSnapshotsToRetain:       1,
		},
		metrics: metric.NewRegistry(),
	}
}

func signatureFor(slot domain.Slot) domain.Signature {
	return domain.NewSignature("tx/" + slot.String())
}

// grow inserts a frozen child of parent at slot that pays 10 lamports from
// mint to an account named after the slot.
func (n *testNode) grow(t *testing.T, parent, slot domain.Slot) *bank.Bank {
	t.Helper()
	p, err := n.forks.Get(parent)
	if err != nil {
		t.Fatalf("Get(%d): %v", parent, err)
	}
	b, err := bank.NewFromParent(p, slot)
	if err != nil {
		t.Fatalf("NewFromParent(%d): %v", slot, err)
	}
	tx := bank.Transaction{
		Signature: signatureFor(slot),
		From:      mint,
		To:        domain.NewPubkey("acct/" + slot.String()),
		Lamports:  10,
	}
	if err := b.ProcessTransaction(tx); err != nil {
		t.Fatalf("ProcessTransaction(%d): %v", slot, err)
	}
	if err := b.Freeze(); err != nil {
		t.Fatalf("Freeze(%d): %v", slot, err)
	}
	if _, err := n.forks.Insert(b); err != nil {
		t.Fatalf("Insert(%d): %v", slot, err)
	}
	return b
}

func (n *testNode) setRoot(t *testing.T, slot domain.Slot, sender forks.RequestSender) {
	t.Helper()
	if _, err := n.forks.SetRoot(slot, sender); err != nil {
		t.Fatalf("SetRoot(%d): %v", slot, err)
	}
}

func (n *testNode) handler(t *testing.T, cfg HandlerConfig, out chan *snapshot.AccountsPackage) (*RequestHandler, *RequestQueue) {
	t.Helper()
	cfg.Archive = n.archive
	cfg.Metrics = n.metrics
	cfg.Logger = logger.Discard()
	q := NewRequestQueue()
	return NewRequestHandler(cfg, q, n.hasher, out), q
}

func stagingDirs(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("ReadDir: %v", err)
	}
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), snapshot.StagingDirPrefix) {
			out = append(out, e.Name())
		}
	}
	return out
}

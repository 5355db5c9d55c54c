package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/yndnr/ledgersnap/internal/accounts"
	"github.com/yndnr/ledgersnap/internal/core/domain"
	"github.com/yndnr/ledgersnap/internal/snapshot"
	"github.com/yndnr/ledgersnap/internal/telemetry/logger"
)

func TestServices_EndToEndRestore(t *testing.T) {
	n := newTestNode(t, 4, 2)
	announcer := NewChannelAnnouncer(32)

	svc := NewServices(Config{
		Archive:                     n.archive,
		FullSnapshotInterval:        4,
		IncrementalSnapshotInterval: 2,
		LoopInterval:                10 * time.Millisecond,
		Announcer:                   announcer,
		OnFatal:                     func(err error) { t.Errorf("fatal: %v", err) },
		Metrics:                     n.metrics,
		Logger:                      logger.Discard(),
	}, n.db, n.sc, n.pruned, n.hasher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	stopped := false
	stop := func() {
		if !stopped {
			stopped = true
			svc.Stop()
		}
	}
	defer stop()

	const last = domain.Slot(12)
	for s := domain.Slot(1); s <= last; s++ {
		n.grow(t, s-1, s)
		n.setRoot(t, s, svc.Requests)
	}
	want, err := n.forks.Get(last)
	if err != nil {
		t.Fatalf("Get(%d): %v", last, err)
	}

	deadline := time.After(20 * time.Second)
	for done := false; !done; {
		select {
		case info := <-announcer.Announcements():
			done = info.Slot == last && !info.Incremental
		case <-deadline:
			t.Fatalf("no full archive announced for slot %d", last)
		}
	}
	stop()
	if err := svc.Err(); err != nil {
		t.Fatalf("services error: %v", err)
	}

	dir := t.TempDir()
	res, err := snapshot.BankFromLatestSnapshotArchives(context.Background(), snapshot.RestoreConfig{
		ArchivesDir:      n.archive.ArchivesDir,
		BankSnapshotsDir: filepath.Join(dir, "bank-snapshots"),
		AccountPaths:     []string{filepath.Join(dir, "accounts")},
		Index:            accounts.IndexConfig{InMemory: true},
		Hasher:           n.hasher,
		Logger:           logger.Discard(),
	})
	if err != nil {
		t.Fatalf("BankFromLatestSnapshotArchives: %v", err)
	}
	defer res.DB.Close()

	got := res.Bank
	if got.Slot() != last || got.Hash() != want.Hash() || got.Capitalization() != want.Capitalization() {
		t.Errorf("restored slot %d hash %s cap %d, want slot %d hash %s cap %d",
			got.Slot(), got.Hash(), got.Capitalization(), last, want.Hash(), want.Capitalization())
	}
	if got.AccountsHash() != want.AccountsHash() {
		t.Errorf("restored accounts hash %s, want %s", got.AccountsHash(), want.AccountsHash())
	}
	if res.Incremental != nil {
		t.Errorf("restore used incremental %s, want full only", res.Incremental.FileName())
	}
	acct, ok, err := got.Load(domain.NewPubkey("acct/" + last.String()))
	if err != nil || !ok || acct.Lamports != 10 {
		t.Errorf("restored account = %+v, %v, %v", acct, ok, err)
	}
}

func TestServices_StopReleasesPending(t *testing.T) {
	n := newTestNode(t, 1, 0)
	pkg := fullPackages(t, n, 1)[0]

	svc := NewServices(Config{Archive: n.archive, Logger: logger.Discard()}, n.db, n.sc, n.pruned, n.hasher)
	svc.Start(context.Background())
	svc.Stop()

	snap, err := snapshot.ProcessAccountsPackage(context.Background(), pkg, n.hasher)
	if err != nil {
		t.Fatalf("ProcessAccountsPackage: %v", err)
	}
	svc.Pending.Offer(snap)

	// Stop is idempotent and releases what the stopped packager left behind.
	svc.Stop()

	if svc.Pending.Peek() != nil {
		t.Error("pending package survived Stop")
	}
	if dirs := stagingDirs(t, n.archive.BankSnapshotsDir); len(dirs) != 0 {
		t.Errorf("staging dirs left after Stop: %v", dirs)
	}
}

package snapshot

import (
	"archive/tar"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/yndnr/ledgersnap/internal/accounts"
	"github.com/yndnr/ledgersnap/internal/bank"
	"github.com/yndnr/ledgersnap/internal/core/domain"
)

func assertSameBank(t *testing.T, want, got *bank.Bank) {
	t.Helper()
	if diff := cmp.Diff(want.Fields(), got.Fields()); diff != "" {
		t.Errorf("bank fields mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.SlotDeltas(), got.SlotDeltas()); diff != "" {
		t.Errorf("status cache mismatch (-want +got):\n%s", diff)
	}
	for _, pk := range []domain.Pubkey{mint, alice, bob} {
		wa, wok, werr := want.Load(pk)
		ga, gok, gerr := got.Load(pk)
		if werr != nil || gerr != nil {
			t.Fatalf("Load(%s): %v / %v", pk, werr, gerr)
		}
		if wok != gok || !wa.Equal(ga) {
			t.Errorf("Load(%s) = (%d, %v), want (%d, %v)", pk, ga.Lamports, gok, wa.Lamports, wok)
		}
	}
}

func TestFullSnapshot_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	b1 := env.advance(t, env.genesis, 1, 100, alice)
	b2 := env.advance(t, b1, 2, 50, alice, bob)

	info, err := PackageProcessAndArchiveFullSnapshot(ctx, env.cfg, env.hasher, b2)
	if err != nil {
		t.Fatalf("PackageProcessAndArchiveFullSnapshot: %v", err)
	}
	if info.Slot != 2 || info.Incremental || info.Hash != b2.AccountsHash() {
		t.Errorf("archive info = %+v", info)
	}

	res, err := BankFromLatestSnapshotArchives(ctx, env.restoreConfig(t))
	if err != nil {
		t.Fatalf("BankFromLatestSnapshotArchives: %v", err)
	}
	defer res.DB.Close()

	if res.Incremental != nil {
		t.Errorf("restored with incremental %s, want none", res.Incremental.FileName())
	}
	assertSameBank(t, b2, res.Bank)
	if !res.Bank.IsFrozen() || !res.Bank.IsRooted() {
		t.Error("restored bank should be frozen and rooted")
	}

	// Replays of transactions in the restored window are still rejected.
	child, err := bank.NewFromParent(res.Bank, 3)
	if err != nil {
		t.Fatalf("NewFromParent: %v", err)
	}
	replay := bank.Transaction{Signature: domain.NewSignature("2/" + bob.String() + "/b"), From: mint, To: bob, Lamports: 50}
	if err := child.ProcessTransaction(replay); !errors.Is(err, domain.ErrDuplicateSignature) {
		t.Errorf("replay after restore: err = %v, want ErrDuplicateSignature", err)
	}
}

func TestRestore_RejectsReplayFromSlotWithoutStorage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Slot 1 only records a failed transfer, so it writes no accounts.
	b1, err := bank.NewFromParent(env.genesis, 1)
	if err != nil {
		t.Fatalf("NewFromParent(1): %v", err)
	}
	failed := bank.Transaction{Signature: domain.NewSignature("1/overdraft"), From: alice, To: bob, Lamports: 10}
	if err := b1.ProcessTransaction(failed); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("overdraft: err = %v, want ErrInsufficientFunds", err)
	}
	if err := b1.Freeze(); err != nil {
		t.Fatalf("Freeze(1): %v", err)
	}
	if err := b1.Squash(); err != nil {
		t.Fatalf("Squash(1): %v", err)
	}
	b2 := env.advance(t, b1, 2, 100, alice)

	if _, err := PackageProcessAndArchiveFullSnapshot(ctx, env.cfg, env.hasher, b2); err != nil {
		t.Fatalf("PackageProcessAndArchiveFullSnapshot: %v", err)
	}
	res, err := BankFromLatestSnapshotArchives(ctx, env.restoreConfig(t))
	if err != nil {
		t.Fatalf("BankFromLatestSnapshotArchives: %v", err)
	}
	defer res.DB.Close()

	for name, parent := range map[string]*bank.Bank{"original": b2, "restored": res.Bank} {
		child, err := bank.NewFromParent(parent, 3)
		if err != nil {
			t.Fatalf("%s: NewFromParent(3): %v", name, err)
		}
		if err := child.ProcessTransaction(failed); !errors.Is(err, domain.ErrDuplicateSignature) {
			t.Errorf("%s: replay of slot 1 transfer: err = %v, want ErrDuplicateSignature", name, err)
		}
	}
}

func TestFullAndIncrementalSnapshot_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	b1 := env.advance(t, env.genesis, 1, 100, alice)
	b2 := env.advance(t, b1, 2, 10, bob)
	full, err := PackageProcessAndArchiveFullSnapshot(ctx, env.cfg, env.hasher, b2)
	if err != nil {
		t.Fatalf("full archive: %v", err)
	}

	b3 := env.advance(t, b2, 3, 5, alice)
	b5 := env.advance(t, b3, 5, 7, bob, alice)
	incr, err := PackageProcessAndArchiveIncrementalSnapshot(ctx, env.cfg, env.hasher, b5, full.Slot)
	if err != nil {
		t.Fatalf("incremental archive: %v", err)
	}
	if !incr.Incremental || incr.BaseSlot != 2 || incr.Slot != 5 {
		t.Errorf("incremental info = %+v", incr)
	}

	res, err := BankFromLatestSnapshotArchives(ctx, env.restoreConfig(t))
	if err != nil {
		t.Fatalf("BankFromLatestSnapshotArchives: %v", err)
	}
	defer res.DB.Close()

	if res.Incremental == nil || res.Incremental.Slot != 5 {
		t.Fatalf("restore did not use the incremental archive")
	}
	assertSameBank(t, b5, res.Bank)
}

func TestIncrementalArchive_OnlyHoldsNewStorages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	b1 := env.advance(t, env.genesis, 1, 100, alice)
	b2 := env.advance(t, b1, 2, 1, bob)
	if _, err := b2.UpdateAccountsHash(ctx, env.hasher); err != nil {
		t.Fatal(err)
	}
	bs, err := AddBankSnapshot(env.cfg.BankSnapshotsDir, b2, b2.SlotDeltas(), DefaultSnapshotVersion)
	if err != nil {
		t.Fatal(err)
	}
	pkg, err := NewIncrementalAccountsPackage(env.cfg.PackageConfig(), b2, bs, b2.SlotDeltas(), 1)
	if err != nil {
		t.Fatalf("NewIncrementalAccountsPackage: %v", err)
	}
	defer pkg.Cleanup()

	if len(pkg.Storages) != 1 || filepath.Base(pkg.Storages[0])[:2] != "2." {
		t.Errorf("archived storages = %v, want only slot 2", pkg.Storages)
	}
	if len(pkg.HashOnlyStorages) != 2 {
		t.Errorf("hash-only storages = %v, want slots 0 and 1", pkg.HashOnlyStorages)
	}
	if _, err := ProcessAccountsPackage(ctx, pkg, env.hasher); err != nil {
		t.Errorf("ProcessAccountsPackage: %v", err)
	}

	if _, err := NewIncrementalAccountsPackage(env.cfg.PackageConfig(), b2, bs, nil, 2); !errors.Is(err, domain.ErrInvalidIncremental) {
		t.Errorf("base == slot: err = %v, want ErrInvalidIncremental", err)
	}
}

func TestPackage_SurvivesBankSnapshotPurge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	b1 := env.advance(t, env.genesis, 1, 100, alice)
	if _, err := b1.UpdateAccountsHash(ctx, env.hasher); err != nil {
		t.Fatal(err)
	}
	bs, err := AddBankSnapshot(env.cfg.BankSnapshotsDir, b1, b1.SlotDeltas(), DefaultSnapshotVersion)
	if err != nil {
		t.Fatal(err)
	}
	pkg, err := NewFullAccountsPackage(env.cfg.PackageConfig(), b1, bs, b1.SlotDeltas())
	if err != nil {
		t.Fatalf("NewFullAccountsPackage: %v", err)
	}

	if err := RemoveBankSnapshot(env.cfg.BankSnapshotsDir, 1); err != nil {
		t.Fatalf("RemoveBankSnapshot: %v", err)
	}
	if _, err := GetHighestBankSnapshot(env.cfg.BankSnapshotsDir); !errors.Is(err, domain.ErrBankSnapshotNotFound) {
		t.Fatalf("bank snapshot still listed: %v", err)
	}

	snap, err := ProcessAccountsPackage(ctx, pkg, env.hasher)
	if err != nil {
		t.Fatalf("ProcessAccountsPackage: %v", err)
	}
	info, err := ArchiveSnapshotPackage(snap, env.cfg.ArchivesDir, NewWriteLimiter(1<<20))
	if err != nil {
		t.Fatalf("ArchiveSnapshotPackage: %v", err)
	}
	if err := VerifySnapshotArchive(info, pkg.StagingDir); err != nil {
		t.Errorf("VerifySnapshotArchive: %v", err)
	}
	if err := snap.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(pkg.StagingDir); !os.IsNotExist(err) {
		t.Error("staging directory left behind")
	}
}

func TestProcessAccountsPackage_HashMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	b1 := env.advance(t, env.genesis, 1, 100, alice)
	if _, err := b1.UpdateAccountsHash(ctx, env.hasher); err != nil {
		t.Fatal(err)
	}
	pkg, err := NewHashOnlyAccountsPackage(env.cfg.PackageConfig(), b1)
	if err != nil {
		t.Fatal(err)
	}
	if snap, err := ProcessAccountsPackage(ctx, pkg, env.hasher); err != nil || snap != nil {
		t.Fatalf("hash-only package: (%v, %v), want (nil, nil)", snap, err)
	}

	pkg.ExpectedHash = domain.HashBytes([]byte("wrong"))
	_, err = ProcessAccountsPackage(ctx, pkg, env.hasher)
	if !errors.Is(err, domain.ErrAccountsHashMismatch) {
		t.Fatalf("err = %v, want ErrAccountsHashMismatch", err)
	}
	if !domain.IsFatal(err) {
		t.Error("hash mismatch should be fatal")
	}
}

func TestRestore_RejectsTamperedArchiveHash(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	b1 := env.advance(t, env.genesis, 1, 100, alice)
	info, err := PackageProcessAndArchiveFullSnapshot(ctx, env.cfg, env.hasher, b1)
	if err != nil {
		t.Fatal(err)
	}
	bogus := filepath.Join(env.cfg.ArchivesDir, FullArchiveFileName(1, domain.HashBytes([]byte("bogus")), info.Format))
	if err := os.Rename(info.Path, bogus); err != nil {
		t.Fatal(err)
	}

	_, err = BankFromLatestSnapshotArchives(ctx, env.restoreConfig(t))
	if !errors.Is(err, domain.ErrAccountsHashMismatch) {
		t.Errorf("err = %v, want ErrAccountsHashMismatch", err)
	}
}

func TestRestore_RejectsUnsupportedVersion(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Version = "2.0.0"
	ctx := context.Background()

	b1 := env.advance(t, env.genesis, 1, 100, alice)
	if _, err := PackageProcessAndArchiveFullSnapshot(ctx, env.cfg, env.hasher, b1); err != nil {
		t.Fatal(err)
	}

	_, err := BankFromLatestSnapshotArchives(ctx, env.restoreConfig(t))
	if !errors.Is(err, domain.ErrUnsupportedVersion) {
		t.Errorf("err = %v, want ErrUnsupportedVersion", err)
	}
}

func TestRestore_ConfigurationErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cfg := env.restoreConfig(t)
	if _, err := BankFromLatestSnapshotArchives(ctx, cfg); !errors.Is(err, domain.ErrNoFullArchive) {
		t.Errorf("empty archive dir: err = %v, want ErrNoFullArchive", err)
	}

	cfg.Index = accounts.IndexConfig{}
	if _, err := BankFromLatestSnapshotArchives(ctx, cfg); !errors.Is(err, domain.ErrInvalidIndexConfig) {
		t.Errorf("no index backend: err = %v, want ErrInvalidIndexConfig", err)
	}
	cfg.Index = accounts.IndexConfig{InMemory: true, Dir: t.TempDir()}
	if _, err := BankFromLatestSnapshotArchives(ctx, cfg); !errors.Is(err, domain.ErrInvalidIndexConfig) {
		t.Errorf("two index backends: err = %v, want ErrInvalidIndexConfig", err)
	}

	hash := domain.HashBytes([]byte("h"))
	full := ArchiveInfo{Path: "x", Slot: 10, Hash: hash}
	incr := ArchiveInfo{Path: "y", Slot: 12, BaseSlot: 9, Hash: hash, Incremental: true}
	cfg.Index = accounts.IndexConfig{InMemory: true}
	if _, err := BankFromSnapshotArchives(ctx, cfg, full, &incr); !errors.Is(err, domain.ErrBaseArchiveMissing) {
		t.Errorf("mismatched base: err = %v, want ErrBaseArchiveMissing", err)
	}
}

func TestUnpackArchive_RejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.tar")

	f, err := os.Create(archive)
	if err != nil {
		t.Fatal(err)
	}
	tw := tar.NewWriter(f)
	body := []byte("owned")
	tw.WriteHeader(&tar.Header{Name: "accounts/../../escape", Mode: 0640, Size: int64(len(body)), Typeflag: tar.TypeReg})
	tw.Write(body)
	tw.Close()
	f.Close()

	dst := filepath.Join(dir, "out")
	os.Mkdir(dst, 0750)
	if err := UnpackArchive(archive, ArchiveFormatTar, dst); !errors.Is(err, domain.ErrArchiveCorrupted) {
		t.Errorf("err = %v, want ErrArchiveCorrupted", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape")); !os.IsNotExist(err) {
		t.Error("member escaped the destination")
	}
}

func TestBankSnapshots_ListAndPurge(t *testing.T) {
	env := newTestEnv(t)

	parent := env.genesis
	for slot := domain.Slot(1); slot <= 3; slot++ {
		parent = env.advance(t, parent, slot, 1, alice)
		if _, err := AddBankSnapshot(env.cfg.BankSnapshotsDir, parent, parent.SlotDeltas(), DefaultSnapshotVersion); err != nil {
			t.Fatalf("AddBankSnapshot(%d): %v", slot, err)
		}
	}

	highest, err := GetHighestBankSnapshot(env.cfg.BankSnapshotsDir)
	if err != nil || highest.Slot != 3 {
		t.Fatalf("GetHighestBankSnapshot = (%+v, %v)", highest, err)
	}
	fields, deltas, err := LoadBankSnapshot(highest)
	if err != nil {
		t.Fatalf("LoadBankSnapshot: %v", err)
	}
	if diff := cmp.Diff(parent.Fields(), fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
	if len(deltas) != 4 {
		t.Errorf("got %d slot deltas, want 4", len(deltas))
	}

	removed, err := PurgeOldBankSnapshots(env.cfg.BankSnapshotsDir, 1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]domain.Slot{1, 2}, removed); diff != "" {
		t.Errorf("removed mismatch (-want +got):\n%s", diff)
	}
	infos, _ := GetBankSnapshots(env.cfg.BankSnapshotsDir)
	if len(infos) != 1 || infos[0].Slot != 3 {
		t.Errorf("remaining bank snapshots = %+v", infos)
	}
	if err := RemoveBankSnapshot(env.cfg.BankSnapshotsDir, 9); !errors.Is(err, domain.ErrBankSnapshotNotFound) {
		t.Errorf("RemoveBankSnapshot(9) err = %v, want ErrBankSnapshotNotFound", err)
	}
}

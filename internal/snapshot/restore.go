package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/ledgersnap/internal/accounts"
	"github.com/yndnr/ledgersnap/internal/bank"
	"github.com/yndnr/ledgersnap/internal/core/domain"
)

// RestoreConfig configures a restore.
type RestoreConfig struct {
	ArchivesDir string
	// BankSnapshotsDir hosts the temporary unpack directories.
	BankSnapshotsDir string

	// AccountPaths receive the restored storages. Existing storage files in
	// them are removed first.
	AccountPaths    []string
	Index           accounts.IndexConfig
	IndexGCInterval time.Duration

	MaxCacheEntries int
	Hasher          *accounts.Hasher
	Logger          *slog.Logger
}

// RestoreResult is a restored bank and the archives it came from.
type RestoreResult struct {
	Bank        *bank.Bank
	DB          *accounts.DB
	Full        ArchiveInfo
	Incremental *ArchiveInfo
}

// BankFromLatestSnapshotArchives restores from the highest full archive in
// cfg.ArchivesDir and, when present, the highest incremental archive built
// on it.
func BankFromLatestSnapshotArchives(ctx context.Context, cfg RestoreConfig) (*RestoreResult, error) {
	if err := cfg.Index.Validate(); err != nil {
		return nil, err
	}
	full, err := GetHighestFullArchive(cfg.ArchivesDir)
	if err != nil {
		return nil, err
	}
	incr, ok, err := GetHighestIncrementalArchive(cfg.ArchivesDir, full.Slot)
	if err != nil {
		return nil, err
	}
	if !ok {
		return BankFromSnapshotArchives(ctx, cfg, full, nil)
	}
	return BankFromSnapshotArchives(ctx, cfg, full, &incr)
}

// BankFromSnapshotArchives restores from the given archives. incremental may
// be nil; otherwise its base must be full.
//
// The restored accounts hash is recomputed from the storages and must match
// the archive; a mismatch returns ErrAccountsHashMismatch.
func BankFromSnapshotArchives(ctx context.Context, cfg RestoreConfig, full ArchiveInfo, incremental *ArchiveInfo) (*RestoreResult, error) {
	start := time.Now()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "restore")

	if err := cfg.Index.Validate(); err != nil {
		return nil, err
	}
	if cfg.Hasher == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("restore needs a hasher")
	}
	if full.Incremental {
		return nil, domain.ErrInvalidArgument.WithDetailsf("%s is not a full archive", full.FileName())
	}
	if incremental != nil {
		if !incremental.Incremental {
			return nil, domain.ErrInvalidArgument.WithDetailsf("%s is not an incremental archive", incremental.FileName())
		}
		if incremental.BaseSlot != full.Slot {
			return nil, domain.ErrBaseArchiveMissing.WithDetailsf("%s needs base %d, got %s",
				incremental.FileName(), incremental.BaseSlot, full.FileName())
		}
	}

	if err := os.MkdirAll(cfg.BankSnapshotsDir, 0750); err != nil {
		return nil, fmt.Errorf("snapshot: create bank snapshots dir: %w", err)
	}
	if _, err := accounts.RemoveStorageFiles(cfg.AccountPaths); err != nil {
		return nil, fmt.Errorf("snapshot: clear account paths: %w", err)
	}

	archives := []ArchiveInfo{full}
	if incremental != nil {
		archives = append(archives, *incremental)
	}
	unpacked := make([]string, len(archives))
	defer func() {
		for _, d := range unpacked {
			if d != "" {
				os.RemoveAll(d)
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range archives {
		dir, err := os.MkdirTemp(cfg.BankSnapshotsDir, TmpBankSnapshotPrefix+"unpack-")
		if err != nil {
			return nil, fmt.Errorf("snapshot: create unpack dir: %w", err)
		}
		unpacked[i] = dir
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := UnpackArchive(a.Path, a.Format, dir); err != nil {
				return err
			}
			_, err := readVersionFile(dir)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	top := archives[len(archives)-1]
	fields, deltas, err := readUnpackedBank(unpacked[len(unpacked)-1], top)
	if err != nil {
		return nil, err
	}

	var storageFiles []string
	for _, d := range unpacked {
		files, err := filepath.Glob(filepath.Join(d, AccountsDirName, "*"))
		if err != nil {
			return nil, err
		}
		storageFiles = append(storageFiles, files...)
	}
	placed, err := placeStorages(storageFiles, cfg.AccountPaths)
	if err != nil {
		return nil, err
	}

	db, err := accounts.New(accounts.Config{
		AccountPaths:    cfg.AccountPaths,
		Index:           cfg.Index,
		IndexGCInterval: cfg.IndexGCInterval,
		Logger:          cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	b, err := rebuildBank(ctx, cfg, db, placed, fields, deltas, top)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("restored bank from snapshot archives",
		"slot", uint64(fields.Slot),
		"full_archive", full.FileName(),
		"incremental", incremental != nil,
		"storages", len(placed),
		"duration", time.Since(start),
	)
	return &RestoreResult{Bank: b, DB: db, Full: full, Incremental: incremental}, nil
}

func rebuildBank(ctx context.Context, cfg RestoreConfig, db *accounts.DB, storages []string, fields bank.Fields, deltas []bank.SlotDelta, top ArchiveInfo) (*bank.Bank, error) {
	if err := db.AddStorageFiles(ctx, storages); err != nil {
		return nil, fmt.Errorf("snapshot: index storages: %w", err)
	}
	db.AddRoot(fields.Slot)
	// Rooted slots that wrote no accounts own no storage, but their
	// signatures must stay visible to dedup.
	for _, d := range deltas {
		if d.IsRoot && d.Slot <= fields.Slot {
			db.AddRoot(d.Slot)
		}
	}

	got, err := cfg.Hasher.HashStorages(ctx, db.SnapshotStorages(fields.Slot))
	if err != nil {
		return nil, err
	}
	if got != top.Hash || got != fields.AccountsHash {
		return nil, domain.ErrAccountsHashMismatch.WithDetailsf("%s: computed %s, archive has %s, bank has %s",
			top.FileName(), got, top.Hash, fields.AccountsHash)
	}

	sc := bank.NewStatusCache(cfg.MaxCacheEntries)
	sc.AppendSlotDeltas(deltas)
	return bank.FromFields(fields, db, sc), nil
}

// readUnpackedBank reads the bank fields and status cache of an unpacked
// archive and checks them against the archive name.
func readUnpackedBank(dir string, a ArchiveInfo) (bank.Fields, []bank.SlotDelta, error) {
	raw, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(bankMember(a.Slot))))
	if err != nil {
		return bank.Fields{}, nil, domain.ErrArchiveCorrupted.WithDetailsf("%s: bank file", a.FileName()).WithCause(err)
	}
	fields, err := DecodeBankFields(raw)
	if err != nil {
		return bank.Fields{}, nil, err
	}
	if fields.Slot != a.Slot {
		return bank.Fields{}, nil, domain.ErrArchiveCorrupted.WithDetailsf("%s holds bank slot %d", a.FileName(), fields.Slot)
	}

	raw, err = os.ReadFile(filepath.Join(dir, SnapshotsDirName, StatusCacheFileName))
	if err != nil {
		return bank.Fields{}, nil, domain.ErrArchiveCorrupted.WithDetailsf("%s: status cache", a.FileName()).WithCause(err)
	}
	deltas, err := DecodeSlotDeltas(raw)
	if err != nil {
		return bank.Fields{}, nil, err
	}
	return fields, deltas, nil
}

// placeStorages moves storage files into the account paths, round-robin
// over the sorted file names.
func placeStorages(files, accountPaths []string) ([]string, error) {
	if len(accountPaths) == 0 {
		return nil, domain.ErrInvalidArgument.WithDetails("at least one account path is required")
	}
	sort.Slice(files, func(i, j int) bool { return filepath.Base(files[i]) < filepath.Base(files[j]) })

	out := make([]string, 0, len(files))
	for i, src := range files {
		dir := accountPaths[i%len(accountPaths)]
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("snapshot: create account path: %w", err)
		}
		dst := filepath.Join(dir, filepath.Base(src))
		if err := moveFile(src, dst); err != nil {
			return nil, fmt.Errorf("snapshot: place storage %s: %w", filepath.Base(src), err)
		}
		out = append(out, dst)
	}
	return out, nil
}

func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return err
	}
	if err := linkOrCopy(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

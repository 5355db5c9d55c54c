package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"
	"golang.org/x/sync/errgroup"

	"github.com/yndnr/ledgersnap/internal/core/domain"
	"github.com/yndnr/ledgersnap/pkg/cmap"
)

// DefaultIndexGCInterval is how often an on-disk index runs value log GC.
const DefaultIndexGCInterval = 10 * time.Minute

// Config configures a DB.
type Config struct {
	// AccountPaths are the directories storage files are spread across.
	AccountPaths []string

	// Index selects the account index backend.
	Index IndexConfig

	// IndexGCInterval is the value log GC period for on-disk indexes.
	IndexGCInterval time.Duration

	Logger *slog.Logger
}

// DB is the account store: per-slot storage files plus an index of every
// account version. Slots become rooted as the fork set advances; rooted
// storages are never removed.
type DB struct {
	cfg    Config
	logger *slog.Logger
	index  *Index

	storages *cmap.Map[domain.Slot, []*StorageEntry]
	nextID   atomic.Uint32
	nextPath atomic.Uint64

	rootsMu sync.RWMutex
	roots   *btree.BTreeG[domain.Slot]
}

// New opens a DB. Account paths are created if missing.
func New(cfg Config) (*DB, error) {
	if len(cfg.AccountPaths) == 0 {
		return nil, domain.ErrInvalidArgument.WithDetails("at least one account path is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IndexGCInterval == 0 {
		cfg.IndexGCInterval = DefaultIndexGCInterval
	}

	for _, p := range cfg.AccountPaths {
		if err := os.MkdirAll(p, 0750); err != nil {
			return nil, fmt.Errorf("accounts: create account path: %w", err)
		}
	}

	index, err := openIndex(cfg.Index, cfg.IndexGCInterval, cfg.Logger)
	if err != nil {
		return nil, err
	}

	return &DB{
		cfg:      cfg,
		logger:   cfg.Logger,
		index:    index,
		storages: cmap.New[domain.Slot, []*StorageEntry](cmap.DefaultShardCount, cmap.Uint64Key[domain.Slot]),
		roots:    btree.NewOrderedG[domain.Slot](32),
	}, nil
}

// AccountPaths returns the configured storage directories.
func (db *DB) AccountPaths() []string {
	return append([]string(nil), db.cfg.AccountPaths...)
}

func (db *DB) nextAccountPath() string {
	n := db.nextPath.Add(1) - 1
	return db.cfg.AccountPaths[n%uint64(len(db.cfg.AccountPaths))]
}

// Store writes the accounts of one slot into a new storage file, ordered by
// pubkey, and indexes them.
func (db *DB) Store(slot domain.Slot, accounts map[domain.Pubkey]domain.Account) (*StorageEntry, error) {
	if len(accounts) == 0 {
		return nil, nil
	}

	records := make([]StoredAccount, 0, len(accounts))
	for pk, acct := range accounts {
		records = append(records, StoredAccount{Pubkey: pk, Account: acct})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Pubkey.Compare(records[j].Pubkey) < 0
	})

	id := db.nextID.Add(1) - 1
	entry, offsets, err := writeStorage(db.nextAccountPath(), slot, id, records)
	if err != nil {
		return nil, err
	}

	entries := make([]indexEntry, len(records))
	for i, r := range records {
		entries[i] = indexEntry{pubkey: r.Pubkey, loc: Location{Slot: slot, StorageID: id, Offset: offsets[i]}}
	}
	if err := db.index.upsert(entries); err != nil {
		os.Remove(entry.Path())
		return nil, err
	}

	db.storages.Update(slot, func(old []*StorageEntry, _ bool) []*StorageEntry {
		return append(old, entry)
	})
	return entry, nil
}

// Load returns the newest version of pk among the slots accepted by visible.
// Zero-lamport accounts are reported as absent.
func (db *DB) Load(pk domain.Pubkey, visible func(domain.Slot) bool) (domain.Account, bool, error) {
	loc, ok, err := db.index.Latest(pk, visible)
	if err != nil || !ok {
		return domain.Account{}, false, err
	}

	entry := db.findStorage(loc.Slot, loc.StorageID)
	if entry == nil {
		return domain.Account{}, false, domain.ErrStorageCorrupted.WithDetailsf("index points at missing storage %s", StorageFileName(loc.Slot, loc.StorageID))
	}
	got, acct, err := readRecordAt(entry.Path(), loc.Offset)
	if err != nil {
		return domain.Account{}, false, err
	}
	if got != pk {
		return domain.Account{}, false, domain.ErrStorageCorrupted.WithDetailsf("index entry for %s points at %s", pk, got)
	}
	if acct.IsZeroLamport() {
		return domain.Account{}, false, nil
	}
	return acct, true, nil
}

func (db *DB) findStorage(slot domain.Slot, id uint32) *StorageEntry {
	entries, _ := db.storages.Get(slot)
	for _, e := range entries {
		if e.ID() == id {
			return e
		}
	}
	return nil
}

// AddRoot marks slot as rooted.
func (db *DB) AddRoot(slot domain.Slot) {
	db.rootsMu.Lock()
	db.roots.ReplaceOrInsert(slot)
	db.rootsMu.Unlock()
}

// IsRooted reports whether slot has been rooted.
func (db *DB) IsRooted(slot domain.Slot) bool {
	db.rootsMu.RLock()
	defer db.rootsMu.RUnlock()
	return db.roots.Has(slot)
}

// MaxRoot returns the highest rooted slot.
func (db *DB) MaxRoot() (domain.Slot, bool) {
	db.rootsMu.RLock()
	defer db.rootsMu.RUnlock()
	return db.roots.Max()
}

// Roots returns every rooted slot in ascending order.
func (db *DB) Roots() []domain.Slot {
	db.rootsMu.RLock()
	defer db.rootsMu.RUnlock()

	out := make([]domain.Slot, 0, db.roots.Len())
	db.roots.Ascend(func(s domain.Slot) bool {
		out = append(out, s)
		return true
	})
	return out
}

// SnapshotStorages returns the storages of every rooted slot up to and
// including maxSlot, ordered by slot then id.
func (db *DB) SnapshotStorages(maxSlot domain.Slot) []*StorageEntry {
	db.rootsMu.RLock()
	var slots []domain.Slot
	db.roots.AscendLessThan(maxSlot+1, func(s domain.Slot) bool {
		slots = append(slots, s)
		return true
	})
	db.rootsMu.RUnlock()

	var out []*StorageEntry
	for _, s := range slots {
		entries, _ := db.storages.Get(s)
		out = append(out, entries...)
	}
	sortStorages(out)
	return out
}

// StoragesForSlot returns the storages written at slot.
func (db *DB) StoragesForSlot(slot domain.Slot) []*StorageEntry {
	entries, _ := db.storages.Get(slot)
	return append([]*StorageEntry(nil), entries...)
}

// PurgeSlot removes the storages and index entries of an unrooted slot. It is
// the cleanup hook for banks dropped from the fork set.
func (db *DB) PurgeSlot(slot domain.Slot) error {
	if db.IsRooted(slot) {
		return domain.ErrSlotRooted.WithDetailsf("slot %d", slot)
	}

	entries, ok := db.storages.Delete(slot)
	if !ok {
		return nil
	}

	var errs []error
	for _, e := range entries {
		records, err := e.Accounts()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		pubkeys := make([]domain.Pubkey, len(records))
		for i, r := range records {
			pubkeys[i] = r.Pubkey
		}
		if err := db.index.remove(slot, pubkeys); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(e.Path()); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("accounts: remove storage: %w", err))
		}
	}

	db.logger.Debug("purged slot", "slot", slot, "storages", len(entries))
	return errors.Join(errs...)
}

// AddStorageFiles registers existing storage files, indexes their contents
// and roots their slots. Files are read in parallel; index entries are merged
// in (slot, id) order so the result does not depend on read order.
func (db *DB) AddStorageFiles(ctx context.Context, paths []string) error {
	entries := make([]*StorageEntry, 0, len(paths))
	for _, p := range paths {
		e, err := openStorage(p)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	sortStorages(entries)

	records := make([][]StoredAccount, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, e := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := e.Accounts()
			if err != nil {
				return err
			}
			records[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var maxID uint32
	for i, e := range entries {
		e.count = len(records[i])
		batch := make([]indexEntry, len(records[i]))
		for j, r := range records[i] {
			batch[j] = indexEntry{pubkey: r.Pubkey, loc: Location{Slot: e.Slot(), StorageID: e.ID(), Offset: r.Offset}}
		}
		if err := db.index.upsert(batch); err != nil {
			return err
		}
		db.storages.Update(e.Slot(), func(old []*StorageEntry, _ bool) []*StorageEntry {
			return append(old, e)
		})
		db.AddRoot(e.Slot())
		if e.ID() > maxID {
			maxID = e.ID()
		}
	}

	for {
		cur := db.nextID.Load()
		if cur > maxID || db.nextID.CompareAndSwap(cur, maxID+1) {
			break
		}
	}
	return nil
}

// Close closes the index. Storage files are left in place.
func (db *DB) Close() error {
	return db.index.Close()
}

func sortStorages(entries []*StorageEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Slot() != entries[j].Slot() {
			return entries[i].Slot() < entries[j].Slot()
		}
		return entries[i].ID() < entries[j].ID()
	})
}

// StoragePaths returns the file paths of entries.
func StoragePaths(entries []*StorageEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path()
	}
	return out
}

// RemoveStorageFiles deletes every storage file under dirs. It is used to
// clear stale state before a restore. Other files are left alone.
func RemoveStorageFiles(dirs []string) (int, error) {
	removed := 0
	var errs []error
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, fmt.Errorf("accounts: read account path: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if _, _, err := ParseStorageFileName(e.Name()); err != nil {
				continue
			}
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

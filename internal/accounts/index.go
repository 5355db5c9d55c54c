package accounts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/yndnr/ledgersnap/internal/core/domain"
)

const (
	accountKeyPrefix = 'a'
	accountKeyLen    = 1 + 32 + 8
	locationLen      = 4 + 8

	gcDiscardRatio = 0.5
)

// IndexConfig selects where the account index lives. Exactly one of InMemory
// and Dir must be set.
type IndexConfig struct {
	InMemory bool   `koanf:"in_memory" yaml:"in_memory"`
	Dir      string `koanf:"dir" yaml:"dir"`
}

// Validate reports an inconsistent configuration as ErrInvalidIndexConfig.
func (c IndexConfig) Validate() error {
	switch {
	case c.InMemory && c.Dir != "":
		return domain.ErrInvalidIndexConfig.WithDetails("in_memory and dir are mutually exclusive")
	case !c.InMemory && c.Dir == "":
		return domain.ErrInvalidIndexConfig.WithDetails("either in_memory or dir must be set")
	}
	return nil
}

// Location points at one account version inside a storage file.
type Location struct {
	Slot      domain.Slot
	StorageID uint32
	Offset    int64
}

type indexEntry struct {
	pubkey domain.Pubkey
	loc    Location
}

// Index maps (pubkey, slot) to the location of that account version. It is
// backed by Badger, either in memory or on disk.
type Index struct {
	db     *badger.DB
	logger *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

func openIndex(cfg IndexConfig, gcInterval time.Duration, logger *slog.Logger) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts.Logger = &badgerLogger{logger: logger}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("accounts: open index: %w", err)
	}
	// The index is rebuilt from storage files after every open.
	if !cfg.InMemory {
		if err := db.DropAll(); err != nil {
			db.Close()
			return nil, fmt.Errorf("accounts: reset index: %w", err)
		}
	}

	ix := &Index{
		db:     db,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	// Value log GC only applies to on-disk indexes.
	if !cfg.InMemory && gcInterval > 0 {
		go ix.gcLoop(gcInterval)
	} else {
		close(ix.doneCh)
	}

	logger.Debug("account index opened", "in_memory", cfg.InMemory, "dir", cfg.Dir)
	return ix, nil
}

func accountKey(pk domain.Pubkey, slot domain.Slot) []byte {
	key := make([]byte, 0, accountKeyLen)
	key = append(key, accountKeyPrefix)
	key = append(key, pk[:]...)
	return binary.BigEndian.AppendUint64(key, uint64(slot))
}

func accountPrefix(pk domain.Pubkey) []byte {
	prefix := make([]byte, 0, 1+len(pk))
	prefix = append(prefix, accountKeyPrefix)
	return append(prefix, pk[:]...)
}

func encodeLocation(loc Location) []byte {
	val := make([]byte, 0, locationLen)
	val = binary.BigEndian.AppendUint32(val, loc.StorageID)
	return binary.BigEndian.AppendUint64(val, uint64(loc.Offset))
}

func decodeLocation(slot domain.Slot, val []byte) (Location, error) {
	if len(val) != locationLen {
		return Location{}, domain.ErrStorageCorrupted.WithDetailsf("index value of %d bytes", len(val))
	}
	return Location{
		Slot:      slot,
		StorageID: binary.BigEndian.Uint32(val[:4]),
		Offset:    int64(binary.BigEndian.Uint64(val[4:])),
	}, nil
}

// upsert writes a batch of entries.
func (ix *Index) upsert(entries []indexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	wb := ix.db.NewWriteBatch()
	defer wb.Cancel()

	for _, e := range entries {
		if err := wb.Set(accountKey(e.pubkey, e.loc.Slot), encodeLocation(e.loc)); err != nil {
			return fmt.Errorf("accounts: index set: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("accounts: index flush: %w", err)
	}
	return nil
}

// remove deletes the entries of pubkeys at slot.
func (ix *Index) remove(slot domain.Slot, pubkeys []domain.Pubkey) error {
	if len(pubkeys) == 0 {
		return nil
	}
	wb := ix.db.NewWriteBatch()
	defer wb.Cancel()

	for _, pk := range pubkeys {
		if err := wb.Delete(accountKey(pk, slot)); err != nil {
			return fmt.Errorf("accounts: index delete: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("accounts: index flush: %w", err)
	}
	return nil
}

// Latest returns the location of the newest version of pk whose slot is
// accepted by visible. A nil visible accepts every slot.
func (ix *Index) Latest(pk domain.Pubkey, visible func(domain.Slot) bool) (Location, bool, error) {
	prefix := accountPrefix(pk)
	seek := append(append([]byte(nil), prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)

	var (
		loc   Location
		found bool
	)
	err := ix.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			slot := domain.Slot(binary.BigEndian.Uint64(item.Key()[len(prefix):]))
			if visible != nil && !visible(slot) {
				continue
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			loc, err = decodeLocation(slot, val)
			if err != nil {
				return err
			}
			found = true
			return nil
		}
		return nil
	})
	if err != nil {
		return Location{}, false, fmt.Errorf("accounts: index lookup: %w", err)
	}
	return loc, found, nil
}

// Len returns the number of indexed account versions.
func (ix *Index) Len() (int, error) {
	n := 0
	err := ix.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{accountKeyPrefix}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// gc runs value log GC until Badger reports nothing left to rewrite.
func (ix *Index) gc() error {
	for {
		err := ix.db.RunValueLogGC(gcDiscardRatio)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) {
				return nil
			}
			return err
		}
	}
}

func (ix *Index) gcLoop(interval time.Duration) {
	defer close(ix.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ix.gc(); err != nil {
				ix.logger.Error("account index gc failed", "error", err)
			}
		case <-ix.stopCh:
			return
		}
	}
}

// Close stops the GC loop and closes Badger.
func (ix *Index) Close() error {
	close(ix.stopCh)
	<-ix.doneCh

	if err := ix.db.Close(); err != nil {
		return fmt.Errorf("accounts: close index: %w", err)
	}
	return nil
}

// badgerLogger adapts slog.Logger to Badger's Logger interface. Badger's info
// output is routine compaction chatter and is demoted to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

package accounts

import (
	"context"
	"encoding/binary"
	"errors"
	"runtime"
	"sort"
	"sync"

	"github.com/gammazero/workerpool"
	"github.com/spaolacci/murmur3"

	"github.com/yndnr/ledgersnap/internal/core/domain"
)

// BinCount is the number of pubkey bins hashed independently. It is part of
// the hash definition and must not change between writer and reader.
const BinCount = 16

// DefaultHashWorkers returns a quarter of the CPUs, at least one.
func DefaultHashWorkers() int {
	n := runtime.NumCPU() / 4
	if n < 1 {
		n = 1
	}
	return n
}

// Hasher computes accounts hashes on a bounded worker pool. Tasks from
// concurrent callers are queued FIFO, so no caller can starve another and the
// pool never runs more than its configured number of goroutines.
type Hasher struct {
	pool    *workerpool.WorkerPool
	workers int
}

// NewHasher starts a pool of workers goroutines. workers <= 0 selects
// DefaultHashWorkers.
func NewHasher(workers int) *Hasher {
	if workers <= 0 {
		workers = DefaultHashWorkers()
	}
	return &Hasher{pool: workerpool.New(workers), workers: workers}
}

// Workers returns the pool size.
func (h *Hasher) Workers() int { return h.workers }

// Stop waits for queued tasks and stops the workers.
func (h *Hasher) Stop() {
	h.pool.StopWait()
}

// HashStorages hashes the state described by entries.
func (h *Hasher) HashStorages(ctx context.Context, entries []*StorageEntry) (domain.Hash, error) {
	return h.HashFiles(ctx, StoragePaths(entries))
}

// HashFiles computes the accounts hash of the state described by a set of
// storage files.
//
// For every pubkey the newest version wins, ordered by slot, then storage id,
// then position in the file. Zero-lamport accounts are excluded. Survivors are
// split into BinCount bins by murmur3 of the pubkey; each bin is sorted by
// pubkey and hashed, and the result is blake2b over the bin hashes in order.
func (h *Hasher) HashFiles(ctx context.Context, paths []string) (domain.Hash, error) {
	type file struct {
		path string
		slot domain.Slot
		id   uint32
	}
	files := make([]file, 0, len(paths))
	for _, p := range paths {
		slot, id, err := ParseStorageFileName(p)
		if err != nil {
			return domain.Hash{}, err
		}
		files = append(files, file{path: p, slot: slot, id: id})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].slot != files[j].slot {
			return files[i].slot < files[j].slot
		}
		return files[i].id < files[j].id
	})

	records := make([][]StoredAccount, len(files))
	errs := make([]error, len(files))
	var wg sync.WaitGroup
	for i, f := range files {
		wg.Add(1)
		h.pool.Submit(func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			records[i], errs[i] = ReadStorageFile(f.path)
		})
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return domain.Hash{}, err
	}

	latest := make(map[domain.Pubkey]domain.Account)
	for _, rs := range records {
		for _, r := range rs {
			latest[r.Pubkey] = r.Account
		}
	}

	var bins [BinCount][]domain.Pubkey
	for pk, acct := range latest {
		if acct.IsZeroLamport() {
			continue
		}
		b := murmur3.Sum32(pk[:]) % BinCount
		bins[b] = append(bins[b], pk)
	}

	var binHashes [BinCount]domain.Hash
	for i := range bins {
		wg.Add(1)
		h.pool.Submit(func() {
			defer wg.Done()
			binHashes[i] = hashBin(bins[i], latest)
		})
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return domain.Hash{}, err
	}

	parts := make([][]byte, 0, BinCount)
	for i := range binHashes {
		parts = append(parts, binHashes[i][:])
	}
	return domain.HashBytes(parts...), nil
}

func hashBin(pubkeys []domain.Pubkey, accounts map[domain.Pubkey]domain.Account) domain.Hash {
	sort.Slice(pubkeys, func(i, j int) bool { return pubkeys[i].Compare(pubkeys[j]) < 0 })

	parts := make([][]byte, 0, 2*len(pubkeys)+1)
	var count [8]byte
	binary.LittleEndian.PutUint64(count[:], uint64(len(pubkeys)))
	parts = append(parts, count[:])
	for _, pk := range pubkeys {
		ah := accounts[pk].Hash(pk)
		parts = append(parts, append([]byte(nil), pk[:]...), ah[:])
	}
	return domain.HashBytes(parts...)
}

// DeltaHash hashes the accounts written in one slot, ordered by pubkey. Zero
// lamport writes are included since they delete state.
func DeltaHash(accounts map[domain.Pubkey]domain.Account) domain.Hash {
	pubkeys := make([]domain.Pubkey, 0, len(accounts))
	for pk := range accounts {
		pubkeys = append(pubkeys, pk)
	}
	return hashBin(pubkeys, accounts)
}

package forks

import (
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/yndnr/ledgersnap/internal/bank"
	"github.com/yndnr/ledgersnap/internal/core/domain"
	"github.com/yndnr/ledgersnap/internal/snapshot"
)

// DefaultAccountsHashInterval is the block height cadence at which rooted
// banks get their accounts hash recomputed.
const DefaultAccountsHashInterval = 100

// DropObserver is told about every pruned slot that was never rooted.
type DropObserver interface {
	BankDropped(slot domain.Slot)
}

// RequestSender accepts snapshot requests. Send must not block.
type RequestSender interface {
	Send(req snapshot.Request)
}

// Config configures a BankForks.
type Config struct {
	// AccountsHashInterval, FullSnapshotInterval and
	// IncrementalSnapshotInterval are block height multiples. Zero disables
	// the corresponding trigger.
	AccountsHashInterval        uint64
	FullSnapshotInterval        uint64
	IncrementalSnapshotInterval uint64

	Observer DropObserver
	Logger   *slog.Logger
}

// BankForks is the set of live banks. Every bank except the root descends
// from the root.
type BankForks struct {
	mu    sync.RWMutex
	banks map[domain.Slot]*bank.Bank
	root  domain.Slot

	lastAccountsHashSlot domain.Slot

	cfg    Config
	logger *slog.Logger
}

// New creates a fork set rooted at root, which must be frozen.
func New(root *bank.Bank, cfg Config) (*BankForks, error) {
	if root == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("root bank is nil")
	}
	if !root.IsFrozen() {
		return nil, domain.ErrInvalidRoot.WithDetailsf("root slot %d is not frozen", root.Slot())
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &BankForks{
		banks:                map[domain.Slot]*bank.Bank{root.Slot(): root},
		root:                 root.Slot(),
		lastAccountsHashSlot: root.Slot(),
		cfg:                  cfg,
		logger:               logger.With("component", "bank_forks"),
	}, nil
}

// Insert adds b. Its parent must be present and its slot unused.
func (f *BankForks) Insert(b *bank.Bank) (*bank.Bank, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot := b.Slot()
	if _, ok := f.banks[slot]; ok {
		return nil, domain.ErrDuplicateSlot.WithDetailsf("slot %d", slot)
	}
	if _, ok := f.banks[b.ParentSlot()]; !ok {
		return nil, domain.ErrParentNotFound.WithDetailsf("slot %d parent %d", slot, b.ParentSlot())
	}
	f.banks[slot] = b
	return b, nil
}

// Get returns the bank at slot.
func (f *BankForks) Get(slot domain.Slot) (*bank.Bank, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	b, ok := f.banks[slot]
	if !ok {
		return nil, domain.ErrBankNotFound.WithDetailsf("slot %d", slot)
	}
	return b, nil
}

// Root returns the root slot.
func (f *BankForks) Root() domain.Slot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.root
}

// RootBank returns the bank at the root slot.
func (f *BankForks) RootBank() *bank.Bank {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.banks[f.root]
}

// WorkingBank returns the bank with the highest slot.
func (f *BankForks) WorkingBank() *bank.Bank {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var best *bank.Bank
	for _, b := range f.banks {
		if best == nil || b.Slot() > best.Slot() {
			best = b
		}
	}
	return best
}

// LastAccountsHashSlot returns the slot of the last bank selected for a
// snapshot request.
func (f *BankForks) LastAccountsHashSlot() domain.Slot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastAccountsHashSlot
}

// Banks returns every live bank ordered by slot.
func (f *BankForks) Banks() []*bank.Bank {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sortedLocked(nil)
}

// FrozenBanks returns every frozen live bank ordered by slot.
func (f *BankForks) FrozenBanks() []*bank.Bank {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sortedLocked((*bank.Bank).IsFrozen)
}

func (f *BankForks) sortedLocked(keep func(*bank.Bank) bool) []*bank.Bank {
	out := make([]*bank.Bank, 0, len(f.banks))
	for _, b := range f.banks {
		if keep == nil || keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot() < out[j].Slot() })
	return out
}

// Ancestors maps every live slot to its live ancestors, ascending.
func (f *BankForks) Ancestors() map[domain.Slot][]domain.Slot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[domain.Slot][]domain.Slot, len(f.banks))
	for slot := range f.banks {
		out[slot] = f.ancestorsLocked(slot)
	}
	return out
}

// Descendants maps every live slot to its live descendants, ascending.
func (f *BankForks) Descendants() map[domain.Slot][]domain.Slot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[domain.Slot][]domain.Slot, len(f.banks))
	for slot := range f.banks {
		out[slot] = nil
	}
	for slot := range f.banks {
		for _, a := range f.ancestorsLocked(slot) {
			out[a] = append(out[a], slot)
		}
	}
	for slot := range out {
		s := out[slot]
		sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	}
	return out
}

// ancestorsLocked walks parent links while they stay inside the set.
func (f *BankForks) ancestorsLocked(slot domain.Slot) []domain.Slot {
	var out []domain.Slot
	b := f.banks[slot]
	for b != nil && b.Slot() != f.root {
		parent, ok := f.banks[b.ParentSlot()]
		if !ok {
			break
		}
		out = append(out, parent.Slot())
		b = parent
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// pathFromRootLocked returns the slots from the current root, exclusive, to
// slot, inclusive, ascending. ok is false when slot does not descend from
// the root.
func (f *BankForks) pathFromRootLocked(slot domain.Slot) ([]*bank.Bank, bool) {
	var path []*bank.Bank
	b := f.banks[slot]
	for b != nil && b.Slot() != f.root {
		if b.Slot() < f.root {
			return nil, false
		}
		path = append(path, b)
		b = f.banks[b.ParentSlot()]
	}
	if b == nil {
		return nil, false
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, true
}

// SetRoot advances the root to slot. Every bank between the old root and
// slot is squashed, every bank not descending from slot is pruned, and at
// most one snapshot request is handed to sender. The pruned banks are
// returned. Nothing here hashes or touches disk beyond rooting.
func (f *BankForks) SetRoot(slot domain.Slot, sender RequestSender) ([]*bank.Bank, error) {
	f.mu.Lock()

	newRoot, ok := f.banks[slot]
	if !ok {
		f.mu.Unlock()
		return nil, domain.ErrBankNotFound.WithDetailsf("slot %d", slot)
	}
	if slot == f.root {
		f.mu.Unlock()
		return nil, nil
	}
	rooted, ok := f.pathFromRootLocked(slot)
	if !ok {
		f.mu.Unlock()
		return nil, domain.ErrInvalidRoot.WithDetailsf("slot %d does not descend from root %d", slot, f.root)
	}
	if !newRoot.IsFrozen() {
		f.mu.Unlock()
		return nil, domain.ErrInvalidRoot.WithDetailsf("slot %d is not frozen", slot)
	}

	for _, b := range rooted {
		if err := b.Squash(); err != nil {
			f.mu.Unlock()
			return nil, err
		}
	}

	req, hasReq := f.selectRequestLocked(rooted, sender != nil)

	oldRoot := f.root
	f.root = slot

	var (
		removed []*bank.Bank
		dropped []domain.Slot
	)
	for s, b := range f.banks {
		if s == slot {
			continue
		}
		if _, descends := f.pathFromRootLocked(s); descends {
			continue
		}
		delete(f.banks, s)
		removed = append(removed, b)
		if !b.IsRooted() {
			dropped = append(dropped, s)
		}
	}
	f.mu.Unlock()

	sort.Slice(removed, func(i, j int) bool { return removed[i].Slot() < removed[j].Slot() })
	sort.Slice(dropped, func(i, j int) bool { return dropped[i] < dropped[j] })

	if f.cfg.Observer != nil {
		for _, s := range dropped {
			f.cfg.Observer.BankDropped(s)
		}
	}
	if hasReq {
		sender.Send(req)
	}

	f.logger.Debug("root advanced",
		"old_root", uint64(oldRoot),
		"new_root", uint64(slot),
		"squashed", len(rooted),
		"pruned", len(removed),
		"dropped", len(dropped),
		"snapshot_request", hasReq,
	)
	return removed, nil
}

// selectRequestLocked scans the newly rooted banks newest first and picks
// the first one past the last accounts hash slot whose block height hits an
// interval.
func (f *BankForks) selectRequestLocked(rooted []*bank.Bank, enabled bool) (snapshot.Request, bool) {
	if !enabled {
		return snapshot.Request{}, false
	}
	for i := len(rooted) - 1; i >= 0; i-- {
		b := rooted[i]
		if b.Slot() <= f.lastAccountsHashSlot {
			continue
		}
		height := b.BlockHeight()
		hashDue := hits(height, f.cfg.AccountsHashInterval)
		snapshotDue := hits(height, f.cfg.FullSnapshotInterval) || hits(height, f.cfg.IncrementalSnapshotInterval)
		if !hashDue && !snapshotDue {
			continue
		}

		f.lastAccountsHashSlot = b.Slot()
		return snapshot.Request{
			Bank:             b,
			SlotDeltas:       b.StatusCache().RootSlotDeltas(b.Slot()),
			ForceHash:        hashDue,
			AccountsHashOnly: !snapshotDue,
			EnqueuedAt:       time.Now(),
		}, true
	}
	return snapshot.Request{}, false
}

func hits(height, interval uint64) bool {
	return interval > 0 && height%interval == 0
}

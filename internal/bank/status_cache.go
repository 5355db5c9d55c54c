package bank

import (
	"sync"

	"github.com/google/btree"

	"github.com/yndnr/ledgersnap/internal/core/domain"
)

// MaxCacheEntries is the default number of rooted slots the status cache
// retains.
const MaxCacheEntries = 300

// TxStatus is the recorded outcome of a transaction. An empty Err means
// success.
type TxStatus struct {
	Err string
}

// SlotDelta is the set of statuses recorded in one slot.
type SlotDelta struct {
	Slot     domain.Slot
	IsRoot   bool
	Statuses map[domain.Signature]TxStatus
}

// StatusCache remembers processed transaction signatures per slot so a bank
// can reject replays. Only the most recent maxEntries rooted slots are kept;
// older roots and their statuses are evicted as new roots are added.
type StatusCache struct {
	mu         sync.RWMutex
	maxEntries int
	slots      map[domain.Slot]map[domain.Signature]TxStatus
	roots      *btree.BTreeG[domain.Slot]
}

// NewStatusCache creates a cache retaining maxEntries roots. maxEntries <= 0
// selects MaxCacheEntries.
func NewStatusCache(maxEntries int) *StatusCache {
	if maxEntries <= 0 {
		maxEntries = MaxCacheEntries
	}
	return &StatusCache{
		maxEntries: maxEntries,
		slots:      make(map[domain.Slot]map[domain.Signature]TxStatus),
		roots:      btree.NewOrderedG[domain.Slot](32),
	}
}

// MaxEntries returns the root retention window.
func (c *StatusCache) MaxEntries() int {
	return c.maxEntries
}

// Insert records the status of sig in slot.
func (c *StatusCache) Insert(slot domain.Slot, sig domain.Signature, status TxStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.slots[slot]
	if !ok {
		m = make(map[domain.Signature]TxStatus)
		c.slots[slot] = m
	}
	m[sig] = status
}

// Get returns the newest slot accepted by visible in which sig was recorded.
func (c *StatusCache) Get(sig domain.Signature, visible func(domain.Slot) bool) (domain.Slot, TxStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var (
		best   domain.Slot
		status TxStatus
		found  bool
	)
	for slot, m := range c.slots {
		st, ok := m[sig]
		if !ok || !visible(slot) {
			continue
		}
		if !found || slot > best {
			best, status, found = slot, st, true
		}
	}
	return best, status, found
}

// AddRoot marks slot as rooted and evicts the oldest roots beyond the window.
// Unrooted slots older than the oldest retained root are dropped as well.
func (c *StatusCache) AddRoot(slot domain.Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.roots.ReplaceOrInsert(slot)
	for c.roots.Len() > c.maxEntries {
		old, _ := c.roots.DeleteMin()
		delete(c.slots, old)
	}

	min, _ := c.roots.Min()
	for s := range c.slots {
		if s < min && !c.roots.Has(s) {
			delete(c.slots, s)
		}
	}
}

// IsRoot reports whether slot is a retained root.
func (c *StatusCache) IsRoot(slot domain.Slot) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roots.Has(slot)
}

// Roots returns the retained roots in ascending order.
func (c *StatusCache) Roots() []domain.Slot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Slot, 0, c.roots.Len())
	c.roots.Ascend(func(s domain.Slot) bool {
		out = append(out, s)
		return true
	})
	return out
}

// RootSlotDeltas returns a copy of the statuses of every retained root up to
// and including maxSlot, ascending by slot.
func (c *StatusCache) RootSlotDeltas(maxSlot domain.Slot) []SlotDelta {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []SlotDelta
	c.roots.Ascend(func(s domain.Slot) bool {
		if s > maxSlot {
			return false
		}
		statuses := make(map[domain.Signature]TxStatus, len(c.slots[s]))
		for sig, st := range c.slots[s] {
			statuses[sig] = st
		}
		out = append(out, SlotDelta{Slot: s, IsRoot: true, Statuses: statuses})
		return true
	})
	return out
}

// AppendSlotDeltas loads previously packaged deltas, rooting those marked as
// roots.
func (c *StatusCache) AppendSlotDeltas(deltas []SlotDelta) {
	for _, d := range deltas {
		for sig, st := range d.Statuses {
			c.Insert(d.Slot, sig, st)
		}
		if d.IsRoot {
			c.AddRoot(d.Slot)
		}
	}
}

// ClearSlot drops the statuses of an unrooted slot.
func (c *StatusCache) ClearSlot(slot domain.Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.roots.Has(slot) {
		delete(c.slots, slot)
	}
}

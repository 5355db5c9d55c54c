package accounts

import (
	"github.com/yndnr/ledgersnap/internal/core/domain"
	"github.com/yndnr/ledgersnap/pkg/queue"
)

// PrunedBanks carries the slots of banks dropped from the fork set before
// they were rooted. The fork set reports drops through BankDropped without
// blocking; the background service drains the queue and calls PurgeSlot.
type PrunedBanks struct {
	q *queue.Queue[domain.Slot]
}

// NewPrunedBanks creates an empty pruned-bank queue.
func NewPrunedBanks() *PrunedBanks {
	return &PrunedBanks{q: queue.New[domain.Slot]()}
}

// BankDropped records that the bank at slot was removed from the fork set.
func (p *PrunedBanks) BankDropped(slot domain.Slot) {
	p.q.Push(slot)
}

// Signal fires after BankDropped.
func (p *PrunedBanks) Signal() <-chan struct{} {
	return p.q.Signal()
}

// Drain returns the queued slots, oldest first.
func (p *PrunedBanks) Drain() []domain.Slot {
	return p.q.Drain()
}

// Len returns the number of queued slots.
func (p *PrunedBanks) Len() int {
	return p.q.Len()
}

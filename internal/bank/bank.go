package bank

import (
	"context"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/yndnr/ledgersnap/internal/accounts"
	"github.com/yndnr/ledgersnap/internal/core/domain"
)

// Fields is the serializable metadata of a bank. Two banks with equal Fields
// and equal status cache contents are observably identical.
type Fields struct {
	Slot              domain.Slot
	ParentSlot        domain.Slot
	BlockHeight       uint64
	ParentHash        domain.Hash
	Hash              domain.Hash
	AccountsDeltaHash domain.Hash
	AccountsHash      domain.Hash
	TransactionCount  uint64
	SignatureCount    uint64
	Capitalization    uint64
}

// Transaction moves lamports between two accounts.
type Transaction struct {
	Signature domain.Signature
	From      domain.Pubkey
	To        domain.Pubkey
	Lamports  uint64
}

// Bank is the state at one slot. A bank accepts writes until it is frozen;
// after that it never changes except for the accounts hash, which is filled
// in once the bank is rooted.
type Bank struct {
	mu        sync.RWMutex
	fields    Fields
	frozen    bool
	ancestors map[domain.Slot]struct{}
	pending   map[domain.Pubkey]domain.Account

	db          *accounts.DB
	statusCache *StatusCache
}

// NewGenesis creates, freezes and roots the slot 0 bank holding the given
// accounts.
func NewGenesis(db *accounts.DB, sc *StatusCache, genesis map[domain.Pubkey]domain.Account) (*Bank, error) {
	b := &Bank{
		ancestors:   make(map[domain.Slot]struct{}),
		pending:     make(map[domain.Pubkey]domain.Account, len(genesis)),
		db:          db,
		statusCache: sc,
	}
	for pk, acct := range genesis {
		b.pending[pk] = acct
		b.fields.Capitalization += acct.Lamports
	}
	if err := b.Freeze(); err != nil {
		return nil, err
	}
	if err := b.Squash(); err != nil {
		return nil, err
	}
	return b, nil
}

// NewFromParent creates an unfrozen child of parent at slot.
func NewFromParent(parent *Bank, slot domain.Slot) (*Bank, error) {
	parent.mu.RLock()
	defer parent.mu.RUnlock()

	if !parent.frozen {
		return nil, domain.ErrBankNotFrozen.WithDetailsf("parent slot %d", parent.fields.Slot)
	}
	if slot <= parent.fields.Slot {
		return nil, domain.ErrInvalidSlot.WithDetailsf("child slot %d must exceed parent slot %d", slot, parent.fields.Slot)
	}

	ancestors := make(map[domain.Slot]struct{}, len(parent.ancestors)+1)
	for s := range parent.ancestors {
		if !parent.db.IsRooted(s) {
			ancestors[s] = struct{}{}
		}
	}
	ancestors[parent.fields.Slot] = struct{}{}

	return &Bank{
		fields: Fields{
			Slot:             slot,
			ParentSlot:       parent.fields.Slot,
			BlockHeight:      parent.fields.BlockHeight + 1,
			ParentHash:       parent.fields.Hash,
			TransactionCount: parent.fields.TransactionCount,
			Capitalization:   parent.fields.Capitalization,
		},
		ancestors:   ancestors,
		pending:     make(map[domain.Pubkey]domain.Account),
		db:          parent.db,
		statusCache: parent.statusCache,
	}, nil
}

// FromFields rebuilds a frozen, rooted bank from snapshot metadata.
func FromFields(fields Fields, db *accounts.DB, sc *StatusCache) *Bank {
	return &Bank{
		fields:      fields,
		frozen:      true,
		ancestors:   make(map[domain.Slot]struct{}),
		db:          db,
		statusCache: sc,
	}
}

func (b *Bank) Slot() domain.Slot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fields.Slot
}

func (b *Bank) ParentSlot() domain.Slot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fields.ParentSlot
}

func (b *Bank) BlockHeight() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fields.BlockHeight
}

// Hash returns the bank hash. It is zero until the bank is frozen.
func (b *Bank) Hash() domain.Hash {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fields.Hash
}

// AccountsHash returns the last computed accounts hash.
func (b *Bank) AccountsHash() domain.Hash {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fields.AccountsHash
}

func (b *Bank) Capitalization() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fields.Capitalization
}

func (b *Bank) TransactionCount() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fields.TransactionCount
}

func (b *Bank) IsFrozen() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.frozen
}

// IsRooted reports whether the bank's slot has been rooted in the DB.
func (b *Bank) IsRooted() bool {
	return b.db.IsRooted(b.Slot())
}

// Fields returns a copy of the bank metadata.
func (b *Bank) Fields() Fields {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fields
}

func (b *Bank) StatusCache() *StatusCache { return b.statusCache }

func (b *Bank) DB() *accounts.DB { return b.db }

// Ancestors returns the unrooted ancestor slots, ascending.
func (b *Bank) Ancestors() []domain.Slot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.Slot, 0, len(b.ancestors))
	for s := range b.ancestors {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// visible reports whether state written at slot is part of this bank's
// history. Callers hold b.mu.
func (b *Bank) visible(slot domain.Slot) bool {
	if slot == b.fields.Slot {
		return true
	}
	if _, ok := b.ancestors[slot]; ok {
		return true
	}
	return slot < b.fields.Slot && b.db.IsRooted(slot)
}

// Load returns the account stored under pk as seen by this bank.
func (b *Bank) Load(pk domain.Pubkey) (domain.Account, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loadLocked(pk)
}

func (b *Bank) loadLocked(pk domain.Pubkey) (domain.Account, bool, error) {
	if acct, ok := b.pending[pk]; ok {
		if acct.IsZeroLamport() {
			return domain.Account{}, false, nil
		}
		return acct, true, nil
	}
	return b.db.Load(pk, b.visible)
}

// StoreAccount overwrites an account directly, adjusting capitalization.
func (b *Bank) StoreAccount(pk domain.Pubkey, acct domain.Account) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		return domain.ErrBankFrozen.WithDetailsf("slot %d", b.fields.Slot)
	}
	old, _, err := b.loadLocked(pk)
	if err != nil {
		return err
	}
	b.fields.Capitalization = b.fields.Capitalization - old.Lamports + acct.Lamports
	b.pending[pk] = acct
	return nil
}

// ProcessTransaction applies tx. A signature already recorded in this bank's
// history is rejected with ErrDuplicateSignature and leaves no trace. A
// transfer that cannot be funded is recorded as failed and returns
// ErrInsufficientFunds.
func (b *Bank) ProcessTransaction(tx Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		return domain.ErrBankFrozen.WithDetailsf("slot %d", b.fields.Slot)
	}
	if slot, _, ok := b.statusCache.Get(tx.Signature, b.visible); ok {
		return domain.ErrDuplicateSignature.WithDetailsf("%s first seen in slot %d", tx.Signature, slot)
	}

	b.fields.SignatureCount++
	b.fields.TransactionCount++

	from, _, err := b.loadLocked(tx.From)
	if err != nil {
		return err
	}
	if from.Lamports < tx.Lamports {
		b.statusCache.Insert(b.fields.Slot, tx.Signature, TxStatus{Err: domain.ErrInsufficientFunds.Message})
		return domain.ErrInsufficientFunds.WithDetailsf("%s has %d, needs %d", tx.From, from.Lamports, tx.Lamports)
	}
	if tx.From == tx.To {
		b.statusCache.Insert(b.fields.Slot, tx.Signature, TxStatus{})
		return nil
	}
	to, _, err := b.loadLocked(tx.To)
	if err != nil {
		return err
	}

	from.Lamports -= tx.Lamports
	b.pending[tx.From] = from
	to.Lamports += tx.Lamports
	b.pending[tx.To] = to

	b.statusCache.Insert(b.fields.Slot, tx.Signature, TxStatus{})
	return nil
}

// Freeze persists the slot's writes and computes the bank hash. Freezing an
// already frozen bank is a no-op.
func (b *Bank) Freeze() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		return nil
	}
	if _, err := b.db.Store(b.fields.Slot, b.pending); err != nil {
		return err
	}

	b.fields.AccountsDeltaHash = accounts.DeltaHash(b.pending)

	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:], b.fields.SignatureCount)
	binary.LittleEndian.PutUint64(buf[8:], uint64(b.fields.Slot))
	binary.LittleEndian.PutUint64(buf[16:], b.fields.BlockHeight)
	b.fields.Hash = domain.HashBytes(b.fields.ParentHash[:], b.fields.AccountsDeltaHash[:], buf[:])

	b.pending = nil
	b.frozen = true
	return nil
}

// Squash roots the bank in the account DB and the status cache.
func (b *Bank) Squash() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.frozen {
		return domain.ErrBankNotFrozen.WithDetailsf("slot %d", b.fields.Slot)
	}
	b.db.AddRoot(b.fields.Slot)
	b.statusCache.AddRoot(b.fields.Slot)
	b.ancestors = make(map[domain.Slot]struct{})
	return nil
}

// UpdateAccountsHash recomputes the accounts hash over every rooted storage
// up to the bank's slot and records it.
func (b *Bank) UpdateAccountsHash(ctx context.Context, hasher *accounts.Hasher) (domain.Hash, error) {
	slot := b.Slot()
	if !b.IsFrozen() {
		return domain.Hash{}, domain.ErrBankNotFrozen.WithDetailsf("slot %d", slot)
	}
	if !b.db.IsRooted(slot) {
		return domain.Hash{}, domain.ErrBankNotRooted.WithDetailsf("slot %d", slot)
	}

	h, err := hasher.HashStorages(ctx, b.db.SnapshotStorages(slot))
	if err != nil {
		return domain.Hash{}, err
	}

	b.mu.Lock()
	b.fields.AccountsHash = h
	b.mu.Unlock()
	return h, nil
}

// SlotDeltas returns the status cache roots up to the bank's slot.
func (b *Bank) SlotDeltas() []SlotDelta {
	return b.statusCache.RootSlotDeltas(b.Slot())
}

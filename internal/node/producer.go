package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yndnr/ledgersnap/internal/bank"
	"github.com/yndnr/ledgersnap/internal/core/domain"
	"github.com/yndnr/ledgersnap/internal/forks"
)

// SystemProgram owns every genesis account.
var SystemProgram = domain.NewPubkey("system")

// GenesisPubkeys returns the pubkeys of the n genesis accounts.
func GenesisPubkeys(n int) []domain.Pubkey {
	out := make([]domain.Pubkey, n)
	for i := range out {
		out[i] = domain.NewPubkey(fmt.Sprintf("genesis/%d", i))
	}
	return out
}

// GenesisAccounts returns n accounts holding lamports each.
func GenesisAccounts(n int, lamports uint64) map[domain.Pubkey]domain.Account {
	out := make(map[domain.Pubkey]domain.Account, n)
	for _, pk := range GenesisPubkeys(n) {
		out[pk] = domain.Account{Lamports: lamports, Owner: SystemProgram}
	}
	return out
}

// ProducerConfig configures a Producer.
type ProducerConfig struct {
	SlotInterval time.Duration
	// RootDistance is how many slots the root trails the tip.
	RootDistance uint64
	// ForkEvery makes every Nth slot a dead-end sibling. Zero disables it.
	ForkEvery           uint64
	TransactionsPerSlot int
	// Accounts are the transfer endpoints. They should exist in the root
	// bank; transfers from missing or empty accounts fail and are recorded.
	Accounts []domain.Pubkey

	Logger *slog.Logger
}

// Producer extends the fork set with one slot per tick and advances the
// root behind the tip. It stands in for a replay stage when the node is not
// attached to a ledger.
type Producer struct {
	cfg    ProducerConfig
	forks  *forks.BankForks
	sender forks.RequestSender
	logger *slog.Logger

	mu    sync.Mutex
	tip   domain.Slot
	chain []domain.Slot // unrooted slots on the tip's fork, ascending

	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewProducer creates a producer that grows f from its root.
func NewProducer(cfg ProducerConfig, f *forks.BankForks, sender forks.RequestSender) *Producer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SlotInterval <= 0 {
		cfg.SlotInterval = 400 * time.Millisecond
	}
	if cfg.RootDistance == 0 {
		cfg.RootDistance = 1
	}
	return &Producer{
		cfg:    cfg,
		forks:  f,
		sender: sender,
		logger: cfg.Logger.With("component", "producer"),
		tip:    f.Root(),
		doneCh: make(chan struct{}),
	}
}

// Start launches the production loop.
func (p *Producer) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
}

// Stop cancels the loop and waits for it. It is a no-op before Start.
func (p *Producer) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.doneCh
}

func (p *Producer) run(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.cfg.SlotInterval)
	defer ticker.Stop()

	p.logger.Info("slot producer started", "tip", uint64(p.Tip()))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("slot producer stopped", "tip", uint64(p.Tip()))
			return
		case <-ticker.C:
			if err := p.Step(); err != nil {
				p.logger.Error("produce slot failed", "error", err)
			}
		}
	}
}

// Tip returns the highest slot on the producing fork.
func (p *Producer) Tip() domain.Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tip
}

// Step produces the next slot and advances the root when the tip is far
// enough ahead. When the next slot is a fork point, a sibling is produced
// at that slot and the tip moves to the slot after it.
func (p *Producer) Step() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	parent, err := p.forks.Get(p.tip)
	if err != nil {
		return err
	}

	next := p.tip + 1
	if p.cfg.ForkEvery > 0 && uint64(next)%p.cfg.ForkEvery == 0 {
		if _, err := p.produce(parent, next, "fork"); err != nil {
			return err
		}
		next++
	}
	if _, err := p.produce(parent, next, "main"); err != nil {
		return err
	}
	p.tip = next
	p.chain = append(p.chain, next)

	return p.advanceRoot()
}

func (p *Producer) produce(parent *bank.Bank, slot domain.Slot, fork string) (*bank.Bank, error) {
	b, err := bank.NewFromParent(parent, slot)
	if err != nil {
		return nil, err
	}

	n := len(p.cfg.Accounts)
	for i := 0; i < p.cfg.TransactionsPerSlot && n > 1; i++ {
		from := p.cfg.Accounts[(int(slot)+i)%n]
		to := p.cfg.Accounts[(int(slot)+i+1)%n]
		tx := bank.Transaction{
			Signature: domain.NewSignature(fmt.Sprintf("%s/%d/%d", fork, slot, i)),
			From:      from,
			To:        to,
			Lamports:  uint64(i + 1),
		}
		if err := b.ProcessTransaction(tx); err != nil && !errors.Is(err, domain.ErrInsufficientFunds) {
			return nil, fmt.Errorf("slot %d tx %d: %w", slot, i, err)
		}
	}

	if err := b.Freeze(); err != nil {
		return nil, err
	}
	return p.forks.Insert(b)
}

// advanceRoot roots the highest chain slot at least RootDistance behind the
// tip. Callers hold p.mu.
func (p *Producer) advanceRoot() error {
	if uint64(p.tip) < p.cfg.RootDistance {
		return nil
	}
	target := p.tip - domain.Slot(p.cfg.RootDistance)

	idx := -1
	for i, s := range p.chain {
		if s > target {
			break
		}
		idx = i
	}
	if idx < 0 {
		return nil
	}

	root := p.chain[idx]
	if _, err := p.forks.SetRoot(root, p.sender); err != nil {
		return err
	}
	p.chain = append(p.chain[:0], p.chain[idx+1:]...)
	return nil
}

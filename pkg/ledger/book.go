package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Book is the in-memory implementation of the ledger state machine. Entries
// move from active-unexecuted to executed-inactive (non-recurring), re-arm
// with an advanced due date (recurring), or end cancelled-inactive.
//
// Balance-mutating entry points share one coarse reentrancy guard, matching
// the transaction-level guarantee of the on-chain deployment: a vault that
// calls back into the book fails with ErrReentrancy instead of observing
// half-applied state.
type Book struct {
	vault Vault
	sink  Sink
	clock func() time.Time

	entered atomic.Bool

	mu       sync.RWMutex
	nextID   uint64
	payments map[uint64]*ScheduledPayment
}

// BookOption customizes a Book.
type BookOption func(*Book)

// WithClock injects a time source, used by tests to control due dates.
func WithClock(clock func() time.Time) BookOption {
	return func(b *Book) { b.clock = clock }
}

// WithSink routes lifecycle events to a custom sink.
func WithSink(sink Sink) BookOption {
	return func(b *Book) { b.sink = sink }
}

// NewBook creates an empty ledger backed by the given vault.
func NewBook(vault Vault, opts ...BookOption) *Book {
	b := &Book{
		vault:    vault,
		sink:     NewMemorySink(),
		clock:    time.Now,
		payments: make(map[uint64]*ScheduledPayment),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Book) enter() error {
	if !b.entered.CompareAndSwap(false, true) {
		return ErrReentrancy
	}
	return nil
}

func (b *Book) exit() {
	b.entered.Store(false)
}

// Schedule escrows funds from the caller and creates a new entry. Ids are
// assigned from a monotonic counter starting at 1.
func (b *Book) Schedule(ctx context.Context, payer common.Address, spec ScheduleSpec) (uint64, error) {
	if err := b.enter(); err != nil {
		return 0, err
	}
	defer b.exit()

	if spec.Amount == nil || spec.Amount.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	if spec.DueDate.Before(b.clock()) {
		return 0, ErrInvalidDueDate
	}
	if spec.IsRecurring && spec.Interval <= 0 {
		return 0, ErrInvalidInterval
	}

	if err := b.vault.Collect(ctx, payer, spec.Token, spec.Amount); err != nil {
		return 0, fmt.Errorf("escrow collection failed: %w", err)
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.payments[id] = &ScheduledPayment{
		ID:          id,
		Payer:       payer,
		Provider:    spec.Provider,
		Amount:      new(big.Int).Set(spec.Amount),
		Token:       spec.Token,
		DueDate:     spec.DueDate,
		IsRecurring: spec.IsRecurring,
		Interval:    spec.Interval,
		Active:      true,
		Escrow:      new(big.Int).Set(spec.Amount),
	}
	b.mu.Unlock()

	b.sink.Emit(Event{
		Type:      EventPaymentScheduled,
		PaymentID: id,
		Payer:     payer,
		Provider:  spec.Provider,
		Token:     spec.Token,
		Amount:    new(big.Int).Set(spec.Amount),
		DueDate:   spec.DueDate,
	})
	return id, nil
}

// Execute transfers a due entry's amount to its provider. Non-recurring
// entries terminate; recurring entries re-arm with the due date advanced by
// their interval and stay active, the executed flag recording the last run.
func (b *Book) Execute(ctx context.Context, id uint64) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()

	b.mu.RLock()
	p, ok := b.payments[id]
	b.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	if !p.Active {
		if p.Executed {
			return ErrAlreadyExecuted
		}
		return ErrInactive
	}
	if b.clock().Before(p.DueDate) {
		return ErrNotDue
	}
	if p.Escrow.Cmp(p.Amount) < 0 {
		b.sink.Emit(Event{
			Type:      EventPaymentFailed,
			PaymentID: id,
			Payer:     p.Payer,
			Provider:  p.Provider,
			Token:     p.Token,
			Amount:    new(big.Int).Set(p.Amount),
			Reason:    ErrInsufficientEscrow.Error(),
		})
		return ErrInsufficientEscrow
	}

	// Deduct before the external transfer, restore on failure.
	b.mu.Lock()
	p.Escrow.Sub(p.Escrow, p.Amount)
	b.mu.Unlock()

	if err := b.vault.Disburse(ctx, p.Provider, p.Token, p.Amount); err != nil {
		b.mu.Lock()
		p.Escrow.Add(p.Escrow, p.Amount)
		b.mu.Unlock()
		b.sink.Emit(Event{
			Type:      EventPaymentFailed,
			PaymentID: id,
			Payer:     p.Payer,
			Provider:  p.Provider,
			Token:     p.Token,
			Amount:    new(big.Int).Set(p.Amount),
			Reason:    err.Error(),
		})
		return fmt.Errorf("disbursement failed: %w", err)
	}

	b.mu.Lock()
	p.Executed = true
	if p.IsRecurring {
		p.DueDate = p.DueDate.Add(p.Interval)
	} else {
		p.Active = false
	}
	b.mu.Unlock()

	b.sink.Emit(Event{
		Type:      EventPaymentExecuted,
		PaymentID: id,
		Payer:     p.Payer,
		Provider:  p.Provider,
		Token:     p.Token,
		Amount:    new(big.Int).Set(p.Amount),
	})
	return nil
}

// Cancel deactivates an entry and refunds its remaining escrow. Only the
// original payer may cancel; cancellation is irreversible.
func (b *Book) Cancel(ctx context.Context, caller common.Address, id uint64) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()

	b.mu.RLock()
	p, ok := b.payments[id]
	b.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	if !p.Active {
		return ErrInactive
	}
	if caller != p.Payer {
		return ErrNotPayer
	}

	refund := new(big.Int).Set(p.Escrow)
	b.mu.Lock()
	p.Active = false
	p.Escrow.SetInt64(0)
	b.mu.Unlock()

	if refund.Sign() > 0 {
		if err := b.vault.Disburse(ctx, p.Payer, p.Token, refund); err != nil {
			b.mu.Lock()
			p.Active = true
			p.Escrow.Set(refund)
			b.mu.Unlock()
			return fmt.Errorf("refund failed: %w", err)
		}
	}

	b.sink.Emit(Event{
		Type:      EventPaymentCancelled,
		PaymentID: id,
		Payer:     p.Payer,
		Provider:  p.Provider,
		Token:     p.Token,
		Amount:    refund,
	})
	return nil
}

// Deposit tops up an active entry's escrow from the payer.
func (b *Book) Deposit(ctx context.Context, caller common.Address, id uint64, amount *big.Int) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()

	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	b.mu.RLock()
	p, ok := b.payments[id]
	b.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	if !p.Active {
		return ErrInactive
	}
	if caller != p.Payer {
		return ErrNotPayer
	}

	if err := b.vault.Collect(ctx, p.Payer, p.Token, amount); err != nil {
		return fmt.Errorf("deposit collection failed: %w", err)
	}

	b.mu.Lock()
	p.Escrow.Add(p.Escrow, amount)
	b.mu.Unlock()

	b.sink.Emit(Event{
		Type:      EventFundsDeposited,
		PaymentID: id,
		Payer:     p.Payer,
		Provider:  p.Provider,
		Token:     p.Token,
		Amount:    new(big.Int).Set(amount),
	})
	return nil
}

// DuePayments returns the ids of all active entries whose due date has
// passed, ascending, without duplicates. Linear in the number of
// ever-created entries.
func (b *Book) DuePayments(ctx context.Context) ([]uint64, error) {
	now := b.clock()

	b.mu.RLock()
	defer b.mu.RUnlock()

	var due []uint64
	for id, p := range b.payments {
		if p.Active && !p.DueDate.After(now) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })
	return due, nil
}

// UserPayments returns copies of the entries a payer created. With
// upcomingOnly, only active entries due in the future are returned.
func (b *Book) UserPayments(ctx context.Context, payer common.Address, upcomingOnly bool) ([]ScheduledPayment, error) {
	now := b.clock()

	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []ScheduledPayment
	for _, p := range b.payments {
		if p.Payer != payer {
			continue
		}
		if upcomingOnly && (!p.Active || !p.DueDate.After(now)) {
			continue
		}
		out = append(out, b.snapshot(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns a copy of one entry.
func (b *Book) Get(id uint64) (ScheduledPayment, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, ok := b.payments[id]
	if !ok {
		return ScheduledPayment{}, ErrNotFound
	}
	return b.snapshot(p), nil
}

func (b *Book) snapshot(p *ScheduledPayment) ScheduledPayment {
	cp := *p
	cp.Amount = new(big.Int).Set(p.Amount)
	cp.Escrow = new(big.Int).Set(p.Escrow)
	return cp
}

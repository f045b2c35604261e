// Package ledger implements the recurring payment ledger: a state machine of
// scheduled, optionally recurring transfers with contract-held escrow, plus
// the due-payment scanner that drives execution.
package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAsset marks a scheduled payment denominated in the chain's native
// currency rather than a token.
var NativeAsset = common.Address{}

var (
	// ErrInvalidAmount rejects zero or negative amounts at creation.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")

	// ErrInvalidDueDate rejects due dates in the past at creation.
	ErrInvalidDueDate = errors.New("ledger: due date is in the past")

	// ErrInvalidInterval rejects recurring entries without a positive
	// recurrence interval.
	ErrInvalidInterval = errors.New("ledger: recurring payment needs a positive interval")

	// ErrNotFound reports an unknown payment id.
	ErrNotFound = errors.New("ledger: no such payment")

	// ErrNotDue reports an execution attempt before the due date.
	ErrNotDue = errors.New("ledger: payment not due yet")

	// ErrAlreadyExecuted reports an execution attempt on a completed
	// non-recurring entry.
	ErrAlreadyExecuted = errors.New("ledger: payment already executed")

	// ErrInactive reports an operation on a cancelled or completed entry.
	ErrInactive = errors.New("ledger: payment no longer active")

	// ErrNotPayer reports a cancel or deposit attempt by anyone but the
	// entry's original payer.
	ErrNotPayer = errors.New("ledger: caller is not the payer")

	// ErrInsufficientEscrow reports that the entry's contract-held balance
	// cannot cover the transfer.
	ErrInsufficientEscrow = errors.New("ledger: escrowed balance below payment amount")

	// ErrReentrancy reports a nested call into a balance-mutating entry
	// point from within another one.
	ErrReentrancy = errors.New("ledger: reentrant call")
)

// ScheduledPayment is one ledger row. Rows are never deleted, only flagged
// inactive.
type ScheduledPayment struct {
	ID          uint64
	Payer       common.Address
	Provider    common.Address
	Amount      *big.Int
	Token       common.Address
	DueDate     time.Time
	IsRecurring bool
	Interval    time.Duration
	Executed    bool
	Active      bool
	// Escrow is the balance currently held for this entry.
	Escrow *big.Int
}

// ScheduleSpec describes a payment to be scheduled.
type ScheduleSpec struct {
	Provider    common.Address
	Amount      *big.Int
	Token       common.Address
	DueDate     time.Time
	IsRecurring bool
	Interval    time.Duration
}

// Vault moves value in and out of the ledger's custody. The in-memory book
// treats it as an external collaborator; implementations must not call back
// into the book.
type Vault interface {
	// Collect pulls amount of token from the payer into ledger custody.
	Collect(ctx context.Context, from common.Address, token common.Address, amount *big.Int) error
	// Disburse pays amount of token out of ledger custody.
	Disburse(ctx context.Context, to common.Address, token common.Address, amount *big.Int) error
}

// Ledger is the surface the due-payment scanner drives. Both the in-memory
// book and the on-chain contract client satisfy it.
type Ledger interface {
	// DuePayments returns the ids of all active entries whose due date has
	// passed. The result is a snapshot: entries may be executed or
	// cancelled by others before the caller acts on them.
	DuePayments(ctx context.Context) ([]uint64, error)
	// Execute transfers a due entry's funds to its provider.
	Execute(ctx context.Context, id uint64) error
}

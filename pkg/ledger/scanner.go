package ledger

import (
	"context"
	"errors"
	"log"
	"time"
)

// Scanner periodically enumerates due payments and executes them. Scan
// results are a snapshot that may be stale by the time execution runs:
// not-due / already-executed / inactive failures are treated as benign races
// with other executors, anything else is logged and retried next sweep.
type Scanner struct {
	ledger   Ledger
	interval time.Duration
}

// NewScanner creates a scanner polling at the given interval.
func NewScanner(l Ledger, interval time.Duration) *Scanner {
	return &Scanner{ledger: l, interval: interval}
}

// Run sweeps until the context is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				log.Printf("scanner: sweep failed err=%v", err)
			}
		}
	}
}

// RunOnce performs a single sweep and returns how many payments executed.
func (s *Scanner) RunOnce(ctx context.Context) (int, error) {
	due, err := s.ledger.DuePayments(ctx)
	if err != nil {
		return 0, err
	}

	executed := 0
	for _, id := range due {
		err := s.ledger.Execute(ctx, id)
		switch {
		case err == nil:
			executed++
			log.Printf("scanner: executed payment id=%d", id)
		case isBenignRace(err):
			// Someone else got there first.
		default:
			log.Printf("scanner: execute failed id=%d err=%v", id, err)
		}
	}
	return executed, nil
}

func isBenignRace(err error) bool {
	return errors.Is(err, ErrNotDue) ||
		errors.Is(err, ErrAlreadyExecuted) ||
		errors.Is(err, ErrInactive)
}

package ledger

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType identifies a ledger lifecycle event.
type EventType string

const (
	EventPaymentScheduled EventType = "PaymentScheduled"
	EventPaymentExecuted  EventType = "PaymentExecuted"
	EventPaymentCancelled EventType = "PaymentCancelled"
	EventPaymentFailed    EventType = "PaymentFailed"
	EventFundsDeposited   EventType = "FundsDeposited"
)

// Event is an externally observable ledger state change. Together with the
// rows themselves, events are the ledger's only durable audit trail.
type Event struct {
	Type      EventType
	PaymentID uint64
	Payer     common.Address
	Provider  common.Address
	Token     common.Address
	Amount    *big.Int
	DueDate   time.Time
	Reason    string
}

// Sink receives ledger events.
type Sink interface {
	Emit(Event)
}

// MemorySink records events in order, for tests and local audit.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit implements Sink.
func (s *MemorySink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// Events returns a copy of all recorded events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByType returns recorded events of one type, in emission order.
func (s *MemorySink) ByType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

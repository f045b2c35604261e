package facilitator

import (
	"context"

	"github.com/novix-pay/novix-go/pkg/types"
)

// Facilitator is the core interface for payment verification and settlement.
//
// A Facilitator handles:
// - Payment verification: confirming that client-submitted payment payloads
//   match the declared requirements and current chain state.
// - Payment settlement: submitting validated payments to the blockchain and
//   waiting for their confirmation.
//
// The Facilitator never holds user funds. It acts solely as a stateless
// verification and execution layer for signed payment payloads; its only
// mutable resource is the signing identity used to pay gas.
type Facilitator interface {
	// Verify validates a payment payload against requirements. Read-only:
	// no transaction is submitted, so it is safe to call any number of
	// times and from any number of goroutines.
	Verify(ctx context.Context, request *types.VerifyRequest) (*types.VerifyResponse, error)

	// Settle executes a verified payment on-chain: it re-validates the
	// payload, submits the transfer, and waits (bounded) for inclusion.
	// Consumes gas from the facilitator's account.
	Settle(ctx context.Context, request *types.SettleRequest) (*types.SettleResponse, error)

	// Supported returns the payment kinds this facilitator accepts.
	Supported(ctx context.Context) (*types.SupportedPaymentKindsResponse, error)
}

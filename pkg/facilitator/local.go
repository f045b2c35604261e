package facilitator

import (
	"context"
	"sort"

	"github.com/novix-pay/novix-go/pkg/types"
)

// Provider handles verification and settlement for a single network. The EVM
// provider in pkg/chain/evm is the production implementation.
type Provider interface {
	Verify(ctx context.Context, request *types.VerifyRequest) (*types.VerifyResponse, error)
	Settle(ctx context.Context, request *types.SettleRequest) (*types.SettleResponse, error)
}

// LocalFacilitator routes verification and settlement requests to the
// provider configured for the payload's network. Malformed or mismatched
// request pairs are rejected before any provider (and hence any chain) is
// touched.
type LocalFacilitator struct {
	providers map[types.Network]Provider
}

// NewLocalFacilitator creates an empty LocalFacilitator.
func NewLocalFacilitator() *LocalFacilitator {
	return &LocalFacilitator{
		providers: make(map[types.Network]Provider),
	}
}

// AddProvider registers a provider for a network.
func (f *LocalFacilitator) AddProvider(network types.Network, provider Provider) {
	f.providers[network] = provider
}

// Verify implements Facilitator.Verify
func (f *LocalFacilitator) Verify(ctx context.Context, request *types.VerifyRequest) (*types.VerifyResponse, error) {
	if err := validateRequest(&request.PaymentPayload, &request.PaymentRequirements); err != nil {
		return types.NewInvalidResponse(err.Message, request.PaymentPayload.Payload.Authorization.From.Hex()), nil
	}

	provider, ok := f.providers[request.PaymentPayload.Network]
	if !ok {
		err := types.NewUnsupportedNetworkError(request.PaymentPayload.Network)
		return types.NewInvalidResponse(err.Message, ""), nil
	}
	return provider.Verify(ctx, request)
}

// Settle implements Facilitator.Settle
func (f *LocalFacilitator) Settle(ctx context.Context, request *types.SettleRequest) (*types.SettleResponse, error) {
	if err := validateRequest(&request.PaymentPayload, &request.PaymentRequirements); err != nil {
		return &types.SettleResponse{
			Success:     false,
			Network:     request.PaymentPayload.Network,
			Payer:       request.PaymentPayload.Payload.Authorization.From.Hex(),
			ErrorReason: err.Message,
		}, nil
	}

	provider, ok := f.providers[request.PaymentPayload.Network]
	if !ok {
		return &types.SettleResponse{
			Success:     false,
			Network:     request.PaymentPayload.Network,
			ErrorReason: types.NewUnsupportedNetworkError(request.PaymentPayload.Network).Message,
		}, nil
	}
	return provider.Settle(ctx, request)
}

// Supported implements Facilitator.Supported
func (f *LocalFacilitator) Supported(ctx context.Context) (*types.SupportedPaymentKindsResponse, error) {
	kinds := make([]types.SupportedPaymentKind, 0, len(f.providers))
	for net := range f.providers {
		kinds = append(kinds, types.SupportedPaymentKind{
			X402Version: types.X402Version,
			Scheme:      types.SchemeExact,
			Network:     net,
		})
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].Network < kinds[j].Network })
	return &types.SupportedPaymentKindsResponse{Kinds: kinds}, nil
}

// validateRequest checks the (payload, requirements) pair for internal
// consistency before any business logic runs.
func validateRequest(payload *types.PaymentPayload, requirements *types.PaymentRequirements) *types.FacilitatorError {
	if payload.X402Version != types.X402Version {
		return types.NewDecodingError("unsupported x402 version")
	}
	if payload.Scheme != requirements.Scheme {
		return types.NewSchemeMismatchError(requirements.Scheme, payload.Scheme)
	}
	if payload.Network != requirements.Network {
		return types.NewNetworkMismatchError(requirements.Network, payload.Network)
	}
	return nil
}

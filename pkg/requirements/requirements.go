// Package requirements builds the payment requirements a resource server
// advertises in 402 challenges and matches submitted payloads back against
// them.
package requirements

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/novix-pay/novix-go/pkg/network"
	"github.com/novix-pay/novix-go/pkg/types"
)

var (
	// ErrUnsupportedAsset reports that no accepted asset is known for the
	// requested network.
	ErrUnsupportedAsset = errors.New("unsupported network/asset pair")

	// ErrNoMatchingRequirement reports that a submitted payload satisfies
	// none of the advertised requirements. Matching fails closed: a payload
	// targeting the wrong scheme, network or asset is never silently applied
	// to an unrelated requirement.
	ErrNoMatchingRequirement = errors.New("payload matches no payment requirement")
)

// DefaultMaxTimeoutSeconds bounds how long a settlement for a requirement may
// stay pending before the resource server gives up.
const DefaultMaxTimeoutSeconds = 300

// Price is a payment amount: either an exact atomic-unit quantity or a
// decimal currency string to be scaled by the asset's precision.
type Price struct {
	// AtomicAmount is the amount in the asset's smallest unit. Takes
	// precedence when set.
	AtomicAmount *big.Int
	// Money is a decimal currency string such as "1.00" or "$0.10".
	Money string
}

// Exact returns a Price denominated in the asset's smallest unit.
func Exact(amount *big.Int) Price { return Price{AtomicAmount: amount} }

// Money returns a Price denominated in whole currency units.
func Money(amount string) Price { return Price{Money: amount} }

// Build produces the payment requirements guarding one resource. The result
// is deterministic for identical inputs and has no side effects.
func Build(price Price, net types.Network, resource, payTo, description string) ([]types.PaymentRequirements, error) {
	deployment, err := network.GetUSDCDeployment(net)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAsset, err)
	}

	amount := price.AtomicAmount
	if amount == nil {
		amount, err = network.ParseMoney(price.Money, deployment.Decimals)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedAsset, err)
		}
	}

	extra := deployment.EIP712
	return []types.PaymentRequirements{{
		Scheme:            types.SchemeExact,
		Network:           net,
		MaxAmountRequired: amount.String(),
		Resource:          resource,
		Description:       description,
		MimeType:          "application/json",
		PayTo:             payTo,
		MaxTimeoutSeconds: DefaultMaxTimeoutSeconds,
		Asset:             deployment.TokenAddress,
		Extra:             &extra,
	}}, nil
}

// Match selects the requirement a payload satisfies, by scheme and network
// identity. Neither argument is mutated. Returns ErrNoMatchingRequirement
// when no advertised requirement matches.
func Match(reqs []types.PaymentRequirements, payload *types.PaymentPayload) (*types.PaymentRequirements, error) {
	for i := range reqs {
		req := &reqs[i]
		if req.Scheme != payload.Scheme {
			continue
		}
		if req.Network != payload.Network {
			continue
		}
		return req, nil
	}
	return nil, fmt.Errorf("%w: scheme=%s network=%s", ErrNoMatchingRequirement, payload.Scheme, payload.Network)
}

// MatchAsset is Match narrowed further by asset contract identity, for
// callers that advertise several assets on the same network.
func MatchAsset(reqs []types.PaymentRequirements, payload *types.PaymentPayload, asset string) (*types.PaymentRequirements, error) {
	for i := range reqs {
		req := &reqs[i]
		if req.Scheme != payload.Scheme || req.Network != payload.Network {
			continue
		}
		if !strings.EqualFold(req.Asset.Hex(), asset) {
			continue
		}
		return req, nil
	}
	return nil, fmt.Errorf("%w: scheme=%s network=%s asset=%s", ErrNoMatchingRequirement, payload.Scheme, payload.Network, asset)
}

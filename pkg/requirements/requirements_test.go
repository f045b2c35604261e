package requirements

import (
	"errors"
	"math/big"
	"testing"

	"github.com/novix-pay/novix-go/pkg/types"
)

func TestBuildMoneyPrice(t *testing.T) {
	reqs, err := Build(
		Money("$1.00"),
		types.NetworkEtherlinkTestnet,
		"https://example.com/report",
		"0x2222222222222222222222222222222222222222",
		"Quarterly report",
	)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("got %d requirements; want 1", len(reqs))
	}

	req := reqs[0]
	if req.MaxAmountRequired != "1000000" {
		t.Errorf("MaxAmountRequired = %s; want 1000000", req.MaxAmountRequired)
	}
	if req.Scheme != types.SchemeExact {
		t.Errorf("Scheme = %s; want exact", req.Scheme)
	}
	if req.Network != types.NetworkEtherlinkTestnet {
		t.Errorf("Network = %s; want etherlink-testnet", req.Network)
	}
	if req.MaxTimeoutSeconds != DefaultMaxTimeoutSeconds {
		t.Errorf("MaxTimeoutSeconds = %d; want %d", req.MaxTimeoutSeconds, DefaultMaxTimeoutSeconds)
	}
	if req.Extra == nil || req.Extra.Name != "USD Coin" || req.Extra.Version != "2" {
		t.Errorf("Extra = %+v; want USD Coin v2 domain", req.Extra)
	}
}

func TestBuildExactPrice(t *testing.T) {
	reqs, err := Build(
		Exact(big.NewInt(25000)),
		types.NetworkBaseSepolia,
		"https://example.com/doc",
		"0x2222222222222222222222222222222222222222",
		"",
	)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if reqs[0].MaxAmountRequired != "25000" {
		t.Errorf("MaxAmountRequired = %s; want 25000", reqs[0].MaxAmountRequired)
	}
}

func TestBuildUnsupportedNetwork(t *testing.T) {
	_, err := Build(Money("1.00"), types.Network("unknown-net"), "r", "0x22", "")
	if !errors.Is(err, ErrUnsupportedAsset) {
		t.Errorf("error = %v; want ErrUnsupportedAsset", err)
	}
}

func TestBuildExcessPrecision(t *testing.T) {
	_, err := Build(Money("0.0000001"), types.NetworkEtherlinkTestnet, "r", "0x22", "")
	if !errors.Is(err, ErrUnsupportedAsset) {
		t.Errorf("error = %v; want rejection of sub-unit precision", err)
	}
}

func TestMatch(t *testing.T) {
	reqs := []types.PaymentRequirements{
		{Scheme: types.SchemeExact, Network: types.NetworkBase},
		{Scheme: types.SchemeExact, Network: types.NetworkEtherlinkTestnet},
	}

	t.Run("selects by scheme and network", func(t *testing.T) {
		payload := &types.PaymentPayload{Scheme: types.SchemeExact, Network: types.NetworkEtherlinkTestnet}
		matched, err := Match(reqs, payload)
		if err != nil {
			t.Fatalf("Match failed: %v", err)
		}
		if matched.Network != types.NetworkEtherlinkTestnet {
			t.Errorf("matched network = %s; want etherlink-testnet", matched.Network)
		}
	})

	t.Run("fails closed on unknown network", func(t *testing.T) {
		payload := &types.PaymentPayload{Scheme: types.SchemeExact, Network: types.NetworkPolygon}
		_, err := Match(reqs, payload)
		if !errors.Is(err, ErrNoMatchingRequirement) {
			t.Errorf("error = %v; want ErrNoMatchingRequirement", err)
		}
	})

	t.Run("fails closed on scheme mismatch", func(t *testing.T) {
		payload := &types.PaymentPayload{Scheme: types.Scheme("deferred"), Network: types.NetworkBase}
		_, err := Match(reqs, payload)
		if !errors.Is(err, ErrNoMatchingRequirement) {
			t.Errorf("error = %v; want ErrNoMatchingRequirement", err)
		}
	})

	t.Run("empty requirement list", func(t *testing.T) {
		payload := &types.PaymentPayload{Scheme: types.SchemeExact, Network: types.NetworkBase}
		_, err := Match(nil, payload)
		if !errors.Is(err, ErrNoMatchingRequirement) {
			t.Errorf("error = %v; want ErrNoMatchingRequirement", err)
		}
	})
}

func TestMatchAsset(t *testing.T) {
	asset := "0xe3A01f57C76B6bdf926618C910E546F794ff6dd4"
	reqs, err := Build(Money("1.00"), types.NetworkEtherlinkTestnet, "r", "0x22", "")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	payload := &types.PaymentPayload{Scheme: types.SchemeExact, Network: types.NetworkEtherlinkTestnet}

	// Address comparison is case-insensitive.
	if _, err := MatchAsset(reqs, payload, asset); err != nil {
		t.Errorf("MatchAsset failed: %v", err)
	}
	if _, err := MatchAsset(reqs, payload, "0x0000000000000000000000000000000000000001"); !errors.Is(err, ErrNoMatchingRequirement) {
		t.Errorf("error = %v; want ErrNoMatchingRequirement for wrong asset", err)
	}
}

package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novix-pay/novix-go/pkg/types"
)

// mockBackend dispatches eth_call by function selector and simulates
// submission and mining for everything else.
type mockBackend struct {
	mu       sync.Mutex
	abi      abi.ABI
	balance  *big.Int
	consumed bool
	paused   bool
	denied   bool
	callErr  error

	sent        []*ethtypes.Transaction
	receiptErr  error
	receiptCode uint64
}

func newMockBackend(t *testing.T) *mockBackend {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(fiatTokenABI))
	require.NoError(t, err)
	return &mockBackend{
		abi:         parsed,
		balance:     big.NewInt(10_000_000),
		receiptCode: ethtypes.ReceiptStatusSuccessful,
	}
}

func (m *mockBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.callErr != nil {
		return nil, m.callErr
	}
	if len(msg.Data) < 4 {
		return nil, fmt.Errorf("no selector")
	}

	for name, method := range m.abi.Methods {
		if string(method.ID) != string(msg.Data[:4]) {
			continue
		}
		switch name {
		case "balanceOf":
			return method.Outputs.Pack(m.balance)
		case "authorizationState":
			return method.Outputs.Pack(m.consumed)
		case "isBlacklisted":
			return method.Outputs.Pack(m.denied)
		case "paused":
			return method.Outputs.Pack(m.paused)
		}
	}
	return nil, fmt.Errorf("unexpected call")
}

func (m *mockBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (m *mockBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (m *mockBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 60_000, nil
}

func (m *mockBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, tx)
	return nil
}

func (m *mockBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.receiptErr != nil {
		return nil, m.receiptErr
	}
	return &ethtypes.Receipt{
		Status:      m.receiptCode,
		TxHash:      txHash,
		BlockNumber: big.NewInt(100),
	}, nil
}

const testFacilitatorKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newTestProvider(t *testing.T, backend *mockBackend) *Provider {
	t.Helper()
	chainID := big.NewInt(128123)
	session, err := NewSigningSession(backend, chainID, testFacilitatorKey)
	require.NoError(t, err)
	p, err := NewProvider(backend, chainID, types.NetworkEtherlinkTestnet, session)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func signedRequest(t *testing.T, key *ecdsa.PrivateKey, mutate func(*types.VerifyRequest)) *types.VerifyRequest {
	t.Helper()
	payer := crypto.PubkeyToAddress(key.PublicKey)
	now := types.UnixTimestamp()

	auth := types.ExactEvmPayloadAuthorization{
		From:        payer,
		To:          common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Value:       "1000000",
		ValidAfter:  fmt.Sprintf("%d", now-60),
		ValidBefore: fmt.Sprintf("%d", now+600),
		Nonce:       "0x0101010101010101010101010101010101010101010101010101010101010101",
	}

	req := &types.VerifyRequest{
		PaymentPayload: types.PaymentPayload{
			X402Version: types.X402Version,
			Scheme:      types.SchemeExact,
			Network:     types.NetworkEtherlinkTestnet,
			Payload:     types.ExactEvmPayload{Authorization: auth},
		},
		PaymentRequirements: types.PaymentRequirements{
			Scheme:            types.SchemeExact,
			Network:           types.NetworkEtherlinkTestnet,
			MaxAmountRequired: "1000000",
			PayTo:             auth.To.Hex(),
			Asset:             testAsset,
		},
	}
	if mutate != nil {
		mutate(req)
	}

	sig, err := SignAuthorization(key, &req.PaymentPayload.Payload.Authorization, big.NewInt(128123), req.PaymentRequirements.Asset, DefaultEIP712Domain)
	require.NoError(t, err)
	req.PaymentPayload.Payload.Signature = "0x" + hex.EncodeToString(sig)
	return req
}

func TestVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	payer := crypto.PubkeyToAddress(key.PublicKey)

	t.Run("valid payment", func(t *testing.T) {
		p := newTestProvider(t, newMockBackend(t))
		resp, err := p.Verify(context.Background(), signedRequest(t, key, nil))
		require.NoError(t, err)
		assert.True(t, resp.IsValid)
		assert.Equal(t, payer.Hex(), resp.Payer)
	})

	t.Run("value below required", func(t *testing.T) {
		p := newTestProvider(t, newMockBackend(t))
		req := signedRequest(t, key, func(r *types.VerifyRequest) {
			r.PaymentRequirements.MaxAmountRequired = "2000000"
		})
		resp, err := p.Verify(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Contains(t, resp.InvalidReason, "less than required")
	})

	t.Run("receiver mismatch", func(t *testing.T) {
		p := newTestProvider(t, newMockBackend(t))
		req := signedRequest(t, key, func(r *types.VerifyRequest) {
			r.PaymentRequirements.PayTo = "0x3333333333333333333333333333333333333333"
		})
		resp, err := p.Verify(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
	})

	t.Run("tampered authorization", func(t *testing.T) {
		p := newTestProvider(t, newMockBackend(t))
		req := signedRequest(t, key, nil)
		// Raise the value after signing; recovery lands on another address.
		req.PaymentPayload.Payload.Authorization.Value = "9000000"
		resp, err := p.Verify(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
	})

	t.Run("expired authorization", func(t *testing.T) {
		p := newTestProvider(t, newMockBackend(t))
		req := signedRequest(t, key, func(r *types.VerifyRequest) {
			now := types.UnixTimestamp()
			r.PaymentPayload.Payload.Authorization.ValidAfter = fmt.Sprintf("%d", now-7200)
			r.PaymentPayload.Payload.Authorization.ValidBefore = fmt.Sprintf("%d", now-3600)
		})
		resp, err := p.Verify(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Contains(t, resp.InvalidReason, "expired")
	})

	t.Run("nonce consumed on chain", func(t *testing.T) {
		backend := newMockBackend(t)
		backend.consumed = true
		p := newTestProvider(t, backend)
		resp, err := p.Verify(context.Background(), signedRequest(t, key, nil))
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Contains(t, resp.InvalidReason, "nonce")
	})

	t.Run("payer denylisted", func(t *testing.T) {
		backend := newMockBackend(t)
		backend.denied = true
		p := newTestProvider(t, backend)
		resp, err := p.Verify(context.Background(), signedRequest(t, key, nil))
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Contains(t, resp.InvalidReason, "denylisted")
	})

	t.Run("asset paused", func(t *testing.T) {
		backend := newMockBackend(t)
		backend.paused = true
		p := newTestProvider(t, backend)
		resp, err := p.Verify(context.Background(), signedRequest(t, key, nil))
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		backend := newMockBackend(t)
		backend.balance = big.NewInt(1)
		p := newTestProvider(t, backend)
		resp, err := p.Verify(context.Background(), signedRequest(t, key, nil))
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Contains(t, resp.InvalidReason, "insufficient balance")
	})

	t.Run("rpc failure is retryable", func(t *testing.T) {
		backend := newMockBackend(t)
		backend.callErr = fmt.Errorf("connection refused")
		p := newTestProvider(t, backend)
		_, err := p.Verify(context.Background(), signedRequest(t, key, nil))
		require.Error(t, err)
		var ferr *types.FacilitatorError
		require.True(t, errors.As(err, &ferr))
		assert.True(t, ferr.Retryable())
	})
}

func TestSettle(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	payer := crypto.PubkeyToAddress(key.PublicKey)

	t.Run("successful settlement", func(t *testing.T) {
		backend := newMockBackend(t)
		p := newTestProvider(t, backend)

		req := signedRequest(t, key, nil)
		resp, err := p.Settle(context.Background(), &types.SettleRequest{
			PaymentPayload:      req.PaymentPayload,
			PaymentRequirements: req.PaymentRequirements,
		})
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.NotEmpty(t, resp.Transaction)
		assert.Equal(t, types.NetworkEtherlinkTestnet, resp.Network)
		assert.Equal(t, payer.Hex(), resp.Payer)
		require.Len(t, backend.sent, 1)
		assert.Equal(t, testAsset, *backend.sent[0].To())

		// The consumed nonce is now rejected locally without an RPC call.
		verifyResp, err := p.Verify(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, verifyResp.IsValid)
		assert.Contains(t, verifyResp.InvalidReason, "nonce")
	})

	t.Run("reverted settlement", func(t *testing.T) {
		backend := newMockBackend(t)
		backend.receiptCode = ethtypes.ReceiptStatusFailed
		p := newTestProvider(t, backend)

		req := signedRequest(t, key, nil)
		resp, err := p.Settle(context.Background(), &types.SettleRequest{
			PaymentPayload:      req.PaymentPayload,
			PaymentRequirements: req.PaymentRequirements,
		})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Contains(t, resp.ErrorReason, "reverted")
	})

	t.Run("inclusion timeout is retryable", func(t *testing.T) {
		backend := newMockBackend(t)
		backend.receiptErr = ethereum.NotFound
		p := newTestProvider(t, backend)
		p.SetSettleTimeout(20 * time.Millisecond)

		req := signedRequest(t, key, nil)
		_, err := p.Settle(context.Background(), &types.SettleRequest{
			PaymentPayload:      req.PaymentPayload,
			PaymentRequirements: req.PaymentRequirements,
		})
		require.Error(t, err)
		var ferr *types.FacilitatorError
		require.True(t, errors.As(err, &ferr))
		assert.True(t, ferr.Retryable())
		// The submission hash is surfaced for idempotent re-query.
		require.Len(t, backend.sent, 1)
		assert.Contains(t, ferr.Message, backend.sent[0].Hash().Hex())
	})

	t.Run("invalid payment is not submitted", func(t *testing.T) {
		backend := newMockBackend(t)
		p := newTestProvider(t, backend)

		req := signedRequest(t, key, func(r *types.VerifyRequest) {
			r.PaymentRequirements.MaxAmountRequired = "2000000"
		})
		resp, err := p.Settle(context.Background(), &types.SettleRequest{
			PaymentPayload:      req.PaymentPayload,
			PaymentRequirements: req.PaymentRequirements,
		})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Empty(t, backend.sent)
	})
}

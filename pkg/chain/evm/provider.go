package evm

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/novix-pay/novix-go/pkg/types"
)

// DefaultSettleTimeout bounds how long Settle waits for inclusion before
// returning a retryable failure. Callers can re-query by transaction hash.
const DefaultSettleTimeout = 60 * time.Second

// fiatTokenABI covers the EIP-3009 surface of the asset contract: the
// authorization transfer itself plus the read-only replay, compliance and
// balance views.
const fiatTokenABI = `[
	{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"authorizer","type":"address"},{"internalType":"bytes32","name":"nonce","type":"bytes32"}],"name":"authorizationState","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"isBlacklisted","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"paused","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"from","type":"address"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"value","type":"uint256"},{"internalType":"uint256","name":"validAfter","type":"uint256"},{"internalType":"uint256","name":"validBefore","type":"uint256"},{"internalType":"bytes32","name":"nonce","type":"bytes32"},{"internalType":"bytes","name":"signature","type":"bytes"}],"name":"transferWithAuthorization","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// Provider verifies and settles exact-amount payments on one EVM network.
// Verification is read-only and safe to run concurrently; settlement
// submission is serialized through the injected SigningSession.
type Provider struct {
	backend       Backend
	chainID       *big.Int
	network       types.Network
	session       *SigningSession
	tokenABI      abi.ABI
	replay        *ReplayCache
	settleTimeout time.Duration
}

// NewProvider creates a provider for a network. The session carries the
// facilitator's signing identity and must be bound to the same backend.
func NewProvider(backend Backend, chainID *big.Int, net types.Network, session *SigningSession) (*Provider, error) {
	parsed, err := abi.JSON(strings.NewReader(fiatTokenABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ABI: %w", err)
	}
	return &Provider{
		backend:       backend,
		chainID:       chainID,
		network:       net,
		session:       session,
		tokenABI:      parsed,
		replay:        NewReplayCache(),
		settleTimeout: DefaultSettleTimeout,
	}, nil
}

// SetSettleTimeout overrides the bounded inclusion wait.
func (p *Provider) SetSettleTimeout(d time.Duration) {
	p.settleTimeout = d
}

// Close releases background resources.
func (p *Provider) Close() {
	p.replay.Stop()
}

// Verify checks a payment payload against a requirement and current chain
// state without submitting anything. Check order: signature, temporal
// validity, replay, issuer compliance, balance; the first failure wins.
func (p *Provider) Verify(ctx context.Context, request *types.VerifyRequest) (*types.VerifyResponse, error) {
	auth := &request.PaymentPayload.Payload.Authorization
	requirements := &request.PaymentRequirements
	payer := auth.From.Hex()

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return types.NewInvalidResponse(types.NewDecodingError("invalid value format").Message, payer), nil
	}
	requiredAmount, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok {
		return nil, types.NewDecodingError("invalid required amount")
	}

	if !strings.EqualFold(requirements.PayTo, auth.To.Hex()) {
		ferr := types.NewReceiverMismatchError(requirements.PayTo, auth.To.Hex(), payer)
		return types.NewInvalidResponse(ferr.Message, payer), nil
	}
	if value.Cmp(requiredAmount) < 0 {
		ferr := types.NewInsufficientValueError(payer)
		return types.NewInvalidResponse(ferr.Message, payer), nil
	}

	// 1. Signature must recover to the claimed payer.
	domain := DefaultEIP712Domain
	if requirements.Extra != nil {
		domain = *requirements.Extra
	}
	recovered, err := RecoverSigner(auth, request.PaymentPayload.Payload.Signature, p.chainID, requirements.Asset, domain)
	if err != nil {
		ferr := types.NewInvalidSignatureError(payer, fmt.Sprintf("signature verification failed: %v", err))
		return types.NewInvalidResponse(ferr.Message, payer), nil
	}
	if recovered != auth.From {
		ferr := types.NewInvalidSignatureError(payer, "signature does not recover to payer")
		return types.NewInvalidResponse(ferr.Message, payer), nil
	}

	// 2. Temporal validity.
	if ferr := CheckTiming(auth, types.UnixTimestamp()); ferr != nil {
		return types.NewInvalidResponse(ferr.Message, payer), nil
	}

	// 3. Replay: the (payer, nonce) pair must be unconsumed.
	if p.replay.Seen(payer, auth.Nonce) {
		ferr := types.NewNonceReplayedError(payer)
		return types.NewInvalidResponse(ferr.Message, payer), nil
	}
	consumed, err := p.authorizationState(ctx, requirements.Asset, auth)
	if err != nil {
		return nil, types.NewContractCallError(fmt.Sprintf("authorization state check failed: %v", err))
	}
	if consumed {
		ferr := types.NewNonceReplayedError(payer)
		return types.NewInvalidResponse(ferr.Message, payer), nil
	}

	// 4. Issuer compliance. Tokens without this surface skip the checks.
	if denylisted, ok := p.isBlacklisted(ctx, requirements.Asset, auth.From); ok && denylisted {
		ferr := types.NewPayerDenylistedError(payer)
		return types.NewInvalidResponse(ferr.Message, payer), nil
	}
	if paused, ok := p.paused(ctx, requirements.Asset); ok && paused {
		ferr := types.NewAssetPausedError(payer)
		return types.NewInvalidResponse(ferr.Message, payer), nil
	}

	// 5. Balance sufficiency.
	balance, err := p.balanceOf(ctx, requirements.Asset, auth.From)
	if err != nil {
		return nil, types.NewContractCallError(fmt.Sprintf("balance check failed: %v", err))
	}
	if balance.Cmp(value) < 0 {
		ferr := types.NewInsufficientFundsError(payer)
		return types.NewInvalidResponse(ferr.Message, payer), nil
	}

	return types.NewValidResponse(auth.From), nil
}

// Settle submits the authorization as a transferWithAuthorization transaction
// signed by the facilitator and waits (bounded) for inclusion. A revert is
// reported in the result; infrastructure failures are returned as retryable
// errors.
func (p *Provider) Settle(ctx context.Context, request *types.SettleRequest) (*types.SettleResponse, error) {
	auth := &request.PaymentPayload.Payload.Authorization
	payer := auth.From.Hex()

	failed := func(reason string) *types.SettleResponse {
		return &types.SettleResponse{
			Success:     false,
			Network:     p.network,
			Payer:       payer,
			ErrorReason: reason,
		}
	}

	verifyResp, err := p.Verify(ctx, &types.VerifyRequest{
		PaymentPayload:      request.PaymentPayload,
		PaymentRequirements: request.PaymentRequirements,
	})
	if err != nil {
		return nil, err
	}
	if !verifyResp.IsValid {
		return failed(verifyResp.InvalidReason), nil
	}

	nonce, err := ParseNonce(auth.Nonce)
	if err != nil {
		return failed(fmt.Sprintf("invalid nonce: %v", err)), nil
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(request.PaymentPayload.Payload.Signature, "0x"))
	if err != nil {
		return failed(fmt.Sprintf("invalid signature: %v", err)), nil
	}

	value, _ := new(big.Int).SetString(auth.Value, 10)
	validAfter, _ := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(auth.ValidBefore, 10)

	data, err := p.tokenABI.Pack("transferWithAuthorization",
		auth.From, auth.To, value, validAfter, validBefore, nonce, sig)
	if err != nil {
		return failed(fmt.Sprintf("failed to pack transfer: %v", err)), nil
	}

	tx, err := p.session.Submit(ctx, request.PaymentRequirements.Asset, nil, data)
	if err != nil {
		return nil, types.NewContractCallError(fmt.Sprintf("transaction submission failed: %v", err))
	}

	receipt, err := p.session.WaitMined(ctx, tx, p.settleTimeout)
	if err != nil {
		// The transaction may still land; surface the hash so the caller can
		// confirm idempotently before retrying.
		return nil, types.NewContractCallError(fmt.Sprintf("inclusion wait for %s failed: %v", tx.Hash().Hex(), err))
	}

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		reason := p.revertReason(ctx, request.PaymentRequirements.Asset, data, receipt)
		ferr := types.NewSettlementFailedError(payer, reason)
		return failed(ferr.Message), nil
	}

	if vb, ok := new(big.Int).SetString(auth.ValidBefore, 10); ok {
		p.replay.MarkUsed(payer, auth.Nonce, vb.Int64())
	}

	return &types.SettleResponse{
		Success:     true,
		Transaction: tx.Hash().Hex(),
		Network:     p.network,
		Payer:       payer,
	}, nil
}

// authorizationState reads the on-chain consumption flag for a (payer, nonce)
// pair.
func (p *Provider) authorizationState(ctx context.Context, token common.Address, auth *types.ExactEvmPayloadAuthorization) (bool, error) {
	nonce, err := ParseNonce(auth.Nonce)
	if err != nil {
		return false, err
	}
	data, err := p.tokenABI.Pack("authorizationState", auth.From, nonce)
	if err != nil {
		return false, err
	}
	result, err := p.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return false, err
	}
	var consumed bool
	if err := p.tokenABI.UnpackIntoInterface(&consumed, "authorizationState", result); err != nil {
		return false, err
	}
	return consumed, nil
}

// isBlacklisted reports (denylisted, known). Tokens without an issuer
// denylist revert the call; that is reported as unknown and skipped.
func (p *Provider) isBlacklisted(ctx context.Context, token, account common.Address) (bool, bool) {
	data, err := p.tokenABI.Pack("isBlacklisted", account)
	if err != nil {
		return false, false
	}
	result, err := p.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil || len(result) == 0 {
		return false, false
	}
	var denylisted bool
	if err := p.tokenABI.UnpackIntoInterface(&denylisted, "isBlacklisted", result); err != nil {
		log.Printf("evm: isBlacklisted unpack failed token=%s err=%v", token.Hex(), err)
		return false, false
	}
	return denylisted, true
}

// paused reports (paused, known), with the same skip semantics as
// isBlacklisted.
func (p *Provider) paused(ctx context.Context, token common.Address) (bool, bool) {
	data, err := p.tokenABI.Pack("paused")
	if err != nil {
		return false, false
	}
	result, err := p.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil || len(result) == 0 {
		return false, false
	}
	var paused bool
	if err := p.tokenABI.UnpackIntoInterface(&paused, "paused", result); err != nil {
		log.Printf("evm: paused unpack failed token=%s err=%v", token.Hex(), err)
		return false, false
	}
	return paused, true
}

func (p *Provider) balanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	data, err := p.tokenABI.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}
	result, err := p.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}
	var balance *big.Int
	if err := p.tokenABI.UnpackIntoInterface(&balance, "balanceOf", result); err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf result: %w", err)
	}
	return balance, nil
}

// revertReason replays a failed call at its inclusion block to recover the
// contract's revert string. Best-effort: some nodes prune the state needed.
func (p *Provider) revertReason(ctx context.Context, to common.Address, data []byte, receipt *ethtypes.Receipt) string {
	msg := ethereum.CallMsg{From: p.session.Address(), To: &to, Data: data}
	_, err := p.backend.CallContract(ctx, msg, receipt.BlockNumber)
	if err == nil {
		return "transaction reverted"
	}
	return fmt.Sprintf("transaction reverted: %v", err)
}

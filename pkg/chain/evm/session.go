package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// SigningSession owns the facilitator's signing identity for one chain. All
// transaction submission flows through it: the account nonce is allocated and
// the transaction broadcast inside a single critical section, so concurrent
// settlements never race on the sequence number. Waiting for inclusion
// happens outside the lock.
type SigningSession struct {
	mu      sync.Mutex
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	backend Backend
}

// NewSigningSession parses a hex private key and binds it to a chain backend.
func NewSigningSession(backend Backend, chainID *big.Int, privateKeyHex string) (*SigningSession, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	pub, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("error casting public key to ECDSA")
	}
	return &SigningSession{
		key:     key,
		address: crypto.PubkeyToAddress(*pub),
		chainID: chainID,
		backend: backend,
	}, nil
}

// Address returns the session's account address.
func (s *SigningSession) Address() common.Address {
	return s.address
}

// ChainID returns the chain the session signs for.
func (s *SigningSession) ChainID() *big.Int {
	return s.chainID
}

// Submit signs and broadcasts a contract call. Nonce allocation, gas pricing,
// signing and broadcast run under the session lock. A nil value means no
// native currency is attached.
func (s *SigningSession) Submit(ctx context.Context, to common.Address, value *big.Int, data []byte) (*ethtypes.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value == nil {
		value = big.NewInt(0)
	}

	nonce, err := s.backend.PendingNonceAt(ctx, s.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get account nonce: %w", err)
	}

	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	gasLimit, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  s.address,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, fmt.Errorf("gas estimation failed: %w", err)
	}
	// Headroom for state drift between estimation and inclusion.
	gasLimit += gasLimit / 5

	tx := ethtypes.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signedTx, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign tx: %w", err)
	}

	if err := s.backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send tx: %w", err)
	}
	return signedTx, nil
}

// WaitMined polls for the transaction receipt until it lands, the context is
// cancelled, or the timeout elapses. A timeout is returned as an error; the
// transaction may still land later and can be re-queried by hash.
func (s *SigningSession) WaitMined(ctx context.Context, tx *ethtypes.Transaction, timeout time.Duration) (*ethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		receipt, err := s.backend.TransactionReceipt(ctx, tx.Hash())
		if err == nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("transaction %s not yet mined: %w", tx.Hash().Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

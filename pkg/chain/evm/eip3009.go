package evm

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/novix-pay/novix-go/pkg/types"
)

// DefaultEIP712Domain is assumed when a requirement carries no explicit
// signing-domain metadata. It matches the USDC FiatToken deployments this
// facilitator targets.
var DefaultEIP712Domain = types.EIP712Extra{Name: "USD Coin", Version: "2"}

// typedData builds the EIP-712 TransferWithAuthorization structure for an
// authorization, domain-separated by chain id, asset contract and the
// name/version pair from the requirement.
func typedData(auth *types.ExactEvmPayloadAuthorization, chainID *big.Int, asset common.Address, domain types.EIP712Extra) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: asset.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From.Hex(),
			"to":          auth.To.Hex(),
			"value":       auth.Value,
			"validAfter":  auth.ValidAfter,
			"validBefore": auth.ValidBefore,
			"nonce":       auth.Nonce,
		},
	}
}

// AuthorizationDigest computes the EIP-712 digest a payer signs for an
// authorization.
func AuthorizationDigest(auth *types.ExactEvmPayloadAuthorization, chainID *big.Int, asset common.Address, domain types.EIP712Extra) (common.Hash, error) {
	td := typedData(auth, chainID, asset, domain)

	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash message: %w", err)
	}

	raw := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(messageHash)))
	return crypto.Keccak256Hash(raw), nil
}

// SignAuthorization signs an authorization with the payer's key and returns
// the 65-byte signature with V in {27, 28}.
func SignAuthorization(key *ecdsa.PrivateKey, auth *types.ExactEvmPayloadAuthorization, chainID *big.Int, asset common.Address, domain types.EIP712Extra) ([]byte, error) {
	digest, err := AuthorizationDigest(auth, chainID, asset, domain)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign authorization: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// RecoverSigner recovers the address that signed an authorization.
func RecoverSigner(auth *types.ExactEvmPayloadAuthorization, signature string, chainID *big.Int, asset common.Address, domain types.EIP712Extra) (common.Address, error) {
	digest, err := AuthorizationDigest(auth, chainID, asset, domain)
	if err != nil {
		return common.Address{}, err
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(sig))
	}
	if sig[64] >= 27 {
		sig = append(append([]byte{}, sig[:64]...), sig[64]-27)
	}

	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// CheckTiming validates the authorization's validity window against now.
// It returns AuthorizationNotYetValid or AuthorizationExpired, never both,
// with the remaining/elapsed seconds surfaced in the message.
func CheckTiming(auth *types.ExactEvmPayloadAuthorization, now uint64) *types.FacilitatorError {
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return types.NewDecodingError(fmt.Sprintf("invalid validAfter: %q", auth.ValidAfter))
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return types.NewDecodingError(fmt.Sprintf("invalid validBefore: %q", auth.ValidBefore))
	}

	nowBig := new(big.Int).SetUint64(now)
	if nowBig.Cmp(validAfter) < 0 {
		remaining := new(big.Int).Sub(validAfter, nowBig)
		return types.NewNotYetValidError(auth.From.Hex(), remaining.Uint64())
	}
	if nowBig.Cmp(validBefore) >= 0 {
		elapsed := new(big.Int).Sub(nowBig, validBefore)
		return types.NewExpiredError(auth.From.Hex(), elapsed.Uint64())
	}
	return nil
}

// ParseNonce decodes the hex nonce of an authorization into its fixed-size
// on-chain representation.
func ParseNonce(nonce string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(nonce, "0x"))
	if err != nil {
		return out, fmt.Errorf("invalid nonce hex: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("invalid nonce length: %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

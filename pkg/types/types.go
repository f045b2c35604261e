package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// X402Version is the protocol version carried in payloads and 402 bodies.
const X402Version = 1

// Scheme represents the payment scheme
type Scheme string

const (
	SchemeExact Scheme = "exact"
)

// Network represents supported blockchain networks
type Network string

const (
	NetworkEtherlink        Network = "etherlink"
	NetworkEtherlinkTestnet Network = "etherlink-testnet"
	NetworkBaseSepolia      Network = "base-sepolia"
	NetworkBase             Network = "base"
	NetworkAvalancheFuji    Network = "avalanche-fuji"
	NetworkAvalanche        Network = "avalanche"
	NetworkPolygonAmoy      Network = "polygon-amoy"
	NetworkPolygon          Network = "polygon"
)

// EIP712Extra carries the asset's EIP-712 signing domain name and version.
// It replaces the protocol's free-form "extra" bag with the one variant this
// facilitator understands, so the signing-domain construction is checked at
// compile time.
type EIP712Extra struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// PaymentRequirements specifies one acceptable way to pay for a resource.
type PaymentRequirements struct {
	Scheme            Scheme          `json:"scheme"`
	Network           Network         `json:"network"`
	MaxAmountRequired string          `json:"maxAmountRequired"`
	Resource          string          `json:"resource"`
	Description       string          `json:"description"`
	MimeType          string          `json:"mimeType,omitempty"`
	PayTo             string          `json:"payTo"`
	MaxTimeoutSeconds int             `json:"maxTimeoutSeconds"`
	Asset             common.Address  `json:"asset"`
	OutputSchema      json.RawMessage `json:"outputSchema,omitempty"`
	Extra             *EIP712Extra    `json:"extra,omitempty"`
}

// ExactEvmPayloadAuthorization represents EIP-3009 transfer authorization data
type ExactEvmPayloadAuthorization struct {
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	Value       string         `json:"value"`
	ValidAfter  string         `json:"validAfter"`
	ValidBefore string         `json:"validBefore"`
	Nonce       string         `json:"nonce"` // hex-encoded 32 bytes
}

// ExactEvmPayload contains the signed authorization
type ExactEvmPayload struct {
	Signature     string                       `json:"signature"` // hex-encoded
	Authorization ExactEvmPayloadAuthorization `json:"authorization"`
}

// PaymentPayload is the value carried across the wire in X-PAYMENT headers.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      Scheme          `json:"scheme"`
	Network     Network         `json:"network"`
	Payload     ExactEvmPayload `json:"payload"`
}

// VerifyRequest is the request to verify a payment
type VerifyRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// SettleRequest is the request to settle a payment
type SettleRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse is the response from payment verification.
// Payer is populated best-effort even on failure, for diagnostics.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// NewValidResponse creates a successful verification response
func NewValidResponse(payer common.Address) *VerifyResponse {
	return &VerifyResponse{IsValid: true, Payer: payer.Hex()}
}

// NewInvalidResponse creates a failed verification response
func NewInvalidResponse(reason, payer string) *VerifyResponse {
	return &VerifyResponse{IsValid: false, InvalidReason: reason, Payer: payer}
}

// SettleResponse is the response from payment settlement
type SettleResponse struct {
	Success     bool    `json:"success"`
	Transaction string  `json:"transaction,omitempty"`
	Network     Network `json:"network,omitempty"`
	Payer       string  `json:"payer,omitempty"`
	ErrorReason string  `json:"errorReason,omitempty"`
}

// SupportedPaymentKind represents a supported payment type
type SupportedPaymentKind struct {
	X402Version int     `json:"x402Version"`
	Scheme      Scheme  `json:"scheme"`
	Network     Network `json:"network"`
}

// SupportedPaymentKindsResponse lists all supported payment kinds
type SupportedPaymentKindsResponse struct {
	Kinds []SupportedPaymentKind `json:"kinds"`
}

// PaymentRequired is the JSON body of a 402 response.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// ErrorKind classifies facilitator errors by how callers should react.
type ErrorKind int

const (
	// KindClientInput: malformed payload, unsupported asset/network. Never
	// retried automatically.
	KindClientInput ErrorKind = iota
	// KindAuthorization: bad signature, invalid window, reused nonce,
	// denylisted payer. Resubmission requires a fresh signature.
	KindAuthorization
	// KindSettlement: the chain reverted the transfer. The nonce may already
	// be burned; do not retry with the same payload.
	KindSettlement
	// KindTransientInfra: RPC timeout or node unreachable. Safe to retry
	// with backoff.
	KindTransientInfra
)

// FacilitatorError represents errors that can occur during facilitation
type FacilitatorError struct {
	Type    string
	Kind    ErrorKind
	Message string
	Payer   string
}

func (e *FacilitatorError) Error() string {
	if e.Payer != "" {
		return fmt.Sprintf("%s: %s (payer: %s)", e.Type, e.Message, e.Payer)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Retryable reports whether the operation may be retried with the same payload.
func (e *FacilitatorError) Retryable() bool {
	return e.Kind == KindTransientInfra
}

// Error constructors

func NewUnsupportedNetworkError(network Network) *FacilitatorError {
	return &FacilitatorError{
		Type:    "UnsupportedNetwork",
		Kind:    KindClientInput,
		Message: fmt.Sprintf("network %s not supported by this facilitator", network),
	}
}

func NewUnsupportedAssetError(network Network, asset string) *FacilitatorError {
	return &FacilitatorError{
		Type:    "UnsupportedAsset",
		Kind:    KindClientInput,
		Message: fmt.Sprintf("no known asset %s on network %s", asset, network),
	}
}

func NewNetworkMismatchError(expected, actual Network) *FacilitatorError {
	return &FacilitatorError{
		Type:    "NetworkMismatch",
		Kind:    KindClientInput,
		Message: fmt.Sprintf("expected %s, got %s", expected, actual),
	}
}

func NewSchemeMismatchError(expected, actual Scheme) *FacilitatorError {
	return &FacilitatorError{
		Type:    "SchemeMismatch",
		Kind:    KindClientInput,
		Message: fmt.Sprintf("expected %s, got %s", expected, actual),
	}
}

func NewReceiverMismatchError(expected, actual, payer string) *FacilitatorError {
	return &FacilitatorError{
		Type:    "ReceiverMismatch",
		Kind:    KindAuthorization,
		Message: fmt.Sprintf("authorization pays %s, requirement demands %s", actual, expected),
		Payer:   payer,
	}
}

func NewNotYetValidError(payer string, secondsUntilValid uint64) *FacilitatorError {
	return &FacilitatorError{
		Type:    "AuthorizationNotYetValid",
		Kind:    KindAuthorization,
		Message: fmt.Sprintf("authorization becomes valid in %d seconds", secondsUntilValid),
		Payer:   payer,
	}
}

func NewExpiredError(payer string, secondsSinceExpiry uint64) *FacilitatorError {
	return &FacilitatorError{
		Type:    "AuthorizationExpired",
		Kind:    KindAuthorization,
		Message: fmt.Sprintf("authorization expired %d seconds ago", secondsSinceExpiry),
		Payer:   payer,
	}
}

func NewNonceReplayedError(payer string) *FacilitatorError {
	return &FacilitatorError{
		Type:    "NonceAlreadyUsed",
		Kind:    KindAuthorization,
		Message: "authorization nonce has already been consumed",
		Payer:   payer,
	}
}

func NewPayerDenylistedError(payer string) *FacilitatorError {
	return &FacilitatorError{
		Type:    "PayerDenylisted",
		Kind:    KindAuthorization,
		Message: "payer is denylisted by the asset issuer",
		Payer:   payer,
	}
}

func NewAssetPausedError(payer string) *FacilitatorError {
	return &FacilitatorError{
		Type:    "AssetPaused",
		Kind:    KindAuthorization,
		Message: "asset contract is paused",
		Payer:   payer,
	}
}

func NewInsufficientFundsError(payer string) *FacilitatorError {
	return &FacilitatorError{
		Type:    "InsufficientFunds",
		Kind:    KindAuthorization,
		Message: "payer has insufficient balance",
		Payer:   payer,
	}
}

func NewInsufficientValueError(payer string) *FacilitatorError {
	return &FacilitatorError{
		Type:    "InsufficientValue",
		Kind:    KindAuthorization,
		Message: "authorized amount less than required",
		Payer:   payer,
	}
}

func NewInvalidSignatureError(payer, message string) *FacilitatorError {
	return &FacilitatorError{
		Type:    "InvalidSignature",
		Kind:    KindAuthorization,
		Message: message,
		Payer:   payer,
	}
}

func NewDecodingError(message string) *FacilitatorError {
	return &FacilitatorError{
		Type:    "DecodingError",
		Kind:    KindClientInput,
		Message: message,
	}
}

func NewSettlementFailedError(payer, reason string) *FacilitatorError {
	return &FacilitatorError{
		Type:    "SettlementFailed",
		Kind:    KindSettlement,
		Message: reason,
		Payer:   payer,
	}
}

func NewContractCallError(message string) *FacilitatorError {
	return &FacilitatorError{
		Type:    "ContractCallError",
		Kind:    KindTransientInfra,
		Message: message,
	}
}

// UnixTimestamp returns the current Unix timestamp in seconds
func UnixTimestamp() uint64 {
	return uint64(time.Now().Unix())
}

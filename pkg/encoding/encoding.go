// Package encoding implements the transport encoding for payment payloads and
// settlement summaries: base64 of canonical JSON, carried in the X-PAYMENT and
// X-PAYMENT-RESPONSE HTTP headers.
package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/novix-pay/novix-go/pkg/types"
)

// ErrMalformedPayload reports that an encoded value could not be decoded into
// its expected structure.
var ErrMalformedPayload = errors.New("malformed payment payload")

// EncodePayment converts a PaymentPayload to a base64-encoded JSON string.
func EncodePayment(payment *types.PaymentPayload) (string, error) {
	data, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePayment converts a base64-encoded JSON string to a PaymentPayload.
// Unknown fields and structural errors yield ErrMalformedPayload.
func DecodePayment(encoded string) (*types.PaymentPayload, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var payment types.PaymentPayload
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payment); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &payment, nil
}

// EncodeSettlement converts a SettleResponse to a base64-encoded JSON string.
func EncodeSettlement(settlement *types.SettleResponse) (string, error) {
	data, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeSettlement converts a base64-encoded JSON string to a SettleResponse.
func DecodeSettlement(encoded string) (*types.SettleResponse, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var settlement types.SettleResponse
	if err := json.Unmarshal(data, &settlement); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &settlement, nil
}

// EncodeRequirements converts a PaymentRequired challenge to base64 JSON.
func EncodeRequirements(required *types.PaymentRequired) (string, error) {
	data, err := json.Marshal(required)
	if err != nil {
		return "", fmt.Errorf("failed to marshal requirements: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeRequirements converts base64 JSON to a PaymentRequired challenge.
func DecodeRequirements(encoded string) (*types.PaymentRequired, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var required types.PaymentRequired
	if err := json.Unmarshal(data, &required); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &required, nil
}

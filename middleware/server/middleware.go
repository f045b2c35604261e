// Package server provides payment protection middleware for resource servers.
// Requests without a valid X-PAYMENT header receive 402 Payment Required with
// the accepted requirements; paid requests are verified and settled through a
// facilitator before the protected handler runs.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/novix-pay/novix-go/pkg/encoding"
	"github.com/novix-pay/novix-go/pkg/requirements"
	"github.com/novix-pay/novix-go/pkg/store"
	"github.com/novix-pay/novix-go/pkg/types"
)

// PaymentHeader carries the client's signed payment on protected requests.
const PaymentHeader = "X-Payment"

// SettlementHeader carries the settlement result back to the client.
const SettlementHeader = "X-Payment-Response"

// X402Middleware provides payment protection for HTTP handlers
type X402Middleware struct {
	facilitatorURL string
	client         *http.Client
	receipts       store.ReceiptStore
}

// Option configures the middleware.
type Option func(*X402Middleware)

// WithReceiptStore records every settled payment to the given store.
func WithReceiptStore(receipts store.ReceiptStore) Option {
	return func(m *X402Middleware) { m.receipts = receipts }
}

// NewX402Middleware creates a new middleware instance
func NewX402Middleware(facilitatorURL string, opts ...Option) *X402Middleware {
	m := &X402Middleware{
		facilitatorURL: strings.TrimSuffix(facilitatorURL, "/"),
		client: &http.Client{
			Timeout: 90 * time.Second, // settlement waits for a mined transaction
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Protect wraps an HTTP handler with payment verification. The accepted
// requirements usually come from requirements.Build.
func (m *X402Middleware) Protect(next http.Handler, accepts []types.PaymentRequirements) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paymentHeader := r.Header.Get(PaymentHeader)
		if paymentHeader == "" {
			// No payment provided, return 402 Payment Required
			m.send402(w, accepts, "")
			return
		}

		payload, err := encoding.DecodePayment(paymentHeader)
		if err != nil {
			m.send402(w, accepts, fmt.Sprintf("invalid payment header: %v", err))
			return
		}

		// Pick the requirement the payment targets. No match means the
		// payment pays for something we did not offer.
		matched, err := requirements.Match(accepts, payload)
		if err != nil {
			if errors.Is(err, requirements.ErrNoMatchingRequirement) {
				m.send402(w, accepts, "payment does not match any accepted requirement")
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		// Verify payment with facilitator
		verifyResp, err := m.verifyPayment(r.Context(), payload, matched)
		if err != nil {
			http.Error(w, fmt.Sprintf("payment verification failed: %v", err), http.StatusBadGateway)
			return
		}
		if !verifyResp.IsValid {
			m.send402(w, accepts, verifyResp.InvalidReason)
			return
		}

		// Settle before serving: the resource is only released once the
		// transfer is on chain.
		settleResp, err := m.settlePayment(r.Context(), payload, matched)
		if err != nil {
			http.Error(w, fmt.Sprintf("payment settlement failed: %v", err), http.StatusBadGateway)
			return
		}
		if !settleResp.Success {
			m.send402(w, accepts, settleResp.ErrorReason)
			return
		}

		m.recordReceipt(r.Context(), matched, settleResp)

		if encoded, err := encoding.EncodeSettlement(settleResp); err == nil {
			w.Header().Set(SettlementHeader, encoded)
		}

		next.ServeHTTP(w, r)
	})
}

// verifyPayment calls the facilitator to verify a payment
func (m *X402Middleware) verifyPayment(ctx context.Context, payload *types.PaymentPayload, req *types.PaymentRequirements) (*types.VerifyResponse, error) {
	verifyReq := types.VerifyRequest{
		PaymentPayload:      *payload,
		PaymentRequirements: *req,
	}
	var verifyResp types.VerifyResponse
	if err := m.post(ctx, "/verify", verifyReq, &verifyResp); err != nil {
		return nil, err
	}
	return &verifyResp, nil
}

// settlePayment calls the facilitator to settle a payment
func (m *X402Middleware) settlePayment(ctx context.Context, payload *types.PaymentPayload, req *types.PaymentRequirements) (*types.SettleResponse, error) {
	settleReq := types.SettleRequest{
		PaymentPayload:      *payload,
		PaymentRequirements: *req,
	}
	var settleResp types.SettleResponse
	if err := m.post(ctx, "/settle", settleReq, &settleResp); err != nil {
		return nil, err
	}
	return &settleResp, nil
}

func (m *X402Middleware) post(ctx context.Context, path string, payload, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.facilitatorURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("facilitator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("facilitator returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to parse facilitator response: %w", err)
	}
	return nil
}

func (m *X402Middleware) recordReceipt(ctx context.Context, req *types.PaymentRequirements, settle *types.SettleResponse) {
	if m.receipts == nil {
		return
	}
	_, err := m.receipts.Insert(ctx, store.Receipt{
		Payer:       settle.Payer,
		PayTo:       req.PayTo,
		Asset:       req.Asset.Hex(),
		Amount:      req.MaxAmountRequired,
		Network:     string(req.Network),
		Resource:    req.Resource,
		Transaction: settle.Transaction,
	})
	if err != nil {
		// Receipts are an audit trail, not a gate: the payment already
		// settled, so serve the resource and log the miss.
		log.Printf("x402: failed to record receipt for tx %s: %v", settle.Transaction, err)
	}
}

// send402 sends a 402 Payment Required response listing accepted requirements.
func (m *X402Middleware) send402(w http.ResponseWriter, accepts []types.PaymentRequirements, reason string) {
	if reason == "" {
		reason = "payment required"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	json.NewEncoder(w).Encode(types.PaymentRequired{
		X402Version: types.X402Version,
		Error:       reason,
		Accepts:     accepts,
	})
}

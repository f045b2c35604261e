// Package client provides an HTTP client that pays for 402-protected
// resources automatically: it parses the requirements from a 402 response,
// signs an EIP-3009 authorization, and retries the request with the payment
// attached.
package client

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/novix-pay/novix-go/pkg/chain/evm"
	"github.com/novix-pay/novix-go/pkg/encoding"
	"github.com/novix-pay/novix-go/pkg/network"
	"github.com/novix-pay/novix-go/pkg/types"
)

// PaymentHeader carries the signed payment on retried requests.
const PaymentHeader = "X-Payment"

// SettlementHeader carries the settlement result on the paid response.
const SettlementHeader = "X-Payment-Response"

// DefaultValidityWindow bounds how long a signed authorization stays usable
// when the server does not state a timeout.
const DefaultValidityWindow = 10 * time.Minute

// PayingClient is an HTTP client that automatically handles x402 payments
type PayingClient struct {
	client     *http.Client
	signer     *ecdsa.PrivateKey
	signerAddr common.Address
}

// NewPayingClient creates a new client with payment capabilities
func NewPayingClient(privateKeyHex string) (*PayingClient, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &PayingClient{
		client:     &http.Client{Timeout: 90 * time.Second},
		signer:     privateKey,
		signerAddr: crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Address returns the paying account.
func (c *PayingClient) Address() common.Address {
	return c.signerAddr
}

// Get performs a GET request with automatic payment handling
func (c *PayingClient) Get(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post performs a POST request with automatic payment handling
func (c *PayingClient) Post(url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// Do executes an HTTP request, paying once if the server answers 402.
func (c *PayingClient) Do(req *http.Request) (*http.Response, error) {
	// First, try the request without payment
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	required, err := parsePaymentRequired(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse payment requirements: %w", err)
	}

	selected, err := c.selectRequirement(required.Accepts)
	if err != nil {
		return nil, err
	}

	payload, err := c.buildPayment(selected)
	if err != nil {
		return nil, fmt.Errorf("failed to generate payment: %w", err)
	}

	header, err := encoding.EncodePayment(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment: %w", err)
	}

	// Retry request with payment
	retryReq := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retryReq.Body = body
	}
	retryReq.Header.Set(PaymentHeader, header)

	return c.client.Do(retryReq)
}

// parsePaymentRequired extracts accepted requirements from a 402 response body.
func parsePaymentRequired(resp *http.Response) (*types.PaymentRequired, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	var required types.PaymentRequired
	if err := json.Unmarshal(body, &required); err != nil {
		return nil, err
	}
	if len(required.Accepts) == 0 {
		return nil, fmt.Errorf("402 response lists no accepted payment requirements")
	}
	return &required, nil
}

// selectRequirement picks the first requirement this client can satisfy.
func (c *PayingClient) selectRequirement(accepts []types.PaymentRequirements) (*types.PaymentRequirements, error) {
	for i := range accepts {
		req := &accepts[i]
		if req.Scheme != types.SchemeExact {
			continue
		}
		if _, err := network.ChainIDBig(req.Network); err != nil {
			continue
		}
		return req, nil
	}
	return nil, fmt.Errorf("no supported payment requirement among %d offered", len(accepts))
}

// buildPayment signs an EIP-3009 authorization for the selected requirement.
func (c *PayingClient) buildPayment(req *types.PaymentRequirements) (*types.PaymentPayload, error) {
	chainID, err := network.ChainIDBig(req.Network)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	window := DefaultValidityWindow
	if req.MaxTimeoutSeconds > 0 {
		window = time.Duration(req.MaxTimeoutSeconds) * time.Second
	}

	// Backdate validAfter slightly so clock skew between client and
	// verifier cannot reject a fresh authorization.
	now := time.Now()
	auth := types.ExactEvmPayloadAuthorization{
		From:        c.signerAddr,
		To:          common.HexToAddress(req.PayTo),
		Value:       req.MaxAmountRequired,
		ValidAfter:  fmt.Sprintf("%d", now.Add(-30*time.Second).Unix()),
		ValidBefore: fmt.Sprintf("%d", now.Add(window).Unix()),
		Nonce:       "0x" + hex.EncodeToString(nonce),
	}

	domain := evm.DefaultEIP712Domain
	if req.Extra != nil {
		domain = *req.Extra
	}

	signature, err := evm.SignAuthorization(c.signer, &auth, chainID, req.Asset, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to sign authorization: %w", err)
	}

	return &types.PaymentPayload{
		X402Version: types.X402Version,
		Scheme:      types.SchemeExact,
		Network:     req.Network,
		Payload: types.ExactEvmPayload{
			Signature:     "0x" + hex.EncodeToString(signature),
			Authorization: auth,
		},
	}, nil
}

// Settlement decodes the settlement result attached to a paid response, if
// the server provided one.
func Settlement(resp *http.Response) (*types.SettleResponse, error) {
	header := resp.Header.Get(SettlementHeader)
	if header == "" {
		return nil, fmt.Errorf("response carries no settlement header")
	}
	return encoding.DecodeSettlement(header)
}

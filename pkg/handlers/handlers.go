package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/novix-pay/novix-go/pkg/facilitator"
	"github.com/novix-pay/novix-go/pkg/types"
)

// Handler manages HTTP handlers for the facilitator
type Handler struct {
	facilitator facilitator.Facilitator
}

// NewHandler creates a new HTTP handler
func NewHandler(fac facilitator.Facilitator) *Handler {
	return &Handler{facilitator: fac}
}

// VerifyHandler handles POST /verify requests
func (h *Handler) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Reject malformed input before any business logic runs.
	var req types.VerifyRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	resp, err := h.facilitator.Verify(r.Context(), &req)
	if err != nil {
		var facErr *types.FacilitatorError
		if errors.As(err, &facErr) {
			if facErr.Retryable() {
				respondError(w, http.StatusBadGateway, facErr.Message)
				return
			}
			respondJSON(w, http.StatusOK, types.NewInvalidResponse(facErr.Message, facErr.Payer))
			return
		}
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("verification failed: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// SettleHandler handles POST /settle requests
func (h *Handler) SettleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.SettleRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	resp, err := h.facilitator.Settle(r.Context(), &req)
	if err != nil {
		var facErr *types.FacilitatorError
		if errors.As(err, &facErr) {
			status := http.StatusOK
			if facErr.Retryable() {
				// Signal that the caller may retry or re-query by hash.
				status = http.StatusBadGateway
			}
			respondJSON(w, status, types.SettleResponse{
				Success:     false,
				Network:     req.PaymentPayload.Network,
				Payer:       facErr.Payer,
				ErrorReason: facErr.Message,
			})
			return
		}
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("settlement failed: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// SupportedHandler handles GET /supported requests
func (h *Handler) SupportedHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp, err := h.facilitator.Supported(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get supported kinds: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// HealthHandler handles GET /health requests
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// SetupRoutes sets up all HTTP routes
func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/verify", h.VerifyHandler)
	mux.HandleFunc("/settle", h.SettleHandler)
	mux.HandleFunc("/supported", h.SupportedHandler)
	mux.HandleFunc("/health", h.HealthHandler)
}

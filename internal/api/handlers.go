// v1
// internal/api/handlers.go
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/psgoularte/DePIN-Sparked/internal/challenge"
	"github.com/psgoularte/DePIN-Sparked/internal/ledger"
	"github.com/psgoularte/DePIN-Sparked/internal/merkle"
	"github.com/psgoularte/DePIN-Sparked/internal/registry"
	"github.com/psgoularte/DePIN-Sparked/internal/sigcheck"
	"github.com/psgoularte/DePIN-Sparked/internal/telemetry"
)

// revokeMessagePrefix is what the owner signs to retire a device.
const revokeMessagePrefix = "revoke:"

type ingestor interface {
	Ingest(ctx context.Context, sub telemetry.Submission) (*telemetry.Accepted, error)
}

type identityMinter interface {
	MintIdentity(ctx context.Context, publicKey, macAddress string) (ledger.MintResult, error)
}

type Handlers struct {
	Log        *slog.Logger
	Devices    registry.Store
	Challenges *challenge.Manager
	Minter     identityMinter
	Pipeline   ingestor
	Proofs     merkle.ProofStore

	ChallengeTTL time.Duration
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	PublicKey         string             `json:"publicKey"`
	MACAddress        string             `json:"macAddress,omitempty"`
	ChallengeResponse *challengeResponse `json:"challengeResponse,omitempty"`
}

type challengeResponse struct {
	Challenge string          `json:"challenge"`
	Signature json.RawMessage `json:"signature"`
}

// Register runs both stages of enrollment. Without a challengeResponse
// it issues a fresh nonce; with one it consumes the nonce and mints the
// device identity on the ledger.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCode(w, CodeValidationError, "malformed request body")
		return
	}
	if strings.TrimSpace(req.PublicKey) == "" {
		writeCode(w, CodeValidationError, "publicKey is required")
		return
	}

	if req.ChallengeResponse == nil {
		nonce, err := h.Challenges.Issue(r.Context(), req.PublicKey, req.MACAddress)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"challenge": nonce,
			"expiresIn": int(h.ChallengeTTL.Seconds()),
		})
		return
	}

	sig, err := sigcheck.ParseSignature(req.ChallengeResponse.Signature)
	if err != nil {
		writeCode(w, CodeValidationError, "malformed signature")
		return
	}
	if err := h.Challenges.Consume(r.Context(), req.PublicKey, req.ChallengeResponse.Challenge, sig); err != nil {
		writeError(w, err)
		return
	}

	device, err := h.Devices.GetByPublicKey(r.Context(), req.PublicKey)
	if err != nil {
		writeError(w, err)
		return
	}
	if device.TokenAddress != "" {
		// Re-enrollment of a known device is idempotent.
		writeJSON(w, http.StatusOK, map[string]string{
			"status":               "success",
			"identityTokenAddress": device.TokenAddress,
			"txRef":                device.LastTxRef,
		})
		return
	}

	mint, err := h.Minter.MintIdentity(r.Context(), req.PublicKey, device.MACAddress)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.Devices.Upsert(r.Context(), req.PublicKey, registry.Patch{
		TokenAddress: registry.StringPtr(mint.TokenAddress),
		LastTxRef:    registry.StringPtr(mint.TxRef),
	}); err != nil {
		writeError(w, err)
		return
	}

	h.Log.Info("device enrolled", "token", mint.TokenAddress, "txRef", mint.TxRef)
	writeJSON(w, http.StatusCreated, map[string]string{
		"status":               "success",
		"identityTokenAddress": mint.TokenAddress,
		"txRef":                mint.TxRef,
	})
}

// SubmitTelemetry feeds one signed reading through the trust pipeline.
func (h *Handlers) SubmitTelemetry(w http.ResponseWriter, r *http.Request) {
	var sub telemetry.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeCode(w, CodeValidationError, "malformed request body")
		return
	}
	acc, err := h.Pipeline.Ingest(r.Context(), sub)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"leafHash":   acc.LeafHash,
		"receivedAt": acc.ReceivedAt,
	})
}

// GetProof returns the inclusion proof for an anchored leaf hash.
func (h *Handlers) GetProof(w http.ResponseWriter, r *http.Request) {
	leafHash := mux.Vars(r)["leafHash"]
	proof, ok, err := h.Proofs.Get(r.Context(), leafHash)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeCode(w, CodeNotFound, "no proof for this leaf hash; the batch may not be anchored yet")
		return
	}
	writeJSON(w, http.StatusOK, proof)
}

type revokeRequest struct {
	TokenAddress string          `json:"tokenAddress"`
	Signature    json.RawMessage `json:"signature"`
}

// Revoke retires a device. The request must be signed by the device key
// over "revoke:" followed by the token address.
func (h *Handlers) Revoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCode(w, CodeValidationError, "malformed request body")
		return
	}
	if strings.TrimSpace(req.TokenAddress) == "" {
		writeCode(w, CodeValidationError, "tokenAddress is required")
		return
	}

	device, err := h.Devices.GetByToken(r.Context(), req.TokenAddress)
	if err != nil {
		writeError(w, err)
		return
	}
	sig, err := sigcheck.ParseSignature(req.Signature)
	if err != nil {
		writeCode(w, CodeValidationError, "malformed signature")
		return
	}
	valid, err := sigcheck.Verify(device.PublicKey, []byte(revokeMessagePrefix+req.TokenAddress), sig)
	if err != nil {
		writeCode(w, CodeValidationError, "malformed signature")
		return
	}
	if !valid {
		writeCode(w, CodeInvalidSignature, "revocation signature does not verify")
		return
	}

	if err := h.Devices.Revoke(r.Context(), req.TokenAddress); err != nil {
		writeError(w, err)
		return
	}
	h.Log.Info("device revoked", "token", req.TokenAddress)
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

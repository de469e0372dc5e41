// v1
// internal/api/errors.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/psgoularte/DePIN-Sparked/internal/challenge"
	"github.com/psgoularte/DePIN-Sparked/internal/freshness"
	"github.com/psgoularte/DePIN-Sparked/internal/ledger"
	"github.com/psgoularte/DePIN-Sparked/internal/registry"
	"github.com/psgoularte/DePIN-Sparked/internal/telemetry"
)

// Code is the machine-readable rejection reason carried in every error
// response body.
type Code string

const (
	CodeValidationError   Code = "validation_error"
	CodeChallengeError    Code = "challenge_error"
	CodeInvalidSignature  Code = "invalid_signature"
	CodeNotRegistered     Code = "not_registered"
	CodeNotFound          Code = "not_found"
	CodeRevoked           Code = "revoked"
	CodeTooOld            Code = "too_old"
	CodeTooFuture         Code = "too_future"
	CodeReplayDetected    Code = "replay_detected"
	CodeRateLimited       Code = "rate_limited"
	CodeLedgerUnavailable Code = "ledger_unavailable"
	CodeStoreError        Code = "store_error"
)

func (c Code) status() int {
	switch c {
	case CodeValidationError, CodeTooFuture:
		return http.StatusBadRequest
	case CodeChallengeError, CodeInvalidSignature:
		return http.StatusUnauthorized
	case CodeRevoked:
		return http.StatusForbidden
	case CodeNotRegistered, CodeNotFound:
		return http.StatusNotFound
	case CodeTooOld:
		return http.StatusRequestTimeout
	case CodeReplayDetected:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeLedgerUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// codeFor maps pipeline and enrollment errors onto the wire taxonomy.
func codeFor(err error) Code {
	switch {
	case errors.Is(err, telemetry.ErrValidation):
		return CodeValidationError
	case errors.Is(err, telemetry.ErrInvalidSignature),
		errors.Is(err, challenge.ErrInvalidSignature):
		return CodeInvalidSignature
	case errors.Is(err, challenge.ErrNoPending),
		errors.Is(err, challenge.ErrMismatch),
		errors.Is(err, challenge.ErrExpired):
		return CodeChallengeError
	case errors.Is(err, telemetry.ErrRevoked), errors.Is(err, challenge.ErrRevoked):
		return CodeRevoked
	case errors.Is(err, registry.ErrNotFound):
		return CodeNotRegistered
	case errors.Is(err, freshness.ErrTooOld):
		return CodeTooOld
	case errors.Is(err, freshness.ErrTooFuture):
		return CodeTooFuture
	case errors.Is(err, freshness.ErrReplay):
		return CodeReplayDetected
	case errors.Is(err, telemetry.ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ledger.ErrUnavailable):
		return CodeLedgerUnavailable
	default:
		return CodeStoreError
	}
}

type errorBody struct {
	Error  Code   `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	code := codeFor(err)
	detail := err.Error()
	if code == CodeStoreError {
		detail = ""
	}
	writeCode(w, code, detail)
}

func writeCode(w http.ResponseWriter, code Code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.status())
	json.NewEncoder(w).Encode(errorBody{Error: code, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

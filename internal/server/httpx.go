// ABOUTME: JSON request/response helpers for the invoke surface
// ABOUTME: Maps ledger sentinel errors onto structured error envelopes

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/nainya/custodyledger/pkg/ledger"
)

func newRequestID() string { return "req_" + uuid.NewString() }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"request_id": newRequestID(),
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

func writeResult(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": newRequestID(),
		"result":     v,
	})
}

// writeLedgerError translates sentinel errors to HTTP statuses. ErrConflict
// is flagged retryable; everything else must not be retried blindly.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ledger.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, ledger.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"request_id": newRequestID(),
			"error": map[string]any{
				"code":      "CONFLICT",
				"message":   err.Error(),
				"retryable": true,
			},
		})
	case errors.Is(err, ledger.ErrMalformedInput):
		writeError(w, http.StatusBadRequest, "MALFORMED_INPUT", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

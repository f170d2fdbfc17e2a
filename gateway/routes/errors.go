package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"offlinesettle/native/settlement"
)

const requestLimit = 1 << 20 // 1 MiB

type errorJSON struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, "InvalidRequest", err)
}

func writeJSONError(w http.ResponseWriter, status int, code string, err error) {
	message := http.StatusText(status)
	if err != nil {
		if trimmed := strings.TrimSpace(err.Error()); trimmed != "" {
			message = trimmed
		}
	}
	writeJSON(w, status, errorJSON{Code: code, Message: message})
}

// writeEngineError maps a settlement rejection to its HTTP status. The body
// carries the stable rejection code so clients never parse messages.
func writeEngineError(w http.ResponseWriter, err error) {
	kind := settlement.Kind(err)
	if kind == "Internal" {
		writeJSONError(w, http.StatusInternalServerError, kind, errors.New("internal error"))
		return
	}
	writeJSONError(w, statusForKind(kind), kind, err)
}

func statusForKind(kind string) int {
	switch kind {
	case "InvalidRecipient", "InvalidAmount", "AlreadyExpired", "InvalidSignature", "InvalidNonce":
		return http.StatusBadRequest
	case "Unauthorized":
		return http.StatusForbidden
	case "NotFound":
		return http.StatusNotFound
	case "InsufficientFunds", "BalanceOverflow":
		return http.StatusUnprocessableEntity
	case "PayoutUnavailable":
		return http.StatusServiceUnavailable
	case "DuplicateTransaction", "DuplicateDedupToken", "AlreadyApproved",
		"InvalidState", "Expired", "DisputeWindowActive", "DisputeWindowClosed",
		"EscalationNotYetEligible", "ReentrantCall":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

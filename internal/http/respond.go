package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/splax/previewd/internal/domain"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError sends err with the status matching its taxonomy kind.
func writeDomainError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	noteErrorKind(w, kind)
	writeJSON(w, statusForKind(kind), map[string]string{
		"error":      err.Error(),
		"error_kind": string(kind),
	})
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidInput:
		return http.StatusUnprocessableEntity
	case domain.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case domain.KindProviderUnavailable:
		return http.StatusBadGateway
	case domain.KindCancelled:
		return http.StatusConflict
	case domain.KindNone:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

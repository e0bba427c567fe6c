package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oguzhanali/nft-marketplace/internal/errs"
)

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondError sends a plain error response.
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// respondValidation sends a field-keyed validation failure.
func respondValidation(w http.ResponseWriter, vErr *errs.ValidationError) {
	respondJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":  "validation failed",
		"fields": vErr.Fields,
	})
}

// respondServiceError maps the error taxonomy onto transport codes.
// Business rejections are expected and logged at debug; only real system
// failures reach the error log.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *errs.ValidationError

	switch {
	case errors.As(err, &vErr):
		respondValidation(w, vErr)
	case errors.Is(err, errs.ErrNotFound):
		respondError(w, http.StatusNotFound, "asset not found")
	case errors.Is(err, errs.ErrAuctionClosed):
		h.log.Debug().Str("path", r.URL.Path).Msg("rejected: auction closed")
		respondError(w, http.StatusGone, "auction closed")
	case errors.Is(err, errs.ErrUnavailable):
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("storage unavailable")
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry")
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/matthewbaird/cascade/internal/cascade"
)

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON encode error: %v", err)
	}
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// decodeJSON decodes the request body into v. Unknown fields are rejected.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parsePosition extracts and validates an integer path parameter.
func parsePosition(w http.ResponseWriter, r *http.Request, paramName string) (int, bool) {
	raw := chi.URLParam(r, paramName)
	pos, err := strconv.Atoi(raw)
	if err != nil || pos < 0 {
		writeError(w, http.StatusBadRequest, "INVALID_POSITION", "invalid position: "+raw)
		return 0, false
	}
	return pos, true
}

// parseLimit reads the limit query param, clamped to [1, 500].
func parseLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return min(n, 500)
}

// cascadeErrorToHTTP maps controller errors to HTTP responses.
func cascadeErrorToHTTP(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cascade.ErrPositionInvalid):
		writeError(w, http.StatusBadRequest, "INVALID_POSITION", err.Error())
	case errors.Is(err, cascade.ErrPrefixViolation):
		writeError(w, http.StatusConflict, "PREFIX_VIOLATION", err.Error())
	case errors.Is(err, cascade.ErrDisabled):
		writeError(w, http.StatusForbidden, "DISABLED", err.Error())
	case errors.Is(err, cascade.ErrDataUnavailable):
		writeError(w, http.StatusServiceUnavailable, "DATA_UNAVAILABLE", err.Error())
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

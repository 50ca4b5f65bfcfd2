package api

import (
	"encoding/json"
	"net/http"

	"github.com/yashasviy/guarded-transfers-api/engine"
	"github.com/yashasviy/guarded-transfers-api/models"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an engine error kind to the HTTP status the caller sees.
func statusFor(kind engine.Kind) int {
	switch kind {
	case engine.KindRateLimited:
		return http.StatusTooManyRequests
	case engine.KindInvalidInput:
		return http.StatusBadRequest
	case engine.KindAccountNotFound:
		return http.StatusNotFound
	case engine.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeErr renders err as {"error": kind, "message": text}. Internal errors
// get a fixed message so driver details never reach the caller.
func writeErr(w http.ResponseWriter, err error) {
	kind := engine.KindOf(err)
	msg := err.Error()
	if kind == engine.KindInternal {
		msg = "internal error"
	}
	writeJSON(w, statusFor(kind), models.ErrorResponse{Error: string(kind), Message: msg})
}

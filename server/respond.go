package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hearthchat/hearth/auth"
)

type errorBody struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorBody{Error: message})
}

// respondAuthError maps service errors onto HTTP statuses without
// leaking internals to the client.
func respondAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrUserExists):
		respondError(w, http.StatusConflict, "an account with this email already exists")
	case errors.Is(err, auth.ErrWeakPassword):
		respondError(w, http.StatusBadRequest, "password must be at least 8 characters with upper, lower, digit, and symbol")
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, auth.ErrCodeInvalid):
		respondError(w, http.StatusBadRequest, "invalid or expired verification code")
	case errors.Is(err, auth.ErrTokenExpired):
		respondError(w, http.StatusUnauthorized, "token expired")
	case errors.Is(err, auth.ErrTokenInvalid):
		respondError(w, http.StatusUnauthorized, "invalid token")
	default:
		slog.Error("auth request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody parses a JSON request body into dst, answering 400 on
// malformed input.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

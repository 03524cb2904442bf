package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/hearthchat/hearth/auth"
	"github.com/hearthchat/hearth/observability"
	"github.com/hearthchat/hearth/store"
)

// authHandler exposes the account lifecycle over JSON.
type authHandler struct {
	service *auth.Service
	metrics *observability.Metrics
}

func newAuthHandler(service *auth.Service, metrics *observability.Metrics) *authHandler {
	return &authHandler{service: service, metrics: metrics}
}

func (h *authHandler) observe(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	h.metrics.AuthRequests.WithLabelValues(operation, status).Inc()
}

type userResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	PhoneNumber   string `json:"phone_number,omitempty"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"email_verified"`
	CreatedAt     string `json:"created_at"`
}

func toUserResponse(u *store.User) userResponse {
	return userResponse{
		ID:            u.ID.String(),
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		PhoneNumber:   u.PhoneNumber,
		Role:          string(u.Role),
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type tokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        userResponse `json:"user"`
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
}

func (h *authHandler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := h.service.Register(r.Context(), req.Email, req.Password, req.FirstName, req.LastName, req.PhoneNumber)
	h.observe("register", err)
	if err != nil {
		respondAuthError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toUserResponse(user))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *authHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	token, user, err := h.service.Login(r.Context(), req.Email, req.Password)
	h.observe("login", err)
	if err != nil {
		respondAuthError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        toUserResponse(user),
	})
}

type googleLoginRequest struct {
	IDToken string `json:"id_token"`
}

func (h *authHandler) google(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	token, user, err := h.service.LoginWithGoogle(r.Context(), req.IDToken)
	h.observe("google", err)
	if err != nil {
		respondAuthError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        toUserResponse(user),
	})
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *authHandler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := h.service.VerifyEmail(r.Context(), req.Email, req.Code)
	h.observe("verify_email", err)
	if err != nil {
		respondAuthError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "email verified"})
}

type emailRequest struct {
	Email string `json:"email"`
}

// forgotPassword always answers the same way so the endpoint cannot be
// used to probe which addresses have accounts.
func (h *authHandler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := h.service.ForgotPassword(r.Context(), req.Email)
	h.observe("forgot_password", err)
	if err != nil {
		respondAuthError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "if the account exists, a reset link has been sent"})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (h *authHandler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword)
	h.observe("reset_password", err)
	if err != nil {
		respondAuthError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

func (h *authHandler) resendEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := h.service.ResendVerification(r.Context(), req.Email)
	h.observe("resend_email", err)
	if err != nil {
		respondAuthError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "if the account exists, a verification email has been sent"})
}

func (h *authHandler) logout(w http.ResponseWriter, r *http.Request) {
	claims, err := h.bearerClaims(r)
	if err != nil {
		h.observe("logout", err)
		respondAuthError(w, err)
		return
	}

	err = h.service.Logout(r.Context(), claims.Subject)
	h.observe("logout", err)
	if err != nil {
		respondAuthError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *authHandler) bearerClaims(r *http.Request) (auth.Claims, error) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return auth.Claims{}, auth.ErrTokenInvalid
	}
	return h.service.Tokens().Decode(token)
}

// Package auth implements the password credential lifecycle and bearer
// token handling.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/hearthchat/hearth/email"
	"github.com/hearthchat/hearth/oauth"
	"github.com/hearthchat/hearth/store"
)

// dummyPasswordHash is verified when a user does not exist, so lookup
// misses take as long as password mismatches. It can never match a
// real password.
//
//nolint:gosec // not a credential
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

const verificationTTL = 24 * time.Hour

// ServiceConfig carries the tunables for Service.
type ServiceConfig struct {
	AccessTokenTTL time.Duration
	ResetTokenTTL  time.Duration
	PublicURL      string
}

// Service implements registration, login, email verification, and
// password reset over pluggable stores and senders.
type Service struct {
	users  store.UserStore
	otps   store.TokenStore
	tokens *Tokens
	hasher PasswordHasher
	sender email.Sender
	google oauth.Verifier
	cfg    ServiceConfig
}

// NewService creates a Service.
func NewService(
	users store.UserStore,
	otps store.TokenStore,
	tokens *Tokens,
	hasher PasswordHasher,
	sender email.Sender,
	google oauth.Verifier,
	cfg ServiceConfig,
) *Service {
	return &Service{
		users:  users,
		otps:   otps,
		tokens: tokens,
		hasher: hasher,
		sender: sender,
		google: google,
		cfg:    cfg,
	}
}

// Tokens exposes the token service for transport-layer authentication.
func (s *Service) Tokens() *Tokens {
	return s.tokens
}

// Register creates a new account and issues a verification code.
func (s *Service) Register(ctx context.Context, emailAddr, password, firstName, lastName, phone string) (*store.User, error) {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" || password == "" {
		return nil, oops.Code("AUTH_REGISTER_FAILED").Errorf("email and password are required")
	}
	if !StrongPassword(password) {
		return nil, oops.Code("AUTH_WEAK_PASSWORD").Wrap(ErrWeakPassword)
	}

	_, err := s.users.GetByEmail(ctx, emailAddr)
	if err == nil {
		return nil, oops.Code("AUTH_USER_EXISTS").Wrap(ErrUserExists)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "GetByEmail").Wrap(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "Hash").Wrap(err)
	}

	now := time.Now().UTC()
	user := &store.User{
		ID:             uuid.New(),
		Email:          emailAddr,
		HashedPassword: hash,
		FirstName:      firstName,
		LastName:       lastName,
		PhoneNumber:    phone,
		Role:           store.RoleUser,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "Create").Wrap(err)
	}

	// Verification email is best effort; registration already
	// succeeded.
	if err := s.issueVerification(ctx, user); err != nil {
		slog.Warn("could not send verification email", "user_id", user.ID, "error", err)
	}

	return user, nil
}

// Login authenticates a user and returns a bearer token. The dummy
// hash keeps lookup misses indistinguishable from wrong passwords.
func (s *Service) Login(ctx context.Context, emailAddr, password string) (string, *store.User, error) {
	emailAddr = normalizeEmail(emailAddr)

	user, lookupErr := s.users.GetByEmail(ctx, emailAddr)
	targetHash := dummyPasswordHash
	if lookupErr == nil {
		targetHash = user.HashedPassword
	} else if !errors.Is(lookupErr, store.ErrNotFound) {
		return "", nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "GetByEmail").Wrap(lookupErr)
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil || !valid || lookupErr != nil {
		return "", nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	token, err := s.tokens.Issue(user.ID.String(), s.cfg.AccessTokenTTL)
	if err != nil {
		return "", nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "Issue").Wrap(err)
	}
	return token, user, nil
}

// VerifyEmail consumes a verification code and marks the account
// verified. Every failure mode returns ErrCodeInvalid so codes cannot
// be probed.
func (s *Service) VerifyEmail(ctx context.Context, emailAddr, code string) error {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(emailAddr))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return oops.Code("AUTH_CODE_INVALID").Wrap(ErrCodeInvalid)
		}
		return oops.Code("AUTH_VERIFY_FAILED").With("operation", "GetByEmail").Wrap(err)
	}

	otp, err := s.otps.GetActive(ctx, user.ID, store.OTPVerifyEmail)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return oops.Code("AUTH_CODE_INVALID").Wrap(ErrCodeInvalid)
		}
		return oops.Code("AUTH_VERIFY_FAILED").With("operation", "GetActive").Wrap(err)
	}

	if otp.Used() || otp.Expired() ||
		subtle.ConstantTimeCompare([]byte(otp.Code), []byte(code)) != 1 {
		return oops.Code("AUTH_CODE_INVALID").Wrap(ErrCodeInvalid)
	}

	if err := s.otps.MarkUsed(ctx, otp.ID); err != nil {
		return oops.Code("AUTH_VERIFY_FAILED").With("operation", "MarkUsed").Wrap(err)
	}

	user.EmailVerified = true
	if err := s.users.Update(ctx, user); err != nil {
		return oops.Code("AUTH_VERIFY_FAILED").With("operation", "Update").Wrap(err)
	}
	return nil
}

// ForgotPassword issues a reset token by email. It reports success even
// for unknown addresses to prevent enumeration.
func (s *Service) ForgotPassword(ctx context.Context, emailAddr string) error {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return oops.Code("AUTH_RESET_FAILED").Errorf("email is required")
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return oops.Code("AUTH_RESET_FAILED").With("operation", "GetByEmail").Wrap(err)
	}

	token, err := s.tokens.Issue(user.ID.String(), s.cfg.ResetTokenTTL)
	if err != nil {
		return oops.Code("AUTH_RESET_FAILED").With("operation", "Issue").Wrap(err)
	}

	link := s.cfg.PublicURL + "/reset-password?token=" + token
	err = s.sender.Send(ctx, user.Email, "Reset your password", "", map[string]any{
		"first_name": user.FirstName,
		"reset_link": link,
	})
	if err != nil {
		slog.Warn("could not send password reset email", "user_id", user.ID, "error", err)
	}
	return nil
}

// ResetPassword sets a new password from a valid reset token.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	claims, err := s.tokens.Decode(token)
	if err != nil {
		return err
	}
	if !StrongPassword(newPassword) {
		return oops.Code("AUTH_WEAK_PASSWORD").Wrap(ErrWeakPassword)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return oops.Code("AUTH_TOKEN_INVALID").Wrap(ErrTokenInvalid)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return oops.Code("AUTH_TOKEN_INVALID").Wrap(ErrTokenInvalid)
		}
		return oops.Code("AUTH_RESET_FAILED").With("operation", "GetByID").Wrap(err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_RESET_FAILED").With("operation", "Hash").Wrap(err)
	}
	user.HashedPassword = hash

	if err := s.users.Update(ctx, user); err != nil {
		return oops.Code("AUTH_RESET_FAILED").With("operation", "Update").Wrap(err)
	}
	return nil
}

// ResendVerification re-issues the verification code. Unknown and
// already-verified addresses report success.
func (s *Service) ResendVerification(ctx context.Context, emailAddr string) error {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(emailAddr))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return oops.Code("AUTH_RESEND_FAILED").With("operation", "GetByEmail").Wrap(err)
	}
	if user.EmailVerified {
		return nil
	}
	return s.issueVerification(ctx, user)
}

// Logout acknowledges a logout. Bearer tokens are stateless; clients
// discard them.
func (s *Service) Logout(_ context.Context, userID string) error {
	slog.Info("user logged out", "user_id", userID)
	return nil
}

// LoginWithGoogle verifies a Google ID token, creating the account on
// first sight, and returns a bearer token.
func (s *Service) LoginWithGoogle(ctx context.Context, idToken string) (string, *store.User, error) {
	identity, err := s.google.Verify(ctx, idToken)
	if err != nil {
		return "", nil, oops.Code("AUTH_TOKEN_INVALID").Wrap(ErrTokenInvalid)
	}

	user, err := s.users.GetByEmail(ctx, normalizeEmail(identity.Email))
	if errors.Is(err, store.ErrNotFound) {
		user, err = s.createFromIdentity(ctx, identity)
	}
	if err != nil {
		return "", nil, oops.Code("AUTH_GOOGLE_LOGIN_FAILED").Wrap(err)
	}

	token, err := s.tokens.Issue(user.ID.String(), s.cfg.AccessTokenTTL)
	if err != nil {
		return "", nil, oops.Code("AUTH_GOOGLE_LOGIN_FAILED").With("operation", "Issue").Wrap(err)
	}
	return token, user, nil
}

func (s *Service) createFromIdentity(ctx context.Context, identity *oauth.Identity) (*store.User, error) {
	// The account has no usable password until the user sets one
	// through the reset flow.
	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return nil, oops.Code("AUTH_GOOGLE_LOGIN_FAILED").Wrap(err)
	}
	hash, err := s.hasher.Hash(fmt.Sprintf("%x", random))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &store.User{
		ID:             uuid.New(),
		Email:          normalizeEmail(identity.Email),
		HashedPassword: hash,
		FirstName:      identity.GivenName,
		LastName:       identity.FamilyName,
		Role:           store.RoleUser,
		EmailVerified:  identity.EmailVerified,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) issueVerification(ctx context.Context, user *store.User) error {
	if err := s.otps.InvalidateForUser(ctx, user.ID, store.OTPVerifyEmail); err != nil {
		return oops.Code("AUTH_OTP_FAILED").With("operation", "InvalidateForUser").Wrap(err)
	}

	code, err := generateCode()
	if err != nil {
		return oops.Code("AUTH_OTP_FAILED").With("operation", "generateCode").Wrap(err)
	}

	now := time.Now().UTC()
	otp := &store.OneTimeToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		Code:      code,
		Purpose:   store.OTPVerifyEmail,
		CreatedAt: now,
		ExpiresAt: now.Add(verificationTTL),
	}
	if err := s.otps.Create(ctx, otp); err != nil {
		return oops.Code("AUTH_OTP_FAILED").With("operation", "Create").Wrap(err)
	}

	return s.sender.Send(ctx, user.Email, "Verify your email", "", map[string]any{
		"first_name": user.FirstName,
		"code":       code,
	})
}

// generateCode returns a random 6-digit verification code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func normalizeEmail(emailAddr string) string {
	return strings.ToLower(strings.TrimSpace(emailAddr))
}

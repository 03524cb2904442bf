// Package store defines the persistence interfaces and records consumed
// by the auth layer, plus their PostgreSQL implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Role is a user's access role.
type Role string

// Known roles.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is a registered account.
type User struct {
	ID             uuid.UUID
	Email          string
	HashedPassword string
	FirstName      string
	LastName       string
	PhoneNumber    string
	Role           Role
	EmailVerified  bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OTPPurpose classifies a one-time token.
type OTPPurpose string

// One-time token purposes.
const (
	OTPVerifyEmail OTPPurpose = "verify_email"
)

// OneTimeToken is a short-lived single-use code bound to a user.
type OneTimeToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Code      string
	Purpose   OTPPurpose
	UsedAt    *time.Time
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Used reports whether the token was already consumed.
func (t *OneTimeToken) Used() bool {
	return t.UsedAt != nil
}

// Expired reports whether the token is past its expiry.
func (t *OneTimeToken) Expired() bool {
	return time.Now().After(t.ExpiresAt)
}

// UserStore persists user accounts.
type UserStore interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, user *User) error
}

// TokenStore persists one-time tokens.
type TokenStore interface {
	Create(ctx context.Context, token *OneTimeToken) error

	// GetActive returns the newest unused, unexpired token for the
	// user and purpose, or ErrNotFound.
	GetActive(ctx context.Context, userID uuid.UUID, purpose OTPPurpose) (*OneTimeToken, error)

	MarkUsed(ctx context.Context, id uuid.UUID) error

	// InvalidateForUser marks every outstanding token for the user and
	// purpose as used, so only the most recently issued code works.
	InvalidateForUser(ctx context.Context, userID uuid.UUID, purpose OTPPurpose) error
}

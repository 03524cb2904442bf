package auth

import "errors"

// Sentinel errors surfaced to callers. Service methods wrap these with
// oops codes; match with errors.Is.
var (
	ErrTokenExpired       = errors.New("auth: token has expired")
	ErrTokenInvalid       = errors.New("auth: token is invalid")
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrUserExists         = errors.New("auth: user already exists")
	ErrWeakPassword       = errors.New("auth: password does not meet the strength policy")
	ErrCodeInvalid        = errors.New("auth: verification code is invalid or expired")
)

// Package oauth verifies third-party identity tokens.
package oauth

import "context"

// Identity is the verified subject of a third-party ID token.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	GivenName     string
	FamilyName    string
}

// Verifier validates a provider-issued ID token and returns the
// identity it asserts.
type Verifier interface {
	Verify(ctx context.Context, idToken string) (*Identity, error)
}

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// Claims is the decoded content of a bearer token.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Tokens issues and decodes HS256 bearer tokens.
type Tokens struct {
	secret []byte
}

// NewTokens creates a Tokens with the given signing secret.
func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret)}
}

// Issue signs a token for subject valid for ttl.
func (t *Tokens) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": now.Add(ttl).Unix(),
		"iat": now.Unix(),
	})

	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", oops.Code("AUTH_TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// Decode parses and validates a token. Expired tokens return
// ErrTokenExpired; every other failure returns ErrTokenInvalid.
func (t *Tokens) Decode(tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, oops.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, oops.Code("AUTH_TOKEN_EXPIRED").Wrap(ErrTokenExpired)
		}
		return Claims{}, oops.Code("AUTH_TOKEN_INVALID").Wrap(ErrTokenInvalid)
	}
	if !token.Valid {
		return Claims{}, oops.Code("AUTH_TOKEN_INVALID").Wrap(ErrTokenInvalid)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, oops.Code("AUTH_TOKEN_INVALID").Wrap(ErrTokenInvalid)
	}

	subject, ok := claims["sub"].(string)
	if !ok || subject == "" {
		return Claims{}, oops.Code("AUTH_TOKEN_INVALID").Wrap(ErrTokenInvalid)
	}

	out := Claims{Subject: subject}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

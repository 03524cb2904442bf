package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthchat/hearth/auth"
)

func TestTokens_RoundTrip(t *testing.T) {
	tokens := auth.NewTokens("secret")

	signed, err := tokens.Issue("user-1", time.Hour)
	require.NoError(t, err)

	claims, err := tokens.Decode(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt, 5*time.Second)
}

func TestTokens_Expired(t *testing.T) {
	tokens := auth.NewTokens("secret")

	signed, err := tokens.Issue("user-1", -time.Minute)
	require.NoError(t, err)

	_, err = tokens.Decode(signed)
	require.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestTokens_WrongSecret(t *testing.T) {
	signed, err := auth.NewTokens("secret-a").Issue("user-1", time.Hour)
	require.NoError(t, err)

	_, err = auth.NewTokens("secret-b").Decode(signed)
	require.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokens_Garbage(t *testing.T) {
	_, err := auth.NewTokens("secret").Decode("not-a-token")
	require.ErrorIs(t, err, auth.ErrTokenInvalid)
}

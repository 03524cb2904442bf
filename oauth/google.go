package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/samber/oops"
)

const defaultTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// GoogleVerifier validates Google ID tokens via the tokeninfo endpoint.
type GoogleVerifier struct {
	clientID string
	endpoint string
	client   *http.Client
}

// NewGoogleVerifier creates a GoogleVerifier. clientID may be empty, in
// which case the audience check is skipped.
func NewGoogleVerifier(clientID string) *GoogleVerifier {
	return &GoogleVerifier{
		clientID: clientID,
		endpoint: defaultTokenInfoURL,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// NewGoogleVerifierWithEndpoint is NewGoogleVerifier with a custom
// tokeninfo URL, for tests.
func NewGoogleVerifierWithEndpoint(clientID, endpoint string) *GoogleVerifier {
	v := NewGoogleVerifier(clientID)
	v.endpoint = endpoint
	return v
}

type tokenInfo struct {
	Aud           string `json:"aud"`
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
}

// Verify checks the ID token against Google and validates the audience.
func (v *GoogleVerifier) Verify(ctx context.Context, idToken string) (*Identity, error) {
	u := v.endpoint + "?" + url.Values{"id_token": {idToken}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, oops.Code("OAUTH_REQUEST_FAILED").Wrap(err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, oops.Code("OAUTH_VERIFY_FAILED").Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, oops.Code("OAUTH_TOKEN_REJECTED").
			With("status", resp.StatusCode).
			Errorf("tokeninfo returned %d", resp.StatusCode)
	}

	var info tokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, oops.Code("OAUTH_DECODE_FAILED").Wrap(err)
	}

	if v.clientID != "" && info.Aud != v.clientID {
		return nil, oops.Code("OAUTH_AUDIENCE_MISMATCH").Errorf("token audience does not match client id")
	}

	return &Identity{
		Subject:       info.Sub,
		Email:         info.Email,
		EmailVerified: info.EmailVerified == "true",
		GivenName:     info.GivenName,
		FamilyName:    info.FamilyName,
	}, nil
}

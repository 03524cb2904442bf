package email

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/oops"
)

const requestTimeout = 10 * time.Second

// WebEngageSender implements Sender against the WebEngage transactional
// email API.
type WebEngageSender struct {
	url      string
	apiKey   string
	from     string
	fromName string
	client   *http.Client
}

// NewWebEngageSender creates a WebEngageSender.
func NewWebEngageSender(url, apiKey, from, fromName string) *WebEngageSender {
	return &WebEngageSender{
		url:      url,
		apiKey:   apiKey,
		from:     from,
		fromName: fromName,
		client:   &http.Client{Timeout: requestTimeout},
	}
}

type webEngagePayload struct {
	To              webEngageAddress  `json:"to"`
	From            *webEngageAddress `json:"from,omitempty"`
	Subject         string            `json:"subject"`
	TemplateID      string            `json:"template_id,omitempty"`
	Personalization map[string]any    `json:"personalization"`
}

type webEngageAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Send posts one email to the delivery API.
func (s *WebEngageSender) Send(ctx context.Context, to, subject, templateID string, variables map[string]any) error {
	if variables == nil {
		variables = map[string]any{}
	}

	payload := webEngagePayload{
		To:              webEngageAddress{Email: to},
		Subject:         subject,
		TemplateID:      templateID,
		Personalization: variables,
	}
	if s.from != "" {
		payload.From = &webEngageAddress{Email: s.from, Name: s.fromName}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return oops.Code("EMAIL_ENCODE_FAILED").Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return oops.Code("EMAIL_REQUEST_FAILED").Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return oops.Code("EMAIL_SEND_FAILED").With("to", to).Wrap(err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return oops.Code("EMAIL_SEND_FAILED").
			With("to", to).
			With("status", resp.StatusCode).
			Errorf("email API returned %d", resp.StatusCode)
	}

	return nil
}

// NopSender implements Sender by logging and discarding mail. Used when
// no delivery API is configured.
type NopSender struct{}

// Send logs the would-be delivery.
func (NopSender) Send(_ context.Context, to, subject, _ string, _ map[string]any) error {
	slog.Info("email delivery disabled, dropping message", "to", to, "subject", subject)
	return nil
}

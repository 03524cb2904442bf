// Package email sends transactional email through an external delivery
// API.
package email

import "context"

// Sender delivers one transactional email. Template rendering happens
// on the provider side; variables are passed through.
type Sender interface {
	Send(ctx context.Context, to, subject, templateID string, variables map[string]any) error
}

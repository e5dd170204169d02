// Package provider defines the interface for outbound mail relays.
package provider

import (
	"context"

	"github.com/shineum/multimail/internal/email"
)

// Provider is the interface that relay backends must implement.
// Each call to Send is exactly one transmission attempt: implementations
// establish a fresh authenticated session with the caller's credentials and
// never retry.
type Provider interface {
	// Send transmits msg through the relay, authenticating with creds.
	Send(ctx context.Context, creds email.Credentials, msg *email.Email) error

	// Name returns the human-readable name of this provider.
	Name() string
}

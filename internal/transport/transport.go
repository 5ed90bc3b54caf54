// Package transport hands rendered messages to a remote server.
package transport

import (
	"context"

	"mailbot/internal/identity"
)

// Transport is the one outward call the dispatch engine makes. A failed send
// is an error; the engine does not care which protocol sits behind it.
type Transport interface {
	Send(ctx context.Context, from identity.Identity, to, subject, body string) error
}

// Func adapts a function to the Transport interface (handy in tests).
type Func func(ctx context.Context, from identity.Identity, to, subject, body string) error

func (f Func) Send(ctx context.Context, from identity.Identity, to, subject, body string) error {
	return f(ctx, from, to, subject, body)
}

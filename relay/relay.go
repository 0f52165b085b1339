// Package relay submits signed transaction envelopes to the network through
// one of three interchangeable gateways: the node RPC directly, a
// turnstile-gated public relay, or a bearer-authenticated relay service.
// Exactly one backend is wired per deployment; there is no automatic
// fallback between them.
package relay

import (
	"context"
	"errors"
)

var (
	// ErrUnreachable is a network-level failure. The pipeline retries it
	// once before giving up.
	ErrUnreachable = errors.New("relay unreachable")

	// ErrRejected means the backend parsed the envelope and refused it
	// (bad auth token, malformed envelope, fee too low). Terminal.
	ErrRejected = errors.New("relay rejected submission")

	// ErrMisconfigured means no endpoint is configured. This is a
	// startup-time condition surfaced at construction, never retried.
	ErrMisconfigured = errors.New("relay not configured")
)

// Handle is the stable identifier a backend returns for a submission: the
// transaction hash. It carries no ownership semantics beyond being the
// lookup key for later status queries.
type Handle string

// Backend is the uniform submission capability consumed by the pipeline.
type Backend interface {
	Submit(ctx context.Context, signedEnvelope []byte) (Handle, error)
}

// TokenSource yields a short-lived human-verification token for the
// turnstile-gated backend. The widget flow producing it is external; a
// source that cannot currently produce a token returns an error and the
// submission fails as rejected rather than being sent unauthenticated.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a plain function to a TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenSource.
func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Package signer provides a uniform signing capability over heterogeneous
// backends: an in-process deterministic test signer and an external
// wallet-bridge signer. Callers never branch on the backend past
// construction; capability gaps surface as typed errors decided here.
package signer

import (
	"context"
	"errors"
)

// Errors returned by Signer implementations. They are decided once, at the
// adapter boundary, so callers can errors.Is against them instead of
// matching free-text messages.
var (
	// ErrUnavailable means no signing backend is wired for the requested
	// address.
	ErrUnavailable = errors.New("signer unavailable")

	// ErrUserRejected means the human declined the request in the wallet
	// approval flow. Never retried.
	ErrUserRejected = errors.New("user rejected signing request")

	// ErrCapabilityUnsupported means this wallet cannot produce detached
	// authorization-entry signatures (common for hardware-backed wallets).
	// Callers should offer a capable wallet, or the test signer outside
	// production, rather than render a generic failure.
	ErrCapabilityUnsupported = errors.New("wallet cannot sign authorization entries")
)

// Context pins a signing request to a network and a signer address. There is
// no ambient "selected wallet" state; every request carries its own context.
type Context struct {
	// NetworkID is the network passphrase the signature must commit to.
	NetworkID string
	// Address is the account expected to produce the signature.
	Address string
}

// Signer is the uniform capability consumed by the transaction pipeline.
//
// SignTransaction signs a full transaction envelope. SignAuthEntry signs a
// detached authorization entry and reports the address that produced the
// signature. Both may suspend on an external approval UI; they must honor
// ctx cancellation and must not serialize calls for unrelated sessions.
type Signer interface {
	SignTransaction(ctx context.Context, envelope []byte, sc Context) ([]byte, error)
	SignAuthEntry(ctx context.Context, entry []byte, sc Context) (signed []byte, signerAddress string, err error)
}

package relay

import (
	"context"
	"fmt"

	"github.com/decred/slog"
)

// TxSubmitter is the slice of the node RPC client the direct backend needs.
// chainrpc.Client satisfies it.
type TxSubmitter interface {
	// SendTransaction submits a signed envelope and returns the network's
	// (hash, immediate status). A non-nil error means the node could not
	// be reached or refused the call outright.
	SendTransaction(ctx context.Context, signedEnvelope []byte) (hash, status string, err error)
}

// DirectRPC submits straight to a node, bypassing any relay service.
type DirectRPC struct {
	node TxSubmitter
	log  slog.Logger
}

// NewDirectRPC wires direct node submission.
func NewDirectRPC(node TxSubmitter, log slog.Logger) (*DirectRPC, error) {
	if node == nil {
		return nil, fmt.Errorf("%w: no node client", ErrMisconfigured)
	}
	return &DirectRPC{node: node, log: log}, nil
}

// Submit implements Backend. The node reports synchronous refusals in the
// immediate status; anything it accepted is pending and polled later.
func (d *DirectRPC) Submit(ctx context.Context, signedEnvelope []byte) (Handle, error) {
	hash, status, err := d.node.SendTransaction(ctx, signedEnvelope)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	switch status {
	case "ERROR", "DUPLICATE":
		d.log.Debugf("relay: node refused tx hash=%s status=%s", hash, status)
		return "", fmt.Errorf("%w: node status %s", ErrRejected, status)
	case "TRY_AGAIN_LATER":
		// Transient backpressure: retryable, same as not reaching the node.
		return "", fmt.Errorf("%w: node status %s", ErrUnreachable, status)
	}
	d.log.Debugf("relay: node accepted hash=%s status=%s", hash, status)
	return Handle(hash), nil
}

var _ Backend = (*DirectRPC)(nil)

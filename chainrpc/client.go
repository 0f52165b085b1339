// Package chainrpc is a thin JSON-RPC 2.0 client for the network node. It
// exposes only what the core needs: the latest ledger (height plus average
// close time), transaction status by hash, raw envelope submission, and an
// opaque per-game state read. Contract business rules stay on-chain; this
// package never interprets them.
package chainrpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/decred/slog"
)

// ErrGameNotFound is returned by GameState when the chain has no entry for
// the session. Distinct from transport errors so reconciliation can treat
// "absent" differently from "unknown".
var ErrGameNotFound = errors.New("game not found on chain")

// LatestLedger is the node's view of the chain tip.
type LatestLedger struct {
	Sequence uint32
	// CloseSeconds is the reported average ledger close time, used as the
	// clock for authorization expiry.
	CloseSeconds float64
}

// TxStatus is a transaction's lifecycle as reported by the node.
type TxStatus string

const (
	TxNotFound TxStatus = "NOT_FOUND"
	TxPending  TxStatus = "PENDING"
	TxSuccess  TxStatus = "SUCCESS"
	TxFailed   TxStatus = "FAILED"
)

// GameState is the opaque on-chain session state consumed by
// reconciliation.
type GameState struct {
	SessionID uint64
	Complete  bool
	Winner    string
	Payout    uint64
}

// Client talks JSON-RPC over HTTP to one node endpoint.
type Client struct {
	endpoint string
	hc       *http.Client
	log      slog.Logger
	nextID   atomic.Uint64
}

// New returns a client for the given RPC endpoint.
func New(endpoint string, log slog.Logger) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("chainrpc: no endpoint configured")
	}
	return &Client{
		endpoint: endpoint,
		hc:       &http.Client{Timeout: 15 * time.Second},
		log:      log,
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("rpc %s: read: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc %s: status %d", method, resp.StatusCode)
	}
	var rr rpcResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return fmt.Errorf("rpc %s: decode: %w", method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("rpc %s: %d %s", method, rr.Error.Code, rr.Error.Message)
	}
	if result != nil {
		if err := json.Unmarshal(rr.Result, result); err != nil {
			return fmt.Errorf("rpc %s: decode result: %w", method, err)
		}
	}
	return nil
}

// GetLatestLedger returns the current chain tip.
func (c *Client) GetLatestLedger(ctx context.Context) (LatestLedger, error) {
	var res struct {
		Sequence             uint32  `json:"sequence"`
		AverageCloseTimeSecs float64 `json:"averageCloseTimeSeconds"`
	}
	if err := c.call(ctx, "getLatestLedger", nil, &res); err != nil {
		return LatestLedger{}, err
	}
	return LatestLedger{Sequence: res.Sequence, CloseSeconds: res.AverageCloseTimeSecs}, nil
}

// GetTransaction returns the status for a previously submitted hash. An
// unknown hash is TxNotFound, not an error; submissions can take a while to
// appear.
func (c *Client) GetTransaction(ctx context.Context, hash string) (TxStatus, error) {
	var res struct {
		Status string `json:"status"`
	}
	params := map[string]string{"hash": hash}
	if err := c.call(ctx, "getTransaction", params, &res); err != nil {
		return "", err
	}
	switch s := TxStatus(res.Status); s {
	case TxNotFound, TxPending, TxSuccess, TxFailed:
		return s, nil
	default:
		return "", fmt.Errorf("rpc getTransaction: unknown status %q", res.Status)
	}
}

// SendTransaction submits a signed envelope. Satisfies relay.TxSubmitter.
func (c *Client) SendTransaction(ctx context.Context, signedEnvelope []byte) (string, string, error) {
	var res struct {
		Hash   string `json:"hash"`
		Status string `json:"status"`
	}
	params := map[string]string{
		"transaction": base64.StdEncoding.EncodeToString(signedEnvelope),
	}
	if err := c.call(ctx, "sendTransaction", params, &res); err != nil {
		return "", "", err
	}
	return res.Hash, res.Status, nil
}

// GameState reads the on-chain session entry for the given id and player
// pair's game contract. The node answers from the contract's ledger entries;
// this client treats the payload as opaque beyond completion and winner.
func (c *Client) GameState(ctx context.Context, sessionID uint64) (*GameState, error) {
	var res struct {
		Found    bool   `json:"found"`
		Complete bool   `json:"complete"`
		Winner   string `json:"winner"`
		Payout   uint64 `json:"payout"`
	}
	params := map[string]uint64{"session": sessionID}
	if err := c.call(ctx, "getGameState", params, &res); err != nil {
		return nil, err
	}
	if !res.Found {
		return nil, ErrGameNotFound
	}
	return &GameState{
		SessionID: sessionID,
		Complete:  res.Complete,
		Winner:    res.Winner,
		Payout:    res.Payout,
	}, nil
}

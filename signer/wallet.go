package signer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Vendor identifies a wallet brand bridged by an external wallet process.
// The only place vendor identity matters is adapter construction; past that
// point callers hold a plain Signer.
type Vendor string

const (
	VendorFreighter Vendor = "freighter"
	VendorAlbedo    Vendor = "albedo"
	VendorLedger    Vendor = "ledger"
)

// vendorCaps records which vendors can produce detached auth-entry
// signatures. Hardware-backed wallets generally cannot.
var vendorCaps = map[Vendor]bool{
	VendorFreighter: true,
	VendorAlbedo:    true,
	VendorLedger:    false,
}

// WalletSigner delegates signing to an external wallet over a local HTTP
// bridge. Each call may suspend on the wallet's approval UI; the bridge
// handles one approval per request, so calls for different sessions can be
// issued concurrently without blocking each other here.
type WalletSigner struct {
	endpoint string
	vendor   Vendor
	address  string
	hc       *http.Client
}

// NewWalletSigner builds a signer pinned to one (vendor, address) pair.
func NewWalletSigner(endpoint string, vendor Vendor, address string) (*WalletSigner, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("%w: no wallet bridge endpoint", ErrUnavailable)
	}
	if address == "" {
		return nil, fmt.Errorf("%w: wallet signer needs an address", ErrUnavailable)
	}
	if _, ok := vendorCaps[vendor]; !ok {
		return nil, fmt.Errorf("%w: unknown wallet vendor %q", ErrUnavailable, vendor)
	}
	return &WalletSigner{
		endpoint: endpoint,
		vendor:   vendor,
		address:  address,
		// No overall client timeout: the human may sit on the approval
		// popup. Cancellation comes from the request context.
		hc: &http.Client{},
	}, nil
}

// Address returns the pinned account address.
func (w *WalletSigner) Address() string { return w.address }

type bridgeRequest struct {
	Vendor    string `json:"vendor"`
	NetworkID string `json:"network_id"`
	Address   string `json:"address"`
	Payload   string `json:"payload"`
}

type bridgeResponse struct {
	Signed        string `json:"signed,omitempty"`
	SignerAddress string `json:"signer_address,omitempty"`
	Error         string `json:"error,omitempty"`
}

// bridgeErr maps the bridge's stable error codes to typed errors exactly
// once. Upstream code must never re-derive these from message text.
func bridgeErr(code string) error {
	switch code {
	case "user_rejected":
		return ErrUserRejected
	case "unsupported":
		return ErrCapabilityUnsupported
	case "no_wallet":
		return ErrUnavailable
	default:
		return fmt.Errorf("wallet bridge: %s", code)
	}
}

func (w *WalletSigner) call(ctx context.Context, path string, payload []byte, sc Context) ([]byte, string, error) {
	if sc.Address != "" && sc.Address != w.address {
		return nil, "", fmt.Errorf("%w: signer pinned to %s, request for %s", ErrUnavailable, w.address, sc.Address)
	}
	body, err := json.Marshal(bridgeRequest{
		Vendor:    string(w.vendor),
		NetworkID: sc.NetworkID,
		Address:   w.address,
		Payload:   base64.StdEncoding.EncodeToString(payload),
	})
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.hc.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var br bridgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, "", fmt.Errorf("%w: bad bridge response: %v", ErrUnavailable, err)
	}
	if br.Error != "" {
		return nil, "", bridgeErr(br.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: bridge status %d", ErrUnavailable, resp.StatusCode)
	}
	signed, err := base64.StdEncoding.DecodeString(br.Signed)
	if err != nil {
		return nil, "", fmt.Errorf("%w: bad signed payload: %v", ErrUnavailable, err)
	}
	return signed, br.SignerAddress, nil
}

// SignTransaction asks the wallet to sign a full envelope.
func (w *WalletSigner) SignTransaction(ctx context.Context, envelope []byte, sc Context) ([]byte, error) {
	signed, _, err := w.call(ctx, "/sign-tx", envelope, sc)
	return signed, err
}

// SignAuthEntry asks the wallet for a detached auth-entry signature. The
// capability check happens before any bridge round trip so an incapable
// wallet fails fast with an actionable error.
func (w *WalletSigner) SignAuthEntry(ctx context.Context, entry []byte, sc Context) ([]byte, string, error) {
	if !vendorCaps[w.vendor] {
		return nil, "", fmt.Errorf("%w (%s)", ErrCapabilityUnsupported, w.vendor)
	}
	signed, addr, err := w.call(ctx, "/sign-auth-entry", entry, sc)
	if err != nil {
		return nil, "", err
	}
	if addr == "" {
		addr = w.address
	}
	return signed, addr, nil
}

var (
	_ Signer = (*TestSigner)(nil)
	_ Signer = (*WalletSigner)(nil)
)

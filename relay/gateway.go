package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/decred/slog"
)

// gatewayResponse is the wire shape shared by both relay services: success
// carries the transaction hash, failure carries an error string.
type gatewayResponse struct {
	Hash   string `json:"hash,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// gateway holds the HTTP plumbing common to the turnstile and bearer
// variants; they differ only in how each request is authenticated.
type gateway struct {
	endpoint string
	hc       *http.Client
	log      slog.Logger
	auth     func(ctx context.Context, req *http.Request) error
}

func newGateway(endpoint string, log slog.Logger, auth func(context.Context, *http.Request) error) (*gateway, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, ErrMisconfigured
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("%w: bad endpoint %q: %v", ErrMisconfigured, endpoint, err)
	}
	return &gateway{
		endpoint: endpoint,
		hc:       &http.Client{Timeout: 30 * time.Second},
		log:      log,
		auth:     auth,
	}, nil
}

// Submit posts the envelope form-encoded and maps the response onto the
// package's error taxonomy: transport failures are ErrUnreachable, parsed
// refusals are ErrRejected.
func (g *gateway) Submit(ctx context.Context, signedEnvelope []byte) (Handle, error) {
	form := url.Values{}
	form.Set("tx", base64.StdEncoding.EncodeToString(signedEnvelope))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := g.auth(ctx, req); err != nil {
		return "", err
	}

	resp, err := g.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUnreachable, err)
	}
	if resp.StatusCode >= 500 {
		// Gateway-side trouble; the envelope may not have been parsed.
		return "", fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}

	var gr gatewayResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		if resp.StatusCode != http.StatusOK {
			// The gateway refused the request; an unparseable body does
			// not make the refusal retryable.
			return "", fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
		}
		return "", fmt.Errorf("%w: bad response body: %v", ErrUnreachable, err)
	}
	if resp.StatusCode != http.StatusOK || gr.Error != "" {
		g.log.Debugf("relay: rejected status=%d err=%q", resp.StatusCode, gr.Error)
		return "", fmt.Errorf("%w: %s", ErrRejected, gr.Error)
	}
	if gr.Hash == "" {
		return "", fmt.Errorf("%w: response missing hash", ErrRejected)
	}
	g.log.Debugf("relay: accepted hash=%s status=%s", gr.Hash, gr.Status)
	return Handle(gr.Hash), nil
}

// TurnstileRelay authenticates each submission with a client-presented
// short-lived human-verification token in the X-Turnstile-Response header.
type TurnstileRelay struct {
	*gateway
}

// NewTurnstileRelay wires the anti-bot-gated public relay. tokens must be
// able to produce a fresh token per submission; tokens are single-use.
func NewTurnstileRelay(endpoint string, tokens TokenSource, log slog.Logger) (*TurnstileRelay, error) {
	if tokens == nil {
		return nil, fmt.Errorf("%w: turnstile relay needs a token source", ErrMisconfigured)
	}
	g, err := newGateway(endpoint, log, func(ctx context.Context, req *http.Request) error {
		tok, err := tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("%w: no verification token: %v", ErrRejected, err)
		}
		req.Header.Set("X-Turnstile-Response", tok)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &TurnstileRelay{gateway: g}, nil
}

// AuthRelay authenticates with a static bearer credential.
type AuthRelay struct {
	*gateway
}

// NewAuthRelay wires the credentialed relay service.
func NewAuthRelay(endpoint, credential string, log slog.Logger) (*AuthRelay, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, fmt.Errorf("%w: auth relay needs a credential", ErrMisconfigured)
	}
	g, err := newGateway(endpoint, log, func(_ context.Context, req *http.Request) error {
		req.Header.Set("Authorization", "Bearer "+credential)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &AuthRelay{gateway: g}, nil
}

var (
	_ Backend = (*TurnstileRelay)(nil)
	_ Backend = (*AuthRelay)(nil)
)

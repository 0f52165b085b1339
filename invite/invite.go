// Package invite encodes a partially-signed authorization entry plus session
// metadata into a compact URL-safe token, and decodes it back without any
// network access. The token is how the initiator hands a session to the
// counterparty out-of-band.
package invite

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/decred/dcrd/crypto/blake256"

	ohloss "github.com/kalepail/ohloss-sub002"
)

// ErrMalformed means the input could not be decoded as an invite in any of
// the accepted shapes. Decoding never panics; it returns this instead.
var ErrMalformed = errors.New("invite not decodable")

// tokenVersion tags the binary layout so future revisions can coexist with
// tokens already in flight.
const tokenVersion = 1

const checksumLen = 4

// queryParams are the URL query parameter names a token may travel under.
var queryParams = []string{"auth", "invite"}

// Invite is the decoded content of a token.
type Invite struct {
	// SessionID identifies the game instance the initiator created.
	SessionID uint64
	// AuthEntry is the initiator's partially-signed authorization entry,
	// opaque to this package.
	AuthEntry []byte
	// Expiry is the exclusive ledger bound embedded in the entry,
	// duplicated here so a UI can show a countdown without decoding the
	// entry itself.
	Expiry uint32
}

func checksum(b []byte) []byte {
	sum := blake256.Sum256(b)
	return sum[:checksumLen]
}

// Encode packs the invite into a URL-safe token:
// base64url(version || sessionID || expiry || entry || checksum).
func Encode(sessionID uint64, authEntry []byte, expiry uint32) (string, error) {
	if len(authEntry) == 0 {
		return "", fmt.Errorf("empty authorization entry")
	}
	buf := make([]byte, 0, 1+8+4+len(authEntry)+checksumLen)
	buf = append(buf, tokenVersion)
	buf = binary.BigEndian.AppendUint64(buf, sessionID)
	buf = binary.BigEndian.AppendUint32(buf, expiry)
	buf = append(buf, authEntry...)
	buf = append(buf, checksum(buf)...)
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Decode accepts a bare token, a URL carrying the token under a known query
// parameter, or a /game/{id} URL with the token appended, and returns the
// decoded invite. Any input that fits none of those shapes yields
// ErrMalformed.
func Decode(input string) (*Invite, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return nil, fmt.Errorf("%w: empty input", ErrMalformed)
	}
	if tok, ok := extractToken(s); ok {
		s = tok
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		// Tolerate standard/padded encodings from copy-paste mangling.
		if raw, err = base64.StdEncoding.DecodeString(s); err != nil {
			return nil, fmt.Errorf("%w: not base64", ErrMalformed)
		}
	}
	if len(raw) < 1+8+4+1+checksumLen {
		return nil, fmt.Errorf("%w: too short", ErrMalformed)
	}
	if raw[0] != tokenVersion {
		return nil, fmt.Errorf("%w: unknown version %d", ErrMalformed, raw[0])
	}
	body, sum := raw[:len(raw)-checksumLen], raw[len(raw)-checksumLen:]
	if !bytes.Equal(checksum(body), sum) {
		return nil, fmt.Errorf("%w: bad checksum", ErrMalformed)
	}
	return &Invite{
		SessionID: binary.BigEndian.Uint64(body[1:9]),
		Expiry:    binary.BigEndian.Uint32(body[9:13]),
		AuthEntry: append([]byte{}, body[13:]...),
	}, nil
}

// extractToken pulls a candidate token out of a URL-shaped input. Returns
// the input's token and true, or ("", false) when the input is not a URL.
func extractToken(s string) (string, bool) {
	if !strings.Contains(s, "://") && !strings.HasPrefix(s, "/") {
		return "", false
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", false
	}
	q := u.Query()
	for _, name := range queryParams {
		if tok := q.Get(name); tok != "" {
			return tok, true
		}
	}
	// Path-embedded shape: /game/{token-or-id}; the last segment is the
	// candidate.
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 2 && parts[len(parts)-2] == "game" {
		return parts[len(parts)-1], true
	}
	return "", false
}

// SessionIDFromURL recognizes the /game/{id} shape where only the numeric
// session id travels in the link (the entry arrives separately). It returns
// the id when present.
func SessionIDFromURL(input string) (uint64, bool) {
	u, err := url.Parse(strings.TrimSpace(input))
	if err != nil {
		return 0, false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 2 && parts[len(parts)-2] == "game" {
		if id, err := strconv.ParseUint(parts[len(parts)-1], 10, 64); err == nil {
			return id, true
		}
	}
	return 0, false
}

// IsExpired reports whether the invite's authorization is stale at the given
// ledger height. Height checks need no network access once the tip is known.
func (inv *Invite) IsExpired(height uint32) bool {
	return ohloss.IsExpired(inv.Expiry, height)
}

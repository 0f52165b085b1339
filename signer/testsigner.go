package signer

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// testSignerTag domain-separates test-signer digests from anything a real
// wallet would ever sign.
const testSignerTag = "ohloss/testsigner/v1"

// TestSigner is a deterministic in-process signer. The key is derived from a
// seed string, so two runs with the same seed produce the same address and
// the same signatures. It exists for development flows and as the documented
// fallback when a wallet lacks auth-entry support outside production.
type TestSigner struct {
	priv *secp256k1.PrivateKey
	addr string
}

// NewTestSigner derives a key pair from seed. Empty seeds are rejected so a
// forgotten flag does not silently produce a shared well-known key.
func NewTestSigner(seed string) (*TestSigner, error) {
	if seed == "" {
		return nil, fmt.Errorf("test signer needs a non-empty seed")
	}
	// Reduce the seed digest mod n; retry by re-hashing on the (absurdly
	// unlikely) zero or overflow case to stay deterministic.
	sum := blake256.Sum256([]byte(testSignerTag + "|" + seed))
	var sc secp256k1.ModNScalar
	for sc.SetBytes(&sum) != 0 || sc.IsZero() {
		sum = blake256.Sum256(sum[:])
	}
	b := sc.Bytes()
	priv := secp256k1.PrivKeyFromBytes(b[:])
	return &TestSigner{
		priv: priv,
		addr: hex.EncodeToString(priv.PubKey().SerializeCompressed()),
	}, nil
}

// Address returns the signer's account address (compressed pubkey hex).
func (s *TestSigner) Address() string { return s.addr }

func (s *TestSigner) digest(kind string, payload []byte, sc Context) [32]byte {
	h := blake256.New()
	h.Write([]byte(testSignerTag))
	h.Write([]byte{'|'})
	h.Write([]byte(kind))
	h.Write([]byte{'|'})
	h.Write([]byte(sc.NetworkID))
	h.Write([]byte{'|'})
	h.Write(payload)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SignTransaction appends a 64-byte Schnorr signature over the envelope and
// network id to the envelope bytes.
func (s *TestSigner) SignTransaction(ctx context.Context, envelope []byte, sc Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sc.Address != "" && sc.Address != s.addr {
		return nil, fmt.Errorf("%w: test signer holds %s, not %s", ErrUnavailable, s.addr, sc.Address)
	}
	m := s.digest("tx", envelope, sc)
	sig, err := schnorr.Sign(s.priv, m[:])
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	out := make([]byte, 0, len(envelope)+schnorr.SignatureSize)
	out = append(out, envelope...)
	out = append(out, sig.Serialize()...)
	return out, nil
}

// SignAuthEntry signs a detached authorization entry the same way.
func (s *TestSigner) SignAuthEntry(ctx context.Context, entry []byte, sc Context) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if sc.Address != "" && sc.Address != s.addr {
		return nil, "", fmt.Errorf("%w: test signer holds %s, not %s", ErrUnavailable, s.addr, sc.Address)
	}
	m := s.digest("auth", entry, sc)
	sig, err := schnorr.Sign(s.priv, m[:])
	if err != nil {
		return nil, "", fmt.Errorf("schnorr sign: %w", err)
	}
	out := make([]byte, 0, len(entry)+schnorr.SignatureSize)
	out = append(out, entry...)
	out = append(out, sig.Serialize()...)
	return out, s.addr, nil
}

// VerifyTestSignature checks a payload produced by TestSigner against the
// given compressed-pubkey-hex address. Test helper for the signing scheme;
// the network performs the authoritative verification in production.
func VerifyTestSignature(kind string, signed []byte, sc Context, addr string) error {
	if len(signed) < schnorr.SignatureSize {
		return fmt.Errorf("signed payload too short")
	}
	payload := signed[:len(signed)-schnorr.SignatureSize]
	sigBytes := signed[len(signed)-schnorr.SignatureSize:]
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("parse signature: %w", err)
	}
	pkb, err := hex.DecodeString(addr)
	if err != nil {
		return fmt.Errorf("bad address hex: %w", err)
	}
	pub, err := schnorr.ParsePubKey(pkb)
	if err != nil {
		return fmt.Errorf("parse pubkey: %w", err)
	}
	ts := TestSigner{addr: addr}
	m := ts.digest(kind, payload, sc)
	if !sig.Verify(m[:], pub) {
		return fmt.Errorf("bad signature")
	}
	return nil
}

// Package webhook receives and authenticates carrier call events. Two
// verification schemes are supported: a platform-wide Ed25519 signature in
// the Telnyx style, and a per-tenant HMAC-SHA256 signature keyed by the
// tenant's webhook secret. Either way a request with a stale timestamp,
// missing headers, or a bad signature is rejected before any session state
// is touched.
package webhook

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Header names. The Ed25519 pair follows the carrier's convention; the HMAC
// header is ours, for carriers signing with the tenant secret.
const (
	HeaderTimestamp        = "Telnyx-Timestamp"
	HeaderEd25519Signature = "Telnyx-Signature-Ed25519"
	HeaderHMACSignature    = "X-Webhook-Signature"
)

// MaxTimestampSkew bounds how far a webhook timestamp may drift from the
// server clock before the request is rejected.
const MaxTimestampSkew = 5 * time.Minute

// ErrBadSignature covers every verification failure. Handlers respond 401
// and reveal nothing more specific to the caller.
var ErrBadSignature = errors.New("webhook: signature verification failed")

// ParsePublicKey decodes a base64 Ed25519 public key from configuration.
func ParsePublicKey(b64 string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("webhook: decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("webhook: public key is %d bytes; want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// CheckTimestamp validates a unix-seconds timestamp header against now.
func CheckTimestamp(ts string, now time.Time) error {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
	}
	drift := now.Sub(time.Unix(sec, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > MaxTimestampSkew {
		return fmt.Errorf("%w: timestamp outside %v window", ErrBadSignature, MaxTimestampSkew)
	}
	return nil
}

// signedPayload is what both schemes sign: the timestamp bound to the exact
// raw body, so neither can be replayed independently.
func signedPayload(ts string, body []byte) []byte {
	payload := make([]byte, 0, len(ts)+1+len(body))
	payload = append(payload, ts...)
	payload = append(payload, '|')
	payload = append(payload, body...)
	return payload
}

// VerifyEd25519 checks a base64 Ed25519 signature over timestamp|body.
func VerifyEd25519(pub ed25519.PublicKey, sigB64, ts string, body []byte) error {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("%w: bad signature encoding", ErrBadSignature)
	}
	if !ed25519.Verify(pub, signedPayload(ts, body), sig) {
		return ErrBadSignature
	}
	return nil
}

// SignHMAC computes the hex HMAC-SHA256 signature of timestamp|body with the
// tenant secret. Exported so tests and fixtures can produce valid requests.
func SignHMAC(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(signedPayload(ts, body))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC checks a hex HMAC-SHA256 signature in constant time. An empty
// secret always fails: a tenant without a configured secret accepts nothing.
func VerifyHMAC(secret, sigHex, ts string, body []byte) error {
	if secret == "" {
		return fmt.Errorf("%w: no secret configured", ErrBadSignature)
	}
	want, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("%w: bad signature encoding", ErrBadSignature)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(signedPayload(ts, body))
	if !hmac.Equal(want, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

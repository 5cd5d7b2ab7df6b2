// Package webhook ingests the provider's event webhook: signature
// verification, test-traffic filtering, event classification, and the
// batched user-store mutations each event implies.
package webhook

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
)

// Provider-defined header names for webhook authenticity.
const (
	SignatureHeader = "X-Twilio-Email-Event-Webhook-Signature"
	TimestampHeader = "X-Twilio-Email-Event-Webhook-Timestamp"
)

// ErrInvalidSignature is returned when the payload signature does not
// verify against the provider's published public key.
var ErrInvalidSignature = errors.New("webhook: invalid signature")

// ParsePublicKey decodes the provider's base64 DER-encoded ECDSA public key
// as shown in the provider dashboard.
func ParsePublicKey(b64 string) (*ecdsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("webhook: decode public key: %w", err)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("webhook: parse public key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("webhook: public key is %T, want ECDSA", parsed)
	}
	return key, nil
}

// Verify checks the ECDSA signature over timestamp+body. This must pass
// before the body is parsed as trusted data.
func Verify(key *ecdsa.PublicKey, body []byte, signatureB64, timestamp string) error {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("webhook: decode signature: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(timestamp))
	h.Write(body)

	if !ecdsa.VerifyASN1(key, h.Sum(nil), sig) {
		return ErrInvalidSignature
	}
	return nil
}

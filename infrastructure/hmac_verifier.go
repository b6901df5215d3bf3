// infrastructure/hmac_verifier.go
package infrastructure

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/vitovidale/video-ingest-service/domain"
)

// HMACVerifier checks base64 HMAC-SHA256 signatures over raw webhook bodies.
type HMACVerifier struct {
	secret []byte
}

var _ domain.SignatureVerifier = (*HMACVerifier)(nil)

// NewHMACVerifier fails when the secret is empty; callers treat that as a
// startup error.
func NewHMACVerifier(secret []byte) (*HMACVerifier, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("hmac secret: %w", domain.ErrMissingConfig)
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return &HMACVerifier{secret: s}, nil
}

// Sign returns the signature the object store is expected to send for body.
func (v *HMACVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify compares in constant time. A signature of the wrong length or
// encoding is just a mismatch.
func (v *HMACVerifier) Verify(rawBody []byte, receivedSignature string) bool {
	if receivedSignature == "" {
		return false
	}
	received, err := base64.StdEncoding.Strict().DecodeString(receivedSignature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(rawBody)
	return hmac.Equal(received, mac.Sum(nil))
}

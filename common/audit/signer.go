package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Signer produces hex HMAC-SHA256 digests with a shared secret. It verifies
// inbound webhook bodies and stamps delivery records with an integrity tag.
type Signer struct {
	secretKey []byte
}

func NewSigner(secretKey string) *Signer {
	return &Signer{secretKey: []byte(secretKey)}
}

// Enabled reports whether a secret is configured.
func (s *Signer) Enabled() bool {
	return s != nil && len(s.secretKey) > 0
}

// SignBody returns the hex HMAC of a raw request body.
func (s *Signer) SignBody(body []byte) string {
	h := hmac.New(sha256.New, s.secretKey)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyBody checks a hex signature over body in constant time. An optional
// "sha256=" prefix on the signature is accepted.
func (s *Signer) VerifyBody(body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	provided, err := hex.DecodeString(signature)
	if err != nil || len(provided) == 0 {
		return false
	}
	h := hmac.New(sha256.New, s.secretKey)
	h.Write(body)
	return hmac.Equal(provided, h.Sum(nil))
}

// SignRecord tags a delivery record so tampering with the stored copy is
// detectable.
func (s *Signer) SignRecord(sourceSignature, transferSignature, amount string, deliveredAt time.Time) string {
	payload := sourceSignature + "|" + transferSignature + "|" + amount + "|" + deliveredAt.UTC().Format(time.RFC3339Nano)
	return s.SignBody([]byte(payload))
}

// VerifyRecord checks a tag produced by SignRecord.
func (s *Signer) VerifyRecord(sourceSignature, transferSignature, amount string, deliveredAt time.Time, tag string) bool {
	expected := s.SignRecord(sourceSignature, transferSignature, amount, deliveredAt)
	return hmac.Equal([]byte(expected), []byte(tag))
}

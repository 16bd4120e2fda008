package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Signer computes and checks confirmation signatures:
// hex(HMAC-SHA256(secret, intentID + "|" + paymentID)).
type Signer struct{ secret []byte }

func NewSigner(secret string) *Signer { return &Signer{secret: []byte(secret)} }

func (s *Signer) Sign(intentID, paymentID string) string {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(intentID + "|" + paymentID))
	return hex.EncodeToString(m.Sum(nil))
}

// Verify compares in constant time. An empty secret never verifies.
func (s *Signer) Verify(intentID, paymentID, signature string) bool {
	if len(s.secret) == 0 {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(s.Sign(intentID, paymentID))
	return hmac.Equal(got, want)
}

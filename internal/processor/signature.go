package processor

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the webhook signature on inbound callbacks.
const SignatureHeader = "Processor-Signature"

// Sign computes the hex HMAC-SHA256 of a raw webhook body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an inbound signature against the raw body
// before anything in the body is parsed. Comparison is constant time.
func VerifySignature(body []byte, header, secret string) bool {
	header = strings.TrimSpace(strings.TrimPrefix(header, "sha256="))
	if header == "" || secret == "" {
		return false
	}
	expected, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(expected, mac.Sum(nil))
}

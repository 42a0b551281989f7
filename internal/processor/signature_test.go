package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"authorization_succeeded"}`)
	secret := "whsec_test_secret"

	sig := Sign(body, secret)
	assert.True(t, VerifySignature(body, sig, secret))
	assert.True(t, VerifySignature(body, "sha256="+sig, secret))
	assert.True(t, VerifySignature(body, "  "+sig+"  ", secret))
}

func TestVerifySignatureRejects(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test_secret"
	sig := Sign(body, secret)

	assert.False(t, VerifySignature([]byte(`{"id":"evt_2"}`), sig, secret), "tampered body")
	assert.False(t, VerifySignature(body, sig, "whsec_other"), "wrong secret")
	assert.False(t, VerifySignature(body, "", secret), "empty header")
	assert.False(t, VerifySignature(body, "not-hex!", secret), "non-hex header")
	assert.False(t, VerifySignature(body, sig[:10], secret), "truncated signature")
	assert.False(t, VerifySignature(body, sig, ""), "empty secret")
}

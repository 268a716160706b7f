package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testKey = "wh-signature-key-0001"

func sign(t *testing.T, key, url string, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(url))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidSignature(t *testing.T) {
	v := NewValidator(testKey, false, nil)
	url := "https://example.com/api/webhooks/square"
	body := []byte(`{"event_id":"abc","type":"order.updated"}`)

	assert.True(t, v.Valid(url, body, sign(t, testKey, url, body)))
}

func TestBitFlipInvalidates(t *testing.T) {
	v := NewValidator(testKey, false, nil)
	url := "https://example.com/api/webhooks/square"
	body := []byte(`{"event_id":"abc"}`)

	sig := sign(t, testKey, url, body)
	raw, err := base64.StdEncoding.DecodeString(sig)
	assert.NoError(t, err)

	for i := range raw {
		for bit := 0; bit < 8; bit++ {
			flipped := make([]byte, len(raw))
			copy(flipped, raw)
			flipped[i] ^= 1 << bit
			assert.False(t, v.Valid(url, body, base64.StdEncoding.EncodeToString(flipped)))
		}
	}
}

func TestWrongKeyInvalid(t *testing.T) {
	v := NewValidator(testKey, false, nil)
	url := "https://example.com/api/webhooks/square"
	body := []byte(`{}`)

	assert.False(t, v.Valid(url, body, sign(t, "another-key", url, body)))
}

func TestMissingSignatureInvalid(t *testing.T) {
	v := NewValidator(testKey, false, nil)
	assert.False(t, v.Valid("https://example.com", []byte("{}"), ""))
}

func TestGarbageSignatureInvalid(t *testing.T) {
	v := NewValidator(testKey, false, nil)
	// not base64 at all
	assert.False(t, v.Valid("https://example.com", []byte("{}"), "!!not-base64!!"))
	// valid base64 but wrong length
	assert.False(t, v.Valid("https://example.com", []byte("{}"), base64.StdEncoding.EncodeToString([]byte("short"))))
}

func TestBypassOnlyWhenEnabled(t *testing.T) {
	body := []byte(`{}`)

	prod := NewValidator(testKey, false, nil)
	assert.False(t, prod.Valid("https://example.com", body, TestBypassToken))

	sandbox := NewValidator(testKey, true, nil)
	assert.True(t, sandbox.Valid("https://example.com", body, TestBypassToken))
	// real signatures still verify with bypass enabled
	sig := sign(t, testKey, "https://example.com", body)
	assert.True(t, sandbox.Valid("https://example.com", body, sig))
}

func TestURLIsPartOfSignature(t *testing.T) {
	v := NewValidator(testKey, false, nil)
	body := []byte(`{}`)
	sig := sign(t, testKey, "https://example.com/a", body)

	assert.False(t, v.Valid("https://example.com/b", body, sig))
}

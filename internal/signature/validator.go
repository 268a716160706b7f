package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
)

// TestBypassToken is accepted in place of a real signature, but only when
// the validator was built with bypass enabled (non-production mode).
const TestBypassToken = "test-signature-bypass"

// Validator authenticates Square webhook deliveries. Square signs the
// concatenation of the notification URL and the raw request body with
// HMAC-SHA256 and sends the base64 digest in a header.
type Validator struct {
	key         []byte
	allowBypass bool
	logger      *slog.Logger
}

func NewValidator(signatureKey string, allowBypass bool, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		key:         []byte(signatureKey),
		allowBypass: allowBypass,
		logger:      logger,
	}
}

// Valid reports whether provided is a correct signature over url+body.
// It never panics and never returns an error: any malformed input is simply
// an invalid signature.
func (v *Validator) Valid(url string, body []byte, provided string) bool {
	if provided == "" {
		return false
	}

	if v.allowBypass && provided == TestBypassToken {
		v.logger.Warn("accepting test bypass signature; never enable outside sandbox")
		return true
	}

	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(url))
	mac.Write(body)
	expected := mac.Sum(nil)

	got, err := base64.StdEncoding.DecodeString(provided)
	if err != nil || len(got) != len(expected) {
		v.logger.Warn("webhook signature mismatch",
			"provided_prefix", prefix(provided, 8),
			"expected_prefix", prefix(base64.StdEncoding.EncodeToString(expected), 8),
		)
		return false
	}

	if subtle.ConstantTimeCompare(got, expected) != 1 {
		v.logger.Warn("webhook signature mismatch",
			"provided_prefix", prefix(provided, 8),
			"expected_prefix", prefix(base64.StdEncoding.EncodeToString(expected), 8),
		)
		return false
	}

	return true
}

// prefix truncates s so logs never leak a full signature.
func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

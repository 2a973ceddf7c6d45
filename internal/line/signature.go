package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrBadSignature indicates the webhook request could not be authenticated.
// The caller must reject the request and process nothing.
var ErrBadSignature = errors.New("webhook signature verification failed")

// ValidateSignature authenticates a raw webhook body against the channel
// secret. The digest is HMAC-SHA256 over the exact raw bytes, base64-encoded;
// the body must not be re-serialized before verification, since re-encoding
// can change the byte layout and invalidate the comparison.
func ValidateSignature(secret, signature string, body []byte) error {
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("%w: channel secret is not configured", ErrBadSignature)
	}
	if strings.TrimSpace(signature) == "" {
		return fmt.Errorf("%w: signature header is missing", ErrBadSignature)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature))) {
		return fmt.Errorf("%w: digest mismatch", ErrBadSignature)
	}
	return nil
}

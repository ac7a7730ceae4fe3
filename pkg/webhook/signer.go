package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Delivery request headers. Receivers verify the signature against the
// registration secret and de-duplicate on the delivery id.
const (
	HeaderSignature  = "X-Signature"
	HeaderDeliveryID = "X-Delivery-Id"
	HeaderAttempt    = "X-Attempt"
)

// Sign computes the hex HMAC-SHA256 of body under the webhook secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

package providerclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	derrors "verisync/pkg/domain-errors"
)

// Sign computes the hex HMAC-SHA256 of body under the webhook token. The
// provider sends this value in the X-SHA2-Signature header.
func Sign(token string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an inbound webhook signature against the exact raw
// request body. Failure is a validation error: the delivery must be rejected
// before any record is created.
func VerifySignature(token string, body []byte, signature string) error {
	if signature == "" {
		return derrors.New(derrors.CodeValidation, "missing webhook signature")
	}
	expected := Sign(token, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return derrors.New(derrors.CodeValidation, "invalid webhook signature")
	}
	return nil
}

package providerclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"payload":{"action":"check.completed","object":{"id":"c-1"}}}`)
	token := "webhook-token"

	t.Run("accepts a signature over the exact body", func(t *testing.T) {
		require.NoError(t, VerifySignature(token, body, Sign(token, body)))
	})

	t.Run("rejects a missing signature", func(t *testing.T) {
		assert.Error(t, VerifySignature(token, body, ""))
	})

	t.Run("rejects a signature under the wrong token", func(t *testing.T) {
		assert.Error(t, VerifySignature(token, body, Sign("other-token", body)))
	})

	t.Run("rejects a signature over different bytes", func(t *testing.T) {
		other := append([]byte(nil), body...)
		other[0] = ' '
		assert.Error(t, VerifySignature(token, body, Sign(token, other)))
	})
}

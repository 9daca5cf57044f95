package signature

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignIsStableAndPrefixed(t *testing.T) {
	body := []byte(`{"event":"lead.created"}`)

	sig := Sign("0123456789abcdef", 1700000000, body)

	assert.True(t, strings.HasPrefix(sig, "sha256="))
	assert.Len(t, sig, len("sha256=")+64)
	assert.Equal(t, sig, Sign("0123456789abcdef", 1700000000, body))
	assert.NotEqual(t, sig, Sign("0123456789abcdef", 1700000001, body))
	assert.True(t, Verify("0123456789abcdef", 1700000000, body, sig))
	assert.False(t, Verify("another-secret-value", 1700000000, body, sig))
}

func TestApplySetsHeaders(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "https://hooks.example.com", nil)
	require.NoError(t, err)
	at := time.Unix(1700000000, 0)

	Apply(req, "0123456789abcdef", "ticket.escalated", []byte("{}"), at)

	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "ticket.escalated", req.Header.Get(HeaderEvent))
	assert.Equal(t, "1700000000", req.Header.Get(HeaderTimestamp))
	assert.Equal(t, Sign("0123456789abcdef", 1700000000, []byte("{}")), req.Header.Get(HeaderSignature))
}

func TestApplyWithoutSecretLeavesSignatureOff(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "https://hooks.example.com", nil)
	require.NoError(t, err)

	Apply(req, "", "workflow.call", []byte("{}"), time.Now())

	assert.Empty(t, req.Header.Get(HeaderSignature))
}

package services

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACVerifier(t *testing.T) {
	v := NewHMACVerifier("X-Signature", "secret")
	payload := []byte(`{"status":"SUCCESS"}`)
	good := v.Sign(payload)

	header := func(sig string) http.Header {
		h := http.Header{}
		if sig != "" {
			h.Set("X-Signature", sig)
		}
		return h
	}

	tests := []struct {
		name    string
		headers http.Header
		payload []byte
		ok      bool
	}{
		{"valid", header(good), payload, true},
		{"valid upper case hex", header(upper(good)), payload, true},
		{"missing", header(""), payload, false},
		{"not hex", header("zz"), payload, false},
		{"other payload", header(good), []byte(`{"status":"FAILED"}`), false},
		{"truncated", header(good[:10]), payload, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.payload, tt.headers)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrSignatureInvalid)
			}
		})
	}
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

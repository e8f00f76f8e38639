package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"walletd/internal/mock"

	"github.com/stretchr/testify/assert"
)

func TestAPIKeyValidator_ValidateAPIKey(t *testing.T) {
	validator := NewAPIKeyValidator([]string{"valid-key-1", "valid-key-2"}, 100, &mock.MockLogger{})

	tests := []struct {
		name   string
		apiKey string
		want   bool
	}{
		{"valid key 1", "valid-key-1", true},
		{"valid key 2", "valid-key-2", true},
		{"invalid key", "invalid-key", false},
		{"empty key", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, validator.ValidateAPIKey(tt.apiKey))
		})
	}
}

func TestAPIKeyValidator_Rotation(t *testing.T) {
	validator := NewAPIKeyValidator([]string{"old"}, 100, &mock.MockLogger{})

	validator.AddAPIKey("new")
	assert.True(t, validator.ValidateAPIKey("new"))

	validator.RemoveAPIKey("old")
	assert.False(t, validator.ValidateAPIKey("old"))
	assert.True(t, validator.Enabled())
}

func TestAPIKeyValidator_RateLimit(t *testing.T) {
	validator := NewAPIKeyValidator([]string{"k"}, 2, &mock.MockLogger{})

	assert.True(t, validator.CheckRateLimit("k"))
	assert.True(t, validator.CheckRateLimit("k"))
	assert.False(t, validator.CheckRateLimit("k"), "burst exhausted")
}

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	serve := func(v *APIKeyValidator, header, value string) int {
		req := httptest.NewRequest(http.MethodPost, "/flush", nil)
		if header != "" {
			req.Header.Set(header, value)
		}
		rec := httptest.NewRecorder()
		v.Middleware(ok).ServeHTTP(rec, req)
		return rec.Code
	}

	open := NewAPIKeyValidator(nil, 0, &mock.MockLogger{})
	assert.Equal(t, http.StatusNoContent, serve(open, "", ""), "no keys configured")

	guarded := NewAPIKeyValidator([]string{"s3cret"}, 0, &mock.MockLogger{})
	assert.Equal(t, http.StatusUnauthorized, serve(guarded, "", ""))
	assert.Equal(t, http.StatusUnauthorized, serve(guarded, HeaderAPIKey, "wrong"))
	assert.Equal(t, http.StatusNoContent, serve(guarded, HeaderAPIKey, "s3cret"))
	assert.Equal(t, http.StatusNoContent, serve(guarded, "Authorization", "Bearer s3cret"))
}

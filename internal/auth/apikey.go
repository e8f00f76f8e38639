// Package auth guards the admin API's mutating routes with static API keys.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"walletd/internal/core"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// HeaderAPIKey carries the key; "Authorization: Bearer <key>" is also accepted
	HeaderAPIKey = "X-API-Key"

	// DefaultRateLimitPerKey is the default number of requests per second allowed per API key
	DefaultRateLimitPerKey = 10
)

// APIKeyValidator validates API keys and rate limits each key
type APIKeyValidator struct {
	mu           sync.RWMutex
	validKeys    []string
	rateLimiters map[string]*rate.Limiter
	rateLimit    int

	logger        core.ILogger
	failureLogger core.ILogger
}

// NewAPIKeyValidator creates a validator. An empty key list disables checking.
func NewAPIKeyValidator(apiKeys []string, rateLimit int, logger core.ILogger) *APIKeyValidator {
	if rateLimit <= 0 {
		rateLimit = DefaultRateLimitPerKey
	}
	v := &APIKeyValidator{
		rateLimiters:  make(map[string]*rate.Limiter),
		rateLimit:     rateLimit,
		logger:        logger.WithField("component", "auth"),
		failureLogger: logger.WithField("component", "auth_failure"),
	}
	for _, k := range apiKeys {
		if k != "" {
			v.validKeys = append(v.validKeys, k)
		}
	}
	return v
}

// Enabled reports whether any key is configured
func (v *APIKeyValidator) Enabled() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.validKeys) > 0
}

// AddAPIKey adds a key (for rotation)
func (v *APIKeyValidator) AddAPIKey(apiKey string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.validKeys = append(v.validKeys, apiKey)
	v.logger.Info("API key added")
}

// RemoveAPIKey removes a key (for rotation)
func (v *APIKeyValidator) RemoveAPIKey(apiKey string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	kept := v.validKeys[:0]
	for _, k := range v.validKeys {
		if k != apiKey {
			kept = append(kept, k)
		}
	}
	v.validKeys = kept
	delete(v.rateLimiters, apiKey)
	v.logger.Info("API key removed")
}

// ValidateAPIKey compares in constant time against every configured key
func (v *APIKeyValidator) ValidateAPIKey(apiKey string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ok := false
	for _, k := range v.validKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(apiKey)) == 1 {
			ok = true
		}
	}
	return ok
}

// CheckRateLimit reports whether apiKey may make another request now
func (v *APIKeyValidator) CheckRateLimit(apiKey string) bool {
	v.mu.Lock()
	limiter, exists := v.rateLimiters[apiKey]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(v.rateLimit), v.rateLimit)
		v.rateLimiters[apiKey] = limiter
	}
	v.mu.Unlock()
	return limiter.Allow()
}

// Middleware rejects requests without a valid key. It passes everything
// through when no key is configured.
func (v *APIKeyValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !v.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		requestID := uuid.New().String()
		apiKey := extractKey(r)
		if apiKey == "" {
			v.failureLogger.Warn("Authentication failed: missing API key",
				"path", r.URL.Path, "request_id", requestID, "client_ip", r.RemoteAddr)
			http.Error(w, "missing API key", http.StatusUnauthorized)
			return
		}
		if !v.ValidateAPIKey(apiKey) {
			v.failureLogger.Warn("Authentication failed: invalid API key",
				"path", r.URL.Path, "request_id", requestID, "client_ip", r.RemoteAddr)
			http.Error(w, "invalid API key", http.StatusUnauthorized)
			return
		}
		if !v.CheckRateLimit(apiKey) {
			v.failureLogger.Warn("Rate limit exceeded",
				"path", r.URL.Path, "request_id", requestID, "client_ip", r.RemoteAddr)
			http.Error(w, "rate limit exceeded for API key", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractKey(r *http.Request) string {
	if k := r.Header.Get(HeaderAPIKey); k != "" {
		return k
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

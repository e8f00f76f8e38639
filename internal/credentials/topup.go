package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"walletd/internal/core"
	apperrors "walletd/pkg/errors"
	pkghttp "walletd/pkg/http"
)

// TopupClient implements core.ITopupClient
type TopupClient struct {
	timeout time.Duration
	logger  core.ILogger

	mu      sync.Mutex
	clients map[string]*pkghttp.Client
}

func NewTopupClient(timeout time.Duration, logger core.ILogger) *TopupClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TopupClient{
		timeout: timeout,
		logger:  logger.WithField("component", "topup_client"),
		clients: make(map[string]*pkghttp.Client),
	}
}

// client is cached per credential. Top-ups are never retried: a resent
// token would either fail as spent or credit twice.
func (t *TopupClient) client(cred core.Credential) *pkghttp.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := cred.ID + "|" + cred.BaseURL + "|" + cred.Key
	if c, ok := t.clients[key]; ok {
		return c
	}
	c := pkghttp.NewClientWithOptions(normalizeBaseURL(cred.BaseURL), t.timeout,
		pkghttp.BearerSigner{Token: cred.Key}, pkghttp.Options{MaxRetries: 0})
	t.clients[key] = c
	return c
}

// Topup posts token to the credential's top-up endpoint
func (t *TopupClient) Topup(ctx context.Context, cred core.Credential, token string) error {
	_, err := t.client(cred).PostWithParams(ctx, "v1/wallet/topup", map[string]string{"cashu_token": token}, nil)
	if err == nil {
		t.logger.Info("Credential topped up", "credential", cred.ID)
		return nil
	}

	var apiErr *pkghttp.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s", apperrors.ErrTopupRejected, detailMessage(apiErr))
	}
	return fmt.Errorf("top-up request failed: %w", err)
}

type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

// detailMessage extracts the server's detail field, falling back to a
// status-coded message when the body does not carry one.
func detailMessage(apiErr *pkghttp.APIError) string {
	fallback := fmt.Sprintf("top-up failed with status %d", apiErr.StatusCode)
	if text := http.StatusText(apiErr.StatusCode); text != "" {
		fallback += " (" + text + ")"
	}

	var body errorBody
	if err := json.Unmarshal(apiErr.Body, &body); err != nil || len(body.Detail) == 0 {
		return fallback
	}

	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		if s == "" {
			return fallback
		}
		return s
	}
	return string(body.Detail)
}

func normalizeBaseURL(u string) string {
	if !strings.HasSuffix(u, "/") {
		return u + "/"
	}
	return u
}

package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Retry(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, nil)
	body, err := client.Get(context.Background(), "/", nil)
	require.NoError(t, err)
	assert.Equal(t, "success", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestClient_NoRetryWhenDisabled(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClientWithOptions(server.URL, 5*time.Second, nil, Options{MaxRetries: 0})
	_, err := client.Post(context.Background(), "/topup", map[string]string{"a": "b"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestClient_CircuitBreaker(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, nil)

	// Policy is 5 failures out of 10.
	for i := 0; i < 6; i++ {
		_, _ = client.Get(context.Background(), "/", nil)
	}

	startAttempts := atomic.LoadInt32(&attempts)
	_, err := client.Get(context.Background(), "/", nil)
	assert.Error(t, err)
	assert.Equal(t, startAttempts, atomic.LoadInt32(&attempts), "open circuit must not reach the server")
}

func TestClient_BearerAndParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "cashuAbc", r.URL.Query().Get("cashu_token"))
		body, _ := io.ReadAll(r.Body)
		assert.Empty(t, body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClientWithOptions(server.URL, time.Second, BearerSigner{Token: "secret"}, Options{})
	_, err := client.PostWithParams(context.Background(), "/v1/wallet/topup", map[string]string{"cashu_token": "cashuAbc"}, nil)
	require.NoError(t, err)
}

func TestClient_PostBodyReplayedOnRetry(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"amount":100,"unit":"sat"}`, string(body))
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil)
	_, err := client.Post(context.Background(), "/v1/mint/quote/bolt11", map[string]interface{}{"amount": 100, "unit": "sat"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestBearerSigner_EmptyToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Error(t, BearerSigner{}.SignRequest(req))
}

func TestClient_APIErrorNamesRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"Token already spent"}`))
	}))
	defer server.Close()

	client := NewClientWithOptions(server.URL, time.Second, nil, Options{})
	_, err := client.Get(context.Background(), "/v1/wallet/info", map[string]string{"k": "v"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.MethodGet, apiErr.Method)
	assert.Equal(t, "/v1/wallet/info", apiErr.Path)
	assert.JSONEq(t, `{"detail":"Token already spent"}`, string(apiErr.Body))
	assert.Contains(t, err.Error(), "status 400")
}

package liveserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockLogger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Info(msg string, args ...interface{}) { m.Called(msg, args) }
func (m *MockLogger) Warn(msg string, args ...interface{}) { m.Called(msg, args) }

func newTestServer(t *testing.T, origins []string, limits Limits) (*Server, *Hub, string) {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := NewServer(hub, nil, origins, limits)
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return server, hub, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(url, origin string) (*websocket.Conn, *http.Response, error) {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func TestServer_StreamsBroadcasts(t *testing.T) {
	server, hub, url := newTestServer(t, []string{"http://localhost:5173"}, Limits{})

	conn, _, err := dial(url, "http://localhost:5173")
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	server.Broadcast(NewNotificationMessage(Notification{ID: "n1", Level: "success", Title: "Wallet refilled"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got struct {
		Type string       `json:"type"`
		Data Notification `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, TypeNotification, got.Type)
	assert.Equal(t, "Wallet refilled", got.Data.Title)

	conn.Close()
	require.Eventually(t, func() bool { return server.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServer_OriginChecks(t *testing.T) {
	_, _, url := newTestServer(t, []string{"http://localhost:5173"}, Limits{RateBurst: 100, RatePerSecond: 100})

	_, resp, err := dial(url, "")
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = dial(url, "http://evil.example")
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_WildcardRejectedInProduction(t *testing.T) {
	server, _, url := newTestServer(t, []string{"*"}, Limits{})
	server.SetProduction(true)

	_, resp, err := dial(url, "http://anything.example")
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_ConnectionLimit(t *testing.T) {
	_, hub, url := newTestServer(t, []string{"*"}, Limits{MaxConnections: 1, RatePerSecond: 100, RateBurst: 100})

	conn1, _, err := dial(url, "http://localhost")
	require.NoError(t, err)
	defer conn1.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	_, resp, err := dial(url, "http://localhost")
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_RateLimit(t *testing.T) {
	_, _, url := newTestServer(t, []string{"*"}, Limits{RatePerSecond: 0.001, RateBurst: 1})

	conn, _, err := dial(url, "http://localhost")
	require.NoError(t, err)
	defer conn.Close()

	_, resp, err := dial(url, "http://localhost")
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestServer_LogsRejections(t *testing.T) {
	logger := new(MockLogger)
	logger.On("Warn", mock.Anything, mock.Anything).Return()

	hub := NewHub(nil)
	server := NewServer(hub, logger, []string{"http://ok.example"}, Limits{})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://bad.example")
	assert.False(t, server.checkOrigin(req))
	logger.AssertCalled(t, "Warn", "Rejected stream connection from unauthorized origin", mock.Anything)
}

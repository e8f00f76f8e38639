package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"walletd/internal/core"
	"walletd/pkg/concurrency"
	"walletd/pkg/liveserver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAlertChannel struct {
	name    string
	sent    []Alert
	sendErr error
	mu      sync.Mutex
}

func (m *mockAlertChannel) Name() string {
	return m.name
}

func (m *mockAlertChannel) Send(ctx context.Context, alert Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, alert)
	return m.sendErr
}

func (m *mockAlertChannel) getSent() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]Alert, len(m.sent))
	copy(res, m.sent)
	return res
}

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, f ...interface{})               {}
func (m *mockLogger) Info(msg string, f ...interface{})                {}
func (m *mockLogger) Warn(msg string, f ...interface{})                {}
func (m *mockLogger) Error(msg string, f ...interface{})               {}
func (m *mockLogger) Fatal(msg string, f ...interface{})               {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

func newManager(t *testing.T) *Manager {
	t.Helper()
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "alerts", NonBlocking: true}, &mockLogger{})
	t.Cleanup(pool.Stop)
	return NewManager(pool, &mockLogger{})
}

func TestManager_FansOut(t *testing.T) {
	m := newManager(t)
	ch1 := &mockAlertChannel{name: "mock1"}
	ch2 := &mockAlertChannel{name: "mock2", sendErr: errors.New("down")}
	m.AddChannel(ch1)
	m.AddChannel(ch2)

	m.Notify(context.Background(), core.Notification{
		Level: core.NotifySuccess, Channel: "nwc", Title: "Wallet refilled", Message: "Added 1000 sats",
		Fields: map[string]string{"mint": "https://mint.example"},
	})

	require.Eventually(t, func() bool { return len(ch1.getSent()) == 1 && len(ch2.getSent()) == 1 },
		time.Second, 5*time.Millisecond)

	a := ch1.getSent()[0]
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, core.NotifySuccess, a.Level)
	assert.Equal(t, "nwc", a.Channel)
	assert.Equal(t, "Wallet refilled", a.Title)
	assert.Equal(t, "https://mint.example", a.Fields["mint"])
	assert.Equal(t, a.ID, ch2.getSent()[0].ID)
}

func TestManager_LevelFilter(t *testing.T) {
	m := newManager(t)
	all := &mockAlertChannel{name: "all"}
	outcomes := &mockAlertChannel{name: "outcomes"}
	m.AddChannel(all)
	m.AddChannel(outcomes, core.NotifySuccess, core.NotifyError)

	m.Notify(context.Background(), core.Notification{Level: core.NotifyProgress, Title: "Paying invoice"})
	m.Notify(context.Background(), core.Notification{Level: core.NotifyError, Title: "Refill failed"})

	require.Eventually(t, func() bool { return len(all.getSent()) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(outcomes.getSent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Refill failed", outcomes.getSent()[0].Title)
}

func TestManager_CanceledContextStillDelivers(t *testing.T) {
	m := newManager(t)
	ch := &mockAlertChannel{name: "mock"}
	m.AddChannel(ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Notify(ctx, core.Notification{Level: core.NotifyInfo, Title: "Refilling wallet"})

	require.Eventually(t, func() bool { return len(ch.getSent()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestWebhookChannel_Send(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL)
	err := ch.Send(context.Background(), Alert{
		Level: core.NotifyError, Channel: "api", Title: "Top-up failed", Message: "invalid token", Timestamp: time.Now(),
	})
	require.NoError(t, err)

	attachments := body["attachments"].([]interface{})
	require.Len(t, attachments, 1)
	att := attachments[0].(map[string]interface{})
	assert.Equal(t, "#ff0000", att["color"])
	assert.Equal(t, "[error] Top-up failed", att["pretext"])
	assert.Equal(t, "invalid token", att["text"])
}

func TestWebhookChannel_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewWebhookChannel(srv.URL).Send(context.Background(), Alert{Title: "x"})
	assert.Error(t, err)
}

func TestTelegramChannel_Send(t *testing.T) {
	var path string
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
	}))
	defer srv.Close()

	ch := NewTelegramChannel(srv.URL, "123:abc", "42")
	err := ch.Send(context.Background(), Alert{
		Level: core.NotifySuccess, Title: "Wallet refilled", Message: "Added 1000 sats",
		Fields: map[string]string{"b": "2", "a": "1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "✅ *Wallet refilled*\n\nAdded 1000 sats\n\n- *a*: 1\n- *b*: 2", body["text"])
}

func TestTelegramChannel_ErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewTelegramChannel(srv.URL, "123:secret", "42").Send(context.Background(), Alert{Title: "x"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "123:secret")
	assert.Contains(t, err.Error(), "[REDACTED]")
}

func TestTelegramChannel_Unconfigured(t *testing.T) {
	assert.NoError(t, NewTelegramChannel("", "", "").Send(context.Background(), Alert{}))
}

func TestStreamChannel_Send(t *testing.T) {
	hub := liveserver.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	sub := liveserver.NewSubscriber("ui")
	hub.Subscribe(sub)

	ch := NewStreamChannel(hub)
	require.NoError(t, ch.Send(context.Background(), Alert{ID: "n1", Level: core.NotifyInfo, Title: "Refilling wallet"}))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, liveserver.TypeNotification, msg.Type)
		n := msg.Data.(liveserver.Notification)
		assert.Equal(t, "n1", n.ID)
		assert.Equal(t, "info", n.Level)
	case <-time.After(time.Second):
		t.Fatal("no stream message")
	}
}

func TestLogChannel_Send(t *testing.T) {
	assert.NoError(t, NewLogChannel(&mockLogger{}).Send(context.Background(), Alert{Level: core.NotifyError}))
}

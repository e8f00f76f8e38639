package credentials

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"walletd/internal/core"
	"walletd/internal/mock"
	apperrors "walletd/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource_UpdateNotifies(t *testing.T) {
	src := NewSource([]core.Credential{{ID: "a", BalanceMsats: 1}})

	var seen []core.Credential
	src.OnChange(func(creds []core.Credential) { seen = creds })

	src.Update(core.Credential{ID: "a", BalanceMsats: 5})
	src.Update(core.Credential{ID: "b", BalanceMsats: 9})

	require.Len(t, seen, 2)
	c, ok := src.Find("a")
	require.True(t, ok)
	assert.Equal(t, int64(5), c.BalanceMsats)
	_, ok = src.Find("zzz")
	assert.False(t, ok)
}

func TestTopupClient_Success(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/wallet/topup", r.URL.Path)
		assert.Equal(t, "cashuBtok", r.URL.Query().Get("cashu_token"))
		assert.Equal(t, "Bearer sk-1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"msats": 100000}`))
	}))
	defer srv.Close()

	client := NewTopupClient(time.Second, &mock.MockLogger{})
	err := client.Topup(context.Background(), core.Credential{ID: "c1", Key: "sk-1", BaseURL: srv.URL + "/"}, "cashuBtok")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTopupClient_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"detail string", http.StatusBadRequest, `{"detail":"Token already spent"}`, "Token already spent"},
		{"unparsable body", http.StatusBadGateway, `<html>bad gateway</html>`, "top-up failed with status 502"},
		{"empty detail", http.StatusUnauthorized, `{"detail":""}`, "top-up failed with status 401"},
		{"structured detail", http.StatusUnprocessableEntity, `{"detail":[{"msg":"field required"}]}`, "field required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewTopupClient(time.Second, &mock.MockLogger{})
			err := client.Topup(context.Background(), core.Credential{ID: "c1", Key: "k", BaseURL: srv.URL}, "cashuBtok")
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrTopupRejected)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "top-ups are never retried")
		})
	}
}

func TestSyncer_SyncOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/wallet/info", r.URL.Path)
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			_, _ = w.Write([]byte(`{"api_key":"good","balance":4200}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	src := NewSource([]core.Credential{
		{ID: "good", Key: "good", BaseURL: srv.URL + "/"},
		{ID: "revoked", Key: "bad", BaseURL: srv.URL + "/"},
		{ID: "local", Key: ""},
	})
	changes := 0
	src.OnChange(func([]core.Credential) { changes++ })

	syncer := NewSyncer(src, "@every 1h", time.Second, &mock.MockLogger{})
	syncer.SyncOnce(context.Background())

	good, _ := src.Find("good")
	assert.Equal(t, int64(4200), good.BalanceMsats)
	assert.False(t, good.SyncedAt.IsZero())
	revoked, _ := src.Find("revoked")
	assert.True(t, revoked.Invalid)
	assert.True(t, revoked.SyncedAt.IsZero(), "a rejected credential never reports a balance")
	local, _ := src.Find("local")
	assert.True(t, local.SyncedAt.IsZero())
	assert.Equal(t, 2, changes)

	// Unchanged balances do not notify again.
	syncer.SyncOnce(context.Background())
	assert.Equal(t, 2, changes)
}

func TestSyncer_FirstZeroBalanceMarksSynced(t *testing.T) {
	fail := int32(1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&fail) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"balance":0}`))
	}))
	defer srv.Close()

	src := NewSource([]core.Credential{{ID: "c", Key: "k", BaseURL: srv.URL}})
	changes := 0
	src.OnChange(func([]core.Credential) { changes++ })
	syncer := NewSyncer(src, "@every 1h", time.Second, &mock.MockLogger{})

	syncer.SyncOnce(context.Background())
	c, _ := src.Find("c")
	assert.True(t, c.SyncedAt.IsZero(), "a failed sync leaves the credential unsynced")
	assert.Equal(t, 0, changes)

	atomic.StoreInt32(&fail, 0)
	syncer.SyncOnce(context.Background())
	c, _ = src.Find("c")
	assert.False(t, c.SyncedAt.IsZero())
	assert.Equal(t, int64(0), c.BalanceMsats)
	assert.Equal(t, 1, changes, "the first zero reading is still news")
}

func TestSyncer_StartStop(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"balance":1}`))
	}))
	defer srv.Close()

	src := NewSource([]core.Credential{{ID: "c", Key: "k", BaseURL: srv.URL}})
	syncer := NewSyncer(src, "@every 1h", time.Second, &mock.MockLogger{})
	require.NoError(t, syncer.Start(context.Background()))
	syncer.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "Start syncs once immediately")
}

func TestSyncer_BadSchedule(t *testing.T) {
	syncer := NewSyncer(NewSource(nil), "every now and then", time.Second, &mock.MockLogger{})
	assert.Error(t, syncer.Start(context.Background()))
}

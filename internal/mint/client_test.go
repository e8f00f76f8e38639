package mint

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"walletd/internal/core"
	apperrors "walletd/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockLogger struct{}

func (m *MockLogger) Debug(msg string, fields ...interface{})               {}
func (m *MockLogger) Info(msg string, fields ...interface{})                {}
func (m *MockLogger) Warn(msg string, fields ...interface{})                {}
func (m *MockLogger) Error(msg string, fields ...interface{})               {}
func (m *MockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *MockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *MockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

type fakeIssuer struct {
	minted  int32
	sendErr error
	change  []core.Proof
}

func (f *fakeIssuer) Mint(ctx context.Context, mintURL, quoteID string, amountSats int64) ([]core.Proof, error) {
	atomic.AddInt32(&f.minted, 1)
	return []core.Proof{{Amount: amountSats, KeysetID: "ks", Secret: quoteID}}, nil
}

func (f *fakeIssuer) Send(ctx context.Context, mintURL string, amountSats int64, inputs []core.Proof) (string, []core.Proof, error) {
	if f.sendErr != nil {
		return "", nil, f.sendErr
	}
	return "cashuBtoken", f.change, nil
}

type fakeLedger struct {
	selected []core.Proof
	removed  []string
	added    []core.Proof
}

func (l *fakeLedger) SelectProofs(ctx context.Context, mintURL string, amount int64) ([]core.Proof, error) {
	return l.selected, nil
}

func (l *fakeLedger) RemoveProofs(ctx context.Context, mintURL string, secrets []string) error {
	l.removed = append(l.removed, secrets...)
	return nil
}

func (l *fakeLedger) AddProofs(ctx context.Context, mintURL string, proofs []core.Proof) error {
	l.added = append(l.added, proofs...)
	return nil
}

func newMintServer(t *testing.T, state *atomic.Value) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/mint/quote/bolt11", func(w http.ResponseWriter, r *http.Request) {
		var req quoteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sat", req.Unit)
		_ = json.NewEncoder(w).Encode(quoteResponse{Quote: "q1", Request: "lnbc100n1", State: QuoteUnpaid})
	})
	mux.HandleFunc("/v1/mint/quote/bolt11/q1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(quoteResponse{Quote: "q1", State: state.Load().(string)})
	})
	mux.HandleFunc("/v1/keysets", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"keysets":[{"id":"00ad","unit":"sat","active":true,"input_fee_ppk":100},{"id":"00ae","unit":"sat","active":false}]}`))
	})
	return httptest.NewServer(mux)
}

func TestClient_InvoiceAndMint(t *testing.T) {
	var state atomic.Value
	state.Store(QuoteUnpaid)
	srv := newMintServer(t, &state)
	defer srv.Close()

	issuer := &fakeIssuer{}
	c := NewClient(issuer, time.Second, &MockLogger{})
	ctx := context.Background()

	inv, err := c.CreateInvoice(ctx, srv.URL+"/", 100)
	require.NoError(t, err)
	assert.Equal(t, "q1", inv.QuoteID)
	assert.Equal(t, "lnbc100n1", inv.PaymentRequest)

	_, err = c.MintFromPaidInvoice(ctx, srv.URL, "q1", 100)
	assert.ErrorIs(t, err, apperrors.ErrQuoteNotPaid)
	assert.Equal(t, int32(0), atomic.LoadInt32(&issuer.minted))

	state.Store(QuotePaid)
	proofs, err := c.MintFromPaidInvoice(ctx, srv.URL, "q1", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), core.SumProofs(proofs))

	state.Store(QuoteIssued)
	_, err = c.MintFromPaidInvoice(ctx, srv.URL, "q1", 100)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, apperrors.ErrQuoteNotPaid))
}

func TestClient_CreateInvoiceRejectsZero(t *testing.T) {
	c := NewClient(&fakeIssuer{}, time.Second, &MockLogger{})
	_, err := c.CreateInvoice(context.Background(), "http://unused", 0)
	assert.Error(t, err)
}

func TestClient_GetKeysets(t *testing.T) {
	var state atomic.Value
	state.Store(QuoteUnpaid)
	srv := newMintServer(t, &state)
	defer srv.Close()

	c := NewClient(&fakeIssuer{}, time.Second, &MockLogger{})
	keysets, err := c.GetKeysets(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, keysets, 2)
	require.NotNil(t, keysets[0].InputFeePPK)
	assert.Equal(t, int64(100), *keysets[0].InputFeePPK)
	assert.Nil(t, keysets[1].InputFeePPK)
}

func TestClient_SendToken(t *testing.T) {
	issuer := &fakeIssuer{change: []core.Proof{{Amount: 1, Secret: "chg"}}}
	c := NewClient(issuer, time.Second, &MockLogger{})
	ctx := context.Background()

	_, err := c.SendToken(ctx, "m", 5)
	assert.Error(t, err, "no ledger attached")

	ledger := &fakeLedger{selected: []core.Proof{{Amount: 4, Secret: "a"}, {Amount: 2, Secret: "b"}}}
	c.UseLedger(ledger)

	token, err := c.SendToken(ctx, "m", 5)
	require.NoError(t, err)
	assert.Equal(t, "cashuBtoken", token)
	assert.Equal(t, []string{"a", "b"}, ledger.removed)
	assert.Equal(t, "chg", ledger.added[0].Secret)
}

func TestClient_SendTokenIssuerFailureKeepsProofs(t *testing.T) {
	issuer := &fakeIssuer{sendErr: errors.New("mint offline")}
	c := NewClient(issuer, time.Second, &MockLogger{})
	ledger := &fakeLedger{selected: []core.Proof{{Amount: 8, Secret: "a"}}}
	c.UseLedger(ledger)

	_, err := c.SendToken(context.Background(), "m", 5)
	assert.Error(t, err)
	assert.Empty(t, ledger.removed)
}

func TestBridgeIssuer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer bridge-secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/mint":
			var req bridgeMintRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			_ = json.NewEncoder(w).Encode(bridgeMintResponse{Proofs: []core.Proof{{Amount: req.Amount, Secret: req.Quote}}})
		case "/v1/send":
			_ = json.NewEncoder(w).Encode(bridgeSendResponse{Token: "cashuBxyz"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	b := NewBridgeIssuer(srv.URL, "bridge-secret", time.Second)
	ctx := context.Background()

	proofs, err := b.Mint(ctx, "m", "q9", 21)
	require.NoError(t, err)
	assert.Equal(t, int64(21), core.SumProofs(proofs))

	token, change, err := b.Send(ctx, "m", 5, nil)
	require.NoError(t, err)
	assert.Equal(t, "cashuBxyz", token)
	assert.Empty(t, change)
}

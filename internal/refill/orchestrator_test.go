package refill

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"walletd/internal/core"
	"walletd/internal/mock"
	"walletd/internal/payment"
	apperrors "walletd/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMint = "https://mint.example"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeLedger struct {
	mu       sync.Mutex
	recorded []core.PendingQuote
	runs     int
}

func (l *fakeLedger) Record(ctx context.Context, q core.PendingQuote) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recorded = append(l.recorded, q)
	return nil
}

func (l *fakeLedger) RunOnce(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs++
	return 0, nil
}

func (l *fakeLedger) Recorded() []core.PendingQuote {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]core.PendingQuote(nil), l.recorded...)
}

type harness struct {
	clock     *fakeClock
	settings  *mock.MockSettingsStore
	creds     *mock.MockCredentialSource
	wallet    *mock.MockWallet
	provider  *mock.MockPaymentProvider
	connector *mock.MockWalletConnector
	mint      *mock.MockMintClient
	topup     *mock.MockTopupClient
	notifier  *mock.MockNotifier
	ledger    *fakeLedger
	orch      *Orchestrator
}

func newHarness(t *testing.T, balance int64) *harness {
	t.Helper()
	h := &harness{
		clock:    &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		settings: mock.NewMockSettingsStore(),
		creds:    mock.NewMockCredentialSource(),
		wallet:   mock.NewMockWallet(testMint, balance),
		provider: &mock.MockPaymentProvider{Preimage: "deadbeef"},
		mint:     &mock.MockMintClient{Token: "cashuAtoken"},
		topup:    &mock.MockTopupClient{},
		notifier: &mock.MockNotifier{},
		ledger:   &fakeLedger{},
	}
	h.connector = mock.NewMockWalletConnector(h.provider, true)
	payer := payment.NewExecutor(h.connector, h.mint,
		payment.Config{PollAttempts: 2, PollInterval: time.Millisecond}, &mock.MockLogger{})

	h.orch = NewOrchestrator(Deps{
		Settings:    h.settings,
		Credentials: h.creds,
		Wallet:      h.wallet,
		Connector:   h.connector,
		Payer:       payer,
		Mint:        h.mint,
		Topup:       h.topup,
		Notifier:    h.notifier,
		Quotes:      h.ledger,
	}, Options{Clock: h.clock.Now}, &mock.MockLogger{})
	t.Cleanup(func() { _ = h.orch.Stop() })
	return h
}

func (h *harness) enableRefill(t *testing.T, last *time.Time) {
	t.Helper()
	require.NoError(t, SaveRefillPolicy(context.Background(), h.settings, RefillPolicy{
		Enabled: true, ThresholdSats: 100, AmountSats: 1000, LastRefillAt: last,
	}))
}

func (h *harness) enableTopup(t *testing.T, amount int64) {
	t.Helper()
	require.NoError(t, SaveTopupPolicy(context.Background(), h.settings, TopupPolicy{
		Enabled: true, APIKeyID: "key-1", ThresholdMsats: 10000, AmountSats: amount,
	}))
}

func (h *harness) refillPolicy(t *testing.T) RefillPolicy {
	t.Helper()
	p, err := LoadRefillPolicy(context.Background(), h.settings)
	require.NoError(t, err)
	return p
}

func proofsOf(amounts ...int64) []core.Proof {
	out := make([]core.Proof, len(amounts))
	for i, a := range amounts {
		out[i] = core.Proof{Amount: a, KeysetID: "ks", Secret: string(rune('a' + i))}
	}
	return out
}

func TestCheck_StoresDefaultPolicies(t *testing.T) {
	h := newHarness(t, 0)

	d := h.orch.Check(context.Background(), ChannelNWC)
	assert.False(t, d.Execute)
	assert.Equal(t, "disabled", d.Reason)

	var stored RefillPolicy
	found, err := h.settings.GetSetting(context.Background(), RefillSettingsKey, &stored)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, DefaultRefillPolicy(), stored)
}

func TestNWC_RefillsBelowThreshold(t *testing.T) {
	h := newHarness(t, 50)
	h.enableRefill(t, nil)
	h.mint.MintResults = [][]core.Proof{proofsOf(512, 256, 128, 64, 32, 8)}

	d, err := h.orch.TriggerNow(context.Background(), ChannelNWC)
	require.NoError(t, err)
	require.True(t, d.Execute)
	h.orch.waitExecutions()

	assert.Equal(t, int64(1050), h.wallet.Balance())
	p := h.refillPolicy(t)
	require.NotNil(t, p.LastRefillAt)
	assert.True(t, p.LastRefillAt.Equal(h.clock.Now()))

	sent := h.notifier.Sent()
	require.NotEmpty(t, sent)
	assert.Equal(t, core.NotifyInfo, sent[0].Level)
	assert.Equal(t, core.NotifySuccess, sent[len(sent)-1].Level)
}

func TestNWC_SingleFlight(t *testing.T) {
	h := newHarness(t, 0)
	h.enableRefill(t, nil)
	h.provider.Gate = make(chan struct{})
	h.mint.MintResults = [][]core.Proof{proofsOf(1000)}

	first, err := h.orch.TriggerNow(context.Background(), ChannelNWC)
	require.NoError(t, err)
	require.True(t, first.Execute)

	second, err := h.orch.TriggerNow(context.Background(), ChannelNWC)
	require.NoError(t, err)
	assert.False(t, second.Execute)
	assert.Equal(t, "execution in flight", second.Reason)

	status := h.orch.Status()
	assert.Equal(t, StateExecuting, status[0].State)

	close(h.provider.Gate)
	h.orch.waitExecutions()

	assert.Len(t, h.provider.Payments(), 1)
	assert.Equal(t, 1, h.mint.InvoiceCalls())
	assert.Equal(t, StateIdle, h.orch.Status()[0].State)
}

func TestNWC_Cooldown(t *testing.T) {
	h := newHarness(t, 0)
	last := h.clock.Now()
	h.enableRefill(t, &last)
	h.mint.MintResults = [][]core.Proof{proofsOf(1000)}

	h.clock.Advance(4 * time.Minute)
	d, _ := h.orch.TriggerNow(context.Background(), ChannelNWC)
	assert.False(t, d.Execute)
	assert.Equal(t, "cooldown", d.Reason)

	st := h.orch.Status()[0]
	assert.Equal(t, time.Minute, st.CooldownRemaining)

	h.clock.Advance(2 * time.Minute)
	d, _ = h.orch.TriggerNow(context.Background(), ChannelNWC)
	assert.True(t, d.Execute)
	h.orch.waitExecutions()
	assert.Equal(t, int64(1000), h.wallet.Balance())
}

func TestNWC_SkipReasons(t *testing.T) {
	t.Run("balance at threshold", func(t *testing.T) {
		h := newHarness(t, 100)
		h.enableRefill(t, nil)
		d, _ := h.orch.TriggerNow(context.Background(), ChannelNWC)
		assert.Equal(t, "balance above threshold", d.Reason)
	})
	t.Run("not connected", func(t *testing.T) {
		h := newHarness(t, 0)
		h.enableRefill(t, nil)
		h.connector.SetConnected(false)
		d, _ := h.orch.TriggerNow(context.Background(), ChannelNWC)
		assert.Equal(t, "wallet not connected", d.Reason)
		assert.Equal(t, 0, h.mint.InvoiceCalls())
	})
	t.Run("no active mint", func(t *testing.T) {
		h := newHarness(t, 0)
		h.enableRefill(t, nil)
		h.wallet.Mint = ""
		d, _ := h.orch.TriggerNow(context.Background(), ChannelNWC)
		assert.Equal(t, "no active mint", d.Reason)
	})
}

func TestNWC_FailureKeepsTimestamp(t *testing.T) {
	h := newHarness(t, 0)
	h.enableRefill(t, nil)
	h.provider.PayErr = errors.New("insufficient funds")

	d, _ := h.orch.TriggerNow(context.Background(), ChannelNWC)
	require.True(t, d.Execute)
	h.orch.waitExecutions()

	assert.Nil(t, h.refillPolicy(t).LastRefillAt)
	sent := h.notifier.Sent()
	require.NotEmpty(t, sent)
	last := sent[len(sent)-1]
	assert.Equal(t, core.NotifyError, last.Level)
	assert.Contains(t, last.Message, "insufficient funds")

	// A failed attempt does not start a cooldown.
	d, _ = h.orch.TriggerNow(context.Background(), ChannelNWC)
	assert.True(t, d.Execute)
	h.orch.waitExecutions()
}

func TestNWC_SettledWithoutProofsRecordsQuote(t *testing.T) {
	h := newHarness(t, 0)
	h.enableRefill(t, nil)

	d, _ := h.orch.TriggerNow(context.Background(), ChannelNWC)
	require.True(t, d.Execute)
	h.orch.waitExecutions()

	recorded := h.ledger.Recorded()
	require.Len(t, recorded, 1)
	assert.Equal(t, "quote-1", recorded[0].QuoteID)
	assert.Equal(t, int64(1000), recorded[0].AmountSats)
	assert.Empty(t, h.wallet.Added())
	assert.NotNil(t, h.refillPolicy(t).LastRefillAt, "a settled payment is never retried")
}

func TestNWC_CooldownSurvivesFailedTimestampWrite(t *testing.T) {
	h := newHarness(t, 0)
	h.enableRefill(t, nil)
	h.mint.MintResults = [][]core.Proof{proofsOf(8, 2)}
	h.settings.FailWrites(errors.New("database is locked"))

	d, err := h.orch.TriggerNow(context.Background(), ChannelNWC)
	require.NoError(t, err)
	require.True(t, d.Execute)
	h.orch.waitExecutions()
	require.Equal(t, int64(10), h.wallet.Balance())
	require.Nil(t, h.refillPolicy(t).LastRefillAt)

	h.clock.Advance(6 * time.Second)
	d = h.orch.Check(context.Background(), ChannelNWC)
	assert.False(t, d.Execute)
	assert.Equal(t, "cooldown", d.Reason)
	assert.Len(t, h.provider.Payments(), 1)
	assert.Equal(t, DefaultCooldown-6*time.Second, h.orch.Status()[0].CooldownRemaining)

	// A stale stored stamp does not shorten the cooldown once writes recover.
	h.settings.FailWrites(nil)
	stale := h.clock.Now().Add(-time.Hour)
	h.enableRefill(t, &stale)
	h.clock.Advance(time.Minute)
	d = h.orch.Check(context.Background(), ChannelNWC)
	assert.Equal(t, "cooldown", d.Reason)
	assert.Len(t, h.provider.Payments(), 1)
}

func TestCheck_SlowSettingsDoNotBlockStatus(t *testing.T) {
	h := newHarness(t, 500)
	h.enableRefill(t, nil)
	release := h.settings.HoldReads()
	defer release()

	done := make(chan Decision, 1)
	go func() {
		d, _ := h.orch.TriggerNow(context.Background(), ChannelNWC)
		done <- d
	}()

	require.Eventually(t, func() bool {
		return h.orch.Status()[0].State == StateChecking
	}, time.Second, time.Millisecond)

	d, err := h.orch.TriggerNow(context.Background(), ChannelNWC)
	require.NoError(t, err)
	assert.Equal(t, "check in flight", d.Reason)

	release()
	select {
	case d := <-done:
		assert.Equal(t, "balance above threshold", d.Reason)
	case <-time.After(time.Second):
		t.Fatal("check did not finish after settings were released")
	}
	assert.Equal(t, StateIdle, h.orch.Status()[0].State)
}

func TestCheck_Throttled(t *testing.T) {
	h := newHarness(t, 500)
	h.enableRefill(t, nil)

	d := h.orch.Check(context.Background(), ChannelNWC)
	assert.Equal(t, "balance above threshold", d.Reason)

	d = h.orch.Check(context.Background(), ChannelNWC)
	assert.Equal(t, "throttled", d.Reason)

	// Channels are throttled independently.
	d = h.orch.Check(context.Background(), ChannelAPI)
	assert.NotEqual(t, "throttled", d.Reason)

	h.clock.Advance(DefaultCheckInterval + time.Second)
	d = h.orch.Check(context.Background(), ChannelNWC)
	assert.Equal(t, "balance above threshold", d.Reason)
}

func TestAPI_SkipsWhenSourceBalanceShort(t *testing.T) {
	h := newHarness(t, 80)
	h.enableTopup(t, 100)
	h.creds.Set(core.Credential{ID: "key-1", Key: "sk", BalanceMsats: 0, SyncedAt: h.clock.Now()})

	d, _ := h.orch.TriggerNow(context.Background(), ChannelAPI)
	assert.False(t, d.Execute)
	assert.Equal(t, "insufficient wallet balance", d.Reason)
	assert.Empty(t, h.mint.TokenCalls())
	assert.Empty(t, h.topup.Tokens())
}

func TestAPI_TopsUpCredential(t *testing.T) {
	h := newHarness(t, 500)
	h.enableTopup(t, 100)
	h.creds.Set(core.Credential{ID: "key-1", Key: "sk", BalanceMsats: 9999, SyncedAt: h.clock.Now()})

	d, _ := h.orch.TriggerNow(context.Background(), ChannelAPI)
	require.True(t, d.Execute)
	h.orch.waitExecutions()

	assert.Equal(t, []int64{100}, h.mint.TokenCalls())
	assert.Equal(t, []string{"cashuAtoken"}, h.topup.Tokens())

	p, err := LoadTopupPolicy(context.Background(), h.settings)
	require.NoError(t, err)
	require.NotNil(t, p.LastTopupAt)

	d, _ = h.orch.TriggerNow(context.Background(), ChannelAPI)
	assert.Equal(t, "cooldown", d.Reason)
}

func TestAPI_SkipReasons(t *testing.T) {
	t.Run("credential above threshold", func(t *testing.T) {
		h := newHarness(t, 500)
		h.enableTopup(t, 100)
		h.creds.Set(core.Credential{ID: "key-1", BalanceMsats: 10000, SyncedAt: h.clock.Now()})
		d, _ := h.orch.TriggerNow(context.Background(), ChannelAPI)
		assert.Equal(t, "credential above threshold", d.Reason)
	})
	t.Run("invalid credential", func(t *testing.T) {
		h := newHarness(t, 500)
		h.enableTopup(t, 100)
		h.creds.Set(core.Credential{ID: "key-1", Invalid: true})
		d, _ := h.orch.TriggerNow(context.Background(), ChannelAPI)
		assert.Equal(t, "credential not found", d.Reason)
	})
	t.Run("credential never synced", func(t *testing.T) {
		h := newHarness(t, 500)
		h.enableTopup(t, 100)
		h.creds.Set(core.Credential{ID: "key-1", Key: "sk"})
		d, _ := h.orch.TriggerNow(context.Background(), ChannelAPI)
		assert.False(t, d.Execute)
		assert.Equal(t, "credential not synced", d.Reason)
		assert.Empty(t, h.mint.TokenCalls())
	})
	t.Run("no credential configured", func(t *testing.T) {
		h := newHarness(t, 500)
		require.NoError(t, SaveTopupPolicy(context.Background(), h.settings, TopupPolicy{
			Enabled: true, ThresholdMsats: 10000, AmountSats: 100,
		}))
		d, _ := h.orch.TriggerNow(context.Background(), ChannelAPI)
		assert.Equal(t, "no credential configured", d.Reason)
	})
}

func TestAPI_RejectedTopupKeepsTimestamp(t *testing.T) {
	h := newHarness(t, 500)
	h.enableTopup(t, 100)
	h.creds.Set(core.Credential{ID: "key-1", Key: "sk", SyncedAt: h.clock.Now()})
	h.topup.Err = errors.New("top-up rejected: invalid token")

	d, _ := h.orch.TriggerNow(context.Background(), ChannelAPI)
	require.True(t, d.Execute)
	h.orch.waitExecutions()

	p, err := LoadTopupPolicy(context.Background(), h.settings)
	require.NoError(t, err)
	assert.Nil(t, p.LastTopupAt)
	sent := h.notifier.Sent()
	assert.Equal(t, core.NotifyError, sent[len(sent)-1].Level)
}

func TestAPI_CooldownSurvivesFailedTimestampWrite(t *testing.T) {
	h := newHarness(t, 500)
	h.enableTopup(t, 100)
	h.creds.Set(core.Credential{ID: "key-1", Key: "sk", SyncedAt: h.clock.Now()})
	h.settings.FailWrites(errors.New("database is locked"))

	d, _ := h.orch.TriggerNow(context.Background(), ChannelAPI)
	require.True(t, d.Execute)
	h.orch.waitExecutions()

	h.clock.Advance(6 * time.Second)
	d = h.orch.Check(context.Background(), ChannelAPI)
	assert.Equal(t, "cooldown", d.Reason)
	assert.Len(t, h.topup.Tokens(), 1)
}

func TestTriggerNow_UnknownChannel(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.orch.TriggerNow(context.Background(), Channel("sms"))
	assert.ErrorIs(t, err, apperrors.ErrUnknownChannel)
}

func TestThrottle(t *testing.T) {
	th := NewThrottle(5 * time.Second)
	now := time.Now()
	assert.True(t, th.Allow(now))
	assert.False(t, th.Allow(now.Add(time.Second)))
	assert.True(t, th.Allow(now.Add(6*time.Second)))
}

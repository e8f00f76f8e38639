package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricRefillAttemptsTotal  = "walletd_refill_attempts_total"
	MetricRefillResultsTotal   = "walletd_refill_results_total"
	MetricMintPollAttempts     = "walletd_mint_poll_attempts"
	MetricFlushTotal           = "walletd_flush_total"
	MetricFlushErrorsTotal     = "walletd_flush_errors_total"
	MetricFlushLatency         = "walletd_flush_latency_ms"
	MetricWalletBalance        = "walletd_wallet_balance_sats"
	MetricCredentialBalance    = "walletd_credential_balance_msats"
	MetricChannelExecuting     = "walletd_channel_executing"
	MetricPendingQuotes        = "walletd_pending_quotes"
	MetricNotificationsDropped = "walletd_notifications_dropped_total"
)

// MetricsHolder holds initialized instruments. Every helper is safe to call
// before InitMetrics; unset instruments are skipped.
type MetricsHolder struct {
	RefillAttemptsTotal  metric.Int64Counter
	RefillResultsTotal   metric.Int64Counter
	MintPollAttempts     metric.Int64Histogram
	FlushTotal           metric.Int64Counter
	FlushErrorsTotal     metric.Int64Counter
	FlushLatency         metric.Float64Histogram
	NotificationsDropped metric.Int64Counter
	WalletBalance        metric.Int64ObservableGauge
	CredentialBalance    metric.Int64ObservableGauge
	ChannelExecuting     metric.Int64ObservableGauge
	PendingQuotes        metric.Int64ObservableGauge

	mu                sync.RWMutex
	walletBalances    map[string]int64
	credentialBalance map[string]int64
	executing         map[string]int64
	pendingQuotes     int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

func newMetricsHolder() *MetricsHolder {
	return &MetricsHolder{
		walletBalances:    make(map[string]int64),
		credentialBalance: make(map[string]int64),
		executing:         make(map[string]int64),
	}
}

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = newMetricsHolder()
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.RefillAttemptsTotal, err = meter.Int64Counter(MetricRefillAttemptsTotal, metric.WithDescription("Executing phases started per channel"))
	if err != nil {
		return err
	}

	m.RefillResultsTotal, err = meter.Int64Counter(MetricRefillResultsTotal, metric.WithDescription("Executing phase outcomes per channel"))
	if err != nil {
		return err
	}

	m.MintPollAttempts, err = meter.Int64Histogram(MetricMintPollAttempts, metric.WithDescription("Mint attempts needed to settle a payment"))
	if err != nil {
		return err
	}

	m.FlushTotal, err = meter.Int64Counter(MetricFlushTotal, metric.WithDescription("Conversation snapshot writes"))
	if err != nil {
		return err
	}

	m.FlushErrorsTotal, err = meter.Int64Counter(MetricFlushErrorsTotal, metric.WithDescription("Failed conversation snapshot writes"))
	if err != nil {
		return err
	}

	m.FlushLatency, err = meter.Float64Histogram(MetricFlushLatency, metric.WithDescription("Conversation snapshot write latency"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.NotificationsDropped, err = meter.Int64Counter(MetricNotificationsDropped, metric.WithDescription("Notifications dropped because the dispatch pool was full"))
	if err != nil {
		return err
	}

	m.WalletBalance, err = meter.Int64ObservableGauge(MetricWalletBalance, metric.WithDescription("Local wallet balance per mint"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for mint, val := range m.walletBalances {
				obs.Observe(val, metric.WithAttributes(attribute.String("mint", mint)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.CredentialBalance, err = meter.Int64ObservableGauge(MetricCredentialBalance, metric.WithDescription("Synced API credential balance"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for id, val := range m.credentialBalance {
				obs.Observe(val, metric.WithAttributes(attribute.String("credential", id)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.ChannelExecuting, err = meter.Int64ObservableGauge(MetricChannelExecuting, metric.WithDescription("Executing state per channel (1=executing)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for ch, val := range m.executing {
				obs.Observe(val, metric.WithAttributes(attribute.String("channel", ch)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PendingQuotes, err = meter.Int64ObservableGauge(MetricPendingQuotes, metric.WithDescription("Settled quotes awaiting proofs"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.pendingQuotes)
			return nil
		}))
	return err
}

func (m *MetricsHolder) RecordRefillAttempt(ctx context.Context, channel string) {
	if m.RefillAttemptsTotal == nil {
		return
	}
	m.RefillAttemptsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
}

func (m *MetricsHolder) RecordRefillResult(ctx context.Context, channel, outcome string) {
	if m.RefillResultsTotal == nil {
		return
	}
	m.RefillResultsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("outcome", outcome),
	))
}

func (m *MetricsHolder) RecordPollAttempts(ctx context.Context, attempts int) {
	if m.MintPollAttempts == nil {
		return
	}
	m.MintPollAttempts.Record(ctx, int64(attempts))
}

func (m *MetricsHolder) RecordFlush(ctx context.Context, took time.Duration, err error) {
	if m.FlushTotal == nil {
		return
	}
	m.FlushTotal.Add(ctx, 1)
	m.FlushLatency.Record(ctx, float64(took.Microseconds())/1000.0)
	if err != nil {
		m.FlushErrorsTotal.Add(ctx, 1)
	}
}

func (m *MetricsHolder) RecordNotificationDropped(ctx context.Context) {
	if m.NotificationsDropped == nil {
		return
	}
	m.NotificationsDropped.Add(ctx, 1)
}

// Helpers to update observable state

func (m *MetricsHolder) SetWalletBalance(mint string, sats int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.walletBalances[mint] = sats
}

func (m *MetricsHolder) SetCredentialBalance(id string, msats int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentialBalance[id] = msats
}

func (m *MetricsHolder) SetExecuting(channel string, executing bool) {
	val := int64(0)
	if executing {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executing[channel] = val
}

func (m *MetricsHolder) SetPendingQuotes(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingQuotes = int64(n)
}

func (m *MetricsHolder) GetWalletBalances() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64, len(m.walletBalances))
	for k, v := range m.walletBalances {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetExecuting() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64, len(m.executing))
	for k, v := range m.executing {
		res[k] = v
	}
	return res
}

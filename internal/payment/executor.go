// Package payment pays mint invoices from the connected remote wallet and
// reconciles the result into proofs.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"walletd/internal/core"
	apperrors "walletd/pkg/errors"
	"walletd/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

const (
	DefaultPollAttempts = 15
	DefaultPollInterval = 2 * time.Second
)

// Config bounds the settlement poll. The whole poll is capped at
// PollAttempts+1 intervals and each mint call at AttemptTimeout, which
// defaults to PollInterval.
type Config struct {
	PollAttempts   int
	PollInterval   time.Duration
	AttemptTimeout time.Duration
}

// Callbacks observe a payment run. They cannot abort it; panics are recovered.
type Callbacks struct {
	OnInvoiceCreated func(inv core.Invoice)
	OnPaymentSuccess func(proofs []core.Proof, amountSats int64)
	OnPaymentError   func(message string)
}

// Executor runs invoice → remote payment → settlement
type Executor struct {
	connector core.IWalletConnector
	mint      core.IMintClient
	cfg       Config
	logger    core.ILogger
}

func NewExecutor(connector core.IWalletConnector, mint core.IMintClient, cfg Config, logger core.ILogger) *Executor {
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = DefaultPollAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = cfg.PollInterval
	}
	return &Executor{
		connector: connector,
		mint:      mint,
		cfg:       cfg,
		logger:    logger.WithField("component", "payment_executor"),
	}
}

// PayWithNWC funds the local wallet at mintURL with amountSats paid from the
// remote wallet. It never returns an error or panics; failures are reported
// in the result and through OnPaymentError.
func (e *Executor) PayWithNWC(ctx context.Context, mintURL string, amountSats int64, cb Callbacks) (result core.PaymentResult) {
	if !e.connector.IsConnected() {
		return core.PaymentResult{ErrorMessage: apperrors.ErrWalletNotConnected.Error()}
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Payment run panicked", "panic", r)
			result = e.fail(cb, result.QuoteID, fmt.Errorf("unexpected failure: %v", r))
		}
	}()

	provider, err := e.connector.Provider(ctx)
	if err != nil {
		return e.fail(cb, "", err)
	}
	if err := e.checkRemoteBalance(ctx, provider, amountSats); err != nil {
		return e.fail(cb, "", err)
	}

	inv, err := e.mint.CreateInvoice(ctx, mintURL, amountSats)
	if err != nil {
		return e.fail(cb, "", fmt.Errorf("failed to create invoice: %w", err))
	}
	result.QuoteID = inv.QuoteID
	e.logger.Info("Invoice created", "mint", mintURL, "quote", inv.QuoteID, "amount", amountSats)
	safeCall(e.logger, "OnInvoiceCreated", func() {
		if cb.OnInvoiceCreated != nil {
			cb.OnInvoiceCreated(*inv)
		}
	})

	paid, err := provider.SendPayment(ctx, inv.PaymentRequest)
	if err != nil {
		return e.fail(cb, inv.QuoteID, fmt.Errorf("remote wallet rejected payment: %w", err))
	}

	var proofs []core.Proof
	if paid != nil && paid.Preimage != "" {
		// Settled: mint exactly once and never pay again, even without proofs.
		proofs = e.AttemptMintFromQuote(ctx, mintURL, inv.QuoteID, amountSats)
		telemetry.GetGlobalMetrics().RecordPollAttempts(ctx, 1)
	} else {
		proofs, err = e.pollForProofs(ctx, mintURL, inv.QuoteID, amountSats)
		if err != nil {
			return e.fail(cb, inv.QuoteID, err)
		}
	}

	if len(proofs) > 0 {
		safeCall(e.logger, "OnPaymentSuccess", func() {
			if cb.OnPaymentSuccess != nil {
				cb.OnPaymentSuccess(proofs, amountSats)
			}
		})
	} else {
		e.logger.Warn("Payment settled but mint issued no proofs", "mint", mintURL, "quote", inv.QuoteID)
	}

	return core.PaymentResult{Success: true, Proofs: proofs, QuoteID: inv.QuoteID}
}

// checkRemoteBalance refuses a payment the remote wallet says it cannot cover.
// Wallets that withhold get_balance or report an unknown unit are paid
// optimistically.
func (e *Executor) checkRemoteBalance(ctx context.Context, provider core.IPaymentProvider, amountSats int64) error {
	reading, err := provider.GetBalance(ctx)
	if err != nil {
		e.logger.Debug("Remote balance unavailable", "error", err)
		return nil
	}
	sats, err := reading.Sats()
	if err != nil {
		e.logger.Warn("Remote balance unreadable", "error", err)
		return nil
	}
	if sats < amountSats {
		return fmt.Errorf("%w: remote wallet holds %s, refill needs %s",
			apperrors.ErrInsufficientBalance, core.FormatSats(sats), core.FormatSats(amountSats))
	}
	return nil
}

// pollForProofs retries the mint step until it yields proofs or the budget
// runs out. The budget is both an attempt count and a wall-clock deadline so a
// stalled mint cannot stretch the poll. Individual misses are only
// debug-logged.
func (e *Executor) pollForProofs(ctx context.Context, mintURL, quoteID string, amountSats int64) ([]core.Proof, error) {
	budget := time.Duration(e.cfg.PollAttempts+1) * e.cfg.PollInterval
	pollCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	policy := retrypolicy.NewBuilder[[]core.Proof]().
		HandleIf(func(proofs []core.Proof, err error) bool {
			return err != nil || len(proofs) == 0
		}).
		WithMaxAttempts(e.cfg.PollAttempts).
		WithDelay(e.cfg.PollInterval).
		ReturnLastFailure().
		Build()

	attempts := 0
	proofs, _ := failsafe.With[[]core.Proof](policy).WithContext(pollCtx).
		GetWithExecution(func(exec failsafe.Execution[[]core.Proof]) ([]core.Proof, error) {
			attempts = exec.Attempts()
			attemptCtx, cancelAttempt := context.WithTimeout(pollCtx, e.cfg.AttemptTimeout)
			defer cancelAttempt()
			return e.AttemptMintFromQuote(attemptCtx, mintURL, quoteID, amountSats), nil
		})
	telemetry.GetGlobalMetrics().RecordPollAttempts(ctx, attempts)

	// Only the caller's context is an interruption; the poll deadline is a timeout.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(proofs) == 0 {
		e.logger.Warn("Payment not settled within poll budget", "quote", quoteID, "attempts", attempts, "budget", budget)
		return nil, apperrors.ErrPaymentTimeout
	}
	return proofs, nil
}

// AttemptMintFromQuote performs one mint step. Every failure, including an
// unpaid quote, yields an empty list.
func (e *Executor) AttemptMintFromQuote(ctx context.Context, mintURL, quoteID string, amountSats int64) []core.Proof {
	proofs, err := e.mint.MintFromPaidInvoice(ctx, mintURL, quoteID, amountSats)
	if err != nil {
		e.logger.Debug("Mint attempt did not yield proofs", "quote", quoteID, "error", err)
		return nil
	}
	return proofs
}

func (e *Executor) fail(cb Callbacks, quoteID string, err error) core.PaymentResult {
	msg := ClassifyError(err)
	e.logger.Error("NWC payment failed", "quote", quoteID, "error", err)
	safeCall(e.logger, "OnPaymentError", func() {
		if cb.OnPaymentError != nil {
			cb.OnPaymentError(msg)
		}
	})
	return core.PaymentResult{ErrorMessage: msg, QuoteID: quoteID}
}

// ClassifyError maps an executor failure to a user-facing message
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, apperrors.ErrWalletNotConnected):
		return apperrors.ErrWalletNotConnected.Error()
	case errors.Is(err, apperrors.ErrPaymentTimeout):
		return apperrors.ErrPaymentTimeout.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "payment interrupted before completion"
	}
	return err.Error()
}

func safeCall(logger core.ILogger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Payment callback panicked", "callback", name, "panic", r)
		}
	}()
	fn()
}

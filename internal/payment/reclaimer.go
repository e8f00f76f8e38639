package payment

import (
	"context"
	"fmt"

	"walletd/internal/core"
	"walletd/pkg/telemetry"
)

// Reclaimer retries minting for settled quotes that produced no proofs
type Reclaimer struct {
	executor *Executor
	quotes   core.IPendingQuoteStore
	wallet   core.IWallet
	logger   core.ILogger
}

func NewReclaimer(executor *Executor, quotes core.IPendingQuoteStore, wallet core.IWallet, logger core.ILogger) *Reclaimer {
	return &Reclaimer{
		executor: executor,
		quotes:   quotes,
		wallet:   wallet,
		logger:   logger.WithField("component", "quote_reclaimer"),
	}
}

// Record adds a settled quote to the ledger
func (r *Reclaimer) Record(ctx context.Context, q core.PendingQuote) error {
	if err := r.quotes.AddPendingQuote(ctx, q); err != nil {
		return fmt.Errorf("failed to record pending quote: %w", err)
	}
	r.refreshGauge(ctx)
	return nil
}

// RunOnce tries every pending quote once and returns how many were reclaimed
func (r *Reclaimer) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.quotes.ListPendingQuotes(ctx)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, q := range pending {
		proofs := r.executor.AttemptMintFromQuote(ctx, q.MintURL, q.QuoteID, q.AmountSats)
		if len(proofs) == 0 {
			continue
		}
		if err := r.wallet.AddProofs(ctx, q.MintURL, proofs); err != nil {
			r.logger.Error("Failed to store reclaimed proofs", "quote", q.QuoteID, "error", err)
			continue
		}
		if err := r.quotes.RemovePendingQuote(ctx, q.QuoteID); err != nil {
			r.logger.Error("Failed to clear reclaimed quote", "quote", q.QuoteID, "error", err)
			continue
		}
		reclaimed++
		r.logger.Info("Reclaimed proofs for settled quote", "quote", q.QuoteID, "amount", core.SumProofs(proofs))
	}

	telemetry.GetGlobalMetrics().SetPendingQuotes(len(pending) - reclaimed)
	return reclaimed, nil
}

func (r *Reclaimer) refreshGauge(ctx context.Context) {
	pending, err := r.quotes.ListPendingQuotes(ctx)
	if err == nil {
		telemetry.GetGlobalMetrics().SetPendingQuotes(len(pending))
	}
}

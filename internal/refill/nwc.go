package refill

import (
	"context"
	"time"

	"walletd/internal/core"
	"walletd/internal/payment"
	"walletd/pkg/telemetry"
)

// decideNWC runs without the channel lock. lastAction is the in-memory stamp
// of the last settled refill; the stored stamp is returned for bookkeeping.
func (o *Orchestrator) decideNWC(ctx context.Context, lastAction *time.Time, now time.Time) (Decision, *time.Time, func()) {
	policy, err := LoadRefillPolicy(ctx, o.deps.Settings)
	if err != nil {
		o.logger.Warn("Refill policy unavailable", "error", err)
		return Decision{Reason: "settings unavailable"}, nil, nil
	}
	stored := policy.LastRefillAt
	skip := func(reason string) (Decision, *time.Time, func()) {
		return Decision{Reason: reason}, stored, nil
	}

	if !policy.Enabled {
		return skip("disabled")
	}
	if o.inCooldown(stored, lastAction, now) {
		return skip("cooldown")
	}
	balance := o.deps.Wallet.Balance()
	if balance >= policy.ThresholdSats {
		return skip("balance above threshold")
	}
	if o.deps.Connector == nil || !o.deps.Connector.IsConnected() {
		return skip("wallet not connected")
	}
	mintURL := o.deps.Wallet.ActiveMint()
	if mintURL == "" {
		return skip("no active mint")
	}

	amount := policy.AmountSats
	o.logger.Info("Refill triggered", "balance", balance, "threshold", policy.ThresholdSats, "amount", amount)
	return Decision{Execute: true, Reason: "balance below threshold"}, stored, func() {
		o.executeNWC(mintURL, amount)
	}
}

func (o *Orchestrator) executeNWC(mintURL string, amount int64) {
	ctx := o.ctx
	ch := string(ChannelNWC)
	metrics := telemetry.GetGlobalMetrics()

	o.notify(ChannelNWC, core.NotifyInfo, "Refilling wallet", "Requesting "+core.FormatSats(amount)+" from your connected wallet")

	// The connection may have dropped since the check.
	if !o.deps.Connector.IsConnected() {
		o.notify(ChannelNWC, core.NotifyError, "Refill failed", "wallet not connected")
		metrics.RecordRefillResult(ctx, ch, "failure")
		return
	}

	res := o.deps.Payer.PayWithNWC(ctx, mintURL, amount, payment.Callbacks{
		OnInvoiceCreated: func(inv core.Invoice) {
			o.notify(ChannelNWC, core.NotifyProgress, "Paying invoice", "Waiting for your wallet to pay the mint invoice")
		},
	})

	if !res.Success {
		o.logger.Warn("Refill failed", "error", res.ErrorMessage)
		o.notify(ChannelNWC, core.NotifyError, "Refill failed", res.ErrorMessage)
		metrics.RecordRefillResult(ctx, ch, "failure")
		return
	}

	outcome := "success"
	if len(res.Proofs) > 0 {
		if err := o.deps.Wallet.AddProofs(ctx, mintURL, res.Proofs); err != nil {
			o.logger.Error("Failed to store refill proofs", "quote", res.QuoteID, "error", err)
		}
	} else {
		outcome = "settled_without_proofs"
		o.recordPendingQuote(ctx, mintURL, res.QuoteID, amount)
	}

	// A settled payment is never retried, with or without proofs.
	o.commitRefill(ctx)
	metrics.RecordRefillResult(ctx, ch, outcome)

	if outcome == "success" {
		o.notify(ChannelNWC, core.NotifySuccess, "Wallet refilled", "Added "+core.FormatSats(core.SumProofs(res.Proofs)))
	} else {
		o.notify(ChannelNWC, core.NotifyInfo, "Payment settled", "Proofs are not available yet and will be claimed automatically")
	}
}

func (o *Orchestrator) recordPendingQuote(ctx context.Context, mintURL, quoteID string, amount int64) {
	if o.deps.Quotes == nil || quoteID == "" {
		o.logger.Warn("Settled payment produced no proofs", "quote", quoteID)
		return
	}
	q := core.PendingQuote{QuoteID: quoteID, MintURL: mintURL, AmountSats: amount, CreatedAt: o.opts.Clock()}
	if err := o.deps.Quotes.Record(ctx, q); err != nil {
		o.logger.Error("Failed to record pending quote", "quote", quoteID, "error", err)
	}
}

// commitRefill starts the cooldown in memory, then stamps LastRefillAt on a
// freshly loaded policy so concurrent edits to other fields are kept. A
// failed write still leaves the in-memory cooldown in force.
func (o *Orchestrator) commitRefill(ctx context.Context) {
	now := o.opts.Clock()
	o.markAction(ChannelNWC, now)

	policy, err := LoadRefillPolicy(ctx, o.deps.Settings)
	if err != nil {
		o.logger.Error("Failed to reload refill policy", "error", err)
		return
	}
	policy.LastRefillAt = &now
	if err := o.deps.Settings.PutSetting(ctx, RefillSettingsKey, policy); err != nil {
		o.logger.Error("Failed to store refill timestamp", "error", err)
	}
}

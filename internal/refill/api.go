package refill

import (
	"context"
	"time"

	"walletd/internal/core"
	"walletd/pkg/telemetry"
)

// decideAPI runs without the channel lock; see decideNWC.
func (o *Orchestrator) decideAPI(ctx context.Context, lastAction *time.Time, now time.Time) (Decision, *time.Time, func()) {
	policy, err := LoadTopupPolicy(ctx, o.deps.Settings)
	if err != nil {
		o.logger.Warn("Top-up policy unavailable", "error", err)
		return Decision{Reason: "settings unavailable"}, nil, nil
	}
	stored := policy.LastTopupAt
	skip := func(reason string) (Decision, *time.Time, func()) {
		return Decision{Reason: reason}, stored, nil
	}

	if !policy.Enabled {
		return skip("disabled")
	}
	if o.inCooldown(stored, lastAction, now) {
		return skip("cooldown")
	}
	if policy.APIKeyID == "" {
		return skip("no credential configured")
	}

	cred, reason := o.findCredential(policy.APIKeyID)
	if reason != "" {
		return skip(reason)
	}
	if cred.BalanceMsats >= policy.ThresholdMsats {
		return skip("credential above threshold")
	}

	// Read the source balance now; the NWC channel may have changed it.
	mintURL := o.deps.Wallet.ActiveMint()
	if mintURL == "" {
		return skip("no active mint")
	}
	if source := o.deps.Wallet.MintBalance(mintURL); source < policy.AmountSats {
		return skip("insufficient wallet balance")
	}

	amount := policy.AmountSats
	o.logger.Info("Top-up triggered", "credential", cred.ID, "balance_msats", cred.BalanceMsats,
		"threshold_msats", policy.ThresholdMsats, "amount", amount)
	return Decision{Execute: true, Reason: "credential below threshold"}, stored, func() {
		o.executeAPI(cred, mintURL, amount)
	}
}

// findCredential returns a usable credential, or the reason there is none.
// Invalidated credentials are treated as absent. A credential whose balance
// has never been reported reads as zero and must not trigger a top-up.
func (o *Orchestrator) findCredential(id string) (core.Credential, string) {
	if o.deps.Credentials != nil {
		for _, c := range o.deps.Credentials.Credentials() {
			if c.ID != id || c.Invalid {
				continue
			}
			if c.SyncedAt.IsZero() {
				return core.Credential{}, "credential not synced"
			}
			return c, ""
		}
	}
	return core.Credential{}, "credential not found"
}

func (o *Orchestrator) executeAPI(cred core.Credential, mintURL string, amount int64) {
	ctx := o.ctx
	ch := string(ChannelAPI)
	metrics := telemetry.GetGlobalMetrics()

	o.notify(ChannelAPI, core.NotifyInfo, "Topping up API credit", "Sending "+core.FormatSats(amount)+" to "+cred.ID)

	token, err := o.deps.Mint.SendToken(ctx, mintURL, amount)
	if err != nil {
		o.logger.Warn("Top-up token creation failed", "credential", cred.ID, "error", err)
		o.notify(ChannelAPI, core.NotifyError, "Top-up failed", err.Error())
		metrics.RecordRefillResult(ctx, ch, "failure")
		return
	}

	o.notify(ChannelAPI, core.NotifyProgress, "Topping up API credit", "Submitting token")
	if err := o.deps.Topup.Topup(ctx, cred, token); err != nil {
		o.logger.Warn("Top-up rejected", "credential", cred.ID, "error", err)
		o.notify(ChannelAPI, core.NotifyError, "Top-up failed", err.Error())
		metrics.RecordRefillResult(ctx, ch, "failure")
		return
	}

	o.commitTopup(ctx)
	metrics.RecordRefillResult(ctx, ch, "success")
	o.notify(ChannelAPI, core.NotifySuccess, "API credit topped up", "Added "+core.FormatSats(amount)+" to "+cred.ID)
}

func (o *Orchestrator) commitTopup(ctx context.Context) {
	now := o.opts.Clock()
	o.markAction(ChannelAPI, now)

	policy, err := LoadTopupPolicy(ctx, o.deps.Settings)
	if err != nil {
		o.logger.Error("Failed to reload top-up policy", "error", err)
		return
	}
	policy.LastTopupAt = &now
	if err := o.deps.Settings.PutSetting(ctx, TopupSettingsKey, policy); err != nil {
		o.logger.Error("Failed to store top-up timestamp", "error", err)
	}
}

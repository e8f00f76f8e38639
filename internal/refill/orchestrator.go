// Package refill decides when to replenish balances and runs the replenishment.
//
// Two channels are evaluated independently. The NWC channel pays a mint
// invoice from the user's remote wallet when the local ecash balance runs low.
// The API channel sends local ecash to a metered API credential when that
// credential's balance runs low. Each channel has its own throttle,
// single-flight guard and cooldown.
package refill

import (
	"context"
	"fmt"
	"sync"
	"time"

	"walletd/internal/core"
	"walletd/internal/payment"
	apperrors "walletd/pkg/errors"
	"walletd/pkg/concurrency"
	"walletd/pkg/telemetry"
)

// Channel identifies a replenishment path
type Channel string

const (
	ChannelNWC Channel = "nwc"
	ChannelAPI Channel = "api"
)

// Channels lists every channel in evaluation order
var Channels = []Channel{ChannelNWC, ChannelAPI}

// State is the per-channel position in Idle → Checking → Executing → Idle
type State string

const (
	StateIdle      State = "idle"
	StateChecking  State = "checking"
	StateExecuting State = "executing"
)

const (
	DefaultCheckInterval = 5 * time.Second
	DefaultCooldown      = 5 * time.Minute
	DefaultTickInterval  = 30 * time.Second
)

// Decision is the outcome of one check
type Decision struct {
	Execute bool   `json:"execute"`
	Reason  string `json:"reason"`
}

// NWCPayer runs a remote-wallet payment into the local wallet
type NWCPayer interface {
	PayWithNWC(ctx context.Context, mintURL string, amountSats int64, cb payment.Callbacks) core.PaymentResult
}

// QuoteLedger tracks settled payments whose proofs are still outstanding
type QuoteLedger interface {
	Record(ctx context.Context, q core.PendingQuote) error
	RunOnce(ctx context.Context) (int, error)
}

// Deps are the collaborators the orchestrator reads and drives
type Deps struct {
	Settings    core.ISettingsStore
	Credentials core.ICredentialSource
	Wallet      core.IWallet
	Connector   core.IWalletConnector
	Payer       NWCPayer
	Mint        core.IMintClient
	Topup       core.ITopupClient
	Notifier    core.INotifier
	Quotes      QuoteLedger
	Pool        *concurrency.WorkerPool
}

// Options tunes timing. Zero values take the defaults.
type Options struct {
	CheckInterval time.Duration
	Cooldown      time.Duration
	TickInterval  time.Duration
	Clock         core.Clock
}

type channelState struct {
	mu           sync.Mutex
	throttle     *Throttle
	state        State
	checking     bool
	executing    bool
	lastDecision Decision
	lastCheckAt  time.Time
	lastActionAt *time.Time
}

// Orchestrator watches balances and dispatches replenishment
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger core.ILogger

	channels map[Channel]*channelState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	execWg sync.WaitGroup
}

func NewOrchestrator(deps Deps, opts Options, logger core.ILogger) *Orchestrator {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		deps:     deps,
		opts:     opts,
		logger:   logger.WithField("component", "refill_orchestrator"),
		channels: make(map[Channel]*channelState, len(Channels)),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, ch := range Channels {
		o.channels[ch] = &channelState{throttle: NewThrottle(opts.CheckInterval), state: StateIdle}
	}
	return o
}

// Start begins the periodic re-evaluation loop
func (o *Orchestrator) Start(ctx context.Context) error {
	o.logger.Info("Starting refill orchestrator", "tick", o.opts.TickInterval, "cooldown", o.opts.Cooldown)
	o.wg.Add(1)
	go o.runLoop()
	return nil
}

// Stop ends the loop and waits for in-flight executions
func (o *Orchestrator) Stop() error {
	o.logger.Info("Stopping refill orchestrator")
	o.cancel()
	o.wg.Wait()
	o.execWg.Wait()
	return nil
}

func (o *Orchestrator) runLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.tick()
		}
	}
}

func (o *Orchestrator) tick() {
	if o.deps.Quotes != nil {
		if n, err := o.deps.Quotes.RunOnce(o.ctx); err != nil {
			o.logger.Warn("Pending quote reclaim failed", "error", err)
		} else if n > 0 {
			o.logger.Info("Reclaimed pending quotes", "count", n)
		}
	}
	for _, ch := range Channels {
		o.Check(o.ctx, ch)
	}
}

// NotifyBalanceChanged re-evaluates both channels after a wallet balance change
func (o *Orchestrator) NotifyBalanceChanged() {
	for _, ch := range Channels {
		o.Check(o.ctx, ch)
	}
}

// NotifyCredentialsChanged re-evaluates the API channel after a credential sync
func (o *Orchestrator) NotifyCredentialsChanged() {
	o.Check(o.ctx, ChannelAPI)
}

// Check evaluates ch subject to the throttle and starts an execution when
// every precondition holds.
func (o *Orchestrator) Check(ctx context.Context, ch Channel) Decision {
	return o.check(ctx, ch, false)
}

// TriggerNow evaluates ch immediately, bypassing only the throttle
func (o *Orchestrator) TriggerNow(ctx context.Context, ch Channel) (Decision, error) {
	if _, ok := o.channels[ch]; !ok {
		return Decision{}, fmt.Errorf("%w: %q", apperrors.ErrUnknownChannel, ch)
	}
	return o.check(ctx, ch, true), nil
}

// check claims the channel under its lock, evaluates it with the lock
// released so slow settings reads never block Status, then records the
// outcome and dispatches under the lock again.
func (o *Orchestrator) check(ctx context.Context, ch Channel, bypassThrottle bool) Decision {
	cs := o.channels[ch]
	now := o.opts.Clock()

	cs.mu.Lock()
	if !bypassThrottle && !cs.throttle.Allow(now) {
		cs.mu.Unlock()
		return Decision{Reason: "throttled"}
	}
	cs.lastCheckAt = now
	if cs.executing {
		cs.lastDecision = Decision{Reason: "execution in flight"}
		cs.mu.Unlock()
		return cs.lastDecision
	}
	if cs.checking {
		cs.mu.Unlock()
		return Decision{Reason: "check in flight"}
	}
	cs.checking = true
	cs.state = StateChecking
	lastAction := cs.lastActionAt
	cs.mu.Unlock()

	var decision Decision
	var stored *time.Time
	var run func()
	switch ch {
	case ChannelNWC:
		decision, stored, run = o.decideNWC(ctx, lastAction, now)
	case ChannelAPI:
		decision, stored, run = o.decideAPI(ctx, lastAction, now)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.checking = false
	cs.lastActionAt = latest(cs.lastActionAt, stored)
	cs.lastDecision = decision

	if !decision.Execute {
		cs.state = StateIdle
		o.logger.Debug("No action", "channel", ch, "reason", decision.Reason)
		return decision
	}

	cs.executing = true
	cs.state = StateExecuting
	telemetry.GetGlobalMetrics().SetExecuting(string(ch), true)
	telemetry.GetGlobalMetrics().RecordRefillAttempt(ctx, string(ch))

	o.execWg.Add(1)
	task := func() {
		defer o.execWg.Done()
		defer o.finish(ch)
		run()
	}
	if err := o.submit(task); err != nil {
		o.logger.Error("Failed to dispatch execution", "channel", ch, "error", err)
		o.execWg.Done()
		cs.executing = false
		cs.state = StateIdle
		telemetry.GetGlobalMetrics().SetExecuting(string(ch), false)
		cs.lastDecision = Decision{Reason: "dispatch failed"}
		return cs.lastDecision
	}
	return decision
}

func (o *Orchestrator) submit(task func()) error {
	if o.deps.Pool == nil {
		go task()
		return nil
	}
	return o.deps.Pool.Submit(task)
}

// finish returns the channel to Idle. It runs on every exit path of an
// execution, including panics.
func (o *Orchestrator) finish(ch Channel) {
	if r := recover(); r != nil {
		o.logger.Error("Execution panicked", "channel", ch, "panic", r)
		telemetry.GetGlobalMetrics().RecordRefillResult(o.ctx, string(ch), "panic")
	}
	cs := o.channels[ch]
	cs.mu.Lock()
	cs.executing = false
	cs.state = StateIdle
	cs.mu.Unlock()
	telemetry.GetGlobalMetrics().SetExecuting(string(ch), false)
}

// inCooldown measures from the later of the stored and in-memory stamps. The
// in-memory one survives a failed settings write.
func (o *Orchestrator) inCooldown(stored, remembered *time.Time, now time.Time) bool {
	last := latest(stored, remembered)
	return last != nil && now.Sub(*last) < o.opts.Cooldown
}

// markAction records a completed action in memory before it is persisted
func (o *Orchestrator) markAction(ch Channel, at time.Time) {
	cs := o.channels[ch]
	cs.mu.Lock()
	cs.lastActionAt = latest(cs.lastActionAt, &at)
	cs.mu.Unlock()
}

func latest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil || !b.After(*a):
		return a
	default:
		return b
	}
}

func (o *Orchestrator) notify(ch Channel, level core.NotificationLevel, title, message string) {
	if o.deps.Notifier == nil {
		return
	}
	o.deps.Notifier.Notify(o.ctx, core.Notification{
		Level:   level,
		Channel: string(ch),
		Title:   title,
		Message: message,
	})
}

// waitExecutions blocks until no execution is running
func (o *Orchestrator) waitExecutions() {
	o.execWg.Wait()
}

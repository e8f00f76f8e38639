// Package wallet holds the local ecash proof set, keyed by mint.
package wallet

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"walletd/internal/core"
	"walletd/internal/fees"
	apperrors "walletd/pkg/errors"
	"walletd/pkg/telemetry"
)

// ProofStore persists proofs across restarts
type ProofStore interface {
	LoadProofs(ctx context.Context) (map[string][]core.Proof, error)
	InsertProofs(ctx context.Context, mintURL string, proofs []core.Proof) error
	DeleteProofs(ctx context.Context, secrets []string) error
}

// KeysetSource returns the keysets a mint currently advertises
type KeysetSource interface {
	GetKeysets(ctx context.Context, mintURL string) ([]core.Keyset, error)
}

// BalanceListener is called with the new total after every proof mutation
type BalanceListener func(total int64)

const defaultKeysetTTL = 10 * time.Minute

type cachedKeysets struct {
	keysets   []core.Keyset
	fetchedAt time.Time
}

// Wallet is the in-memory proof set, written through to a ProofStore
type Wallet struct {
	store     ProofStore
	keysets   KeysetSource
	logger    core.ILogger
	keysetTTL time.Duration

	mu         sync.RWMutex
	proofs     map[string][]core.Proof
	activeMint string
	cache      map[string]cachedKeysets
	listeners  []BalanceListener
}

// New creates a wallet bound to activeMint. Call Load to read stored proofs.
func New(store ProofStore, keysets KeysetSource, activeMint string, logger core.ILogger) *Wallet {
	return &Wallet{
		store:      store,
		keysets:    keysets,
		logger:     logger.WithField("component", "wallet"),
		keysetTTL:  defaultKeysetTTL,
		proofs:     make(map[string][]core.Proof),
		activeMint: activeMint,
		cache:      make(map[string]cachedKeysets),
	}
}

// Load replaces the in-memory proof set with the stored one
func (w *Wallet) Load(ctx context.Context) error {
	stored, err := w.store.LoadProofs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load proofs: %w", err)
	}

	w.mu.Lock()
	w.proofs = stored
	if w.proofs == nil {
		w.proofs = make(map[string][]core.Proof)
	}
	w.mu.Unlock()

	w.publish()
	w.logger.Info("Wallet loaded", "mints", len(stored), "balance", w.Balance())
	return nil
}

// OnBalanceChange registers a listener for balance changes
func (w *Wallet) OnBalanceChange(l BalanceListener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, l)
}

func (w *Wallet) Balance() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var total int64
	for _, ps := range w.proofs {
		total += core.SumProofs(ps)
	}
	return total
}

func (w *Wallet) MintBalance(mintURL string) int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return core.SumProofs(w.proofs[mintURL])
}

func (w *Wallet) ActiveMint() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.activeMint
}

func (w *Wallet) SetActiveMint(mintURL string) {
	w.mu.Lock()
	w.activeMint = mintURL
	w.mu.Unlock()
}

// AddProofs stores proofs first, then merges them into memory
func (w *Wallet) AddProofs(ctx context.Context, mintURL string, proofs []core.Proof) error {
	if len(proofs) == 0 {
		return nil
	}
	if mintURL == "" {
		return apperrors.ErrNoActiveMint
	}
	if err := w.store.InsertProofs(ctx, mintURL, proofs); err != nil {
		return err
	}

	w.mu.Lock()
	known := make(map[string]struct{}, len(w.proofs[mintURL]))
	for _, p := range w.proofs[mintURL] {
		known[p.Secret] = struct{}{}
	}
	for _, p := range proofs {
		if _, dup := known[p.Secret]; dup {
			continue
		}
		w.proofs[mintURL] = append(w.proofs[mintURL], p)
	}
	w.mu.Unlock()

	w.logger.Info("Proofs added", "mint", mintURL, "count", len(proofs), "amount", core.SumProofs(proofs))
	w.publish()
	return nil
}

// RemoveProofs drops spent proofs by secret
func (w *Wallet) RemoveProofs(ctx context.Context, mintURL string, secrets []string) error {
	if len(secrets) == 0 {
		return nil
	}
	if err := w.store.DeleteProofs(ctx, secrets); err != nil {
		return err
	}

	drop := make(map[string]struct{}, len(secrets))
	for _, s := range secrets {
		drop[s] = struct{}{}
	}

	w.mu.Lock()
	kept := w.proofs[mintURL][:0]
	for _, p := range w.proofs[mintURL] {
		if _, ok := drop[p.Secret]; !ok {
			kept = append(kept, p)
		}
	}
	emptied := len(kept) == 0
	if emptied {
		delete(w.proofs, mintURL)
	} else {
		w.proofs[mintURL] = kept
	}
	w.mu.Unlock()

	if emptied {
		telemetry.GetGlobalMetrics().SetWalletBalance(mintURL, 0)
	}
	w.publish()
	return nil
}

// SelectProofs picks proofs from mintURL, largest first, until they cover
// amount plus the input fee of the selection itself.
func (w *Wallet) SelectProofs(ctx context.Context, mintURL string, amount int64) ([]core.Proof, error) {
	keysets, err := w.activeKeysets(ctx, mintURL)
	if err != nil {
		return nil, err
	}

	w.mu.RLock()
	candidates := make([]core.Proof, len(w.proofs[mintURL]))
	copy(candidates, w.proofs[mintURL])
	w.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Amount > candidates[j].Amount
	})

	var selected []core.Proof
	var sum int64
	for _, p := range candidates {
		selected = append(selected, p)
		sum += p.Amount
		if sum >= amount+fees.CalculateFees(selected, keysets) {
			return selected, nil
		}
	}
	return nil, fmt.Errorf("%w: need %d sats at %s, have %d", apperrors.ErrInsufficientBalance, amount, mintURL, sum)
}

// EstimateSpendFee returns the input fee for spending amount from mintURL
func (w *Wallet) EstimateSpendFee(ctx context.Context, mintURL string, amount int64) (int64, error) {
	selected, err := w.SelectProofs(ctx, mintURL, amount)
	if err != nil {
		return 0, err
	}
	keysets, err := w.activeKeysets(ctx, mintURL)
	if err != nil {
		return 0, err
	}
	return fees.CalculateFees(selected, keysets), nil
}

func (w *Wallet) activeKeysets(ctx context.Context, mintURL string) ([]core.Keyset, error) {
	w.mu.RLock()
	cached, ok := w.cache[mintURL]
	w.mu.RUnlock()
	if ok && time.Since(cached.fetchedAt) < w.keysetTTL {
		return cached.keysets, nil
	}

	all, err := w.keysets.GetKeysets(ctx, mintURL)
	if err != nil {
		if ok {
			w.logger.Warn("Keyset refresh failed, using cached keysets", "mint", mintURL, "error", err)
			return cached.keysets, nil
		}
		return nil, fmt.Errorf("failed to fetch keysets: %w", err)
	}

	active := make([]core.Keyset, 0, len(all))
	for _, ks := range all {
		if ks.Active {
			active = append(active, ks)
		}
	}

	w.mu.Lock()
	w.cache[mintURL] = cachedKeysets{keysets: active, fetchedAt: time.Now()}
	w.mu.Unlock()
	return active, nil
}

func (w *Wallet) publish() {
	w.mu.RLock()
	perMint := make(map[string]int64, len(w.proofs))
	var total int64
	for mint, ps := range w.proofs {
		perMint[mint] = core.SumProofs(ps)
		total += perMint[mint]
	}
	listeners := append([]BalanceListener(nil), w.listeners...)
	w.mu.RUnlock()

	metrics := telemetry.GetGlobalMetrics()
	for mint, bal := range perMint {
		metrics.SetWalletBalance(mint, bal)
	}

	for _, l := range listeners {
		l(total)
	}
}

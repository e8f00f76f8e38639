package refill

import (
	"context"
	"fmt"
	"time"

	"walletd/internal/core"
)

// Settings keys under which whole policies are stored
const (
	RefillSettingsKey = "nwc_refill_policy"
	TopupSettingsKey  = "api_topup_policy"
)

// RefillPolicy controls pulling funds from the remote wallet into the local one
type RefillPolicy struct {
	Enabled       bool       `json:"enabled"`
	ThresholdSats int64      `json:"threshold_sats"`
	AmountSats    int64      `json:"amount_sats"`
	LastRefillAt  *time.Time `json:"last_refill_at,omitempty"`
}

func DefaultRefillPolicy() RefillPolicy {
	return RefillPolicy{ThresholdSats: 100, AmountSats: 1000}
}

func (p RefillPolicy) Validate() error {
	if p.ThresholdSats < 0 {
		return fmt.Errorf("threshold_sats must be >= 0, got %d", p.ThresholdSats)
	}
	if p.AmountSats < 1 {
		return fmt.Errorf("amount_sats must be >= 1, got %d", p.AmountSats)
	}
	return nil
}

// TopupPolicy controls pushing local ecash into a metered API credential.
// The threshold is in milli-sats, the amount in sats.
type TopupPolicy struct {
	Enabled        bool       `json:"enabled"`
	APIKeyID       string     `json:"api_key_id,omitempty"`
	ThresholdMsats int64      `json:"threshold_msats"`
	AmountSats     int64      `json:"amount_sats"`
	LastTopupAt    *time.Time `json:"last_topup_at,omitempty"`
}

func DefaultTopupPolicy() TopupPolicy {
	return TopupPolicy{ThresholdMsats: 10000, AmountSats: 1000}
}

func (p TopupPolicy) Validate() error {
	if p.ThresholdMsats < 0 {
		return fmt.Errorf("threshold_msats must be >= 0, got %d", p.ThresholdMsats)
	}
	if p.AmountSats < 1 {
		return fmt.Errorf("amount_sats must be >= 1, got %d", p.AmountSats)
	}
	return nil
}

// LoadRefillPolicy reads the stored policy, storing the defaults on first use
func LoadRefillPolicy(ctx context.Context, store core.ISettingsStore) (RefillPolicy, error) {
	p := DefaultRefillPolicy()
	found, err := store.GetSetting(ctx, RefillSettingsKey, &p)
	if err != nil {
		return RefillPolicy{}, fmt.Errorf("failed to load refill policy: %w", err)
	}
	if !found {
		if err := store.PutSetting(ctx, RefillSettingsKey, p); err != nil {
			return RefillPolicy{}, fmt.Errorf("failed to store default refill policy: %w", err)
		}
	}
	return p, nil
}

func SaveRefillPolicy(ctx context.Context, store core.ISettingsStore, p RefillPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return store.PutSetting(ctx, RefillSettingsKey, p)
}

// LoadTopupPolicy reads the stored policy, storing the defaults on first use
func LoadTopupPolicy(ctx context.Context, store core.ISettingsStore) (TopupPolicy, error) {
	p := DefaultTopupPolicy()
	found, err := store.GetSetting(ctx, TopupSettingsKey, &p)
	if err != nil {
		return TopupPolicy{}, fmt.Errorf("failed to load top-up policy: %w", err)
	}
	if !found {
		if err := store.PutSetting(ctx, TopupSettingsKey, p); err != nil {
			return TopupPolicy{}, fmt.Errorf("failed to store default top-up policy: %w", err)
		}
	}
	return p, nil
}

func SaveTopupPolicy(ctx context.Context, store core.ISettingsStore, p TopupPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return store.PutSetting(ctx, TopupSettingsKey, p)
}

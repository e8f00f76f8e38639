package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Proof is an opaque unit of ecash. The core reads Amount and KeysetID only.
type Proof struct {
	Amount   int64  `json:"amount"`
	KeysetID string `json:"id"`
	Secret   string `json:"secret"`
	C        string `json:"C"`
}

// Keyset is a mint signing key set with its input fee rate (parts per thousand)
type Keyset struct {
	ID          string `json:"id"`
	Unit        string `json:"unit"`
	Active      bool   `json:"active"`
	InputFeePPK *int64 `json:"input_fee_ppk,omitempty"`
}

// SumProofs returns the total face value of proofs
func SumProofs(proofs []Proof) int64 {
	var total int64
	for _, p := range proofs {
		total += p.Amount
	}
	return total
}

// Invoice is a mint quote for a Lightning payment
type Invoice struct {
	PaymentRequest string `json:"request"`
	QuoteID        string `json:"quote"`
}

// SendPaymentResult is what the remote wallet returns for pay_invoice
type SendPaymentResult struct {
	Preimage string `json:"preimage,omitempty"`
}

// BalanceKind tags the shape of a provider balance response
type BalanceKind int

const (
	BalanceKindSats BalanceKind = iota
	BalanceKindUnit
	BalanceKindMsats
)

// BalanceReading is the normalized union of the provider balance shapes:
// a bare number (sats), {balance, unit} or {balance_msats}.
type BalanceReading struct {
	Kind  BalanceKind
	Value int64
	Unit  string
}

func SatsReading(v int64) BalanceReading { return BalanceReading{Kind: BalanceKindSats, Value: v} }

func UnitReading(v int64, unit string) BalanceReading {
	return BalanceReading{Kind: BalanceKindUnit, Value: v, Unit: unit}
}

func MsatsReading(v int64) BalanceReading { return BalanceReading{Kind: BalanceKindMsats, Value: v} }

// Sats converts the reading to whole sats, flooring milli-sat values
func (b BalanceReading) Sats() (int64, error) {
	if b.Value < 0 {
		return 0, fmt.Errorf("negative balance: %d", b.Value)
	}
	switch b.Kind {
	case BalanceKindSats:
		return b.Value, nil
	case BalanceKindMsats:
		return b.Value / 1000, nil
	case BalanceKindUnit:
		switch strings.ToLower(b.Unit) {
		case "", "sat", "sats":
			return b.Value, nil
		case "msat", "msats":
			return b.Value / 1000, nil
		}
		return 0, fmt.Errorf("unsupported balance unit: %s", b.Unit)
	}
	return 0, fmt.Errorf("unknown balance kind: %d", b.Kind)
}

// PaymentResult is the outcome of a Payment Executor run. QuoteID is set
// once an invoice exists so a settled-but-unminted payment can be reclaimed.
type PaymentResult struct {
	Success      bool
	Proofs       []Proof
	ErrorMessage string
	QuoteID      string
}

// Credential is a metered API key with its own prepaid balance
type Credential struct {
	ID           string `json:"id"`
	Key          string `json:"key"`
	BalanceMsats int64  `json:"balance_msats"`
	BaseURL      string `json:"base_url"`
	Invalid      bool   `json:"invalid"`

	// SyncedAt is zero until the server has reported a balance once.
	SyncedAt time.Time `json:"synced_at"`
}

// Message is a single chat message
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the persisted chat thread. IDs are usually creation
// timestamps in milliseconds rendered as strings.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// PendingQuote is a settled invoice whose proofs were not yet issued
type PendingQuote struct {
	QuoteID    string    `json:"quote_id"`
	MintURL    string    `json:"mint_url"`
	AmountSats int64     `json:"amount_sats"`
	CreatedAt  time.Time `json:"created_at"`
}

// NotificationLevel is the severity of a user-facing notification
type NotificationLevel string

const (
	NotifyInfo     NotificationLevel = "info"
	NotifyProgress NotificationLevel = "progress"
	NotifySuccess  NotificationLevel = "success"
	NotifyError    NotificationLevel = "error"
)

// Notification is a user-facing message emitted around executing phases
type Notification struct {
	Level   NotificationLevel
	Channel string
	Title   string
	Message string
	Fields  map[string]string
}

// FormatSats renders a sat amount for display
func FormatSats(sats int64) string {
	return decimal.NewFromInt(sats).String() + " sats"
}

// FormatMsats renders a milli-sat amount as fractional sats
func FormatMsats(msats int64) string {
	return decimal.New(msats, -3).String() + " sats"
}

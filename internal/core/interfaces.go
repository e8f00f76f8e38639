// Package core defines the core interfaces for the wallet daemon
package core

import (
	"context"
	"time"
)

// IWalletConnector is the remote wallet (NWC) connection owned by the signer layer
type IWalletConnector interface {
	IsConnected() bool
	Provider(ctx context.Context) (IPaymentProvider, error)
}

// IPaymentProvider is a connected remote wallet able to pay invoices
type IPaymentProvider interface {
	GetBalance(ctx context.Context) (BalanceReading, error)
	SendPayment(ctx context.Context, invoice string) (*SendPaymentResult, error)
}

// IMintClient defines the mint operations used by the core.
// MintFromPaidInvoice must return an error while the quote is unpaid.
type IMintClient interface {
	CreateInvoice(ctx context.Context, mintURL string, amountSats int64) (*Invoice, error)
	MintFromPaidInvoice(ctx context.Context, mintURL, quoteID string, amountSats int64) ([]Proof, error)
	SendToken(ctx context.Context, mintURL string, amountSats int64) (string, error)
	GetKeysets(ctx context.Context, mintURL string) ([]Keyset, error)
}

// IWallet is the local ecash wallet holding proofs per mint
type IWallet interface {
	Balance() int64
	MintBalance(mintURL string) int64
	ActiveMint() string
	AddProofs(ctx context.Context, mintURL string, proofs []Proof) error
}

// ISettingsStore persists whole policy structures under fixed keys
type ISettingsStore interface {
	GetSetting(ctx context.Context, key string, dst interface{}) (bool, error)
	PutSetting(ctx context.Context, key string, value interface{}) error
}

// ICredentialSource exposes the synchronized API credential list
type ICredentialSource interface {
	Credentials() []Credential
}

// ITopupClient pushes a spend token into a metered API credential
type ITopupClient interface {
	Topup(ctx context.Context, cred Credential, token string) error
}

// IConversationStore writes the full conversation snapshot in one atomic step
type IConversationStore interface {
	SaveConversations(ctx context.Context, conversations []Conversation) error
	LoadConversations(ctx context.Context) ([]Conversation, error)
}

// IPendingQuoteStore records settled quotes whose proofs have not been minted yet
type IPendingQuoteStore interface {
	AddPendingQuote(ctx context.Context, q PendingQuote) error
	ListPendingQuotes(ctx context.Context) ([]PendingQuote, error)
	RemovePendingQuote(ctx context.Context, quoteID string) error
}

// INotifier delivers user-facing notifications. It never gates control flow.
type INotifier interface {
	Notify(ctx context.Context, n Notification)
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// Clock returns the current time; injectable for tests
type Clock func() time.Time

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

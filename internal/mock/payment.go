package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"walletd/internal/core"
	apperrors "walletd/pkg/errors"
)

// MockWalletConnector implements core.IWalletConnector
type MockWalletConnector struct {
	connected atomic.Bool
	provider  core.IPaymentProvider
}

func NewMockWalletConnector(provider core.IPaymentProvider, connected bool) *MockWalletConnector {
	m := &MockWalletConnector{provider: provider}
	m.connected.Store(connected)
	return m
}

func (m *MockWalletConnector) SetConnected(v bool) { m.connected.Store(v) }

func (m *MockWalletConnector) IsConnected() bool { return m.connected.Load() }

func (m *MockWalletConnector) Provider(ctx context.Context) (core.IPaymentProvider, error) {
	if !m.connected.Load() {
		return nil, apperrors.ErrWalletNotConnected
	}
	return m.provider, nil
}

// MockPaymentProvider implements core.IPaymentProvider. Payments block on
// Gate when it is non-nil so tests can hold an execution in flight. A nil
// Balance behaves like a wallet that did not grant get_balance.
type MockPaymentProvider struct {
	mu       sync.Mutex
	Balance  *core.BalanceReading
	Preimage string
	PayErr   error
	Panic    bool
	Gate     chan struct{}
	invoices []string
}

func (m *MockPaymentProvider) GetBalance(ctx context.Context) (core.BalanceReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Balance == nil {
		return core.BalanceReading{}, errors.New("get_balance not permitted")
	}
	return *m.Balance, nil
}

func (m *MockPaymentProvider) SendPayment(ctx context.Context, invoice string) (*core.SendPaymentResult, error) {
	m.mu.Lock()
	m.invoices = append(m.invoices, invoice)
	gate, payErr, preimage, panicking := m.Gate, m.PayErr, m.Preimage, m.Panic
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if panicking {
		panic("provider exploded")
	}
	if payErr != nil {
		return nil, payErr
	}
	return &core.SendPaymentResult{Preimage: preimage}, nil
}

// Payments returns the invoices paid so far
func (m *MockPaymentProvider) Payments() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.invoices...)
}

// MockMintClient implements core.IMintClient with scripted mint results.
// MintResults are consumed one per MintFromPaidInvoice call; once exhausted
// the quote reports unpaid. MintDelay stalls each mint call, returning early
// only when the context ends.
type MockMintClient struct {
	mu          sync.Mutex
	InvoiceErr  error
	MintResults [][]core.Proof
	MintDelay   time.Duration
	Token       string
	TokenErr    error
	Keysets     []core.Keyset

	invoiceCalls int
	mintCalls    int
	tokenCalls   []int64
}

func (m *MockMintClient) CreateInvoice(ctx context.Context, mintURL string, amountSats int64) (*core.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoiceCalls++
	if m.InvoiceErr != nil {
		return nil, m.InvoiceErr
	}
	return &core.Invoice{
		PaymentRequest: fmt.Sprintf("lnbc%dn1mock%d", amountSats, m.invoiceCalls),
		QuoteID:        fmt.Sprintf("quote-%d", m.invoiceCalls),
	}, nil
}

func (m *MockMintClient) MintFromPaidInvoice(ctx context.Context, mintURL, quoteID string, amountSats int64) ([]core.Proof, error) {
	m.mu.Lock()
	m.mintCalls++
	delay := m.MintDelay
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.MintResults) == 0 {
		return nil, apperrors.ErrQuoteNotPaid
	}
	next := m.MintResults[0]
	m.MintResults = m.MintResults[1:]
	return next, nil
}

func (m *MockMintClient) SendToken(ctx context.Context, mintURL string, amountSats int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenCalls = append(m.tokenCalls, amountSats)
	if m.TokenErr != nil {
		return "", m.TokenErr
	}
	return m.Token, nil
}

func (m *MockMintClient) GetKeysets(ctx context.Context, mintURL string) ([]core.Keyset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Keysets, nil
}

func (m *MockMintClient) InvoiceCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoiceCalls
}

func (m *MockMintClient) MintCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mintCalls
}

func (m *MockMintClient) TokenCalls() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.tokenCalls...)
}

// MockWallet implements core.IWallet in memory
type MockWallet struct {
	mu       sync.Mutex
	Mint     string
	balances map[string]int64
	added    [][]core.Proof
	AddErr   error
}

func NewMockWallet(mint string, balance int64) *MockWallet {
	return &MockWallet{Mint: mint, balances: map[string]int64{mint: balance}}
}

func (m *MockWallet) SetBalance(mint string, sats int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[mint] = sats
}

func (m *MockWallet) Balance() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, v := range m.balances {
		total += v
	}
	return total
}

func (m *MockWallet) MintBalance(mintURL string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[mintURL]
}

func (m *MockWallet) ActiveMint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Mint
}

func (m *MockWallet) AddProofs(ctx context.Context, mintURL string, proofs []core.Proof) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AddErr != nil {
		return m.AddErr
	}
	m.added = append(m.added, proofs)
	m.balances[mintURL] += core.SumProofs(proofs)
	return nil
}

// Added returns every proof batch merged so far
func (m *MockWallet) Added() [][]core.Proof {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]core.Proof(nil), m.added...)
}

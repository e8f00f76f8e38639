// Package mint talks to ecash mints over their public HTTP API and delegates
// blind-signature work to an Issuer.
package mint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"walletd/internal/core"
	apperrors "walletd/pkg/errors"
	pkghttp "walletd/pkg/http"
)

// Quote states reported by GET /v1/mint/quote/bolt11/{quote}
const (
	QuoteUnpaid = "UNPAID"
	QuotePaid   = "PAID"
	QuoteIssued = "ISSUED"
)

// Issuer performs the cryptographic half of minting and spending
type Issuer interface {
	Mint(ctx context.Context, mintURL, quoteID string, amountSats int64) ([]core.Proof, error)
	Send(ctx context.Context, mintURL string, amountSats int64, inputs []core.Proof) (token string, change []core.Proof, err error)
}

// Ledger is the local proof set SendToken spends from
type Ledger interface {
	SelectProofs(ctx context.Context, mintURL string, amount int64) ([]core.Proof, error)
	RemoveProofs(ctx context.Context, mintURL string, secrets []string) error
	AddProofs(ctx context.Context, mintURL string, proofs []core.Proof) error
}

type quoteRequest struct {
	Amount int64  `json:"amount"`
	Unit   string `json:"unit"`
}

type quoteResponse struct {
	Quote   string `json:"quote"`
	Request string `json:"request"`
	State   string `json:"state"`
	Expiry  int64  `json:"expiry,omitempty"`
}

type keysetsResponse struct {
	Keysets []core.Keyset `json:"keysets"`
}

// Client implements core.IMintClient
type Client struct {
	issuer  Issuer
	timeout time.Duration
	logger  core.ILogger

	mu      sync.Mutex
	clients map[string]*pkghttp.Client
	ledger  Ledger
}

func NewClient(issuer Issuer, timeout time.Duration, logger core.ILogger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		issuer:  issuer,
		timeout: timeout,
		logger:  logger.WithField("component", "mint_client"),
		clients: make(map[string]*pkghttp.Client),
	}
}

// UseLedger sets the proof set SendToken draws from
func (c *Client) UseLedger(l Ledger) {
	c.mu.Lock()
	c.ledger = l
	c.mu.Unlock()
}

// one resilient client per mint so a failing mint opens only its own breaker
func (c *Client) http(mintURL string) *pkghttp.Client {
	base := strings.TrimRight(mintURL, "/")
	c.mu.Lock()
	defer c.mu.Unlock()
	if hc, ok := c.clients[base]; ok {
		return hc
	}
	hc := pkghttp.NewClient(base, c.timeout, nil)
	c.clients[base] = hc
	return hc
}

func (c *Client) CreateInvoice(ctx context.Context, mintURL string, amountSats int64) (*core.Invoice, error) {
	if amountSats <= 0 {
		return nil, fmt.Errorf("invalid invoice amount: %d", amountSats)
	}
	body, err := c.http(mintURL).Post(ctx, "/v1/mint/quote/bolt11", quoteRequest{Amount: amountSats, Unit: "sat"})
	if err != nil {
		return nil, fmt.Errorf("failed to create mint quote: %w", err)
	}

	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode mint quote: %w", err)
	}
	if resp.Quote == "" || resp.Request == "" {
		return nil, fmt.Errorf("mint returned incomplete quote")
	}

	c.logger.Debug("Mint quote created", "mint", mintURL, "quote", resp.Quote, "amount", amountSats)
	return &core.Invoice{PaymentRequest: resp.Request, QuoteID: resp.Quote}, nil
}

// QuoteState returns the mint's view of a quote
func (c *Client) QuoteState(ctx context.Context, mintURL, quoteID string) (string, error) {
	body, err := c.http(mintURL).Get(ctx, "/v1/mint/quote/bolt11/"+url.PathEscape(quoteID), nil)
	if err != nil {
		return "", fmt.Errorf("failed to check mint quote: %w", err)
	}
	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode mint quote: %w", err)
	}
	return resp.State, nil
}

// MintFromPaidInvoice issues proofs for a settled quote. It fails with
// ErrQuoteNotPaid while the invoice is still open.
func (c *Client) MintFromPaidInvoice(ctx context.Context, mintURL, quoteID string, amountSats int64) ([]core.Proof, error) {
	state, err := c.QuoteState(ctx, mintURL, quoteID)
	if err != nil {
		return nil, err
	}

	switch state {
	case QuotePaid:
	case QuoteIssued:
		return nil, fmt.Errorf("quote %s already issued", quoteID)
	default:
		return nil, fmt.Errorf("%w: quote %s is %s", apperrors.ErrQuoteNotPaid, quoteID, state)
	}

	proofs, err := c.issuer.Mint(ctx, mintURL, quoteID, amountSats)
	if err != nil {
		return nil, fmt.Errorf("failed to mint proofs: %w", err)
	}
	return proofs, nil
}

// SendToken spends amountSats from the ledger into a bearer token. The ledger
// is only changed after the issuer succeeds.
func (c *Client) SendToken(ctx context.Context, mintURL string, amountSats int64) (string, error) {
	c.mu.Lock()
	ledger := c.ledger
	c.mu.Unlock()
	if ledger == nil {
		return "", fmt.Errorf("no proof ledger attached")
	}

	inputs, err := ledger.SelectProofs(ctx, mintURL, amountSats)
	if err != nil {
		return "", err
	}

	token, change, err := c.issuer.Send(ctx, mintURL, amountSats, inputs)
	if err != nil {
		return "", fmt.Errorf("failed to create token: %w", err)
	}

	secrets := make([]string, len(inputs))
	for i, p := range inputs {
		secrets[i] = p.Secret
	}
	if err := ledger.RemoveProofs(ctx, mintURL, secrets); err != nil {
		c.logger.Error("Failed to remove spent proofs", "mint", mintURL, "error", err)
	}
	if err := ledger.AddProofs(ctx, mintURL, change); err != nil {
		c.logger.Error("Failed to store change proofs", "mint", mintURL, "error", err)
	}

	c.logger.Info("Token created", "mint", mintURL, "amount", amountSats, "inputs", len(inputs), "change", core.SumProofs(change))
	return token, nil
}

func (c *Client) GetKeysets(ctx context.Context, mintURL string) ([]core.Keyset, error) {
	body, err := c.http(mintURL).Get(ctx, "/v1/keysets", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch keysets: %w", err)
	}
	var resp keysetsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode keysets: %w", err)
	}
	return resp.Keysets, nil
}

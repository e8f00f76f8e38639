package mint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"walletd/internal/core"
	pkghttp "walletd/pkg/http"
)

type bridgeMintRequest struct {
	MintURL string `json:"mint_url"`
	Quote   string `json:"quote"`
	Amount  int64  `json:"amount"`
}

type bridgeMintResponse struct {
	Proofs []core.Proof `json:"proofs"`
}

type bridgeSendRequest struct {
	MintURL string       `json:"mint_url"`
	Amount  int64        `json:"amount"`
	Inputs  []core.Proof `json:"inputs"`
}

type bridgeSendResponse struct {
	Token  string       `json:"token"`
	Change []core.Proof `json:"change"`
}

// BridgeIssuer delegates blinding and unblinding to a local signer sidecar
type BridgeIssuer struct {
	client *pkghttp.Client
}

// NewBridgeIssuer creates an issuer for the sidecar at baseURL. Requests are
// not retried since both calls consume a quote or proofs.
func NewBridgeIssuer(baseURL, token string, timeout time.Duration) *BridgeIssuer {
	var signer pkghttp.Signer
	if token != "" {
		signer = pkghttp.BearerSigner{Token: token}
	}
	return &BridgeIssuer{
		client: pkghttp.NewClientWithOptions(baseURL, timeout, signer, pkghttp.Options{MaxRetries: 0}),
	}
}

func (b *BridgeIssuer) Mint(ctx context.Context, mintURL, quoteID string, amountSats int64) ([]core.Proof, error) {
	body, err := b.client.Post(ctx, "/v1/mint", bridgeMintRequest{MintURL: mintURL, Quote: quoteID, Amount: amountSats})
	if err != nil {
		return nil, err
	}
	var resp bridgeMintResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode bridge mint response: %w", err)
	}
	return resp.Proofs, nil
}

func (b *BridgeIssuer) Send(ctx context.Context, mintURL string, amountSats int64, inputs []core.Proof) (string, []core.Proof, error) {
	body, err := b.client.Post(ctx, "/v1/send", bridgeSendRequest{MintURL: mintURL, Amount: amountSats, Inputs: inputs})
	if err != nil {
		return "", nil, err
	}
	var resp bridgeSendResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", nil, fmt.Errorf("failed to decode bridge send response: %w", err)
	}
	if resp.Token == "" {
		return "", nil, fmt.Errorf("bridge returned empty token")
	}
	return resp.Token, resp.Change, nil
}

package nwc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"walletd/internal/core"
)

type provider struct {
	bridge *Bridge
}

func (p *provider) GetBalance(ctx context.Context) (core.BalanceReading, error) {
	raw, err := p.bridge.call(ctx, MethodGetBalance, nil)
	if err != nil {
		return core.BalanceReading{}, err
	}
	return ParseBalance(raw)
}

type payInvoiceParams struct {
	Invoice string `json:"invoice"`
}

func (p *provider) SendPayment(ctx context.Context, invoice string) (*core.SendPaymentResult, error) {
	raw, err := p.bridge.call(ctx, MethodPayInvoice, payInvoiceParams{Invoice: invoice})
	if err != nil {
		return nil, err
	}

	var res core.SendPaymentResult
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return &res, nil
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to decode pay_invoice result: %w", err)
	}
	return &res, nil
}

type balanceObject struct {
	Balance      *int64 `json:"balance"`
	Unit         string `json:"unit"`
	BalanceMsats *int64 `json:"balance_msats"`
	BalanceMsat  *int64 `json:"balanceMsats"`
}

// ParseBalance accepts a bare number of sats, {"balance", "unit"} or
// {"balance_msats"}.
func ParseBalance(raw json.RawMessage) (core.BalanceReading, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return core.SatsReading(n), nil
	}

	var obj balanceObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return core.BalanceReading{}, fmt.Errorf("unrecognized balance payload: %s", string(raw))
	}

	switch {
	case obj.BalanceMsats != nil:
		return core.MsatsReading(*obj.BalanceMsats), nil
	case obj.BalanceMsat != nil:
		return core.MsatsReading(*obj.BalanceMsat), nil
	case obj.Balance != nil:
		return core.UnitReading(*obj.Balance, obj.Unit), nil
	}
	return core.BalanceReading{}, fmt.Errorf("unrecognized balance payload: %s", string(raw))
}

// Package fees computes mint input fees for a set of proofs.
package fees

import (
	"walletd/internal/core"

	"github.com/shopspring/decimal"
)

// ppkPerUnit is the number of parts-per-thousand that add up to one fee unit
const ppkPerUnit = 1000

// CalculateFees returns the input fee a mint charges to spend proofs.
// Each proof contributes its keyset's input_fee_ppk; the sum is rounded up to
// a whole unit. Proofs whose keyset is not in activeKeysets, or whose keyset
// has no fee rate, contribute nothing.
func CalculateFees(proofs []core.Proof, activeKeysets []core.Keyset) int64 {
	if len(proofs) == 0 {
		return 0
	}

	rates := make(map[string]int64, len(activeKeysets))
	for _, ks := range activeKeysets {
		if ks.InputFeePPK != nil {
			rates[ks.ID] = *ks.InputFeePPK
		}
	}

	var sum int64
	for _, p := range proofs {
		sum += rates[p.KeysetID]
	}
	if sum <= 0 {
		return 0
	}
	return (sum + ppkPerUnit - 1) / ppkPerUnit
}

// AverageFeePerProof is the total fee spread over the proofs. Display only.
func AverageFeePerProof(proofs []core.Proof, activeKeysets []core.Keyset) decimal.Decimal {
	if len(proofs) == 0 {
		return decimal.Zero
	}
	total := CalculateFees(proofs, activeKeysets)
	return decimal.NewFromInt(total).Div(decimal.NewFromInt(int64(len(proofs))))
}

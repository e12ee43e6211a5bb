// Package position derives borrow positions from a protocol's market
// catalog and a map of underlying address to raw debt.
//
// Debt for native-coin markets is recorded on-chain under the protocol's
// wrapped-native token, so native markets are looked up by that address.
// When a protocol exposes both a native market and a wrapped-native market,
// the wrapped entry is suppressed so the same debt is not shown twice.
package position

import (
	"iter"
	"math/big"

	"github.com/atmx/lending-engine/internal/accrual"
	"github.com/atmx/lending-engine/internal/fixedpoint"
	"github.com/atmx/lending-engine/internal/model"
)

// Positions returns a lazy, finite sequence of borrow positions for
// markets, skipping markets with zero or missing debt. markets should
// belong to a single protocol whose wrapped-native token is wrappedNative.
// Keys of debt are matched case-insensitively.
func Positions(markets []model.Market, debt map[string]*big.Int, wrappedNative string) iter.Seq[model.BorrowPosition] {
	debtByAddr := accrual.Canonicalize(debt)
	wrapped := accrual.CanonicalAddress(wrappedNative)

	hasNative := make(map[model.Protocol]bool)
	for _, m := range markets {
		if m.Asset.IsNative() {
			hasNative[m.Protocol] = true
		}
	}

	return func(yield func(model.BorrowPosition) bool) {
		for _, m := range markets {
			key := accrual.CanonicalAddress(m.Asset.UnderlyingAddress)
			switch {
			case key == "":
				key = wrapped
			case key == wrapped && hasNative[m.Protocol]:
				continue
			}

			raw := debtByAddr[key]
			if raw == nil || raw.Sign() <= 0 {
				continue
			}

			if !yield(New(m, raw)) {
				return
			}
		}
	}
}

// New values raw debt in market m:
// borrowedUSD = toDecimal(rawDebt, decimals) * unitPriceUSD.
func New(m model.Market, rawDebt *big.Int) model.BorrowPosition {
	amount := fixedpoint.ToDecimal(rawDebt, m.Asset.Decimals)
	return model.BorrowPosition{
		Market:      m,
		RawDebt:     new(big.Int).Set(rawDebt),
		Amount:      amount,
		BorrowedUSD: amount.Mul(m.Asset.Balance.UnitPrice.Value),
	}
}

// Build collects Positions into a slice. The result is never nil.
func Build(markets []model.Market, debt map[string]*big.Int, wrappedNative string) []model.BorrowPosition {
	positions := make([]model.BorrowPosition, 0)
	for p := range Positions(markets, debt, wrappedNative) {
		positions = append(positions, p)
	}
	return positions
}

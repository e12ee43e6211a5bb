// Package market builds normalized Market records from raw per-protocol
// contract reads. Each protocol adapter is a pure mapping from its own raw
// shapes into the shared model.Market; nothing here performs I/O.
package market

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/atmx/lending-engine/internal/accrual"
	"github.com/atmx/lending-engine/internal/fixedpoint"
	"github.com/atmx/lending-engine/internal/model"
)

// Params carries the per-refresh context shared by the adapters.
type Params struct {
	Network model.Network

	// WrappedNative is the protocol's wrapped-native token (e.g. WAVAX).
	// Native-coin markets are priced under this address.
	WrappedNative string

	// Prices maps underlying address to its oracle price, each tagged with
	// its own scale. Keys are matched case-insensitively.
	Prices map[string]fixedpoint.Amount

	// HistoricalAPY maps unique market id to a 30-day APY%. Markets without
	// an entry leave the field empty.
	HistoricalAPY map[string]decimal.Decimal
}

// priceIndex canonicalizes the price map once per build.
func (p Params) priceIndex() priceIndex {
	idx := priceIndex{
		wrappedNative: accrual.CanonicalAddress(p.WrappedNative),
		prices:        make(map[string]decimal.Decimal, len(p.Prices)),
	}
	for addr, price := range p.Prices {
		idx.prices[accrual.CanonicalAddress(addr)] = price.Decimal()
	}
	return idx
}

type priceIndex struct {
	wrappedNative string
	prices        map[string]decimal.Decimal
}

// unitPrice returns the USD price for an asset. Native coins are priced
// under the wrapped-native address; a missing price is zero.
func (idx priceIndex) unitPrice(underlying string) decimal.Decimal {
	key := accrual.CanonicalAddress(underlying)
	if key == "" {
		key = idx.wrappedNative
	}
	return idx.prices[key]
}

func (p Params) historical(id string) *decimal.Decimal {
	v, ok := p.HistoricalAPY[id]
	if !ok {
		return nil
	}
	return &v
}

// balance values a raw user balance at price.
func balance(raw *big.Int, decimals int32, price decimal.Decimal) model.Balance {
	if raw == nil {
		raw = new(big.Int)
	}
	return model.Balance{
		RawBalance:   raw,
		BalanceValue: model.NewUSD(fixedpoint.ToDecimal(raw, decimals).Mul(price)),
		UnitPrice:    model.NewUSD(price),
	}
}

// capReached reports whether total has hit cap. A nil or zero cap means
// uncapped.
func capReached(total, supplyCap decimal.Decimal) bool {
	return supplyCap.IsPositive() && total.GreaterThanOrEqual(supplyCap)
}

// Package risk folds markets, borrow positions and protocol-reported
// borrow capacity into a BorrowSummary: net worth, net APY, borrow power
// used, health score and a risk label.
//
// Every function is pure. Inputs are assumed to come from one consistent
// chain state (the same block); if a caller mixes reads from different
// blocks, position values will not reconcile exactly with the protocol's
// own totals.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/lending-engine/internal/model"
)

// Health score thresholds for risk labeling.
var (
	HighRiskBelow = decimal.RequireFromString("1.25")
	LowRiskAbove  = decimal.NewFromInt(3)

	hundred = decimal.NewFromInt(100)
)

// SummaryScale is the number of decimal places summary figures are rounded to.
const SummaryScale int32 = 8

// NetWorth is the sum of market balances less the sum of borrowed USD.
func NetWorth(markets []model.Market, positions []model.BorrowPosition) decimal.Decimal {
	return totalDeposits(markets).Sub(totalBorrowed(positions))
}

// NetAPY is the USD-weighted blended APY% over net worth:
//
//	(Σ deposit*supplyAPY - Σ borrowed*borrowAPY) / netWorth
//
// APYs are percentages, so the result is a percentage. Zero when net worth
// is not positive.
func NetAPY(markets []model.Market, positions []model.BorrowPosition, netWorth decimal.Decimal) decimal.Decimal {
	if !netWorth.IsPositive() {
		return decimal.Zero
	}
	earned := decimal.Zero
	for _, m := range markets {
		earned = earned.Add(m.Asset.Balance.BalanceValue.Value.Mul(m.SupplyAPY))
	}
	paid := decimal.Zero
	for _, p := range positions {
		paid = paid.Add(p.BorrowedUSD.Mul(p.Market.BorrowAPY))
	}
	return earned.Sub(paid).Div(netWorth).Round(SummaryScale)
}

// BorrowPowerUsed is totalDebt / (totalDebt + available) * 100, or zero
// when there is no capacity at all.
func BorrowPowerUsed(totalDebtUSD, availableUSD decimal.Decimal) decimal.Decimal {
	capacity := totalDebtUSD.Add(availableUSD)
	if !capacity.IsPositive() {
		return decimal.Zero
	}
	return totalDebtUSD.Div(capacity).Mul(hundred).Round(SummaryScale)
}

// Classify labels a health score: below 1.25 is high risk, 1.25 through 3
// inclusive is moderate, above 3 is low.
func Classify(score decimal.Decimal) model.RiskLevel {
	switch {
	case score.LessThan(HighRiskBelow):
		return model.RiskHigh
	case score.GreaterThan(LowRiskAbove):
		return model.RiskLow
	default:
		return model.RiskModerate
	}
}

// CombinedHealth returns the minimum of the present scores, so the most
// at-risk protocol drives the label. Nil when no score is present.
func CombinedHealth(scores ...*decimal.Decimal) *decimal.Decimal {
	var lowest *decimal.Decimal
	for _, s := range scores {
		if s == nil {
			continue
		}
		if lowest == nil || s.LessThan(*lowest) {
			v := *s
			lowest = &v
		}
	}
	return lowest
}

// Reconcile rescales position USD values so they sum to the protocol's own
// total debt. Applied only when both sides are positive; otherwise the
// positions are returned unchanged. The input slice is not modified.
func Reconcile(positions []model.BorrowPosition, protocolTotalDebtUSD decimal.Decimal) []model.BorrowPosition {
	out := make([]model.BorrowPosition, len(positions))
	copy(out, positions)

	sum := totalBorrowed(positions)
	if !sum.IsPositive() || !protocolTotalDebtUSD.IsPositive() {
		return out
	}

	scale := protocolTotalDebtUSD.Div(sum)
	for i := range out {
		out[i].BorrowedUSD = out[i].BorrowedUSD.Mul(scale)
	}
	return out
}

// ReconcileScale returns the factor Reconcile would apply, or 1 when it
// would leave positions unchanged.
func ReconcileScale(positions []model.BorrowPosition, protocolTotalDebtUSD decimal.Decimal) decimal.Decimal {
	sum := totalBorrowed(positions)
	if !sum.IsPositive() || !protocolTotalDebtUSD.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return protocolTotalDebtUSD.Div(sum)
}

func totalDeposits(markets []model.Market) decimal.Decimal {
	total := decimal.Zero
	for _, m := range markets {
		total = total.Add(m.Asset.Balance.BalanceValue.Value)
	}
	return total
}

func totalBorrowed(positions []model.BorrowPosition) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.BorrowedUSD)
	}
	return total
}

package risk

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/lending-engine/internal/model"
)

// Input is one protocol's contribution to a summary, already reduced to
// protocol-neutral figures by AaveInput or BenqiInput.
type Input struct {
	Protocol     model.Protocol
	Markets      []model.Market
	Positions    []model.BorrowPosition // reconciled
	TotalDebtUSD decimal.Decimal
	AvailableUSD decimal.Decimal
	Health       *decimal.Decimal
}

// AaveInput prepares Aave figures. The pool's health factor is computed
// on-chain from collateral × liquidation threshold ÷ debt and is passed
// through as-is; it is absent when the account has no debt.
func AaveInput(markets []model.Market, positions []model.BorrowPosition, c model.AaveCapacity) Input {
	totalDebt := c.TotalDebtUSD.Decimal()
	return Input{
		Protocol:     model.ProtocolAave,
		Markets:      markets,
		Positions:    Reconcile(positions, totalDebt),
		TotalDebtUSD: totalDebt,
		AvailableUSD: c.AvailableBorrowsUSD.Decimal(),
		Health:       AaveHealth(c),
	}
}

// BenqiInput prepares Benqi figures. The comptroller reports no total debt,
// so the caller-supplied figure is used when present and the position sum
// otherwise.
func BenqiInput(markets []model.Market, positions []model.BorrowPosition, c model.BenqiCapacity) Input {
	totalDebt := totalBorrowed(positions)
	if c.TotalDebtUSD != nil {
		totalDebt = c.TotalDebtUSD.Decimal()
	}
	return Input{
		Protocol:     model.ProtocolBenqi,
		Markets:      markets,
		Positions:    Reconcile(positions, totalDebt),
		TotalDebtUSD: totalDebt,
		AvailableUSD: c.Liquidity.Decimal(),
		Health:       BenqiHealth(c, totalDebt),
	}
}

// AaveHealth returns the protocol-reported health factor, or nil when the
// account has no debt.
func AaveHealth(c model.AaveCapacity) *decimal.Decimal {
	if c.TotalDebtUSD.Sign() <= 0 {
		return nil
	}
	hf := c.HealthFactor.Decimal()
	return &hf
}

// BenqiHealth approximates a health score from the comptroller's account
// liquidity:
//
//	(liquidity - shortfall + totalDebt) / totalDebt
//
// Liquidity is spare borrowing capacity in USD (already discounted by
// collateral factors), not raw collateral, so this is a coarser proxy than
// Aave's liquidation-threshold health factor and should not be read as
// equally precise. Nil when there is no debt.
func BenqiHealth(c model.BenqiCapacity, totalDebtUSD decimal.Decimal) *decimal.Decimal {
	if !totalDebtUSD.IsPositive() {
		return nil
	}
	buffer := c.Liquidity.Decimal().Sub(c.Shortfall.Decimal())
	score := buffer.Add(totalDebtUSD).Div(totalDebtUSD).Round(SummaryScale)
	return &score
}

// Summarize builds a BorrowSummary across one or more protocol inputs. It
// returns nil when no input has a borrow position.
func Summarize(inputs ...Input) *model.BorrowSummary {
	var (
		markets   []model.Market
		positions []model.BorrowPosition
		totalDebt = decimal.Zero
		available = decimal.Zero
		healths   []*decimal.Decimal
	)
	for _, in := range inputs {
		markets = append(markets, in.Markets...)
		positions = append(positions, in.Positions...)
		totalDebt = totalDebt.Add(in.TotalDebtUSD)
		available = available.Add(in.AvailableUSD)
		healths = append(healths, in.Health)
	}
	if len(positions) == 0 {
		return nil
	}

	netWorth := NetWorth(markets, positions)
	summary := &model.BorrowSummary{
		NetWorthUSD:     netWorth.Round(SummaryScale),
		NetAPY:          NetAPY(markets, positions, netWorth),
		BorrowPowerUsed: BorrowPowerUsed(totalDebt, available),
		HealthScore:     CombinedHealth(healths...),
	}
	if summary.HealthScore != nil {
		level := Classify(*summary.HealthScore)
		summary.Risk = &level
	}
	return summary
}

// ComputeAaveSummary summarizes an Aave account; nil without positions.
func ComputeAaveSummary(markets []model.Market, positions []model.BorrowPosition, c model.AaveCapacity) *model.BorrowSummary {
	return Summarize(AaveInput(markets, positions, c))
}

// ComputeBenqiSummary summarizes a Benqi account; nil without positions.
func ComputeBenqiSummary(markets []model.Market, positions []model.BorrowPosition, c model.BenqiCapacity) *model.BorrowSummary {
	return Summarize(BenqiInput(markets, positions, c))
}

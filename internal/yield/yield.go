// Package yield turns raw rate and reward-emission data into annual
// percentage yields.
//
// Two independent calculations are provided:
//   - Base-rate compounding: a per-second (or per-block) rate compounded
//     continuously over a year, APY% = (exp(r * periods) - 1) * 100.
//   - Reward-emission overlay: incentive tokens streamed to a pool,
//     valued in USD and annualized the same way.
//
// Inputs and outputs are shopspring/decimal. Only exp() runs in float64,
// with the result converted straight back to decimal, the same split the
// pricing code in this service has always used for transcendental math.
package yield

import (
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/atmx/lending-engine/internal/fixedpoint"
)

const (
	SecondsPerDay  int64 = 86400
	DaysPerYear    int64 = 365
	SecondsPerYear       = SecondsPerDay * DaysPerYear

	// APYScale is the number of decimal places APY percentages are rounded to.
	APYScale int32 = 8
)

// MaxAPY is the ceiling, in percent, for any single compounded APY. Reward
// streams into a near-empty pool produce exponents whose exp() overflows
// float64; those saturate here instead of collapsing to zero.
var MaxAPY = decimal.New(1, 12)

var (
	hundred        = decimal.NewFromInt(100)
	secondsPerDay  = decimal.NewFromInt(SecondsPerDay)
	daysPerYear    = decimal.NewFromInt(DaysPerYear)
	secondsPerYear = decimal.NewFromInt(SecondsPerYear)
	maxAPYFloat    = MaxAPY.InexactFloat64()
)

// compound returns (exp(x) - 1) * 100 for an annual exponent x, capped at
// MaxAPY.
func compound(x decimal.Decimal) decimal.Decimal {
	if x.IsZero() {
		return decimal.Zero
	}
	apy := math.Expm1(x.InexactFloat64()) * 100
	switch {
	case math.IsNaN(apy):
		return decimal.Zero
	case math.IsInf(apy, 1) || apy >= maxAPYFloat:
		return MaxAPY
	}
	return decimal.NewFromFloat(apy).Round(APYScale)
}

// BaseAPY compounds a per-second rate (already a decimal fraction, e.g.
// 1.5e-9) every second for a year.
func BaseAPY(ratePerSecond decimal.Decimal) decimal.Decimal {
	return compound(ratePerSecond.Mul(secondsPerYear))
}

// PerBlockAPY compounds a per-block rate for markets that accrue per block.
func PerBlockAPY(ratePerBlock decimal.Decimal, blocksPerDay int64) decimal.Decimal {
	if blocksPerDay <= 0 {
		return decimal.Zero
	}
	return compound(ratePerBlock.Mul(decimal.NewFromInt(blocksPerDay)).Mul(daysPerYear))
}

// AaveBaseAPY converts an Aave RAY-denominated annual rate
// (liquidityRate or variableBorrowRate) to APY%. The pool accrues per
// second, so the per-second rate is rayAPR / SecondsPerYear and the annual
// exponent collapses back to the APR itself.
func AaveBaseAPY(rayAPR *big.Int) decimal.Decimal {
	return compound(fixedpoint.ToDecimal(rayAPR, fixedpoint.RayDecimals))
}

// BenqiBaseAPY converts a Benqi WAD-denominated per-timestamp (per-second)
// rate (supplyRatePerTimestamp or borrowRatePerTimestamp) to APY%.
func BenqiBaseAPY(ratePerTimestamp *big.Int) decimal.Decimal {
	return BaseAPY(fixedpoint.ToDecimal(ratePerTimestamp, fixedpoint.WadDecimals))
}

// RewardAPY annualizes a reward emission stream:
//
//	dailyRate = speed * secondsPerDay * rewardPriceUSD / poolValueUSD
//	APY%      = (exp(dailyRate * daysPerYear) - 1) * 100
//
// speed is in reward tokens per second. A pool with no value earns nothing.
func RewardAPY(speed, rewardPriceUSD, poolValueUSD decimal.Decimal) decimal.Decimal {
	if !poolValueUSD.IsPositive() || !speed.IsPositive() || !rewardPriceUSD.IsPositive() {
		return decimal.Zero
	}
	daily := speed.Mul(secondsPerDay).Mul(rewardPriceUSD).Div(poolValueUSD)
	return compound(daily.Mul(daysPerYear))
}

// SupplyAPY adds reward overlays to a base supply APY.
func SupplyAPY(base decimal.Decimal, rewards ...decimal.Decimal) decimal.Decimal {
	return base.Add(sum(rewards))
}

// NetBorrowAPY subtracts reward overlays from a base borrow APY. The result
// is negative when rewards exceed the cost of borrowing and must not be
// clamped.
func NetBorrowAPY(base decimal.Decimal, rewards ...decimal.Decimal) decimal.Decimal {
	return base.Sub(sum(rewards))
}

func sum(xs []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, x := range xs {
		total = total.Add(x)
	}
	return total
}

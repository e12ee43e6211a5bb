package market

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/lending-engine/internal/fixedpoint"
	"github.com/atmx/lending-engine/internal/marketid"
	"github.com/atmx/lending-engine/internal/model"
	"github.com/atmx/lending-engine/internal/yield"
)

// RewardToken identifies a Benqi incentive stream. The values match the
// comptroller's rewardType argument.
type RewardToken uint8

const (
	RewardQI RewardToken = iota
	RewardAVAX
)

// String returns the token's lowercase name.
func (t RewardToken) String() string {
	switch t {
	case RewardQI:
		return "qi"
	case RewardAVAX:
		return "avax"
	default:
		return fmt.Sprintf("reward(%d)", uint8(t))
	}
}

// MarshalText lets reward tokens key JSON objects by name.
func (t RewardToken) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts "qi" or "avax" in any case.
func (t *RewardToken) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "qi":
		*t = RewardQI
	case "avax":
		*t = RewardAVAX
	default:
		return fmt.Errorf("unknown reward token %q", b)
	}
	return nil
}

// rewardDecimals is the scale of comptroller reward speeds (tokens/second).
const rewardDecimals = fixedpoint.WadDecimals

// BenqiMarket is one qiToken market as read from the qiToken contract and
// the comptroller, merged with the user's account snapshot for it.
type BenqiMarket struct {
	QiToken         string `json:"qi_token"`
	UnderlyingAsset string `json:"underlying_asset,omitempty"` // empty for qiAVAX
	Symbol          string `json:"symbol"`
	Decimals        int32  `json:"decimals"`
	Icon            string `json:"icon,omitempty"`

	SupplyRatePerTimestamp *big.Int `json:"supply_rate_per_timestamp"` // WAD
	BorrowRatePerTimestamp *big.Int `json:"borrow_rate_per_timestamp"` // WAD

	// BlocksPerDay is set for Compound-style forks that accrue per block
	// rather than per second. The two rate fields then hold per-block rates.
	BlocksPerDay int64 `json:"blocks_per_day,omitempty"`

	TotalSupplyUnderlying *big.Int `json:"total_supply_underlying"` // raw underlying
	TotalBorrows          *big.Int `json:"total_borrows"`           // raw underlying
	SupplyCap             *big.Int `json:"supply_cap"`              // raw underlying, 0 = uncapped
	CollateralFactor      *big.Int `json:"collateral_factor"`       // WAD
	MintPaused            bool     `json:"mint_paused"`
	BorrowPaused          bool     `json:"borrow_paused"`

	SupplyRewardSpeeds map[RewardToken]*big.Int `json:"supply_reward_speeds,omitempty"`
	BorrowRewardSpeeds map[RewardToken]*big.Int `json:"borrow_reward_speeds,omitempty"`

	// User data.
	BalanceUnderlying *big.Int `json:"balance_underlying"`
	CollateralEntered *bool    `json:"collateral_entered,omitempty"` // checkMembership
}

func (r BenqiMarket) baseAPY(rate *big.Int) decimal.Decimal {
	if r.BlocksPerDay > 0 {
		return yield.PerBlockAPY(fixedpoint.ToDecimal(rate, fixedpoint.WadDecimals), r.BlocksPerDay)
	}
	return yield.BenqiBaseAPY(rate)
}

// BuildBenqiMarkets maps Benqi markets to markets. Reward overlays for each
// reward token are added to the supply APY and subtracted from the borrow
// APY. rewardPrices holds the USD price of each reward token.
func BuildBenqiMarkets(p Params, raw []BenqiMarket, rewardPrices map[RewardToken]decimal.Decimal) ([]model.Market, error) {
	prices := p.priceIndex()
	markets := make([]model.Market, 0, len(raw))

	for _, r := range raw {
		id, err := marketid.New(model.ProtocolBenqi, p.Network, r.UnderlyingAsset)
		if err != nil {
			return nil, err
		}

		price := prices.unitPrice(r.UnderlyingAsset)
		supplyPoolUSD := fixedpoint.ToDecimal(r.TotalSupplyUnderlying, r.Decimals).Mul(price)
		borrowPoolUSD := fixedpoint.ToDecimal(r.TotalBorrows, r.Decimals).Mul(price)

		supplyAPY := yield.SupplyAPY(
			r.baseAPY(r.SupplyRatePerTimestamp),
			rewardOverlays(r.SupplyRewardSpeeds, rewardPrices, supplyPoolUSD)...,
		)
		borrowAPY := yield.NetBorrowAPY(
			r.baseAPY(r.BorrowRatePerTimestamp),
			rewardOverlays(r.BorrowRewardSpeeds, rewardPrices, borrowPoolUSD)...,
		)

		var supplyCap decimal.Decimal
		if r.SupplyCap != nil {
			supplyCap = fixedpoint.ToDecimal(r.SupplyCap, r.Decimals)
		}

		markets = append(markets, model.Market{
			UniqueMarketID: id,
			Protocol:       model.ProtocolBenqi,
			Network:        p.Network,
			Asset: model.AssetDetails{
				Address:           r.QiToken,
				UnderlyingAddress: r.UnderlyingAsset,
				Symbol:            r.Symbol,
				Decimals:          r.Decimals,
				Icon:              r.Icon,
				Balance:           balance(r.BalanceUnderlying, r.Decimals, price),
			},
			SupplyAPY:                supplyAPY,
			BorrowAPY:                borrowAPY,
			HistoricalAPY30d:         p.historical(id),
			BorrowingEnabled:         !r.BorrowPaused,
			SupplyCapReached:         r.MintPaused || capReached(fixedpoint.ToDecimal(r.TotalSupplyUnderlying, r.Decimals), supplyCap),
			CanBeUsedAsCollateral:    r.CollateralFactor != nil && r.CollateralFactor.Sign() > 0,
			UsageAsCollateralEnabled: r.CollateralEntered,
		})
	}
	return markets, nil
}

// rewardOverlays computes one APY overlay per reward token, in token order
// so results are deterministic.
func rewardOverlays(speeds map[RewardToken]*big.Int, prices map[RewardToken]decimal.Decimal, poolUSD decimal.Decimal) []decimal.Decimal {
	var out []decimal.Decimal
	for _, token := range []RewardToken{RewardQI, RewardAVAX} {
		speed, ok := speeds[token]
		if !ok {
			continue
		}
		out = append(out, yield.RewardAPY(
			fixedpoint.ToDecimal(speed, rewardDecimals),
			prices[token],
			poolUSD,
		))
	}
	return out
}

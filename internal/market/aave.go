package market

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/atmx/lending-engine/internal/accrual"
	"github.com/atmx/lending-engine/internal/fixedpoint"
	"github.com/atmx/lending-engine/internal/marketid"
	"github.com/atmx/lending-engine/internal/model"
	"github.com/atmx/lending-engine/internal/yield"
)

// AaveReserve is one entry of the Aave UI pool data provider's reserve list,
// merged with the user's reserve data for the same asset.
type AaveReserve struct {
	UnderlyingAsset string `json:"underlying_asset"`
	ATokenAddress   string `json:"a_token_address"`
	Symbol          string `json:"symbol"`
	Decimals        int32  `json:"decimals"`
	Icon            string `json:"icon,omitempty"`

	LiquidityRate       *big.Int `json:"liquidity_rate"`        // RAY APR
	VariableBorrowRate  *big.Int `json:"variable_borrow_rate"`  // RAY APR
	VariableBorrowIndex *big.Int `json:"variable_borrow_index"` // RAY

	IsActive                 bool     `json:"is_active"`
	IsFrozen                 bool     `json:"is_frozen"`
	BorrowingEnabled         bool     `json:"borrowing_enabled"`
	UsageAsCollateralEnabled bool     `json:"usage_as_collateral_enabled"`
	SupplyCap                *big.Int `json:"supply_cap"`     // whole tokens, 0 = uncapped
	TotalSupplied            *big.Int `json:"total_supplied"` // raw aToken supply

	// Merit incentive APR%, reported off-chain and added post-hoc.
	MeritSupplyAPR *decimal.Decimal `json:"merit_supply_apr,omitempty"`
	MeritBorrowAPR *decimal.Decimal `json:"merit_borrow_apr,omitempty"`

	// User data.
	ScaledATokenBalance          *big.Int `json:"scaled_a_token_balance"`
	LiquidityIndex               *big.Int `json:"liquidity_index"` // RAY
	UsageAsCollateralEnabledUser *bool    `json:"usage_as_collateral_enabled_on_user,omitempty"`
}

// BuildAaveMarkets maps Aave reserves to markets. Inactive reserves are
// dropped. The wrapped-native reserve additionally yields a native-coin
// market that carries the user's balance; the wrapped entry keeps a zero
// balance so the same aTokens are not counted twice.
func BuildAaveMarkets(p Params, reserves []AaveReserve) ([]model.Market, error) {
	prices := p.priceIndex()
	markets := make([]model.Market, 0, len(reserves)+1)

	for _, r := range reserves {
		if !r.IsActive {
			continue
		}

		// aTokens accrue through the liquidity index the same way debt
		// accrues through the borrow index.
		supplied, err := accrual.ActualDebt(r.ScaledATokenBalance, r.LiquidityIndex)
		if err != nil {
			return nil, err
		}

		isWrappedNative := p.WrappedNative != "" &&
			accrual.CanonicalAddress(r.UnderlyingAsset) == accrual.CanonicalAddress(p.WrappedNative)

		if isWrappedNative {
			native, err := aaveMarket(p, prices, r, "", supplied)
			if err != nil {
				return nil, err
			}
			markets = append(markets, native)
			supplied = new(big.Int)
		}

		m, err := aaveMarket(p, prices, r, r.UnderlyingAsset, supplied)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, nil
}

func aaveMarket(p Params, prices priceIndex, r AaveReserve, underlying string, supplied *big.Int) (model.Market, error) {
	id, err := marketid.New(model.ProtocolAave, p.Network, underlying)
	if err != nil {
		return model.Market{}, err
	}

	price := prices.unitPrice(underlying)
	symbol := r.Symbol
	if underlying == "" {
		symbol = nativeSymbol(r.Symbol)
	}

	supplyAPY := yield.AaveBaseAPY(r.LiquidityRate)
	if r.MeritSupplyAPR != nil {
		supplyAPY = yield.SupplyAPY(supplyAPY, *r.MeritSupplyAPR)
	}
	borrowAPY := yield.AaveBaseAPY(r.VariableBorrowRate)
	if r.MeritBorrowAPR != nil {
		borrowAPY = yield.NetBorrowAPY(borrowAPY, *r.MeritBorrowAPR)
	}

	var supplyCap decimal.Decimal
	if r.SupplyCap != nil {
		supplyCap = decimal.NewFromBigInt(r.SupplyCap, 0)
	}

	return model.Market{
		UniqueMarketID: id,
		Protocol:       model.ProtocolAave,
		Network:        p.Network,
		Asset: model.AssetDetails{
			Address:           r.ATokenAddress,
			UnderlyingAddress: underlying,
			Symbol:            symbol,
			Decimals:          r.Decimals,
			Icon:              r.Icon,
			Balance:           balance(supplied, r.Decimals, price),
		},
		SupplyAPY:                supplyAPY,
		BorrowAPY:                borrowAPY,
		HistoricalAPY30d:         p.historical(id),
		BorrowingEnabled:         r.BorrowingEnabled && !r.IsFrozen,
		SupplyCapReached:         capReached(fixedpoint.ToDecimal(r.TotalSupplied, r.Decimals), supplyCap),
		CanBeUsedAsCollateral:    r.UsageAsCollateralEnabled,
		UsageAsCollateralEnabled: r.UsageAsCollateralEnabledUser,
	}, nil
}

// nativeSymbol strips the wrapped prefix: WAVAX -> AVAX, WETH -> ETH.
func nativeSymbol(wrapped string) string {
	if len(wrapped) > 1 && (wrapped[0] == 'W' || wrapped[0] == 'w') {
		return wrapped[1:]
	}
	return wrapped
}

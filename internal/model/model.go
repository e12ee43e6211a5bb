// Package model defines the core domain types shared across the lending
// engine. All monetary values use shopspring/decimal, never float64 for
// money. Every record here is an immutable snapshot rebuilt on each refresh
// cycle.
package model

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/lending-engine/internal/fixedpoint"
)

// Protocol identifies a supported money-market protocol.
type Protocol string

const (
	ProtocolAave  Protocol = "aave"
	ProtocolBenqi Protocol = "benqi"
)

// Valid reports whether p is one of the supported protocols.
func (p Protocol) Valid() bool {
	return p == ProtocolAave || p == ProtocolBenqi
}

// Network is the chain a market lives on.
type Network string

const (
	NetworkAvalanche Network = "avalanche"
	NetworkEthereum  Network = "ethereum"
)

// USD is the currency code for Money values denominated in dollars.
const USD = "USD"

// Money is an amount already expressed in human-readable decimal form.
type Money struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

// NewUSD returns a USD Money value.
func NewUSD(v decimal.Decimal) Money {
	return Money{Value: v, Currency: USD}
}

// Balance is a user's holding snapshot for one asset.
type Balance struct {
	RawBalance   *big.Int `json:"raw_balance"`
	BalanceValue Money    `json:"balance_value"` // rawBalance in USD
	UnitPrice    Money    `json:"unit_price"`
}

// AssetDetails identifies an underlying token. An empty UnderlyingAddress
// means the chain's native coin.
type AssetDetails struct {
	Address           string  `json:"address"` // receipt/mint token (aToken, qiToken)
	UnderlyingAddress string  `json:"underlying_address,omitempty"`
	Symbol            string  `json:"symbol"`
	Decimals          int32   `json:"decimals"`
	Icon              string  `json:"icon,omitempty"`
	Balance           Balance `json:"balance"`
}

// IsNative reports whether the asset is the chain's native coin.
func (a AssetDetails) IsNative() bool {
	return a.UnderlyingAddress == ""
}

// Market is one lending pool for one asset on one protocol.
type Market struct {
	UniqueMarketID        string           `json:"unique_market_id"`
	Protocol              Protocol         `json:"protocol"`
	Network               Network          `json:"network"`
	Asset                 AssetDetails     `json:"asset"`
	SupplyAPY             decimal.Decimal  `json:"supply_apy"` // percent
	BorrowAPY             decimal.Decimal  `json:"borrow_apy"` // percent, net of rewards
	HistoricalAPY30d      *decimal.Decimal `json:"historical_apy_30d,omitempty"`
	BorrowingEnabled      bool             `json:"borrowing_enabled"`
	SupplyCapReached      bool             `json:"supply_cap_reached"`
	CanBeUsedAsCollateral bool             `json:"can_be_used_as_collateral"`

	// UsageAsCollateralEnabled is the user's own collateral toggle. Only
	// protocols that expose it set the field.
	UsageAsCollateralEnabled *bool `json:"usage_as_collateral_enabled,omitempty"`
}

// BorrowPosition is a user's outstanding debt in one market.
type BorrowPosition struct {
	Market      Market          `json:"market"`
	RawDebt     *big.Int        `json:"raw_debt"`
	Amount      decimal.Decimal `json:"amount"`
	BorrowedUSD decimal.Decimal `json:"borrowed_usd"`
}

// RiskLevel labels liquidation risk derived from a health score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
)

// BorrowSummary is the portfolio-level aggregate for one protocol, or for
// all protocols combined.
type BorrowSummary struct {
	NetWorthUSD     decimal.Decimal  `json:"net_worth_usd"`
	NetAPY          decimal.Decimal  `json:"net_apy"`           // percent
	BorrowPowerUsed decimal.Decimal  `json:"borrow_power_used"` // percent
	HealthScore     *decimal.Decimal `json:"health_score,omitempty"`
	Risk            *RiskLevel       `json:"risk,omitempty"`
}

// AaveCapacity holds the figures returned by the Aave pool's
// getUserAccountData. USD values are in the pool's base currency
// (8 decimals); HealthFactor is WAD.
type AaveCapacity struct {
	TotalCollateralUSD          fixedpoint.Amount `json:"total_collateral_usd"`
	TotalDebtUSD                fixedpoint.Amount `json:"total_debt_usd"`
	AvailableBorrowsUSD         fixedpoint.Amount `json:"available_borrows_usd"`
	CurrentLiquidationThreshold *big.Int          `json:"current_liquidation_threshold"` // bps
	LTV                         *big.Int          `json:"ltv"`                           // bps
	HealthFactor                fixedpoint.Amount `json:"health_factor"`
}

// BenqiCapacity holds the figures returned by the Benqi comptroller's
// getAccountLiquidity (WAD USD). The comptroller reports no total debt, so
// callers may supply one; otherwise the position sum is used.
type BenqiCapacity struct {
	Liquidity    fixedpoint.Amount  `json:"liquidity"`
	Shortfall    fixedpoint.Amount  `json:"shortfall"`
	TotalDebtUSD *fixedpoint.Amount `json:"total_debt_usd,omitempty"`
}

// ProtocolSnapshot is the computed state of one protocol for one account.
type ProtocolSnapshot struct {
	Protocol  Protocol         `json:"protocol"`
	Markets   []Market         `json:"markets"`
	Positions []BorrowPosition `json:"positions"`
	Summary   *BorrowSummary   `json:"summary,omitempty"`
}

// PortfolioSnapshot is one refresh cycle's result for an account.
type PortfolioSnapshot struct {
	ID          string             `json:"id"`
	Account     string             `json:"account"`
	BlockNumber uint64             `json:"block_number,omitempty"`
	Protocols   []ProtocolSnapshot `json:"protocols"`
	Combined    *BorrowSummary     `json:"combined,omitempty"`
	ComputedAt  time.Time          `json:"computed_at"`
}

package position

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/lending-engine/internal/marketid"
	"github.com/atmx/lending-engine/internal/model"
)

const (
	wavax = "0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7"
	usdc  = "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"
	dai   = "0xd586E7F844cEa2F87f50152665BCbc2C279D8d70"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func bi(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad big int literal: " + s)
	}
	return v
}

func testMarket(p model.Protocol, underlying, symbol string, decimals int32, price float64) model.Market {
	id, err := marketid.New(p, model.NetworkAvalanche, underlying)
	if err != nil {
		panic(err)
	}
	return model.Market{
		UniqueMarketID: id,
		Protocol:       p,
		Network:        model.NetworkAvalanche,
		Asset: model.AssetDetails{
			UnderlyingAddress: underlying,
			Symbol:            symbol,
			Decimals:          decimals,
			Balance: model.Balance{
				RawBalance: new(big.Int),
				UnitPrice:  model.NewUSD(d(price)),
			},
		},
	}
}

func catalog(p model.Protocol) []model.Market {
	return []model.Market{
		testMarket(p, "", "AVAX", 18, 25),
		testMarket(p, wavax, "WAVAX", 18, 25),
		testMarket(p, usdc, "USDC", 6, 1),
		testMarket(p, dai, "DAI", 18, 1),
	}
}

func TestBuild_NativeUsesWrappedKey(t *testing.T) {
	debt := map[string]*big.Int{
		"0xb31f66aa3c1e785363f0875a1b74e27b85fd66c7": bi("2000000000000000000"), // 2 AVAX
	}
	positions := Build(catalog(model.ProtocolAave), debt, wavax)

	if len(positions) != 1 {
		t.Fatalf("expected 1 position (native only), got %d", len(positions))
	}
	p := positions[0]
	if !p.Market.Asset.IsNative() {
		t.Errorf("debt should be shown under the native market, got %s", p.Market.Asset.Symbol)
	}
	if !p.Amount.Equal(d(2)) {
		t.Errorf("expected amount 2, got %s", p.Amount)
	}
	if !p.BorrowedUSD.Equal(d(50)) {
		t.Errorf("expected $50, got %s", p.BorrowedUSD)
	}
}

func TestBuild_WrappedKeptWithoutNativeMarket(t *testing.T) {
	markets := []model.Market{
		testMarket(model.ProtocolBenqi, wavax, "WAVAX", 18, 25),
	}
	debt := map[string]*big.Int{wavax: bi("1000000000000000000")}

	positions := Build(markets, debt, wavax)
	if len(positions) != 1 || positions[0].Market.Asset.Symbol != "WAVAX" {
		t.Fatalf("wrapped market should carry debt when no native market exists, got %+v", positions)
	}
}

func TestBuild_ZeroAndMissingDebtSkipped(t *testing.T) {
	debt := map[string]*big.Int{
		usdc: big.NewInt(0),
		dai:  bi("1500000000000000000"),
	}
	positions := Build(catalog(model.ProtocolBenqi), debt, wavax)

	if len(positions) != 1 {
		t.Fatalf("expected only the DAI position, got %d", len(positions))
	}
	if positions[0].Market.Asset.Symbol != "DAI" {
		t.Errorf("unexpected position %s", positions[0].Market.Asset.Symbol)
	}
	if !positions[0].BorrowedUSD.Equal(d(1.5)) {
		t.Errorf("expected $1.5, got %s", positions[0].BorrowedUSD)
	}
}

func TestBuild_CaseInsensitiveKeys(t *testing.T) {
	debt := map[string]*big.Int{
		"0XB97EF9EF8734C71904D8002F8B6BC66DD9C48A6E": big.NewInt(250000000), // 250 USDC
	}
	positions := Build(catalog(model.ProtocolAave), debt, wavax)
	if len(positions) != 1 || !positions[0].BorrowedUSD.Equal(d(250)) {
		t.Fatalf("expected a $250 USDC position, got %+v", positions)
	}
}

func TestBuild_EmptyIsNotNil(t *testing.T) {
	positions := Build(catalog(model.ProtocolAave), nil, wavax)
	if positions == nil || len(positions) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", positions)
	}
}

func TestPositions_StopsEarly(t *testing.T) {
	debt := map[string]*big.Int{
		usdc: big.NewInt(1),
		dai:  big.NewInt(1),
	}
	count := 0
	for range Positions(catalog(model.ProtocolAave), debt, wavax) {
		count++
		break
	}
	if count != 1 {
		t.Errorf("expected iteration to stop after 1, got %d", count)
	}
}

func TestNew_CopiesRawDebt(t *testing.T) {
	raw := big.NewInt(100)
	p := New(testMarket(model.ProtocolAave, usdc, "USDC", 6, 1), raw)
	raw.SetInt64(999)
	if p.RawDebt.Int64() != 100 {
		t.Error("position should not alias the caller's debt value")
	}
}

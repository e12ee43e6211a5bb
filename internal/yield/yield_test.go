package yield

import (
	"math"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func approx(t *testing.T, name string, got decimal.Decimal, want, tol float64) {
	t.Helper()
	if math.Abs(got.InexactFloat64()-want) > tol {
		t.Errorf("%s: got %s, want ≈ %v", name, got, want)
	}
}

// --- Base-rate compounding ---

func TestBaseAPY_Zero(t *testing.T) {
	if !BaseAPY(decimal.Zero).IsZero() {
		t.Error("zero rate should give zero APY")
	}
}

func TestAaveBaseAPY_FivePercentAPR(t *testing.T) {
	// 5% APR in RAY.
	apr, _ := new(big.Int).SetString("50000000000000000000000000", 10)
	approx(t, "aave 5%", AaveBaseAPY(apr), (math.Exp(0.05)-1)*100, 1e-6)
}

func TestBenqiBaseAPY_PerSecondRate(t *testing.T) {
	// 0.05 / 31536000 per second in WAD.
	rate := big.NewInt(1585489599)
	approx(t, "benqi 5%", BenqiBaseAPY(rate), (math.Exp(0.05)-1)*100, 1e-5)
}

func TestBaseAPY_MatchesAaveForSameRate(t *testing.T) {
	perSecond := d(0.05).Div(decimal.NewFromInt(SecondsPerYear))
	apr, _ := new(big.Int).SetString("50000000000000000000000000", 10)
	diff := BaseAPY(perSecond).Sub(AaveBaseAPY(apr)).Abs()
	if diff.GreaterThan(d(1e-5)) {
		t.Errorf("per-second and RAY APR paths disagree by %s", diff)
	}
}

func TestPerBlockAPY(t *testing.T) {
	// 2-second blocks, 43200 per day; rate chosen so rate*blocks/year = 0.1.
	rate := d(0.1).Div(decimal.NewFromInt(43200 * 365))
	approx(t, "per block", PerBlockAPY(rate, 43200), (math.Exp(0.1)-1)*100, 1e-5)

	if !PerBlockAPY(rate, 0).IsZero() {
		t.Error("zero blocks per day should give zero")
	}
}

// --- Reward overlays ---

func TestRewardAPY(t *testing.T) {
	// 1 token/s at $1 into a pool worth one year of emissions -> exponent 1.
	pool := decimal.NewFromInt(SecondsPerYear)
	approx(t, "reward", RewardAPY(d(1), d(1), pool), (math.E-1)*100, 1e-6)
}

func TestRewardAPY_ZeroPoolValue(t *testing.T) {
	if !RewardAPY(d(1), d(5), decimal.Zero).IsZero() {
		t.Error("zero pool value should contribute nothing")
	}
	if !RewardAPY(d(1), d(5), d(-10)).IsZero() {
		t.Error("negative pool value should contribute nothing")
	}
}

func TestRewardAPY_TinyPoolSaturates(t *testing.T) {
	// $1/s streamed into a $100 pool: the exponent is 315360, far past
	// what exp() can represent in float64.
	got := RewardAPY(d(1), d(1), d(100))
	if !got.Equal(MaxAPY) {
		t.Fatalf("expected saturation at %s, got %s", MaxAPY, got)
	}
	if !NetBorrowAPY(d(3), got).IsNegative() {
		t.Error("saturated reward must still outweigh the borrow rate")
	}
}

func TestCompound_CapsLargeFiniteResults(t *testing.T) {
	// exp(50) ~ 5.2e21, finite but above the cap.
	if got := compound(d(50)); !got.Equal(MaxAPY) {
		t.Errorf("expected %s, got %s", MaxAPY, got)
	}
	// Below the cap is untouched.
	approx(t, "exp(10)", compound(d(10)), math.Expm1(10)*100, 1e-2)
	// Large negative exponents approach -100%, never the cap.
	approx(t, "exp(-800)", compound(d(-800)), -100, 1e-9)
}

func TestRewardAPY_ZeroSpeedOrPrice(t *testing.T) {
	if !RewardAPY(decimal.Zero, d(5), d(1000)).IsZero() {
		t.Error("zero speed should contribute nothing")
	}
	if !RewardAPY(d(1), decimal.Zero, d(1000)).IsZero() {
		t.Error("zero price should contribute nothing")
	}
}

func TestSupplyAPY_SumsOverlays(t *testing.T) {
	got := SupplyAPY(d(2), d(0.5), d(0.25))
	if !got.Equal(d(2.75)) {
		t.Errorf("expected 2.75, got %s", got)
	}
}

func TestNetBorrowAPY_CanGoNegative(t *testing.T) {
	got := NetBorrowAPY(d(3), d(2.5), d(1.5))
	if !got.Equal(d(-1)) {
		t.Errorf("expected -1 (no clamping), got %s", got)
	}
	if !NetBorrowAPY(d(3)).Equal(d(3)) {
		t.Error("no overlays should return base")
	}
}

// --- Historical APY parsing ---

func TestHistoricalAPYIndex(t *testing.T) {
	payload := []byte(`{"status":"success","data":[
		{"pool":"ABC-1","apyMean30d":4.21},
		{"pool":"def-2","apyMean30d":"oops"},
		{"pool":7,"apyMean30d":1.0},
		{"pool":"ghi-3"}
	]}`)

	idx := HistoricalAPYIndex(payload)
	if len(idx) != 1 {
		t.Fatalf("expected 1 well-formed entry, got %d", len(idx))
	}
	if !idx["abc-1"].Equal(d(4.21)) {
		t.Errorf("abc-1: got %s", idx["abc-1"])
	}
}

func TestHistoricalAPYIndex_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `<html>502</html>`},
		{"data not array", `{"data":{"pool":"abc"}}`},
		{"empty", ``},
		{"no data", `{"status":"error"}`},
	}
	for _, tt := range tests {
		if got := HistoricalAPYIndex([]byte(tt.payload)); len(got) != 0 {
			t.Errorf("%s: expected empty index, got %v", tt.name, got)
		}
	}
}

func TestHistoricalAPYIndex_LowercasesPoolIDs(t *testing.T) {
	idx := HistoricalAPYIndex([]byte(`{"data":[{"pool":"ABC","apyMean30d":3.5}]}`))
	if v, ok := idx["abc"]; !ok || !v.Equal(d(3.5)) {
		t.Errorf("expected abc=3.5, got %v", idx)
	}
	if _, ok := idx["ABC"]; ok {
		t.Error("keys should be lowercased")
	}
}

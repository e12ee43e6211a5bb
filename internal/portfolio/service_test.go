package portfolio_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/lending-engine/internal/fixedpoint"
	"github.com/atmx/lending-engine/internal/market"
	"github.com/atmx/lending-engine/internal/model"
	"github.com/atmx/lending-engine/internal/portfolio"
	"github.com/atmx/lending-engine/internal/store"
)

const (
	wavax   = "0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7"
	usdc    = "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"
	account = "0x00000000000000000000000000000000000000Aa"
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

func amount(raw string, decimals int32) fixedpoint.Amount {
	return fixedpoint.NewAmount(bi(raw), decimals)
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*portfolio.Service, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := portfolio.NewService(ms, nil, portfolio.Settings{
		Network:            model.NetworkAvalanche,
		AaveWrappedNative:  wavax,
		BenqiWrappedNative: wavax,
		BufferPercent:      d(1),
	})

	r := chi.NewRouter()
	r.Post("/api/v1/markets/aave", svc.BuildAaveMarkets)
	r.Post("/api/v1/markets/benqi", svc.BuildBenqiMarkets)
	r.Post("/api/v1/positions", svc.BuildPositions)
	r.Post("/api/v1/summary", svc.Summarize)
	r.Post("/api/v1/borrow/max", svc.MaxBorrow)
	r.Post("/api/v1/portfolio/{account}/refresh", svc.RefreshPortfolio)
	r.Get("/api/v1/portfolio/{account}", svc.GetPortfolio)
	r.Get("/api/v1/portfolio/{account}/history", svc.GetPortfolioHistory)

	return svc, ms, r
}

func do(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// aaveState: 4 AVAX supplied ($100), 40 scaled USDC debt at a 1.1 borrow
// index (44 USDC, $44). The pool reports $44 debt, $44 available, HF 2.
func aaveState() *portfolio.AaveState {
	return &portfolio.AaveState{
		Prices: map[string]fixedpoint.Amount{
			wavax: amount("2500000000", 8),
			usdc:  amount("100000000", 8),
		},
		Reserves: []market.AaveReserve{
			{
				UnderlyingAsset:     wavax,
				Symbol:              "WAVAX",
				Decimals:            18,
				IsActive:            true,
				BorrowingEnabled:    true,
				VariableBorrowIndex: bi("1000000000000000000000000000"),
				ScaledATokenBalance: bi("4000000000000000000"),
				LiquidityIndex:      bi("1000000000000000000000000000"),
			},
			{
				UnderlyingAsset:     usdc,
				Symbol:              "USDC",
				Decimals:            6,
				IsActive:            true,
				BorrowingEnabled:    true,
				VariableBorrowIndex: bi("1100000000000000000000000000"),
			},
		},
		ScaledDebt: map[string]*big.Int{
			usdc: bi("40000000"),
		},
		Capacity: model.AaveCapacity{
			TotalCollateralUSD:  amount("10000000000", 8),
			TotalDebtUSD:        amount("4400000000", 8),
			AvailableBorrowsUSD: amount("4400000000", 8),
			HealthFactor:        amount("2000000000000000000", 18),
		},
	}
}

// benqiState: 2 AVAX supplied ($50), 10 USDC borrowed ($10), $20 spare
// liquidity and no total debt from the comptroller.
func benqiState() *portfolio.BenqiState {
	return &portfolio.BenqiState{
		Prices: map[string]fixedpoint.Amount{
			wavax: amount("25000000000000000000", 18),
			usdc:  amount("1000000000000000000000000000000", 30),
		},
		Markets: []market.BenqiMarket{
			{
				QiToken:           "0x5C0401e81Bc07Ca70fAD469b451682c0d747Ef1c",
				Symbol:            "AVAX",
				Decimals:          18,
				CollateralFactor:  bi("500000000000000000"),
				BalanceUnderlying: bi("2000000000000000000"),
			},
			{
				QiToken:          "0xBEb5d47A3f720Ec0a390d04b4d41ED7d9688bC7F",
				UnderlyingAsset:  usdc,
				Symbol:           "USDC",
				Decimals:         6,
				CollateralFactor: bi("850000000000000000"),
			},
		},
		Debt: map[string]*big.Int{
			usdc: bi("10000000"),
		},
		Capacity: model.BenqiCapacity{
			Liquidity: amount("20000000000000000000", 18),
		},
	}
}

func refreshRequest() portfolio.RefreshRequest {
	return portfolio.RefreshRequest{
		BlockNumber: 42,
		Aave:        aaveState(),
		Benqi:       benqiState(),
	}
}

func protocolSnapshot(t *testing.T, snap *model.PortfolioSnapshot, p model.Protocol) model.ProtocolSnapshot {
	t.Helper()
	for _, ps := range snap.Protocols {
		if ps.Protocol == p {
			return ps
		}
	}
	t.Fatalf("protocol %s missing from snapshot", p)
	return model.ProtocolSnapshot{}
}

// --- Refresh cycle ---

func TestCompute_BothProtocols(t *testing.T) {
	svc, _, _ := newTestEnv(t)

	snap, err := svc.Compute(account, refreshRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Account != "0x00000000000000000000000000000000000000aa" {
		t.Errorf("account should be canonicalized, got %s", snap.Account)
	}
	if snap.BlockNumber != 42 {
		t.Errorf("expected block 42, got %d", snap.BlockNumber)
	}

	aave := protocolSnapshot(t, snap, model.ProtocolAave)
	if len(aave.Positions) != 1 {
		t.Fatalf("expected 1 aave position, got %d", len(aave.Positions))
	}
	// 40 scaled * 1.1 index = 44 USDC.
	if aave.Positions[0].RawDebt.Cmp(bi("44000000")) != 0 {
		t.Errorf("expected accrued debt 44000000, got %s", aave.Positions[0].RawDebt)
	}
	s := aave.Summary
	if s == nil {
		t.Fatal("aave summary should be present")
	}
	if !s.NetWorthUSD.Equal(d(56)) {
		t.Errorf("aave net worth: expected 56, got %s", s.NetWorthUSD)
	}
	if !s.BorrowPowerUsed.Equal(d(50)) {
		t.Errorf("aave borrow power: expected 50, got %s", s.BorrowPowerUsed)
	}
	if s.HealthScore == nil || !s.HealthScore.Equal(d(2)) {
		t.Errorf("aave health: expected 2, got %v", s.HealthScore)
	}

	benqi := protocolSnapshot(t, snap, model.ProtocolBenqi)
	bs := benqi.Summary
	if bs == nil {
		t.Fatal("benqi summary should be present")
	}
	if !bs.NetWorthUSD.Equal(d(40)) {
		t.Errorf("benqi net worth: expected 40, got %s", bs.NetWorthUSD)
	}
	// (20 - 0 + 10) / 10 = 3, still moderate at the boundary.
	if bs.HealthScore == nil || !bs.HealthScore.Equal(d(3)) {
		t.Errorf("benqi health: expected 3, got %v", bs.HealthScore)
	}
	if bs.Risk == nil || *bs.Risk != model.RiskModerate {
		t.Errorf("benqi risk: expected moderate, got %v", bs.Risk)
	}

	c := snap.Combined
	if c == nil {
		t.Fatal("combined summary should be present")
	}
	if !c.NetWorthUSD.Equal(d(96)) {
		t.Errorf("combined net worth: expected 96, got %s", c.NetWorthUSD)
	}
	if c.HealthScore == nil || !c.HealthScore.Equal(d(2)) {
		t.Errorf("combined health should be the minimum (2), got %v", c.HealthScore)
	}
}

func TestCompute_HistoricalAPY(t *testing.T) {
	svc, _, _ := newTestEnv(t)

	req := portfolio.RefreshRequest{
		Benqi:         benqiState(),
		HistoricalAPY: json.RawMessage(`{"data":[{"pool":"Pool-AVAX","apyMean30d":4.2},{"pool":"other","apyMean30d":1}]}`),
		HistoricalPools: map[string]string{
			"benqi-avalanche-native": "pool-avax",
		},
	}
	snap, err := svc.Compute(account, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	benqi := protocolSnapshot(t, snap, model.ProtocolBenqi)
	for _, m := range benqi.Markets {
		switch m.UniqueMarketID {
		case "benqi-avalanche-native":
			if m.HistoricalAPY30d == nil || !m.HistoricalAPY30d.Equal(d(4.2)) {
				t.Errorf("expected 30d APY 4.2, got %v", m.HistoricalAPY30d)
			}
		default:
			if m.HistoricalAPY30d != nil {
				t.Errorf("%s should have no 30d APY", m.UniqueMarketID)
			}
		}
	}
}

func TestCompute_NoDebtHasNoSummary(t *testing.T) {
	svc, _, _ := newTestEnv(t)

	state := benqiState()
	state.Debt = nil
	snap, err := svc.Compute(account, portfolio.RefreshRequest{Benqi: state})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Combined != nil {
		t.Errorf("combined summary should be absent without debt, got %+v", snap.Combined)
	}
	if got := protocolSnapshot(t, snap, model.ProtocolBenqi); got.Summary != nil || len(got.Positions) != 0 {
		t.Errorf("expected no positions and no summary, got %+v", got)
	}
}

func TestCompute_Errors(t *testing.T) {
	svc, _, _ := newTestEnv(t)

	if _, err := svc.Compute("", refreshRequest()); !errors.Is(err, portfolio.ErrAccountRequired) {
		t.Errorf("expected ErrAccountRequired, got %v", err)
	}
	if _, err := svc.Compute(account, portfolio.RefreshRequest{}); !errors.Is(err, portfolio.ErrEmptyRefresh) {
		t.Errorf("expected ErrEmptyRefresh, got %v", err)
	}
}

func TestRefresh_PersistsSnapshot(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()

	snap, err := svc.Refresh(ctx, account, refreshRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	latest, err := ms.GetLatestSnapshot(ctx, account)
	if err != nil {
		t.Fatalf("snapshot should be stored: %v", err)
	}
	if latest.ID != snap.ID {
		t.Errorf("expected stored id %s, got %s", snap.ID, latest.ID)
	}
}

// --- HTTP handlers ---

func TestRefreshPortfolio_ThenGet(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/portfolio/"+account+"/refresh", refreshRequest())
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created model.PortfolioSnapshot
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = do(t, router, "GET", "/api/v1/portfolio/"+account, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got model.PortfolioSnapshot
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("expected latest snapshot %s, got %s", created.ID, got.ID)
	}
	if got.Combined == nil || !got.Combined.NetWorthUSD.Equal(d(96)) {
		t.Errorf("combined summary should survive the round trip, got %+v", got.Combined)
	}
}

func TestRefreshPortfolio_EmptyBody(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/portfolio/"+account+"/refresh", portfolio.RefreshRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetPortfolio_NotFound(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "GET", "/api/v1/portfolio/0xnobody", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetPortfolioHistory_Limit(t *testing.T) {
	svc, _, router := newTestEnv(t)
	ctx := context.Background()

	var last string
	for i := 0; i < 3; i++ {
		snap, err := svc.Refresh(ctx, account, refreshRequest())
		if err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
		last = snap.ID
	}

	w := do(t, router, "GET", "/api/v1/portfolio/"+account+"/history?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snaps []model.PortfolioSnapshot
	json.NewDecoder(w.Body).Decode(&snaps)
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if snaps[0].ID != last {
		t.Errorf("history should be newest first")
	}

	w = do(t, router, "GET", "/api/v1/portfolio/"+account+"/history?limit=-1", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative limit: expected 400, got %d", w.Code)
	}
}

func TestGetPortfolioHistory_EmptyIsArray(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "GET", "/api/v1/portfolio/0xnobody/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := bytes.TrimSpace(w.Body.Bytes()); string(got) != "[]" {
		t.Errorf("expected empty array, got %s", got)
	}
}

func TestBuildAaveMarkets_Handler(t *testing.T) {
	_, _, router := newTestEnv(t)
	state := aaveState()

	w := do(t, router, "POST", "/api/v1/markets/aave", portfolio.AaveMarketsRequest{
		Prices:   state.Prices,
		Reserves: state.Reserves,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var markets []model.Market
	json.NewDecoder(w.Body).Decode(&markets)

	// WAVAX surfaces as native AVAX plus WAVAX, then USDC.
	if len(markets) != 3 {
		t.Fatalf("expected 3 markets, got %d", len(markets))
	}
	if markets[0].UniqueMarketID != "aave-avalanche-native" {
		t.Errorf("expected native market first, got %s", markets[0].UniqueMarketID)
	}
	if markets[0].Network != model.NetworkAvalanche {
		t.Errorf("network should default from settings, got %s", markets[0].Network)
	}
}

func TestBuildMarkets_Handler_InvalidNetwork(t *testing.T) {
	_, _, router := newTestEnv(t)
	state := aaveState()

	w := do(t, router, "POST", "/api/v1/markets/aave", portfolio.AaveMarketsRequest{
		Network:  "avalanche-fuji",
		Prices:   state.Prices,
		Reserves: state.Reserves,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, "invalid network") || strings.Contains(body, "asset") {
		t.Errorf("error should name the network, got %s", body)
	}

	w = do(t, router, "POST", "/api/v1/markets/benqi", portfolio.BenqiMarketsRequest{Network: "c-chain"})
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "invalid network") {
		t.Errorf("benqi: expected 400 invalid network, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBuildAaveMarkets_Handler_NetworkIsLowercased(t *testing.T) {
	_, _, router := newTestEnv(t)
	state := aaveState()

	w := do(t, router, "POST", "/api/v1/markets/aave", portfolio.AaveMarketsRequest{
		Network:  "Avalanche",
		Prices:   state.Prices,
		Reserves: state.Reserves,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var markets []model.Market
	json.NewDecoder(w.Body).Decode(&markets)
	for _, m := range markets {
		if m.Network != model.NetworkAvalanche {
			t.Errorf("%s: expected lowercase network, got %s", m.UniqueMarketID, m.Network)
		}
	}
}

func TestBuildBenqiMarkets_Handler_RewardPricesByName(t *testing.T) {
	_, _, router := newTestEnv(t)

	body := []byte(`{
		"prices": {"` + usdc + `": {"raw": 1000000000000000000000000000000, "decimals": 30}},
		"reward_prices": {"qi": "1", "AVAX": "25"},
		"markets": [{
			"qi_token": "0xBEb5d47A3f720Ec0a390d04b4d41ED7d9688bC7F",
			"underlying_asset": "` + usdc + `",
			"symbol": "USDC",
			"decimals": 6,
			"total_supply_underlying": 31536000000000,
			"supply_reward_speeds": {"qi": 1000000000000000000}
		}]
	}`)
	req := httptest.NewRequest("POST", "/api/v1/markets/benqi", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var markets []model.Market
	json.NewDecoder(w.Body).Decode(&markets)
	if len(markets) != 1 {
		t.Fatalf("expected 1 market, got %d", len(markets))
	}
	// 1 QI/s at $1 over a $31.536M pool: annual exponent 1, (e - 1) * 100.
	if markets[0].SupplyAPY.LessThan(d(171.8)) || markets[0].SupplyAPY.GreaterThan(d(171.9)) {
		t.Errorf("expected ~171.83%% supply APY, got %s", markets[0].SupplyAPY)
	}
}

func TestBuildPositions_Handler(t *testing.T) {
	svc, _, router := newTestEnv(t)

	snap, err := svc.Compute(account, portfolio.RefreshRequest{Benqi: benqiState()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	markets := protocolSnapshot(t, snap, model.ProtocolBenqi).Markets

	w := do(t, router, "POST", "/api/v1/positions", portfolio.PositionsRequest{
		Markets: markets,
		Debt:    map[string]*big.Int{wavax: bi("1000000000000000000")},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var positions []model.BorrowPosition
	json.NewDecoder(w.Body).Decode(&positions)

	// Native AVAX debt is keyed under WAVAX (the configured default).
	if len(positions) != 1 || positions[0].Market.UniqueMarketID != "benqi-avalanche-native" {
		t.Fatalf("expected one native position, got %+v", positions)
	}
	if !positions[0].BorrowedUSD.Equal(d(25)) {
		t.Errorf("expected $25 borrowed, got %s", positions[0].BorrowedUSD)
	}
}

func TestSummarize_Handler(t *testing.T) {
	svc, _, router := newTestEnv(t)

	snap, err := svc.Compute(account, portfolio.RefreshRequest{Aave: aaveState()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ps := protocolSnapshot(t, snap, model.ProtocolAave)
	capacity := aaveState().Capacity

	w := do(t, router, "POST", "/api/v1/summary", portfolio.SummaryRequest{
		Protocol:     model.ProtocolAave,
		Markets:      ps.Markets,
		Positions:    ps.Positions,
		AaveCapacity: &capacity,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp portfolio.SummaryResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Summary == nil || !resp.Summary.NetWorthUSD.Equal(d(56)) {
		t.Errorf("expected net worth 56, got %+v", resp.Summary)
	}

	w = do(t, router, "POST", "/api/v1/summary", portfolio.SummaryRequest{Protocol: model.ProtocolBenqi})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing capacity: expected 400, got %d", w.Code)
	}
	w = do(t, router, "POST", "/api/v1/summary", portfolio.SummaryRequest{Protocol: "compound"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown protocol: expected 400, got %d", w.Code)
	}
}

func TestMaxBorrow_DefaultBuffer(t *testing.T) {
	_, _, router := newTestEnv(t)

	// $100 available at $25: 4 tokens less the 1% buffer.
	w := do(t, router, "POST", "/api/v1/borrow/max", portfolio.MaxBorrowRequest{
		AvailableUSD:  amount("10000000000", 8),
		Price:         amount("2500000000", 8),
		TokenDecimals: 18,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp portfolio.MaxBorrowResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Amount.Raw.Cmp(bi("3960000000000000000")) != 0 {
		t.Errorf("expected 3.96e18, got %s", resp.Amount.Raw)
	}
	if !resp.Formatted.Equal(d(3.96)) {
		t.Errorf("expected formatted 3.96, got %s", resp.Formatted)
	}
}

func TestMaxBorrow_QuotedRawAmounts(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/borrow/max", json.RawMessage(`{
		"available_usd": {"raw": "10000000000", "decimals": 8},
		"price": {"raw": "2500000000", "decimals": 8},
		"token_decimals": 18
	}`))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp portfolio.MaxBorrowResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Amount.Raw.Cmp(bi("3960000000000000000")) != 0 {
		t.Errorf("expected 3.96e18, got %s", resp.Amount.Raw)
	}

	w = do(t, router, "POST", "/api/v1/borrow/max", json.RawMessage(`{
		"available_usd": {"raw": "100.5", "decimals": 8},
		"price": {"raw": "2500000000", "decimals": 8},
		"token_decimals": 18
	}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("fractional raw: expected 400, got %d", w.Code)
	}
}

func TestMaxBorrow_InvalidBuffer(t *testing.T) {
	_, _, router := newTestEnv(t)

	buffer := d(150)
	w := do(t, router, "POST", "/api/v1/borrow/max", portfolio.MaxBorrowRequest{
		AvailableUSD:  amount("10000000000", 8),
		Price:         amount("2500000000", 8),
		TokenDecimals: 18,
		BufferPercent: &buffer,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// Package portfolio provides the HTTP handlers and refresh cycle that turn
// raw per-protocol contract reads into markets, borrow positions and
// summaries, then persist and broadcast the result.
//
// All monetary values use shopspring/decimal; raw on-chain integers stay
// math/big until they are scaled.
package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/lending-engine/internal/accrual"
	"github.com/atmx/lending-engine/internal/fixedpoint"
	"github.com/atmx/lending-engine/internal/market"
	"github.com/atmx/lending-engine/internal/metrics"
	"github.com/atmx/lending-engine/internal/model"
	"github.com/atmx/lending-engine/internal/position"
	"github.com/atmx/lending-engine/internal/risk"
	"github.com/atmx/lending-engine/internal/store"
	"github.com/atmx/lending-engine/internal/yield"
)

var (
	ErrAccountRequired = errors.New("account is required")
	ErrEmptyRefresh    = errors.New("refresh needs at least one protocol")
)

// Settings holds the chain-level defaults applied when a request leaves
// them out.
type Settings struct {
	Network            model.Network
	AaveWrappedNative  string
	BenqiWrappedNative string
	BufferPercent      decimal.Decimal
}

// Service computes and serves portfolio snapshots. Refreshes are serialized
// with a mutex (single instance); every computation underneath is pure.
type Service struct {
	store    store.Store
	settings Settings
	mu       sync.Mutex
	wsHub    *WSHub // optional
	now      func() time.Time
}

// NewService creates a portfolio service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, hub *WSHub, settings Settings) *Service {
	return &Service{
		store:    st,
		settings: settings,
		wsHub:    hub,
		now:      time.Now,
	}
}

// AaveState is one consistent read of the Aave pool for an account.
type AaveState struct {
	WrappedNative string                       `json:"wrapped_native,omitempty"`
	Prices        map[string]fixedpoint.Amount `json:"prices"`
	Reserves      []market.AaveReserve         `json:"reserves"`

	// ScaledDebt is the variable debt token's scaledBalanceOf per
	// underlying. It is accrued with each reserve's variable borrow index.
	ScaledDebt map[string]*big.Int `json:"scaled_debt"`
	Capacity   model.AaveCapacity  `json:"capacity"`
}

// BenqiState is one consistent read of the Benqi comptroller and qiTokens
// for an account.
type BenqiState struct {
	WrappedNative string                                `json:"wrapped_native,omitempty"`
	Prices        map[string]fixedpoint.Amount          `json:"prices"`
	RewardPrices  map[market.RewardToken]decimal.Decimal `json:"reward_prices,omitempty"`
	Markets       []market.BenqiMarket                  `json:"markets"`

	// Debt is borrowBalanceStored per underlying; qiAVAX debt is keyed
	// under the wrapped-native address.
	Debt     map[string]*big.Int `json:"debt"`
	Capacity model.BenqiCapacity `json:"capacity"`
}

// RefreshRequest carries everything one refresh cycle reads, all taken at
// the same block.
type RefreshRequest struct {
	BlockNumber uint64      `json:"block_number,omitempty"`
	Aave        *AaveState  `json:"aave,omitempty"`
	Benqi       *BenqiState `json:"benqi,omitempty"`

	// HistoricalAPY is a raw analytics payload ({"data":[{"pool":..,
	// "apyMean30d":..}]}). HistoricalPools maps unique market id to the
	// payload's pool id. A malformed payload is ignored.
	HistoricalAPY   json.RawMessage   `json:"historical_apy,omitempty"`
	HistoricalPools map[string]string `json:"historical_pools,omitempty"`
}

// Compute runs one refresh cycle without persisting it.
func (s *Service) Compute(account string, req RefreshRequest) (*model.PortfolioSnapshot, error) {
	account = store.AccountKey(account)
	if account == "" {
		return nil, ErrAccountRequired
	}
	if req.Aave == nil && req.Benqi == nil {
		return nil, ErrEmptyRefresh
	}

	start := time.Now()
	historical := historicalIndex(req.HistoricalAPY, req.HistoricalPools)

	snap := &model.PortfolioSnapshot{
		ID:          uuid.New().String(),
		Account:     account,
		BlockNumber: req.BlockNumber,
		Protocols:   []model.ProtocolSnapshot{},
		ComputedAt:  s.now().UTC(),
	}

	var inputs []risk.Input
	if req.Aave != nil {
		in, err := s.aaveInput(*req.Aave, historical)
		if err != nil {
			return nil, fmt.Errorf("aave: %w", err)
		}
		inputs = append(inputs, in)
	}
	if req.Benqi != nil {
		in, err := s.benqiInput(*req.Benqi, historical)
		if err != nil {
			return nil, fmt.Errorf("benqi: %w", err)
		}
		inputs = append(inputs, in)
	}

	for _, in := range inputs {
		summary := risk.Summarize(in)
		observe(string(in.Protocol), summary)
		snap.Protocols = append(snap.Protocols, model.ProtocolSnapshot{
			Protocol:  in.Protocol,
			Markets:   in.Markets,
			Positions: in.Positions,
			Summary:   summary,
		})
	}
	snap.Combined = risk.Summarize(inputs...)
	observe("combined", snap.Combined)

	metrics.RefreshLatency.Observe(time.Since(start).Seconds())
	return snap, nil
}

// Refresh computes a snapshot, stores it and broadcasts it to WebSocket
// clients.
func (s *Service) Refresh(ctx context.Context, account string, req RefreshRequest) (*model.PortfolioSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.Compute(account, req)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	attrs := []any{
		"id", snap.ID,
		"account", snap.Account,
		"block", snap.BlockNumber,
		"protocols", len(snap.Protocols),
	}
	if snap.Combined != nil {
		attrs = append(attrs,
			"net_worth_usd", snap.Combined.NetWorthUSD.String(),
			"net_apy", snap.Combined.NetAPY.String(),
		)
	}
	slog.Info("portfolio refreshed", attrs...)

	if s.wsHub != nil {
		s.wsHub.Broadcast(updateMessage(snap))
	}
	return snap, nil
}

func (s *Service) aaveInput(st AaveState, historical map[string]decimal.Decimal) (risk.Input, error) {
	wrapped := s.wrapped(st.WrappedNative, s.settings.AaveWrappedNative)
	markets, err := market.BuildAaveMarkets(market.Params{
		Network:       s.settings.Network,
		WrappedNative: wrapped,
		Prices:        st.Prices,
		HistoricalAPY: historical,
	}, st.Reserves)
	if err != nil {
		return risk.Input{}, err
	}

	indexes := make(map[string]*big.Int, len(st.Reserves))
	for _, r := range st.Reserves {
		indexes[r.UnderlyingAsset] = r.VariableBorrowIndex
	}
	debt, err := accrual.AccrueAll(st.ScaledDebt, indexes)
	if err != nil {
		return risk.Input{}, err
	}

	positions := position.Build(markets, debt, wrapped)
	in := risk.AaveInput(markets, positions, st.Capacity)
	metrics.ReconcileScale.WithLabelValues(string(model.ProtocolAave)).
		Observe(risk.ReconcileScale(positions, in.TotalDebtUSD).InexactFloat64())
	return in, nil
}

func (s *Service) benqiInput(st BenqiState, historical map[string]decimal.Decimal) (risk.Input, error) {
	wrapped := s.wrapped(st.WrappedNative, s.settings.BenqiWrappedNative)
	markets, err := market.BuildBenqiMarkets(market.Params{
		Network:       s.settings.Network,
		WrappedNative: wrapped,
		Prices:        st.Prices,
		HistoricalAPY: historical,
	}, st.Markets, st.RewardPrices)
	if err != nil {
		return risk.Input{}, err
	}

	positions := position.Build(markets, st.Debt, wrapped)
	in := risk.BenqiInput(markets, positions, st.Capacity)
	metrics.ReconcileScale.WithLabelValues(string(model.ProtocolBenqi)).
		Observe(risk.ReconcileScale(positions, in.TotalDebtUSD).InexactFloat64())
	return in, nil
}

func (s *Service) wrapped(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

// historicalIndex resolves 30-day APYs per unique market id.
func historicalIndex(payload json.RawMessage, pools map[string]string) map[string]decimal.Decimal {
	if len(payload) == 0 || len(pools) == 0 {
		return nil
	}
	byPool := yield.HistoricalAPYIndex(payload)
	out := make(map[string]decimal.Decimal, len(pools))
	for marketID, pool := range pools {
		if v, ok := byPool[strings.ToLower(pool)]; ok {
			out[marketID] = v
		}
	}
	return out
}

func observe(protocol string, summary *model.BorrowSummary) {
	if summary == nil {
		metrics.SummariesTotal.WithLabelValues(protocol, "empty").Inc()
		return
	}
	metrics.SummariesTotal.WithLabelValues(protocol, "ok").Inc()
	if summary.HealthScore != nil {
		metrics.HealthScore.WithLabelValues(protocol).Observe(summary.HealthScore.InexactFloat64())
	}
	if summary.Risk != nil {
		metrics.RiskLabels.WithLabelValues(protocol, string(*summary.Risk)).Inc()
	}
}

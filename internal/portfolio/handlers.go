package portfolio

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/lending-engine/internal/borrow"
	"github.com/atmx/lending-engine/internal/fixedpoint"
	"github.com/atmx/lending-engine/internal/market"
	"github.com/atmx/lending-engine/internal/marketid"
	"github.com/atmx/lending-engine/internal/metrics"
	"github.com/atmx/lending-engine/internal/model"
	"github.com/atmx/lending-engine/internal/position"
	"github.com/atmx/lending-engine/internal/risk"
	"github.com/atmx/lending-engine/internal/store"
)

// --- Request/Response types ---

// AaveMarketsRequest is the JSON body for POST /api/v1/markets/aave.
type AaveMarketsRequest struct {
	Network       model.Network                `json:"network,omitempty"`
	WrappedNative string                       `json:"wrapped_native,omitempty"`
	Prices        map[string]fixedpoint.Amount `json:"prices"`
	Reserves      []market.AaveReserve         `json:"reserves"`
	HistoricalAPY map[string]decimal.Decimal   `json:"historical_apy,omitempty"` // by unique market id
}

// BenqiMarketsRequest is the JSON body for POST /api/v1/markets/benqi.
type BenqiMarketsRequest struct {
	Network       model.Network                          `json:"network,omitempty"`
	WrappedNative string                                 `json:"wrapped_native,omitempty"`
	Prices        map[string]fixedpoint.Amount           `json:"prices"`
	RewardPrices  map[market.RewardToken]decimal.Decimal `json:"reward_prices,omitempty"`
	Markets       []market.BenqiMarket                   `json:"markets"`
	HistoricalAPY map[string]decimal.Decimal             `json:"historical_apy,omitempty"`
}

// PositionsRequest is the JSON body for POST /api/v1/positions. Debt holds
// actual (already accrued) debt per underlying address.
type PositionsRequest struct {
	Markets       []model.Market      `json:"markets"`
	Debt          map[string]*big.Int `json:"debt"`
	WrappedNative string              `json:"wrapped_native,omitempty"`
}

// SummaryRequest is the JSON body for POST /api/v1/summary. Exactly the
// capacity matching Protocol is read.
type SummaryRequest struct {
	Protocol      model.Protocol         `json:"protocol"`
	Markets       []model.Market         `json:"markets"`
	Positions     []model.BorrowPosition `json:"positions"`
	AaveCapacity  *model.AaveCapacity    `json:"aave_capacity,omitempty"`
	BenqiCapacity *model.BenqiCapacity   `json:"benqi_capacity,omitempty"`
}

// SummaryResponse wraps a summary, which is null when there is no debt.
type SummaryResponse struct {
	Protocol model.Protocol       `json:"protocol"`
	Summary  *model.BorrowSummary `json:"summary"`
}

// MaxBorrowRequest is the JSON body for POST /api/v1/borrow/max.
type MaxBorrowRequest struct {
	AvailableUSD  fixedpoint.Amount `json:"available_usd"`
	Price         fixedpoint.Amount `json:"price"`
	TokenDecimals int32             `json:"token_decimals"`
	BufferPercent *decimal.Decimal  `json:"buffer_percent,omitempty"`
}

// MaxBorrowResponse is the quote returned from POST /api/v1/borrow/max.
type MaxBorrowResponse struct {
	Amount        fixedpoint.Amount `json:"amount"`
	Formatted     decimal.Decimal   `json:"formatted"`
	BufferPercent decimal.Decimal   `json:"buffer_percent"`
}

// --- HTTP Handlers ---

// BuildAaveMarkets handles POST /api/v1/markets/aave
func (s *Service) BuildAaveMarkets(w http.ResponseWriter, r *http.Request) {
	var req AaveMarketsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	network, err := s.network(req.Network)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	markets, err := market.BuildAaveMarkets(market.Params{
		Network:       network,
		WrappedNative: s.wrapped(req.WrappedNative, s.settings.AaveWrappedNative),
		Prices:        req.Prices,
		HistoricalAPY: req.HistoricalAPY,
	}, req.Reserves)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, markets)
}

// BuildBenqiMarkets handles POST /api/v1/markets/benqi
func (s *Service) BuildBenqiMarkets(w http.ResponseWriter, r *http.Request) {
	var req BenqiMarketsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	network, err := s.network(req.Network)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	markets, err := market.BuildBenqiMarkets(market.Params{
		Network:       network,
		WrappedNative: s.wrapped(req.WrappedNative, s.settings.BenqiWrappedNative),
		Prices:        req.Prices,
		HistoricalAPY: req.HistoricalAPY,
	}, req.Markets, req.RewardPrices)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, markets)
}

// BuildPositions handles POST /api/v1/positions
func (s *Service) BuildPositions(w http.ResponseWriter, r *http.Request) {
	var req PositionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	wrapped := req.WrappedNative
	if wrapped == "" && len(req.Markets) > 0 {
		switch req.Markets[0].Protocol {
		case model.ProtocolAave:
			wrapped = s.settings.AaveWrappedNative
		case model.ProtocolBenqi:
			wrapped = s.settings.BenqiWrappedNative
		}
	}

	writeJSON(w, http.StatusOK, position.Build(req.Markets, req.Debt, wrapped))
}

// Summarize handles POST /api/v1/summary
func (s *Service) Summarize(w http.ResponseWriter, r *http.Request) {
	var req SummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var summary *model.BorrowSummary
	switch req.Protocol {
	case model.ProtocolAave:
		if req.AaveCapacity == nil {
			writeError(w, "aave_capacity is required", http.StatusBadRequest)
			return
		}
		summary = risk.ComputeAaveSummary(req.Markets, req.Positions, *req.AaveCapacity)
	case model.ProtocolBenqi:
		if req.BenqiCapacity == nil {
			writeError(w, "benqi_capacity is required", http.StatusBadRequest)
			return
		}
		summary = risk.ComputeBenqiSummary(req.Markets, req.Positions, *req.BenqiCapacity)
	default:
		writeError(w, "protocol must be aave or benqi", http.StatusBadRequest)
		return
	}
	observe(string(req.Protocol), summary)

	writeJSON(w, http.StatusOK, SummaryResponse{Protocol: req.Protocol, Summary: summary})
}

// MaxBorrow handles POST /api/v1/borrow/max
// Quotes the largest borrow that stays inside the configured buffer.
func (s *Service) MaxBorrow(w http.ResponseWriter, r *http.Request) {
	var req MaxBorrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AvailableUSD.Raw == nil || req.Price.Raw == nil {
		writeError(w, "available_usd and price are required", http.StatusBadRequest)
		return
	}

	buffer := s.settings.BufferPercent
	if req.BufferPercent != nil {
		buffer = *req.BufferPercent
	}

	raw, err := borrow.MaxSafeBorrowAmount(req.AvailableUSD, req.Price, req.TokenDecimals, borrow.WithBuffer(buffer))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	metrics.BorrowQuotes.Inc()

	amount := fixedpoint.NewAmount(raw, req.TokenDecimals)
	writeJSON(w, http.StatusOK, MaxBorrowResponse{
		Amount:        amount,
		Formatted:     amount.Decimal(),
		BufferPercent: buffer,
	})
}

// RefreshPortfolio handles POST /api/v1/portfolio/{account}/refresh
func (s *Service) RefreshPortfolio(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	snap, err := s.Refresh(r.Context(), account, req)
	switch {
	case errors.Is(err, ErrAccountRequired), errors.Is(err, ErrEmptyRefresh):
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		slog.Error("portfolio refresh failed", "account", account, "err", err)
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	writeJSON(w, http.StatusCreated, snap)
}

// GetPortfolio handles GET /api/v1/portfolio/{account}
// Returns the most recent stored snapshot.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	snap, err := s.store.GetLatestSnapshot(r.Context(), account)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "portfolio not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// GetPortfolioHistory handles GET /api/v1/portfolio/{account}/history
// Returns stored snapshots newest first, optionally capped by ?limit=N.
func (s *Service) GetPortfolioHistory(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	snaps, err := s.store.ListSnapshots(r.Context(), account, limit)
	if err != nil {
		writeError(w, "failed to load portfolio history", http.StatusInternalServerError)
		return
	}
	if snaps == nil {
		snaps = []model.PortfolioSnapshot{}
	}

	writeJSON(w, http.StatusOK, snaps)
}

// network resolves a request's network, falling back to the configured one,
// and rejects names that cannot form a market id.
func (s *Service) network(n model.Network) (model.Network, error) {
	if n == "" {
		n = s.settings.Network
	}
	if !marketid.ValidNetwork(n) {
		return "", fmt.Errorf("invalid network %q: use lowercase letters and digits only (e.g. avalanche)", n)
	}
	return model.Network(strings.ToLower(string(n))), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

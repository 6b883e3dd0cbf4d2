// Package trade provides the HTTP handlers and business logic for executing
// buy/sell orders and querying trade history and portfolios.
//
// All monetary values use shopspring/decimal, never float64.
package trade

import (
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/mocktrade/trading-engine/internal/auth"
	"github.com/mocktrade/trading-engine/internal/httpx"
	"github.com/mocktrade/trading-engine/internal/model"
	"github.com/mocktrade/trading-engine/internal/portfolio"
	"github.com/mocktrade/trading-engine/internal/store"
)

// HistoryLimit is the number of trades returned by GET /trades.
const HistoryLimit = 50

// Service exposes the executor and valuator over HTTP.
type Service struct {
	exec     *Executor
	valuator *portfolio.Valuator
	store    store.Store
	wsHub    *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(exec *Executor, valuator *portfolio.Valuator, st store.Store, hub *WSHub) *Service {
	return &Service{
		exec:     exec,
		valuator: valuator,
		store:    st,
		wsHub:    hub,
	}
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /trades.
type TradeRequest struct {
	AssetID  string          `json:"assetId"`
	Type     string          `json:"type"` // "buy" or "sell"
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// TradeResponse is the JSON body returned from POST /trades.
type TradeResponse struct {
	Message string      `json:"message"`
	Trade   model.Trade `json:"trade"`
}

// --- HTTP Handlers ---

// ExecuteTrade handles POST /trades
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, auth.ErrMissingToken.Error(), http.StatusUnauthorized)
		return
	}

	var req TradeRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if req.AssetID == "" || req.Type == "" || req.Quantity.IsZero() || req.Price.IsZero() {
		httpx.WriteError(w, "all trade fields are required", http.StatusBadRequest)
		return
	}
	if req.Type != model.SideBuy && req.Type != model.SideSell {
		httpx.WriteError(w, `trade type must be "buy" or "sell"`, http.StatusBadRequest)
		return
	}

	trade, err := s.exec.Execute(r.Context(), Order{
		AccountID: claims.AccountID,
		AssetID:   req.AssetID,
		Side:      req.Type,
		Quantity:  req.Quantity,
		Price:     req.Price,
	})
	if err != nil {
		httpx.Fail(w, r, err, statusFor(err))
		return
	}

	// Broadcast the fill via WebSocket.
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:        "trade_executed",
			AssetID:     trade.AssetID,
			AssetTicker: trade.AssetTicker,
			Side:        trade.Side,
			Quantity:    trade.Quantity.String(),
			Price:       trade.Price.String(),
		})
	}

	httpx.WriteJSON(w, http.StatusCreated, TradeResponse{
		Message: "Trade executed successfully",
		Trade:   *trade,
	})
}

// ListTrades handles GET /trades
// Returns the caller's most recent trades, newest first.
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, auth.ErrMissingToken.Error(), http.StatusUnauthorized)
		return
	}

	trades, err := s.store.ListTrades(r.Context(), claims.AccountID, HistoryLimit)
	if err != nil {
		httpx.Fail(w, r, err, http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	httpx.WriteJSON(w, http.StatusOK, trades)
}

// GetPortfolio handles GET /trades/portfolio
// Returns the caller's positions marked to current quotes.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, auth.ErrMissingToken.Error(), http.StatusUnauthorized)
		return
	}

	views, err := s.valuator.Valuate(r.Context(), claims.AccountID)
	if err != nil {
		httpx.Fail(w, r, err, http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, views)
}

// statusFor maps executor errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrAssetNotFound), errors.Is(err, ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidOrder),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInsufficientShares):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Package trade provides the HTTP handlers and business logic for
// creating markets, executing trades, resolving outcomes, and querying
// wallets, positions, and the leaderboard.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clearbook/market-engine/internal/book"
	"github.com/clearbook/market-engine/internal/history"
	"github.com/clearbook/market-engine/internal/ledger"
	"github.com/clearbook/market-engine/internal/metrics"
	"github.com/clearbook/market-engine/internal/model"
	"github.com/clearbook/market-engine/internal/pricing"
	"github.com/clearbook/market-engine/internal/risk"
	"github.com/clearbook/market-engine/internal/settle"
	"github.com/clearbook/market-engine/internal/store"
)

// ErrMarketNotOpen is returned when trading is attempted on a market
// whose status is not open. The close date is advisory; only status
// gates trading.
var ErrMarketNotOpen = errors.New("trade: market is not open for trading")

// Service handles market operations. Every trade and resolution executes
// inside a single store transaction, so concurrent requests on the same
// user or market serialize at the store.
type Service struct {
	store    store.Store
	limiter  *risk.PositionLimiter
	settler  *settle.Service
	recorder *history.Recorder
	wsHub    *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, limiter *risk.PositionLimiter, hub *WSHub) *Service {
	return &Service{
		store:    st,
		limiter:  limiter,
		settler:  settle.NewService(st),
		recorder: history.NewRecorder(st),
		wsHub:    hub,
	}
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Question  string          `json:"question"`
	Category  string          `json:"category"`
	CloseDate time.Time       `json:"close_date"`
	Liquidity decimal.Decimal `json:"liquidity"`
	YesPrice  decimal.Decimal `json:"yes_price"` // initial; 0 → 0.5
}

// TradeRequest is the JSON body for POST /trade.
type TradeRequest struct {
	UserID    string          `json:"user_id"`
	MarketID  string          `json:"market_id"`
	Side      model.Side      `json:"side"`      // "yes" or "no"
	Direction model.Direction `json:"direction"` // "buy" or "sell"
	Shares    decimal.Decimal `json:"shares"`
}

// TradeResponse is the JSON body returned from POST /trade.
type TradeResponse struct {
	UserID     string          `json:"user_id"`
	MarketID   string          `json:"market_id"`
	Side       model.Side      `json:"side"`
	Direction  model.Direction `json:"direction"`
	Shares     decimal.Decimal `json:"shares"`
	Price      decimal.Decimal `json:"price"`  // execution price per share
	Amount     decimal.Decimal `json:"amount"` // total cost (buy) or proceeds (sell)
	NewBalance decimal.Decimal `json:"new_balance"`
	YesPrice   decimal.Decimal `json:"yes_price"` // post-impact
	NoPrice    decimal.Decimal `json:"no_price"`
	Position   *model.Position `json:"position"` // nil after full liquidation
}

// ResolveRequest is the JSON body for POST /markets/{marketID}/resolve.
type ResolveRequest struct {
	Outcome model.Side `json:"outcome"`
}

// WalletResponse is returned from wallet endpoints.
type WalletResponse struct {
	UserID       string          `json:"user_id"`
	Balance      decimal.Decimal `json:"balance"`
	BonusGranted bool            `json:"bonus_granted"`
}

// --- Market handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		writeError(w, "question is required", http.StatusBadRequest)
		return
	}

	yes := req.YesPrice
	if yes.IsZero() {
		yes = decimal.NewFromFloat(0.5)
	}
	if yes.LessThan(pricing.MinPrice) || yes.GreaterThan(pricing.MaxPrice) {
		writeError(w, "yes_price must be within [0.01, 0.99]", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	market := &model.Market{
		ID:        uuid.New().String(),
		Question:  req.Question,
		Category:  req.Category,
		YesPrice:  yes,
		NoPrice:   decimal.NewFromInt(1).Sub(yes),
		Volume:    decimal.Zero,
		Liquidity: req.Liquidity,
		CloseDate: req.CloseDate,
		Status:    model.StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateMarket(r.Context(), market); err != nil {
		writeError(w, "failed to create market", http.StatusConflict)
		return
	}

	slog.Info("market created",
		"id", market.ID,
		"question", market.Question,
		"category", market.Category,
		"yes_price", market.YesPrice.String(),
	)

	writeJSON(w, http.StatusCreated, market)
}

// ListMarkets handles GET /api/v1/markets
// Returns all markets, optionally filtered by ?category=<name>.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}

	if category := r.URL.Query().Get("category"); category != "" {
		filtered := []model.Market{}
		for _, m := range markets {
			if m.Category == category {
				filtered = append(filtered, m)
			}
		}
		markets = filtered
	}

	writeJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// GetPrice handles GET /api/v1/markets/{marketID}/price
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	market, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{
		"yes": market.YesPrice,
		"no":  market.NoPrice,
	})
}

// GetMarketHistory handles GET /api/v1/markets/{marketID}/history
// Returns the market's daily price snapshots, oldest first.
func (s *Service) GetMarketHistory(w http.ResponseWriter, r *http.Request) {
	points, err := s.store.ListPricePoints(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "failed to get market history", http.StatusInternalServerError)
		return
	}
	if points == nil {
		points = []model.PricePoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

// --- Trade execution ---

// ExecuteTrade handles POST /api/v1/trade
// Debits or credits the wallet, applies the fill to the position book,
// and moves the market price — all inside one store transaction.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if !req.Side.Valid() {
		writeError(w, "side must be yes or no", http.StatusBadRequest)
		return
	}
	if !req.Direction.Valid() {
		writeError(w, "direction must be buy or sell", http.StatusBadRequest)
		return
	}
	if req.Shares.LessThanOrEqual(decimal.Zero) {
		metrics.TradeRejections.WithLabelValues("invalid_quantity").Inc()
		writeError(w, "shares must be positive", http.StatusBadRequest)
		return
	}

	start := time.Now()
	resp, err := s.executeTrade(r, &req)
	if err != nil {
		s.writeTradeError(w, err)
		return
	}
	metrics.TradesTotal.WithLabelValues(string(req.Side), string(req.Direction)).Inc()
	metrics.TradeLatency.WithLabelValues(string(req.Direction)).Observe(time.Since(start).Seconds())

	slog.Info("trade executed",
		"user", req.UserID,
		"market", req.MarketID,
		"side", req.Side,
		"direction", req.Direction,
		"shares", req.Shares.String(),
		"price", resp.Price.String(),
		"amount", resp.Amount.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "trade_executed",
			MarketID: req.MarketID,
			YesPrice: resp.YesPrice.String(),
			NoPrice:  resp.NoPrice.String(),
			Side:     string(req.Side),
			Shares:   req.Shares.String(),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// executeTrade runs the ledger→book→pricing sequence for one trade
// inside a single store transaction.
func (s *Service) executeTrade(r *http.Request, req *TradeRequest) (*TradeResponse, error) {
	ctx := r.Context()
	resp := &TradeResponse{
		UserID:    req.UserID,
		MarketID:  req.MarketID,
		Side:      req.Side,
		Direction: req.Direction,
		Shares:    req.Shares,
	}

	err := s.store.ExecTx(ctx, func(tx store.Tx) error {
		market, err := tx.GetMarket(ctx, req.MarketID)
		if err != nil {
			return err
		}
		if market.Status != model.StatusOpen {
			return ErrMarketNotOpen
		}

		price := pricing.SidePrice(market, req.Side)
		amount := req.Shares.Mul(price)
		resp.Price = price
		resp.Amount = amount

		pos, err := tx.GetPosition(ctx, req.UserID, req.MarketID, req.Side)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			pos = nil
		}

		entry := ledger.Entry{
			MarketID: market.ID,
			Side:     req.Side,
			Shares:   req.Shares,
			Price:    price,
		}

		if req.Direction == model.DirectionBuy {
			exposures, err := tx.ListUserExposures(ctx, req.UserID)
			if err != nil {
				return err
			}
			if err := s.limiter.CheckLimit(market.ID, market.Category, req.Shares, exposures); err != nil {
				return err
			}

			entry.Type = model.TxBuy
			newBalance, err := ledger.Adjust(ctx, tx, req.UserID, amount.Neg(), entry)
			if err != nil {
				return err
			}
			resp.NewBalance = newBalance

			newPos, err := book.ApplyFill(pos, req.UserID, req.MarketID, req.Side, req.Shares, price, req.Direction)
			if err != nil {
				return err
			}
			if err := tx.UpsertPosition(ctx, newPos); err != nil {
				return err
			}
			resp.Position = newPos
		} else {
			newPos, err := book.ApplyFill(pos, req.UserID, req.MarketID, req.Side, req.Shares, price, req.Direction)
			if err != nil {
				return err
			}
			if newPos == nil {
				if err := tx.DeletePosition(ctx, req.UserID, req.MarketID, req.Side); err != nil {
					return err
				}
			} else {
				if err := tx.UpsertPosition(ctx, newPos); err != nil {
					return err
				}
			}
			resp.Position = newPos

			entry.Type = model.TxSell
			newBalance, err := ledger.Adjust(ctx, tx, req.UserID, amount, entry)
			if err != nil {
				return err
			}
			resp.NewBalance = newBalance
		}

		quote := pricing.ApplyImpact(market, req.Side, req.Shares, req.Direction)
		if err := tx.UpdateMarketPrices(ctx, market.ID, quote.YesPrice, quote.NoPrice, quote.Volume); err != nil {
			return err
		}
		resp.YesPrice = quote.YesPrice
		resp.NoPrice = quote.NoPrice
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// writeTradeError maps trade failures to HTTP responses and rejection
// metrics.
func (s *Service) writeTradeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "market not found", http.StatusNotFound)
	case errors.Is(err, ledger.ErrUserNotFound):
		writeError(w, "user has no wallet", http.StatusNotFound)
	case errors.Is(err, ErrMarketNotOpen):
		metrics.TradeRejections.WithLabelValues("market_not_open").Inc()
		writeError(w, "market is not open for trading", http.StatusConflict)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		metrics.TradeRejections.WithLabelValues("insufficient_funds").Inc()
		writeError(w, "insufficient funds", http.StatusPaymentRequired)
	case errors.Is(err, book.ErrInsufficientShares):
		metrics.TradeRejections.WithLabelValues("insufficient_shares").Inc()
		writeError(w, "insufficient shares", http.StatusConflict)
	case errors.Is(err, book.ErrInvalidQuantity):
		metrics.TradeRejections.WithLabelValues("invalid_quantity").Inc()
		writeError(w, "shares must be positive", http.StatusBadRequest)
	case errors.Is(err, risk.ErrPerMarketLimitExceeded), errors.Is(err, risk.ErrCategoryLimitExceeded):
		metrics.TradeRejections.WithLabelValues("position_limit").Inc()
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrConflict):
		writeError(w, "temporary conflict, please retry", http.StatusServiceUnavailable)
	default:
		slog.Error("trade failed", "err", err)
		writeError(w, "trade failed", http.StatusInternalServerError)
	}
}

// --- Settlement ---

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve
func (s *Service) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Outcome.Valid() {
		writeError(w, "outcome must be yes or no", http.StatusBadRequest)
		return
	}

	result, err := s.settler.Resolve(r.Context(), marketID, req.Outcome)
	switch {
	case errors.Is(err, settle.ErrAlreadyResolved):
		writeError(w, "market already resolved", http.StatusConflict)
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "market not found", http.StatusNotFound)
		return
	case err != nil:
		slog.Error("resolution failed", "market", marketID, "err", err)
		writeError(w, "resolution failed", http.StatusInternalServerError)
		return
	}

	metrics.SettlementsTotal.WithLabelValues(string(req.Outcome)).Inc()

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "market_resolved",
			MarketID: marketID,
			Outcome:  string(req.Outcome),
		})
	}

	writeJSON(w, http.StatusOK, result)
}

// --- Wallet, positions, journal, leaderboard ---

// EnsureWallet handles POST /api/v1/users/{userID}/wallet
// First-login path: creates the wallet and credits the signup bonus
// exactly once. Safe to call on every login.
func (s *Service) EnsureWallet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	var wallet *model.Balance
	var granted bool
	err := s.store.ExecTx(ctx, func(tx store.Tx) error {
		var err error
		wallet, granted, err = ledger.EnsureWallet(ctx, tx, userID)
		return err
	})
	if err != nil {
		slog.Error("wallet init failed", "user", userID, "err", err)
		writeError(w, "failed to initialize wallet", http.StatusInternalServerError)
		return
	}

	if granted {
		metrics.SignupBonusesGranted.Inc()
		slog.Info("signup bonus granted", "user", userID, "amount", ledger.SignupBonus.String())
	}

	writeJSON(w, http.StatusOK, WalletResponse{
		UserID:       wallet.UserID,
		Balance:      wallet.Amount,
		BonusGranted: wallet.BonusGranted,
	})
}

// GetWallet handles GET /api/v1/users/{userID}/wallet
func (s *Service) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	b, err := s.store.GetBalance(r.Context(), userID)
	if err != nil {
		writeError(w, "user has no wallet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, WalletResponse{
		UserID:       b.UserID,
		Balance:      b.Amount,
		BonusGranted: b.BonusGranted,
	})
}

// GetUserPositions handles GET /api/v1/users/{userID}/positions
// Positions are marked to market against the current side price.
func (s *Service) GetUserPositions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	positions, err := s.store.ListUserPositions(ctx, userID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}

	views := []model.PositionView{}
	for _, p := range positions {
		view := model.PositionView{Position: p}
		if m, err := s.store.GetMarket(ctx, p.MarketID); err == nil {
			view.Question = m.Question
			view.CurrentPrice = pricing.SidePrice(m, p.Side)
			view.CurrentValue = p.Shares.Mul(view.CurrentPrice)
			view.UnrealizedPnL = view.CurrentValue.Sub(p.CostBasis())
		}
		views = append(views, view)
	}

	writeJSON(w, http.StatusOK, views)
}

// GetUserTransactions handles GET /api/v1/users/{userID}/transactions
func (s *Service) GetUserTransactions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListUserTransactions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to load transactions", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Leaderboard handles GET /api/v1/leaderboard
// Returns the top 20 balances.
func (s *Service) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListTopBalances(r.Context(), 20)
	if err != nil {
		writeError(w, "failed to load leaderboard", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Price history (admin) ---

// RecordDaily handles POST /api/v1/admin/price-history/record
// Body: {"as_of": "<RFC3339>"} — defaults to now.
func (s *Service) RecordDaily(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AsOf time.Time `json:"as_of"`
	}
	// Body is optional; decode errors leave AsOf zero.
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.AsOf.IsZero() {
		req.AsOf = time.Now().UTC()
	}

	updated, err := s.recorder.RecordDaily(r.Context(), req.AsOf)
	if err != nil {
		slog.Error("daily recording failed", "err", err)
		writeError(w, "recording failed", http.StatusInternalServerError)
		return
	}
	metrics.PricePointsInserted.Add(float64(updated))
	writeJSON(w, http.StatusOK, map[string]int{"markets_updated": updated})
}

// Backfill handles POST /api/v1/admin/price-history/backfill
// Body: {"through": "<RFC3339>"} — defaults to now.
func (s *Service) Backfill(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Through time.Time `json:"through"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Through.IsZero() {
		req.Through = time.Now().UTC()
	}

	result, err := s.recorder.Backfill(r.Context(), req.Through)
	if err != nil {
		slog.Error("backfill failed", "err", err)
		writeError(w, "backfill failed", http.StatusInternalServerError)
		return
	}
	metrics.PricePointsInserted.Add(float64(result.PointsAdded))
	writeJSON(w, http.StatusOK, result)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearbook/market-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a transaction could not be committed
	// after bounded retries were exhausted. Callers treat it as
	// a transient failure, not user error.
	ErrConflict = errors.New("store: transaction conflict")
)

// Tx is the set of row operations available inside a store transaction.
// Every trade, resolution, and recorder run executes entirely within one
// ExecTx callback so that all its writes commit or roll back together.
type Tx interface {
	// --- Markets ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, m *model.Market) error

	// GetMarket retrieves a market by ID. Inside a transaction the row
	// is locked for the duration.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets, newest first.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// ListOpenMarkets returns markets with status open.
	ListOpenMarkets(ctx context.Context) ([]model.Market, error)

	// UpdateMarketPrices updates prices and cumulative volume after a trade.
	UpdateMarketPrices(ctx context.Context, id string, yesPrice, noPrice, volume decimal.Decimal) error

	// UpdateMarketStatus transitions a market's lifecycle state.
	UpdateMarketStatus(ctx context.Context, id string, status model.MarketStatus) error

	// --- Balances ---

	// GetBalance retrieves a user's wallet, or ErrNotFound.
	GetBalance(ctx context.Context, userID string) (*model.Balance, error)

	// CreateBalance inserts a new wallet row.
	CreateBalance(ctx context.Context, b *model.Balance) error

	// UpdateBalance sets a wallet's amount.
	UpdateBalance(ctx context.Context, userID string, amount decimal.Decimal) error

	// MarkBonusGranted durably records that the one-time signup bonus
	// has been credited to this user.
	MarkBonusGranted(ctx context.Context, userID string) error

	// ListTopBalances returns the highest balances, for the leaderboard.
	ListTopBalances(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)

	// --- Immutable journal ---

	// InsertTransaction appends a journal entry. Entries are never
	// modified or deleted.
	InsertTransaction(ctx context.Context, t *model.Transaction) error

	// ListUserTransactions returns a user's journal, oldest first.
	ListUserTransactions(ctx context.Context, userID string) ([]model.Transaction, error)

	// --- Positions ---

	// GetPosition retrieves the position for (user, market, side), or
	// ErrNotFound when the user holds nothing there.
	GetPosition(ctx context.Context, userID, marketID string, side model.Side) (*model.Position, error)

	// UpsertPosition inserts or replaces a position row.
	UpsertPosition(ctx context.Context, p *model.Position) error

	// DeletePosition removes the position for (user, market, side).
	DeletePosition(ctx context.Context, userID, marketID string, side model.Side) error

	// ListMarketPositions returns every open position in a market.
	ListMarketPositions(ctx context.Context, marketID string) ([]model.Position, error)

	// ListUserPositions returns every open position a user holds.
	ListUserPositions(ctx context.Context, userID string) ([]model.Position, error)

	// ListUserExposures returns total shares held per market (both sides
	// combined) with the market's category, for risk limit checks.
	ListUserExposures(ctx context.Context, userID string) ([]model.Exposure, error)

	// --- Price history ---

	// InsertPricePoint appends a price snapshot.
	InsertPricePoint(ctx context.Context, p *model.PricePoint) error

	// LatestPricePoint returns the newest snapshot for a market, or
	// ErrNotFound when none exists yet.
	LatestPricePoint(ctx context.Context, marketID string) (*model.PricePoint, error)

	// HasPricePointOn reports whether a snapshot exists for the market
	// on the UTC calendar day containing day.
	HasPricePointOn(ctx context.Context, marketID string, day time.Time) (bool, error)

	// ListPricePoints returns a market's snapshots, oldest first.
	ListPricePoints(ctx context.Context, marketID string) ([]model.PricePoint, error)
}

// Store is the persistence interface. Reads may be served outside a
// transaction; ExecTx runs fn atomically — on PostgreSQL as a
// serializable transaction with bounded retry, in memory under a
// whole-store lock with snapshot rollback.
type Store interface {
	Tx

	// ExecTx runs fn inside one atomic transaction. If fn returns an
	// error, none of its writes are applied.
	ExecTx(ctx context.Context, fn func(Tx) error) error
}

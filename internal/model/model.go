// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the outcome a position or trade targets.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Valid reports whether s is a recognized side.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Direction distinguishes buys from sells.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Valid reports whether d is a recognized direction.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// MarketStatus is the lifecycle state of a market. Markets are created
// open; resolved_yes, resolved_no, and cancelled are terminal.
type MarketStatus string

const (
	StatusOpen        MarketStatus = "open"
	StatusResolvedYes MarketStatus = "resolved_yes"
	StatusResolvedNo  MarketStatus = "resolved_no"
	StatusClosed      MarketStatus = "closed"
	StatusCancelled   MarketStatus = "cancelled"
)

// Terminal reports whether the market has reached a final state from
// which it can no longer be resolved.
func (s MarketStatus) Terminal() bool {
	return s == StatusResolvedYes || s == StatusResolvedNo || s == StatusCancelled
}

// TxType classifies journal entries.
type TxType string

const (
	TxBuy     TxType = "buy"
	TxSell    TxType = "sell"
	TxResolve TxType = "resolve"
	TxDeposit TxType = "deposit"
)

// Market represents the state of a binary yes/no prediction market.
// YesPrice and NoPrice start summing to 1 but are not renormalized after
// trades: impact moves only the traded side.
type Market struct {
	ID        string          `json:"id" db:"id"`
	Question  string          `json:"question" db:"question"`
	Category  string          `json:"category" db:"category"`
	YesPrice  decimal.Decimal `json:"yes_price" db:"yes_price"`
	NoPrice   decimal.Decimal `json:"no_price" db:"no_price"`
	Volume    decimal.Decimal `json:"volume" db:"volume"`
	Liquidity decimal.Decimal `json:"liquidity" db:"liquidity"`
	CloseDate time.Time       `json:"close_date" db:"close_date"` // advisory; status gates trading
	Status    MarketStatus    `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Balance is a user's virtual-currency wallet. Amount never goes
// negative. BonusGranted records the one-time signup credit durably so
// it cannot be claimed twice.
type Balance struct {
	UserID       string          `json:"user_id" db:"user_id"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	BonusGranted bool            `json:"bonus_granted" db:"bonus_granted"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Transaction is an immutable journal entry. Amount is the signed delta
// applied to the balance (buys negative; sells, payouts, and deposits
// positive). Replaying the deltas for a user reproduces the balance at
// every point.
type Transaction struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	MarketID     string          `json:"market_id,omitempty" db:"market_id"`
	Type         TxType          `json:"type" db:"type"`
	Side         Side            `json:"side,omitempty" db:"side"`
	Shares       decimal.Decimal `json:"shares" db:"shares"`
	Price        decimal.Decimal `json:"price" db:"price"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Position is a user's holding on one side of one market. Shares is
// positive while the row exists; a fully liquidated position is deleted,
// not zeroed. AveragePrice is the volume-weighted cost basis of the buys
// that built the position.
type Position struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	MarketID     string          `json:"market_id" db:"market_id"`
	Side         Side            `json:"side" db:"side"`
	Shares       decimal.Decimal `json:"shares" db:"shares"`
	AveragePrice decimal.Decimal `json:"average_price" db:"average_price"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// CostBasis returns shares × averagePrice.
func (p *Position) CostBasis() decimal.Decimal {
	return p.Shares.Mul(p.AveragePrice)
}

// PricePoint is an append-only daily snapshot of a market's prices. At
// most one canonical entry exists per market per UTC calendar day.
type PricePoint struct {
	ID        string          `json:"id" db:"id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	YesPrice  decimal.Decimal `json:"yes_price" db:"yes_price"`
	NoPrice   decimal.Decimal `json:"no_price" db:"no_price"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Exposure summarizes a user's total share count in one market, used by
// risk limit checks at trade time.
type Exposure struct {
	MarketID string          `json:"market_id"`
	Category string          `json:"category"`
	Shares   decimal.Decimal `json:"shares"`
}

// PositionView is a position enriched with live market data for API
// responses (mark-to-market against the current side price).
type PositionView struct {
	Position
	Question      string          `json:"question"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// LeaderboardEntry is one row of the balance leaderboard.
type LeaderboardEntry struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// Package book applies trade fills to per-(user, market, side) positions.
//
// ApplyFill is a pure function of the current position state: it never
// touches balances or market prices. The caller sequences ledger, book,
// and pricing updates inside one store transaction.
package book

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clearbook/market-engine/internal/model"
)

var (
	// ErrInsufficientShares is returned when a sell exceeds the shares held.
	ErrInsufficientShares = errors.New("book: insufficient shares")

	// ErrInvalidQuantity is returned when the fill quantity is not positive.
	ErrInvalidQuantity = errors.New("book: quantity must be positive")
)

// ApplyFill merges a fill into pos and returns the resulting position.
// pos is nil when the user holds nothing on (market, side).
//
// Buy: creates the position at the fill price, or accumulates shares with
// the average price recomputed as the volume-weighted mean of old and new.
// Sell: reduces shares, leaving the average price unchanged; returns nil
// when the position is fully liquidated (the caller deletes the row).
func ApplyFill(pos *model.Position, userID, marketID string, side model.Side, shares, price decimal.Decimal, dir model.Direction) (*model.Position, error) {
	if shares.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidQuantity
	}

	now := time.Now().UTC()

	if dir == model.DirectionBuy {
		if pos == nil {
			return &model.Position{
				ID:           uuid.New().String(),
				UserID:       userID,
				MarketID:     marketID,
				Side:         side,
				Shares:       shares,
				AveragePrice: price,
				UpdatedAt:    now,
			}, nil
		}

		total := pos.Shares.Add(shares)
		// newAvg = (oldShares*oldAvg + shares*price) / (oldShares + shares)
		avg := pos.Shares.Mul(pos.AveragePrice).Add(shares.Mul(price)).Div(total)

		merged := *pos
		merged.Shares = total
		merged.AveragePrice = avg
		merged.UpdatedAt = now
		return &merged, nil
	}

	// Sell.
	if pos == nil || pos.Shares.LessThan(shares) {
		return nil, ErrInsufficientShares
	}

	remaining := pos.Shares.Sub(shares)
	if remaining.LessThanOrEqual(decimal.Zero) {
		return nil, nil // fully liquidated
	}

	reduced := *pos
	reduced.Shares = remaining
	reduced.UpdatedAt = now
	return &reduced, nil
}

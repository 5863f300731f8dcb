// Package risk enforces position limits on buys.
//
// A user accumulating shares across every market in one category carries
// correlated exposure (e.g. a dozen markets about the same election).
// The limiter caps shares held in any single market and the aggregate
// shares held across a category.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/clearbook/market-engine/internal/model"
)

var (
	// ErrPerMarketLimitExceeded is returned when a buy would push the
	// user's holdings in one market beyond the per-market maximum.
	ErrPerMarketLimitExceeded = errors.New("risk: per-market position limit exceeded")

	// ErrCategoryLimitExceeded is returned when a buy would push the
	// user's aggregate holdings across a category beyond the category
	// maximum.
	ErrCategoryLimitExceeded = errors.New("risk: category exposure limit exceeded")
)

// PositionLimiter enforces per-market and per-category share caps.
// Sells always pass: reducing exposure is never blocked.
type PositionLimiter struct {
	// MaxPerMarket is the maximum shares (both sides combined) a user
	// may hold in any single market.
	MaxPerMarket decimal.Decimal

	// MaxPerCategory is the maximum aggregate shares a user may hold
	// across all markets sharing a category.
	MaxPerCategory decimal.Decimal
}

// NewPositionLimiter creates a limiter with the given caps.
func NewPositionLimiter(maxPerMarket, maxPerCategory decimal.Decimal) *PositionLimiter {
	return &PositionLimiter{
		MaxPerMarket:   maxPerMarket,
		MaxPerCategory: maxPerCategory,
	}
}

// CheckLimit validates a buy of delta shares in the given market against
// the user's existing exposures. Exposures at exactly the cap are
// allowed; the first share beyond it is rejected.
func (l *PositionLimiter) CheckLimit(marketID, category string, delta decimal.Decimal, exposures []model.Exposure) error {
	if delta.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	inMarket := delta
	inCategory := delta
	for _, e := range exposures {
		if e.MarketID == marketID {
			inMarket = inMarket.Add(e.Shares)
		}
		if e.Category == category {
			inCategory = inCategory.Add(e.Shares)
		}
	}

	if inMarket.GreaterThan(l.MaxPerMarket) {
		return ErrPerMarketLimitExceeded
	}
	if inCategory.GreaterThan(l.MaxPerCategory) {
		return ErrCategoryLimitExceeded
	}
	return nil
}

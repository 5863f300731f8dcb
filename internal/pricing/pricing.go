// Package pricing implements the linear price-impact model for binary
// yes/no markets.
//
// Each trade moves the traded side's price by shares × ImpactRate: buys
// push it up, sells push it down, clamped to [MinPrice, MaxPrice]. The
// opposite side is left untouched, so yes + no need not sum to 1 after
// trading begins. Cumulative volume grows by shares × trade price for
// buys and sells alike.
//
// All monetary values use shopspring/decimal — never float64 for money.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/clearbook/market-engine/internal/model"
)

var (
	// ImpactRate is the price movement per share traded.
	ImpactRate = decimal.NewFromFloat(0.0005)

	// MinPrice is the lowest allowed price (probability floor).
	// Prevents degenerate markets where shares become worthless.
	MinPrice = decimal.NewFromFloat(0.01)

	// MaxPrice is the highest allowed price (probability ceiling).
	// Prevents degenerate markets where an outcome appears certain.
	MaxPrice = decimal.NewFromFloat(0.99)
)

// Quote is the market state produced by applying a trade's impact.
type Quote struct {
	YesPrice decimal.Decimal
	NoPrice  decimal.Decimal
	Volume   decimal.Decimal
}

// SidePrice returns the current price of the given side of a market.
// This is the execution price for a trade on that side.
func SidePrice(m *model.Market, side model.Side) decimal.Decimal {
	if side == model.SideYes {
		return m.YesPrice
	}
	return m.NoPrice
}

// ApplyImpact computes the market's post-trade prices and volume.
// Deterministic given the current market state; the caller persists the
// result. The untraded side keeps its price.
func ApplyImpact(m *model.Market, side model.Side, shares decimal.Decimal, dir model.Direction) Quote {
	tradePrice := SidePrice(m, side)

	impact := shares.Mul(ImpactRate)
	if dir == model.DirectionSell {
		impact = impact.Neg()
	}

	q := Quote{
		YesPrice: m.YesPrice,
		NoPrice:  m.NoPrice,
		Volume:   m.Volume.Add(shares.Mul(tradePrice)),
	}

	if side == model.SideYes {
		q.YesPrice = clamp(m.YesPrice.Add(impact))
	} else {
		q.NoPrice = clamp(m.NoPrice.Add(impact))
	}
	return q
}

// clamp bounds a price to [MinPrice, MaxPrice].
func clamp(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(MinPrice) {
		return MinPrice
	}
	if p.GreaterThan(MaxPrice) {
		return MaxPrice
	}
	return p
}

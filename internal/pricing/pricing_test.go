package pricing_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/clearbook/market-engine/internal/model"
	"github.com/clearbook/market-engine/internal/pricing"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func market(yes, no float64) *model.Market {
	return &model.Market{
		ID:       "m1",
		YesPrice: d(yes),
		NoPrice:  d(no),
		Volume:   decimal.Zero,
		Status:   model.StatusOpen,
	}
}

func TestApplyImpact_BuyYesMovesUp(t *testing.T) {
	m := market(0.5, 0.5)

	q := pricing.ApplyImpact(m, model.SideYes, d(100), model.DirectionBuy)

	// 100 shares × 0.0005 = 0.05 impact.
	if !q.YesPrice.Equal(d(0.55)) {
		t.Errorf("expected yes price 0.55, got %s", q.YesPrice)
	}
	if !q.NoPrice.Equal(d(0.5)) {
		t.Errorf("no price should be untouched, got %s", q.NoPrice)
	}
}

func TestApplyImpact_SellYesMovesDown(t *testing.T) {
	m := market(0.5, 0.5)

	q := pricing.ApplyImpact(m, model.SideYes, d(100), model.DirectionSell)

	if !q.YesPrice.Equal(d(0.45)) {
		t.Errorf("expected yes price 0.45, got %s", q.YesPrice)
	}
	if !q.NoPrice.Equal(d(0.5)) {
		t.Errorf("no price should be untouched, got %s", q.NoPrice)
	}
}

func TestApplyImpact_BuyNoLeavesYes(t *testing.T) {
	m := market(0.6, 0.4)

	q := pricing.ApplyImpact(m, model.SideNo, d(40), model.DirectionBuy)

	if !q.NoPrice.Equal(d(0.42)) {
		t.Errorf("expected no price 0.42, got %s", q.NoPrice)
	}
	if !q.YesPrice.Equal(d(0.6)) {
		t.Errorf("yes price should be untouched, got %s", q.YesPrice)
	}
	// Prices diverge from summing to 1 and are not renormalized.
	if q.YesPrice.Add(q.NoPrice).Equal(decimal.NewFromInt(1)) {
		t.Error("prices should not be renormalized to sum to 1")
	}
}

func TestApplyImpact_ClampCeiling(t *testing.T) {
	m := market(0.95, 0.05)

	q := pricing.ApplyImpact(m, model.SideYes, d(1000), model.DirectionBuy)

	if !q.YesPrice.Equal(pricing.MaxPrice) {
		t.Errorf("expected clamp at %s, got %s", pricing.MaxPrice, q.YesPrice)
	}
}

func TestApplyImpact_ClampFloor(t *testing.T) {
	m := market(0.05, 0.95)

	q := pricing.ApplyImpact(m, model.SideYes, d(1000), model.DirectionSell)

	if !q.YesPrice.Equal(pricing.MinPrice) {
		t.Errorf("expected clamp at %s, got %s", pricing.MinPrice, q.YesPrice)
	}
}

func TestApplyImpact_VolumeUsesTradePrice(t *testing.T) {
	m := market(0.5, 0.5)
	m.Volume = d(100)

	// Buy: volume += 10 × 0.5 at the pre-impact price.
	q := pricing.ApplyImpact(m, model.SideYes, d(10), model.DirectionBuy)
	if !q.Volume.Equal(d(105)) {
		t.Errorf("expected volume 105 after buy, got %s", q.Volume)
	}

	// Sells also add volume; it never decreases.
	q = pricing.ApplyImpact(m, model.SideYes, d(10), model.DirectionSell)
	if !q.Volume.Equal(d(105)) {
		t.Errorf("expected volume 105 after sell, got %s", q.Volume)
	}
}

func TestSidePrice(t *testing.T) {
	m := market(0.7, 0.35)

	if !pricing.SidePrice(m, model.SideYes).Equal(d(0.7)) {
		t.Errorf("unexpected yes price")
	}
	if !pricing.SidePrice(m, model.SideNo).Equal(d(0.35)) {
		t.Errorf("unexpected no price")
	}
}

func TestApplyImpact_DoesNotMutateMarket(t *testing.T) {
	m := market(0.5, 0.5)

	pricing.ApplyImpact(m, model.SideYes, d(100), model.DirectionBuy)

	if !m.YesPrice.Equal(d(0.5)) || !m.Volume.IsZero() {
		t.Error("ApplyImpact should not mutate the market")
	}
}

package book_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/clearbook/market-engine/internal/book"
	"github.com/clearbook/market-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestApplyFill_BuyCreatesPosition(t *testing.T) {
	pos, err := book.ApplyFill(nil, "user1", "m1", model.SideYes, d(10), d(0.50), model.DirectionBuy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pos.ID == "" {
		t.Error("expected non-empty position ID")
	}
	if pos.UserID != "user1" || pos.MarketID != "m1" || pos.Side != model.SideYes {
		t.Errorf("unexpected position keys: %+v", pos)
	}
	if !pos.Shares.Equal(d(10)) {
		t.Errorf("expected 10 shares, got %s", pos.Shares)
	}
	if !pos.AveragePrice.Equal(d(0.50)) {
		t.Errorf("expected average price 0.50, got %s", pos.AveragePrice)
	}
}

func TestApplyFill_BuyMergesWeightedAverage(t *testing.T) {
	pos, _ := book.ApplyFill(nil, "user1", "m1", model.SideYes, d(10), d(0.50), model.DirectionBuy)

	// 10 @ 0.50 + 10 @ 0.70 → 20 @ 0.60
	merged, err := book.ApplyFill(pos, "user1", "m1", model.SideYes, d(10), d(0.70), model.DirectionBuy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !merged.Shares.Equal(d(20)) {
		t.Errorf("expected 20 shares, got %s", merged.Shares)
	}
	if !merged.AveragePrice.Equal(d(0.60)) {
		t.Errorf("expected average price 0.60, got %s", merged.AveragePrice)
	}
	if merged.ID != pos.ID {
		t.Error("merge should keep the position identity")
	}
}

func TestApplyFill_PartialSellKeepsAverage(t *testing.T) {
	pos, _ := book.ApplyFill(nil, "user1", "m1", model.SideNo, d(20), d(0.40), model.DirectionBuy)

	reduced, err := book.ApplyFill(pos, "user1", "m1", model.SideNo, d(5), d(0.55), model.DirectionSell)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reduced.Shares.Equal(d(15)) {
		t.Errorf("expected 15 shares, got %s", reduced.Shares)
	}
	// Selling never rewrites cost basis.
	if !reduced.AveragePrice.Equal(d(0.40)) {
		t.Errorf("expected average price 0.40, got %s", reduced.AveragePrice)
	}
}

func TestApplyFill_FullSellReturnsNil(t *testing.T) {
	pos, _ := book.ApplyFill(nil, "user1", "m1", model.SideYes, d(10), d(0.50), model.DirectionBuy)

	gone, err := book.ApplyFill(pos, "user1", "m1", model.SideYes, d(10), d(0.60), model.DirectionSell)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gone != nil {
		t.Errorf("expected nil after full liquidation, got %+v", gone)
	}
}

func TestApplyFill_SellMoreThanHeld(t *testing.T) {
	pos, _ := book.ApplyFill(nil, "user1", "m1", model.SideYes, d(10), d(0.50), model.DirectionBuy)

	_, err := book.ApplyFill(pos, "user1", "m1", model.SideYes, d(11), d(0.60), model.DirectionSell)
	if !errors.Is(err, book.ErrInsufficientShares) {
		t.Errorf("expected ErrInsufficientShares, got %v", err)
	}
}

func TestApplyFill_SellWithNoPosition(t *testing.T) {
	_, err := book.ApplyFill(nil, "user1", "m1", model.SideYes, d(1), d(0.60), model.DirectionSell)
	if !errors.Is(err, book.ErrInsufficientShares) {
		t.Errorf("expected ErrInsufficientShares, got %v", err)
	}
}

func TestApplyFill_NonPositiveShares(t *testing.T) {
	for _, qty := range []decimal.Decimal{decimal.Zero, d(-5)} {
		_, err := book.ApplyFill(nil, "user1", "m1", model.SideYes, qty, d(0.50), model.DirectionBuy)
		if !errors.Is(err, book.ErrInvalidQuantity) {
			t.Errorf("expected ErrInvalidQuantity for %s, got %v", qty, err)
		}
	}
}

func TestApplyFill_DoesNotMutateInput(t *testing.T) {
	pos, _ := book.ApplyFill(nil, "user1", "m1", model.SideYes, d(10), d(0.50), model.DirectionBuy)

	book.ApplyFill(pos, "user1", "m1", model.SideYes, d(10), d(0.70), model.DirectionBuy)

	if !pos.Shares.Equal(d(10)) || !pos.AveragePrice.Equal(d(0.50)) {
		t.Error("ApplyFill should not mutate the input position")
	}
}

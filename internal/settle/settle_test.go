package settle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearbook/market-engine/internal/book"
	"github.com/clearbook/market-engine/internal/model"
	"github.com/clearbook/market-engine/internal/settle"
	"github.com/clearbook/market-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedMarket(t *testing.T, ms *store.MemoryStore, id string) *model.Market {
	t.Helper()
	m := &model.Market{
		ID:        id,
		Question:  "Will it happen?",
		Category:  "test",
		YesPrice:  d(0.5),
		NoPrice:   d(0.5),
		Volume:    decimal.Zero,
		Status:    model.StatusOpen,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := ms.CreateMarket(context.Background(), m); err != nil {
		t.Fatalf("failed to seed market: %v", err)
	}
	return m
}

func seedWallet(t *testing.T, ms *store.MemoryStore, userID string, amount float64) {
	t.Helper()
	err := ms.CreateBalance(context.Background(), &model.Balance{
		UserID:    userID,
		Amount:    d(amount),
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed wallet: %v", err)
	}
}

func seedPosition(t *testing.T, ms *store.MemoryStore, userID, marketID string, side model.Side, shares, avg float64) {
	t.Helper()
	pos, err := book.ApplyFill(nil, userID, marketID, side, d(shares), d(avg), model.DirectionBuy)
	if err != nil {
		t.Fatalf("failed to build position: %v", err)
	}
	if err := ms.UpsertPosition(context.Background(), pos); err != nil {
		t.Fatalf("failed to seed position: %v", err)
	}
}

func TestResolve_PaysWinnersOneUnitPerShare(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedMarket(t, ms, "m1")
	seedWallet(t, ms, "winner", 100)
	seedWallet(t, ms, "loser", 100)
	seedPosition(t, ms, "winner", "m1", model.SideYes, 50, 0.40)
	seedPosition(t, ms, "loser", "m1", model.SideNo, 30, 0.60)

	svc := settle.NewService(ms)
	res, err := svc.Resolve(ctx, "m1", model.SideYes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Payout is 1 unit per winning share, regardless of cost basis.
	b, _ := ms.GetBalance(ctx, "winner")
	if !b.Amount.Equal(d(150)) {
		t.Errorf("expected winner balance 150, got %s", b.Amount)
	}
	b, _ = ms.GetBalance(ctx, "loser")
	if !b.Amount.Equal(d(100)) {
		t.Errorf("losing side gets nothing, expected 100, got %s", b.Amount)
	}

	if res.PayoutsApplied != 1 {
		t.Errorf("expected 1 payout, got %d", res.PayoutsApplied)
	}
	if res.PositionsCleared != 2 {
		t.Errorf("expected 2 positions cleared, got %d", res.PositionsCleared)
	}
	if !res.TotalPaid.Equal(d(50)) {
		t.Errorf("expected total paid 50, got %s", res.TotalPaid)
	}

	// All positions are gone and the market is terminal.
	positions, _ := ms.ListMarketPositions(ctx, "m1")
	if len(positions) != 0 {
		t.Errorf("expected 0 positions after resolution, got %d", len(positions))
	}
	m, _ := ms.GetMarket(ctx, "m1")
	if m.Status != model.StatusResolvedYes {
		t.Errorf("expected status resolved_yes, got %s", m.Status)
	}
}

func TestResolve_NoOutcome(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedMarket(t, ms, "m1")
	seedWallet(t, ms, "user1", 0)
	seedPosition(t, ms, "user1", "m1", model.SideNo, 20, 0.30)

	svc := settle.NewService(ms)
	if _, err := svc.Resolve(ctx, "m1", model.SideNo); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b, _ := ms.GetBalance(ctx, "user1")
	if !b.Amount.Equal(d(20)) {
		t.Errorf("expected balance 20, got %s", b.Amount)
	}
	m, _ := ms.GetMarket(ctx, "m1")
	if m.Status != model.StatusResolvedNo {
		t.Errorf("expected status resolved_no, got %s", m.Status)
	}
}

func TestResolve_BothSidesHeldBySameUser(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedMarket(t, ms, "m1")
	seedWallet(t, ms, "user1", 0)
	seedPosition(t, ms, "user1", "m1", model.SideYes, 10, 0.50)
	seedPosition(t, ms, "user1", "m1", model.SideNo, 40, 0.50)

	svc := settle.NewService(ms)
	res, err := svc.Resolve(ctx, "m1", model.SideYes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Only the yes side pays out.
	b, _ := ms.GetBalance(ctx, "user1")
	if !b.Amount.Equal(d(10)) {
		t.Errorf("expected balance 10, got %s", b.Amount)
	}
	if res.PositionsCleared != 2 {
		t.Errorf("expected 2 positions cleared, got %d", res.PositionsCleared)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedMarket(t, ms, "m1")
	seedWallet(t, ms, "winner", 0)
	seedPosition(t, ms, "winner", "m1", model.SideYes, 50, 0.40)

	svc := settle.NewService(ms)
	if _, err := svc.Resolve(ctx, "m1", model.SideYes); err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}

	// Second resolve is rejected and mutates nothing — even with the
	// opposite outcome.
	_, err := svc.Resolve(ctx, "m1", model.SideNo)
	if !errors.Is(err, settle.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}

	b, _ := ms.GetBalance(ctx, "winner")
	if !b.Amount.Equal(d(50)) {
		t.Errorf("balance must be unchanged by repeat resolve, got %s", b.Amount)
	}
	m, _ := ms.GetMarket(ctx, "m1")
	if m.Status != model.StatusResolvedYes {
		t.Errorf("status must keep the first outcome, got %s", m.Status)
	}
}

func TestResolve_MarketNotFound(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := settle.NewService(ms)

	_, err := svc.Resolve(context.Background(), "nope", model.SideYes)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected store.ErrNotFound, got %v", err)
	}
}

func TestResolve_NoPositions(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedMarket(t, ms, "m1")

	svc := settle.NewService(ms)
	res, err := svc.Resolve(ctx, "m1", model.SideYes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PayoutsApplied != 0 || res.PositionsCleared != 0 || !res.TotalPaid.IsZero() {
		t.Errorf("expected empty result, got %+v", res)
	}
}

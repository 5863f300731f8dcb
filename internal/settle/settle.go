// Package settle resolves markets and pays out winning positions.
//
// Resolution is a one-shot terminal transition: the market status is
// flipped first (the resolution lock), then every position in the market
// is enumerated — winners are credited 1 unit per share through the
// ledger, and all positions are deleted. The whole sequence runs inside
// one store transaction, so a partial failure leaves the market
// unresolved and every balance untouched.
package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/clearbook/market-engine/internal/ledger"
	"github.com/clearbook/market-engine/internal/model"
	"github.com/clearbook/market-engine/internal/store"
)

// ErrAlreadyResolved is returned when the market has already reached a
// terminal state. Retrying resolution is a safe no-op reporting this.
var ErrAlreadyResolved = errors.New("settle: market already resolved")

// Result summarizes a resolution.
type Result struct {
	MarketID         string          `json:"market_id"`
	Outcome          model.Side      `json:"outcome"`
	PayoutsApplied   int             `json:"payouts_applied"`
	PositionsCleared int             `json:"positions_cleared"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
}

// Service performs market resolution against a store.
type Service struct {
	store store.Store
}

// NewService creates a settlement service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Resolve settles the market to the given outcome exactly once. Winning
// positions are paid 1 unit per share; losing positions are cleared with
// no payout. The second and later calls return ErrAlreadyResolved
// without touching any balance or position.
func (s *Service) Resolve(ctx context.Context, marketID string, outcome model.Side) (Result, error) {
	res := Result{MarketID: marketID, Outcome: outcome, TotalPaid: decimal.Zero}

	err := s.store.ExecTx(ctx, func(tx store.Tx) error {
		// Reset per attempt; ExecTx may retry the callback.
		res.PayoutsApplied = 0
		res.PositionsCleared = 0
		res.TotalPaid = decimal.Zero

		market, err := tx.GetMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if market.Status.Terminal() {
			return ErrAlreadyResolved
		}

		status := model.StatusResolvedYes
		if outcome == model.SideNo {
			status = model.StatusResolvedNo
		}
		// Lock the lifecycle first, then enumerate holders.
		if err := tx.UpdateMarketStatus(ctx, marketID, status); err != nil {
			return fmt.Errorf("settle: update status: %w", err)
		}

		positions, err := tx.ListMarketPositions(ctx, marketID)
		if err != nil {
			return fmt.Errorf("settle: list positions: %w", err)
		}

		one := decimal.NewFromInt(1)
		for _, p := range positions {
			if p.Side == outcome {
				payout := p.Shares // 1 unit per winning share
				if _, err := ledger.Adjust(ctx, tx, p.UserID, payout, ledger.Entry{
					MarketID: marketID,
					Type:     model.TxResolve,
					Side:     p.Side,
					Shares:   p.Shares,
					Price:    one,
				}); err != nil {
					return fmt.Errorf("settle: payout user %s: %w", p.UserID, err)
				}
				res.PayoutsApplied++
				res.TotalPaid = res.TotalPaid.Add(payout)
			}
			if err := tx.DeletePosition(ctx, p.UserID, p.MarketID, p.Side); err != nil {
				return fmt.Errorf("settle: clear position: %w", err)
			}
			res.PositionsCleared++
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	slog.Info("market resolved",
		"market_id", marketID,
		"outcome", outcome,
		"payouts", res.PayoutsApplied,
		"positions_cleared", res.PositionsCleared,
		"total_paid", res.TotalPaid.String(),
	)
	return res, nil
}

// Package history maintains the append-only daily price snapshots.
//
// The recorder is triggered externally (a cron hitting the admin
// endpoint); it holds no scheduler of its own. RecordDaily is idempotent
// per market per UTC calendar day, and Backfill stamps the market's
// current price across any missed days — it does not reconstruct
// historical prices.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clearbook/market-engine/internal/model"
	"github.com/clearbook/market-engine/internal/store"
)

// Recorder writes daily price snapshots for open markets.
type Recorder struct {
	store store.Store
}

// NewRecorder creates a price history recorder.
func NewRecorder(st store.Store) *Recorder {
	return &Recorder{store: st}
}

// BackfillResult summarizes a backfill run.
type BackfillResult struct {
	PointsAdded    int `json:"points_added"`
	MarketsUpdated int `json:"markets_updated"`
}

// RecordDaily inserts one snapshot per open market for asOf's UTC
// calendar day, using each market's current price. Markets that already
// have a snapshot that day are skipped, so a second run for the same day
// inserts nothing. Returns the number of markets updated.
func (r *Recorder) RecordDaily(ctx context.Context, asOf time.Time) (int, error) {
	markets, err := r.store.ListOpenMarkets(ctx)
	if err != nil {
		return 0, fmt.Errorf("history: list open markets: %w", err)
	}

	updated := 0
	for _, m := range markets {
		market := m
		err := r.store.ExecTx(ctx, func(tx store.Tx) error {
			exists, err := tx.HasPricePointOn(ctx, market.ID, asOf)
			if err != nil {
				return err
			}
			if exists {
				return nil
			}
			if err := tx.InsertPricePoint(ctx, &model.PricePoint{
				ID:        uuid.New().String(),
				MarketID:  market.ID,
				YesPrice:  market.YesPrice,
				NoPrice:   market.NoPrice,
				Timestamp: asOf.UTC(),
			}); err != nil {
				return err
			}
			updated++
			return nil
		})
		if err != nil {
			return updated, fmt.Errorf("history: record market %s: %w", market.ID, err)
		}
	}

	slog.Info("daily prices recorded", "as_of", dayUTC(asOf).Format("2006-01-02"), "markets_updated", updated)
	return updated, nil
}

// Backfill fills missed days for every open market: from the day after
// its latest snapshot (or its creation day when none exists) up to and
// including the day before through. Every inserted point carries the
// market's current price.
func (r *Recorder) Backfill(ctx context.Context, through time.Time) (BackfillResult, error) {
	markets, err := r.store.ListOpenMarkets(ctx)
	if err != nil {
		return BackfillResult{}, fmt.Errorf("history: list open markets: %w", err)
	}

	var res BackfillResult
	end := dayUTC(through)

	for _, m := range markets {
		market := m
		added := 0
		err := r.store.ExecTx(ctx, func(tx store.Tx) error {
			added = 0
			start, err := backfillStart(ctx, tx, &market)
			if err != nil {
				return err
			}
			for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
				if err := tx.InsertPricePoint(ctx, &model.PricePoint{
					ID:        uuid.New().String(),
					MarketID:  market.ID,
					YesPrice:  market.YesPrice,
					NoPrice:   market.NoPrice,
					Timestamp: day,
				}); err != nil {
					return err
				}
				added++
			}
			return nil
		})
		if err != nil {
			return res, fmt.Errorf("history: backfill market %s: %w", market.ID, err)
		}
		if added > 0 {
			res.PointsAdded += added
			res.MarketsUpdated++
		}
	}

	slog.Info("price history backfilled",
		"through", end.Format("2006-01-02"),
		"points_added", res.PointsAdded,
		"markets_updated", res.MarketsUpdated,
	)
	return res, nil
}

// backfillStart returns the first missing day for a market: the day
// after its latest snapshot, or its creation day when it has none.
func backfillStart(ctx context.Context, tx store.Tx, m *model.Market) (time.Time, error) {
	latest, err := tx.LatestPricePoint(ctx, m.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return dayUTC(m.CreatedAt), nil
		}
		return time.Time{}, err
	}
	return dayUTC(latest.Timestamp).AddDate(0, 0, 1), nil
}

// dayUTC truncates t to midnight UTC.
func dayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

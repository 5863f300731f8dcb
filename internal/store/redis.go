package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/clearbook/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for markets, wallets, and user positions. Writes go to the primary
// and invalidate the affected keys; reads check Redis first then fall back.
//
// ExecTx wraps the transaction in a recorder that notes every market and
// user the callback touched, and invalidates those keys only after the
// primary commit succeeds — a failed transaction leaves the cache intact.
type CachedStore struct {
	Store // primary
	rdb   *redis.Client
	ttl   time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: primary, rdb: rdb, ttl: ttl}
}

// --- Read-through ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.Store.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, marketKey(id), m)
	return m, nil
}

func (s *CachedStore) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	data, err := s.rdb.Get(ctx, balanceKey(userID)).Bytes()
	if err == nil {
		var b model.Balance
		if json.Unmarshal(data, &b) == nil {
			return &b, nil
		}
	}

	b, err := s.Store.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, balanceKey(userID), b)
	return b, nil
}

func (s *CachedStore) ListUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.Store.ListUserPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, positionsKey(userID), positions)
	return positions, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpdateMarketPrices(ctx context.Context, id string, yesPrice, noPrice, volume decimal.Decimal) error {
	if err := s.Store.UpdateMarketPrices(ctx, id, yesPrice, noPrice, volume); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) UpdateMarketStatus(ctx context.Context, id string, status model.MarketStatus) error {
	if err := s.Store.UpdateMarketStatus(ctx, id, status); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) UpdateBalance(ctx context.Context, userID string, amount decimal.Decimal) error {
	if err := s.Store.UpdateBalance(ctx, userID, amount); err != nil {
		return err
	}
	s.rdb.Del(ctx, balanceKey(userID))
	return nil
}

func (s *CachedStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	if err := s.Store.UpsertPosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(p.UserID))
	return nil
}

func (s *CachedStore) DeletePosition(ctx context.Context, userID, marketID string, side model.Side) error {
	if err := s.Store.DeletePosition(ctx, userID, marketID, side); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(userID))
	return nil
}

// --- Transactions ---

func (s *CachedStore) ExecTx(ctx context.Context, fn func(Tx) error) error {
	rec := &recordingTx{}
	err := s.Store.ExecTx(ctx, func(tx Tx) error {
		rec.Tx = tx
		return fn(rec)
	})
	if err != nil {
		return err
	}
	if keys := rec.keys(); len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

// recordingTx passes row operations straight through while noting which
// cache keys the mutations dirty.
type recordingTx struct {
	Tx
	markets []string
	users   []string
}

func (r *recordingTx) keys() []string {
	var keys []string
	for _, id := range r.markets {
		keys = append(keys, marketKey(id))
	}
	for _, id := range r.users {
		keys = append(keys, balanceKey(id), positionsKey(id))
	}
	return keys
}

func (r *recordingTx) UpdateMarketPrices(ctx context.Context, id string, yesPrice, noPrice, volume decimal.Decimal) error {
	r.markets = append(r.markets, id)
	return r.Tx.UpdateMarketPrices(ctx, id, yesPrice, noPrice, volume)
}

func (r *recordingTx) UpdateMarketStatus(ctx context.Context, id string, status model.MarketStatus) error {
	r.markets = append(r.markets, id)
	return r.Tx.UpdateMarketStatus(ctx, id, status)
}

func (r *recordingTx) CreateBalance(ctx context.Context, b *model.Balance) error {
	r.users = append(r.users, b.UserID)
	return r.Tx.CreateBalance(ctx, b)
}

func (r *recordingTx) UpdateBalance(ctx context.Context, userID string, amount decimal.Decimal) error {
	r.users = append(r.users, userID)
	return r.Tx.UpdateBalance(ctx, userID, amount)
}

func (r *recordingTx) MarkBonusGranted(ctx context.Context, userID string) error {
	r.users = append(r.users, userID)
	return r.Tx.MarkBonusGranted(ctx, userID)
}

func (r *recordingTx) UpsertPosition(ctx context.Context, p *model.Position) error {
	r.users = append(r.users, p.UserID)
	return r.Tx.UpsertPosition(ctx, p)
}

func (r *recordingTx) DeletePosition(ctx context.Context, userID, marketID string, side model.Side) error {
	r.users = append(r.users, userID)
	return r.Tx.DeletePosition(ctx, userID, marketID, side)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func marketKey(id string) string     { return fmt.Sprintf("market:%s", id) }
func balanceKey(uid string) string   { return fmt.Sprintf("balance:%s", uid) }
func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }

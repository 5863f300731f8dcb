package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearbook/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// ExecTx holds the store lock for the whole callback and snapshots state
// first, so a failed callback leaves no partial mutation — mirroring the
// all-or-nothing guarantee of the PostgreSQL implementation.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

// ExecTx runs fn under the store lock against the live state. On error
// the pre-transaction snapshot is restored.
func (s *MemoryStore) ExecTx(_ context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(&memTx{state: s.state}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// memTx exposes the unlocked state as a Tx. Only reachable while the
// MemoryStore lock is held.
type memTx struct {
	state *memState
}

// memState holds all rows. Methods are not synchronized; MemoryStore and
// memTx provide the locking.
type memState struct {
	markets      map[string]*model.Market
	balances     map[string]*model.Balance
	transactions []model.Transaction
	positions    map[string]*model.Position
	pricePoints  []model.PricePoint
}

func newMemState() *memState {
	return &memState{
		markets:   make(map[string]*model.Market),
		balances:  make(map[string]*model.Balance),
		positions: make(map[string]*model.Position),
	}
}

func (st *memState) clone() *memState {
	c := newMemState()
	for id, m := range st.markets {
		cp := *m
		c.markets[id] = &cp
	}
	for id, b := range st.balances {
		cp := *b
		c.balances[id] = &cp
	}
	for key, p := range st.positions {
		cp := *p
		c.positions[key] = &cp
	}
	c.transactions = append([]model.Transaction(nil), st.transactions...)
	c.pricePoints = append([]model.PricePoint(nil), st.pricePoints...)
	return c
}

func posKey(userID, marketID string, side model.Side) string {
	return userID + "|" + marketID + "|" + string(side)
}

// --- Markets ---

func (st *memState) createMarket(m *model.Market) error {
	if _, ok := st.markets[m.ID]; ok {
		return ErrConflict
	}
	cp := *m
	st.markets[m.ID] = &cp
	return nil
}

func (st *memState) getMarket(id string) (*model.Market, error) {
	m, ok := st.markets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (st *memState) listMarkets(openOnly bool) []model.Market {
	markets := make([]model.Market, 0, len(st.markets))
	for _, m := range st.markets {
		if openOnly && m.Status != model.StatusOpen {
			continue
		}
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets
}

func (st *memState) updateMarketPrices(id string, yesPrice, noPrice, volume decimal.Decimal) error {
	m, ok := st.markets[id]
	if !ok {
		return ErrNotFound
	}
	m.YesPrice = yesPrice
	m.NoPrice = noPrice
	m.Volume = volume
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (st *memState) updateMarketStatus(id string, status model.MarketStatus) error {
	m, ok := st.markets[id]
	if !ok {
		return ErrNotFound
	}
	m.Status = status
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Balances ---

func (st *memState) getBalance(userID string) (*model.Balance, error) {
	b, ok := st.balances[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (st *memState) createBalance(b *model.Balance) error {
	if _, ok := st.balances[b.UserID]; ok {
		return ErrConflict
	}
	cp := *b
	st.balances[b.UserID] = &cp
	return nil
}

func (st *memState) updateBalance(userID string, amount decimal.Decimal) error {
	b, ok := st.balances[userID]
	if !ok {
		return ErrNotFound
	}
	b.Amount = amount
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (st *memState) markBonusGranted(userID string) error {
	b, ok := st.balances[userID]
	if !ok {
		return ErrNotFound
	}
	b.BonusGranted = true
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (st *memState) listTopBalances(limit int) []model.LeaderboardEntry {
	entries := make([]model.LeaderboardEntry, 0, len(st.balances))
	for _, b := range st.balances {
		entries = append(entries, model.LeaderboardEntry{UserID: b.UserID, Balance: b.Amount})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Balance.Equal(entries[j].Balance) {
			return entries[i].UserID < entries[j].UserID
		}
		return entries[i].Balance.GreaterThan(entries[j].Balance)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// --- Journal ---

func (st *memState) insertTransaction(t *model.Transaction) {
	st.transactions = append(st.transactions, *t)
}

func (st *memState) listUserTransactions(userID string) []model.Transaction {
	var result []model.Transaction
	for _, t := range st.transactions {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	return result
}

// --- Positions ---

func (st *memState) getPosition(userID, marketID string, side model.Side) (*model.Position, error) {
	p, ok := st.positions[posKey(userID, marketID, side)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (st *memState) upsertPosition(p *model.Position) {
	cp := *p
	st.positions[posKey(p.UserID, p.MarketID, p.Side)] = &cp
}

func (st *memState) deletePosition(userID, marketID string, side model.Side) {
	delete(st.positions, posKey(userID, marketID, side))
}

func (st *memState) listMarketPositions(marketID string) []model.Position {
	var result []model.Position
	for _, p := range st.positions {
		if p.MarketID == marketID {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].UserID == result[j].UserID {
			return result[i].Side < result[j].Side
		}
		return result[i].UserID < result[j].UserID
	})
	return result
}

func (st *memState) listUserPositions(userID string) []model.Position {
	var result []model.Position
	for _, p := range st.positions {
		if p.UserID == userID {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].MarketID == result[j].MarketID {
			return result[i].Side < result[j].Side
		}
		return result[i].MarketID < result[j].MarketID
	})
	return result
}

func (st *memState) listUserExposures(userID string) []model.Exposure {
	byMarket := make(map[string]*model.Exposure)
	for _, p := range st.positions {
		if p.UserID != userID {
			continue
		}
		e, ok := byMarket[p.MarketID]
		if !ok {
			category := ""
			if m := st.markets[p.MarketID]; m != nil {
				category = m.Category
			}
			e = &model.Exposure{MarketID: p.MarketID, Category: category}
			byMarket[p.MarketID] = e
		}
		e.Shares = e.Shares.Add(p.Shares)
	}

	result := make([]model.Exposure, 0, len(byMarket))
	for _, e := range byMarket {
		result = append(result, *e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].MarketID < result[j].MarketID })
	return result
}

// --- Price history ---

func (st *memState) insertPricePoint(p *model.PricePoint) {
	st.pricePoints = append(st.pricePoints, *p)
}

func (st *memState) latestPricePoint(marketID string) (*model.PricePoint, error) {
	var latest *model.PricePoint
	for i := range st.pricePoints {
		p := &st.pricePoints[i]
		if p.MarketID != marketID {
			continue
		}
		if latest == nil || p.Timestamp.After(latest.Timestamp) {
			latest = p
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (st *memState) hasPricePointOn(marketID string, day time.Time) bool {
	y, m, d := day.UTC().Date()
	for _, p := range st.pricePoints {
		if p.MarketID != marketID {
			continue
		}
		py, pm, pd := p.Timestamp.UTC().Date()
		if py == y && pm == m && pd == d {
			return true
		}
	}
	return false
}

func (st *memState) listPricePoints(marketID string) []model.PricePoint {
	var result []model.PricePoint
	for _, p := range st.pricePoints {
		if p.MarketID == marketID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	return result
}

package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearbook/market-engine/internal/model"
)

// MemoryStore methods take the store lock and delegate to the state.

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.createMarket(m)
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getMarket(id)
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listMarkets(false), nil
}

func (s *MemoryStore) ListOpenMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listMarkets(true), nil
}

func (s *MemoryStore) UpdateMarketPrices(_ context.Context, id string, yesPrice, noPrice, volume decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.updateMarketPrices(id, yesPrice, noPrice, volume)
}

func (s *MemoryStore) UpdateMarketStatus(_ context.Context, id string, status model.MarketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.updateMarketStatus(id, status)
}

func (s *MemoryStore) GetBalance(_ context.Context, userID string) (*model.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getBalance(userID)
}

func (s *MemoryStore) CreateBalance(_ context.Context, b *model.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.createBalance(b)
}

func (s *MemoryStore) UpdateBalance(_ context.Context, userID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.updateBalance(userID, amount)
}

func (s *MemoryStore) MarkBonusGranted(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.markBonusGranted(userID)
}

func (s *MemoryStore) ListTopBalances(_ context.Context, limit int) ([]model.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listTopBalances(limit), nil
}

func (s *MemoryStore) InsertTransaction(_ context.Context, t *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.insertTransaction(t)
	return nil
}

func (s *MemoryStore) ListUserTransactions(_ context.Context, userID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listUserTransactions(userID), nil
}

func (s *MemoryStore) GetPosition(_ context.Context, userID, marketID string, side model.Side) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getPosition(userID, marketID, side)
}

func (s *MemoryStore) UpsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.upsertPosition(p)
	return nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, userID, marketID string, side model.Side) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.deletePosition(userID, marketID, side)
	return nil
}

func (s *MemoryStore) ListMarketPositions(_ context.Context, marketID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listMarketPositions(marketID), nil
}

func (s *MemoryStore) ListUserPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listUserPositions(userID), nil
}

func (s *MemoryStore) ListUserExposures(_ context.Context, userID string) ([]model.Exposure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listUserExposures(userID), nil
}

func (s *MemoryStore) InsertPricePoint(_ context.Context, p *model.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.insertPricePoint(p)
	return nil
}

func (s *MemoryStore) LatestPricePoint(_ context.Context, marketID string) (*model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.latestPricePoint(marketID)
}

func (s *MemoryStore) HasPricePointOn(_ context.Context, marketID string, day time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.hasPricePointOn(marketID, day), nil
}

func (s *MemoryStore) ListPricePoints(_ context.Context, marketID string) ([]model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listPricePoints(marketID), nil
}

// memTx methods run with the store lock already held by ExecTx.

func (t *memTx) CreateMarket(_ context.Context, m *model.Market) error {
	return t.state.createMarket(m)
}

func (t *memTx) GetMarket(_ context.Context, id string) (*model.Market, error) {
	return t.state.getMarket(id)
}

func (t *memTx) ListMarkets(_ context.Context) ([]model.Market, error) {
	return t.state.listMarkets(false), nil
}

func (t *memTx) ListOpenMarkets(_ context.Context) ([]model.Market, error) {
	return t.state.listMarkets(true), nil
}

func (t *memTx) UpdateMarketPrices(_ context.Context, id string, yesPrice, noPrice, volume decimal.Decimal) error {
	return t.state.updateMarketPrices(id, yesPrice, noPrice, volume)
}

func (t *memTx) UpdateMarketStatus(_ context.Context, id string, status model.MarketStatus) error {
	return t.state.updateMarketStatus(id, status)
}

func (t *memTx) GetBalance(_ context.Context, userID string) (*model.Balance, error) {
	return t.state.getBalance(userID)
}

func (t *memTx) CreateBalance(_ context.Context, b *model.Balance) error {
	return t.state.createBalance(b)
}

func (t *memTx) UpdateBalance(_ context.Context, userID string, amount decimal.Decimal) error {
	return t.state.updateBalance(userID, amount)
}

func (t *memTx) MarkBonusGranted(_ context.Context, userID string) error {
	return t.state.markBonusGranted(userID)
}

func (t *memTx) ListTopBalances(_ context.Context, limit int) ([]model.LeaderboardEntry, error) {
	return t.state.listTopBalances(limit), nil
}

func (t *memTx) InsertTransaction(_ context.Context, tx *model.Transaction) error {
	t.state.insertTransaction(tx)
	return nil
}

func (t *memTx) ListUserTransactions(_ context.Context, userID string) ([]model.Transaction, error) {
	return t.state.listUserTransactions(userID), nil
}

func (t *memTx) GetPosition(_ context.Context, userID, marketID string, side model.Side) (*model.Position, error) {
	return t.state.getPosition(userID, marketID, side)
}

func (t *memTx) UpsertPosition(_ context.Context, p *model.Position) error {
	t.state.upsertPosition(p)
	return nil
}

func (t *memTx) DeletePosition(_ context.Context, userID, marketID string, side model.Side) error {
	t.state.deletePosition(userID, marketID, side)
	return nil
}

func (t *memTx) ListMarketPositions(_ context.Context, marketID string) ([]model.Position, error) {
	return t.state.listMarketPositions(marketID), nil
}

func (t *memTx) ListUserPositions(_ context.Context, userID string) ([]model.Position, error) {
	return t.state.listUserPositions(userID), nil
}

func (t *memTx) ListUserExposures(_ context.Context, userID string) ([]model.Exposure, error) {
	return t.state.listUserExposures(userID), nil
}

func (t *memTx) InsertPricePoint(_ context.Context, p *model.PricePoint) error {
	t.state.insertPricePoint(p)
	return nil
}

func (t *memTx) LatestPricePoint(_ context.Context, marketID string) (*model.PricePoint, error) {
	return t.state.latestPricePoint(marketID)
}

func (t *memTx) HasPricePointOn(_ context.Context, marketID string, day time.Time) (bool, error) {
	return t.state.hasPricePointOn(marketID, day), nil
}

func (t *memTx) ListPricePoints(_ context.Context, marketID string) ([]model.PricePoint, error) {
	return t.state.listPricePoints(marketID), nil
}

// Package ledger owns per-user virtual-currency balances.
//
// Every balance change flows through Adjust, which pairs the mutation
// with exactly one journal entry carrying the resulting balance. The
// functions operate on a store.Tx so the caller controls transaction
// boundaries; a failed adjustment inside ExecTx leaves no partial state.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clearbook/market-engine/internal/model"
	"github.com/clearbook/market-engine/internal/store"
)

var (
	// ErrInsufficientFunds is returned when a debit would take the
	// balance below zero. The balance is left untouched and no journal
	// entry is written.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrUserNotFound is returned when the user has no wallet row.
	ErrUserNotFound = errors.New("ledger: user not found")
)

// SignupBonus is the one-time credit granted when a wallet is created.
var SignupBonus = decimal.NewFromInt(1000)

// Entry carries the journal metadata for an adjustment.
type Entry struct {
	MarketID string
	Type     model.TxType
	Side     model.Side
	Shares   decimal.Decimal
	Price    decimal.Decimal
}

// Adjust atomically applies the signed delta (positive = credit,
// negative = debit) to the user's balance and appends one journal entry
// with balance_after set to the new balance. Returns the new balance.
func Adjust(ctx context.Context, tx store.Tx, userID string, delta decimal.Decimal, e Entry) (decimal.Decimal, error) {
	b, err := tx.GetBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("ledger: load balance: %w", err)
	}

	newBalance := b.Amount.Add(delta)
	if newBalance.IsNegative() {
		return decimal.Zero, ErrInsufficientFunds
	}

	if err := tx.UpdateBalance(ctx, userID, newBalance); err != nil {
		return decimal.Zero, fmt.Errorf("ledger: update balance: %w", err)
	}

	if err := tx.InsertTransaction(ctx, &model.Transaction{
		ID:           uuid.New().String(),
		UserID:       userID,
		MarketID:     e.MarketID,
		Type:         e.Type,
		Side:         e.Side,
		Shares:       e.Shares,
		Price:        e.Price,
		Amount:       delta,
		BalanceAfter: newBalance,
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		return decimal.Zero, fmt.Errorf("ledger: journal entry: %w", err)
	}

	return newBalance, nil
}

// EnsureWallet creates the user's wallet on first contact, crediting the
// signup bonus exactly once. The bonus_granted flag on the balance row is
// the durable guard: a wallet whose flag is set is never credited again,
// regardless of how many times this is called. Returns the wallet and
// whether the bonus was granted by this call.
func EnsureWallet(ctx context.Context, tx store.Tx, userID string) (*model.Balance, bool, error) {
	b, err := tx.GetBalance(ctx, userID)
	switch {
	case err == nil && b.BonusGranted:
		return b, false, nil
	case err == nil:
		// Wallet exists but was seeded without the bonus.
	case errors.Is(err, store.ErrNotFound):
		b = &model.Balance{
			UserID:    userID,
			Amount:    decimal.Zero,
			UpdatedAt: time.Now().UTC(),
		}
		if err := tx.CreateBalance(ctx, b); err != nil {
			return nil, false, fmt.Errorf("ledger: create wallet: %w", err)
		}
	default:
		return nil, false, fmt.Errorf("ledger: load balance: %w", err)
	}

	if err := tx.MarkBonusGranted(ctx, userID); err != nil {
		return nil, false, fmt.Errorf("ledger: mark bonus granted: %w", err)
	}
	newBalance, err := Adjust(ctx, tx, userID, SignupBonus, Entry{Type: model.TxDeposit})
	if err != nil {
		return nil, false, err
	}
	b.Amount = newBalance
	b.BonusGranted = true
	return b, true, nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clearbook/market-engine/internal/model"
)

// maxTxRetries bounds retries of serialization failures before
// surfacing ErrConflict.
const maxTxRetries = 3

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// ExecTx runs its callback inside a SERIALIZABLE transaction and retries
// serialization failures up to maxTxRetries times.
type PostgresStore struct {
	pool *pgxpool.Pool
	pgQueries
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, pgQueries: pgQueries{db: pool}}
}

// InitSchema creates the engine's tables when they do not exist yet.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS markets (
	id         TEXT PRIMARY KEY,
	question   TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT '',
	yes_price  NUMERIC NOT NULL,
	no_price   NUMERIC NOT NULL,
	volume     NUMERIC NOT NULL DEFAULT 0,
	liquidity  NUMERIC NOT NULL DEFAULT 0,
	close_date TIMESTAMPTZ NOT NULL,
	status     TEXT NOT NULL DEFAULT 'open',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS balances (
	user_id       TEXT PRIMARY KEY,
	amount        NUMERIC NOT NULL CHECK (amount >= 0),
	bonus_granted BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	market_id     TEXT,
	type          TEXT NOT NULL,
	side          TEXT,
	shares        NUMERIC NOT NULL DEFAULT 0,
	price         NUMERIC NOT NULL DEFAULT 0,
	amount        NUMERIC NOT NULL,
	balance_after NUMERIC NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions (user_id, created_at);

CREATE TABLE IF NOT EXISTS positions (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	market_id     TEXT NOT NULL,
	side          TEXT NOT NULL,
	shares        NUMERIC NOT NULL CHECK (shares > 0),
	average_price NUMERIC NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	UNIQUE (user_id, market_id, side)
);
CREATE INDEX IF NOT EXISTS idx_positions_market ON positions (market_id);

CREATE TABLE IF NOT EXISTS price_history (
	id        TEXT PRIMARY KEY,
	market_id TEXT NOT NULL,
	yes_price NUMERIC NOT NULL,
	no_price  NUMERIC NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_history_market ON price_history (market_id, timestamp);
`

// ExecTx runs fn inside a serializable transaction, retrying
// serialization failures with a fresh transaction each attempt.
func (s *PostgresStore) ExecTx(ctx context.Context, fn func(Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrConflict, lastErr)
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{pgQueries{db: tx, locking: true}}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// isSerializationFailure reports whether err is a PostgreSQL
// serialization or deadlock error (SQLSTATE 40001 / 40P01).
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// pgTx implements Tx over a pgx transaction. Point reads lock rows with
// FOR UPDATE so concurrent trades on the same user or market serialize.
type pgTx struct {
	pgQueries
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgQueries holds the row operations shared by the pool-backed store and
// transaction handles.
type pgQueries struct {
	db      querier
	locking bool // append FOR UPDATE to point reads
}

func (q *pgQueries) forUpdate() string {
	if q.locking {
		return " FOR UPDATE"
	}
	return ""
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// --- Markets ---

const marketColumns = `id, question, category,
	yes_price::TEXT, no_price::TEXT, volume::TEXT, liquidity::TEXT,
	close_date, status, created_at, updated_at`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var yes, no, volume, liquidity string
	err := row.Scan(&m.ID, &m.Question, &m.Category,
		&yes, &no, &volume, &liquidity,
		&m.CloseDate, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.YesPrice, _ = decimal.NewFromString(yes)
	m.NoPrice, _ = decimal.NewFromString(no)
	m.Volume, _ = decimal.NewFromString(volume)
	m.Liquidity, _ = decimal.NewFromString(liquidity)
	return &m, nil
}

func (q *pgQueries) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO markets (id, question, category, yes_price, no_price, volume, liquidity, close_date, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11)`,
		m.ID, m.Question, m.Category,
		m.YesPrice.String(), m.NoPrice.String(), m.Volume.String(), m.Liquidity.String(),
		m.CloseDate, m.Status, m.CreatedAt, m.UpdatedAt,
	)
	return err
}

func (q *pgQueries) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(q.db.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`+q.forUpdate(), id))
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, notFound(err))
	}
	return m, nil
}

func (q *pgQueries) listMarkets(ctx context.Context, query string, args ...any) ([]model.Market, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (q *pgQueries) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return q.listMarkets(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC`)
}

func (q *pgQueries) ListOpenMarkets(ctx context.Context) ([]model.Market, error) {
	return q.listMarkets(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE status = $1 ORDER BY created_at DESC`,
		model.StatusOpen)
}

func (q *pgQueries) UpdateMarketPrices(ctx context.Context, id string, yesPrice, noPrice, volume decimal.Decimal) error {
	_, err := q.db.Exec(ctx,
		`UPDATE markets
		 SET yes_price = $2::NUMERIC, no_price = $3::NUMERIC, volume = $4::NUMERIC, updated_at = $5
		 WHERE id = $1`,
		id, yesPrice.String(), noPrice.String(), volume.String(), time.Now().UTC(),
	)
	return err
}

func (q *pgQueries) UpdateMarketStatus(ctx context.Context, id string, status model.MarketStatus) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE markets SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Balances ---

func (q *pgQueries) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	var b model.Balance
	var amount string
	err := q.db.QueryRow(ctx,
		`SELECT user_id, amount::TEXT, bonus_granted, updated_at
		 FROM balances WHERE user_id = $1`+q.forUpdate(), userID).
		Scan(&b.UserID, &amount, &b.BonusGranted, &b.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	b.Amount, _ = decimal.NewFromString(amount)
	return &b, nil
}

func (q *pgQueries) CreateBalance(ctx context.Context, b *model.Balance) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO balances (user_id, amount, bonus_granted, updated_at)
		 VALUES ($1, $2::NUMERIC, $3, $4)`,
		b.UserID, b.Amount.String(), b.BonusGranted, b.UpdatedAt,
	)
	return err
}

func (q *pgQueries) UpdateBalance(ctx context.Context, userID string, amount decimal.Decimal) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE balances SET amount = $2::NUMERIC, updated_at = $3 WHERE user_id = $1`,
		userID, amount.String(), time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *pgQueries) MarkBonusGranted(ctx context.Context, userID string) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE balances SET bonus_granted = TRUE, updated_at = $2 WHERE user_id = $1`,
		userID, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *pgQueries) ListTopBalances(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	rows, err := q.db.Query(ctx,
		`SELECT user_id, amount::TEXT FROM balances ORDER BY amount DESC, user_id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		var amount string
		if err := rows.Scan(&e.UserID, &amount); err != nil {
			return nil, err
		}
		e.Balance, _ = decimal.NewFromString(amount)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Journal ---

func (q *pgQueries) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO transactions (id, user_id, market_id, type, side, shares, price, amount, balance_after, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
		t.ID, t.UserID, nullable(t.MarketID), t.Type, nullable(string(t.Side)),
		t.Shares.String(), t.Price.String(), t.Amount.String(), t.BalanceAfter.String(),
		t.CreatedAt,
	)
	return err
}

func (q *pgQueries) ListUserTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, user_id, COALESCE(market_id, ''), type, COALESCE(side, ''),
		        shares::TEXT, price::TEXT, amount::TEXT, balance_after::TEXT, created_at
		 FROM transactions WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var shares, price, amount, after string
		if err := rows.Scan(&t.ID, &t.UserID, &t.MarketID, &t.Type, &t.Side,
			&shares, &price, &amount, &after, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Shares, _ = decimal.NewFromString(shares)
		t.Price, _ = decimal.NewFromString(price)
		t.Amount, _ = decimal.NewFromString(amount)
		t.BalanceAfter, _ = decimal.NewFromString(after)
		entries = append(entries, t)
	}
	return entries, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// --- Positions ---

const positionColumns = `id, user_id, market_id, side, shares::TEXT, average_price::TEXT, updated_at`

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var shares, avg string
	err := row.Scan(&p.ID, &p.UserID, &p.MarketID, &p.Side, &shares, &avg, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Shares, _ = decimal.NewFromString(shares)
	p.AveragePrice, _ = decimal.NewFromString(avg)
	return &p, nil
}

func (q *pgQueries) GetPosition(ctx context.Context, userID, marketID string, side model.Side) (*model.Position, error) {
	p, err := scanPosition(q.db.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE user_id = $1 AND market_id = $2 AND side = $3`+q.forUpdate(),
		userID, marketID, side))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (q *pgQueries) UpsertPosition(ctx context.Context, p *model.Position) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO positions (id, user_id, market_id, side, shares, average_price, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7)
		 ON CONFLICT (user_id, market_id, side)
		 DO UPDATE SET shares = EXCLUDED.shares,
		               average_price = EXCLUDED.average_price,
		               updated_at = EXCLUDED.updated_at`,
		p.ID, p.UserID, p.MarketID, p.Side,
		p.Shares.String(), p.AveragePrice.String(), p.UpdatedAt,
	)
	return err
}

func (q *pgQueries) DeletePosition(ctx context.Context, userID, marketID string, side model.Side) error {
	_, err := q.db.Exec(ctx,
		`DELETE FROM positions WHERE user_id = $1 AND market_id = $2 AND side = $3`,
		userID, marketID, side)
	return err
}

func (q *pgQueries) listPositions(ctx context.Context, query string, args ...any) ([]model.Position, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (q *pgQueries) ListMarketPositions(ctx context.Context, marketID string) ([]model.Position, error) {
	return q.listPositions(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE market_id = $1 ORDER BY user_id, side`+q.forUpdate(),
		marketID)
}

func (q *pgQueries) ListUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	return q.listPositions(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE user_id = $1 ORDER BY market_id, side`,
		userID)
}

func (q *pgQueries) ListUserExposures(ctx context.Context, userID string) ([]model.Exposure, error) {
	rows, err := q.db.Query(ctx,
		`SELECT p.market_id, m.category, SUM(p.shares)::TEXT
		 FROM positions p
		 JOIN markets m ON m.id = p.market_id
		 WHERE p.user_id = $1
		 GROUP BY p.market_id, m.category
		 ORDER BY p.market_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exposures []model.Exposure
	for rows.Next() {
		var e model.Exposure
		var shares string
		if err := rows.Scan(&e.MarketID, &e.Category, &shares); err != nil {
			return nil, err
		}
		e.Shares, _ = decimal.NewFromString(shares)
		exposures = append(exposures, e)
	}
	return exposures, rows.Err()
}

// --- Price history ---

func (q *pgQueries) InsertPricePoint(ctx context.Context, p *model.PricePoint) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO price_history (id, market_id, yes_price, no_price, timestamp)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5)`,
		p.ID, p.MarketID, p.YesPrice.String(), p.NoPrice.String(), p.Timestamp,
	)
	return err
}

func scanPricePoint(row pgx.Row) (*model.PricePoint, error) {
	var p model.PricePoint
	var yes, no string
	if err := row.Scan(&p.ID, &p.MarketID, &yes, &no, &p.Timestamp); err != nil {
		return nil, err
	}
	p.YesPrice, _ = decimal.NewFromString(yes)
	p.NoPrice, _ = decimal.NewFromString(no)
	return &p, nil
}

func (q *pgQueries) LatestPricePoint(ctx context.Context, marketID string) (*model.PricePoint, error) {
	p, err := scanPricePoint(q.db.QueryRow(ctx,
		`SELECT id, market_id, yes_price::TEXT, no_price::TEXT, timestamp
		 FROM price_history WHERE market_id = $1
		 ORDER BY timestamp DESC LIMIT 1`, marketID))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (q *pgQueries) HasPricePointOn(ctx context.Context, marketID string, day time.Time) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM price_history
			WHERE market_id = $1
			  AND timestamp >= $2 AND timestamp < $3
		 )`,
		marketID, startOfDayUTC(day), startOfDayUTC(day).AddDate(0, 0, 1)).
		Scan(&exists)
	return exists, err
}

func (q *pgQueries) ListPricePoints(ctx context.Context, marketID string) ([]model.PricePoint, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, market_id, yes_price::TEXT, no_price::TEXT, timestamp
		 FROM price_history WHERE market_id = $1 ORDER BY timestamp`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.PricePoint
	for rows.Next() {
		p, err := scanPricePoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, *p)
	}
	return points, rows.Err()
}

// startOfDayUTC truncates t to midnight UTC.
func startOfDayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mocktrade/trading-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const accountColumns = `id, username, email, password_hash, balance::TEXT, is_admin, created_at, updated_at`

const assetColumns = `id, name, ticker, price::TEXT, change::TEXT, change_percent::TEXT,
	COALESCE(market_cap, ''), COALESCE(volume, 0), updated_at`

const positionColumns = `account_id, asset_id, asset_ticker, quantity::TEXT, average_price::TEXT`

const tradeColumns = `id, account_id, asset_id, asset_ticker, side,
	quantity::TEXT, price::TEXT, total::TEXT, timestamp`

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, username, email, password_hash, balance, is_admin, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8)`,
		a.ID, a.Username, a.Email, a.PasswordHash, a.Balance.String(), a.IsAdmin,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create account %s: %w", a.Email, translate(err))
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return getAccount(ctx, s.pool, `WHERE id = $1`, id)
}

func (s *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return getAccount(ctx, s.pool, `WHERE email = $1`, email)
}

func getAccount(ctx context.Context, q querier, where string, arg string) (*model.Account, error) {
	row := q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts `+where, arg)
	a, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", arg, translate(err))
	}
	return a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) CountAccounts(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n)
	return n, err
}

func (s *PostgresStore) SetBalance(ctx context.Context, f AccountFilter, balance decimal.Decimal) (int64, error) {
	where, args := filterClause(f, "id", 2)
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET balance = $1::NUMERIC, updated_at = NOW() `+where,
		append([]any{balance.String()}, args...)...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) AddBalance(ctx context.Context, f AccountFilter, amount decimal.Decimal) (int64, error) {
	where, args := filterClause(f, "id", 2)
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET balance = balance + $1::NUMERIC, updated_at = NOW() `+where,
		append([]any{amount.String()}, args...)...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ResetPortfolios(ctx context.Context, f AccountFilter) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Trades and positions are removed regardless of the admin flag.
	owned, ownedArgs := filterClause(AccountFilter{IDs: f.IDs}, "account_id", 1)

	if _, err := tx.Exec(ctx, `DELETE FROM trades `+owned, ownedArgs...); err != nil {
		return fmt.Errorf("reset trades: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM positions `+owned, ownedArgs...); err != nil {
		return fmt.Errorf("reset positions: %w", err)
	}

	where, args := filterClause(f, "id", 1)
	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = 0, updated_at = NOW() `+where, args...); err != nil {
		return fmt.Errorf("reset balances: %w", err)
	}
	return tx.Commit(ctx)
}

// filterClause renders f as a WHERE clause matching idColumn against the
// selected IDs, with $first as its first placeholder.
func filterClause(f AccountFilter, idColumn string, first int) (string, []any) {
	var conds []string
	var args []any
	if f.IDs != nil {
		conds = append(conds, fmt.Sprintf("%s = ANY($%d)", idColumn, first))
		args = append(args, f.IDs)
	}
	if f.SkipAdmins {
		conds = append(conds, "is_admin = FALSE")
	}
	switch len(conds) {
	case 0:
		return "", nil
	case 1:
		return "WHERE " + conds[0], args
	default:
		return "WHERE " + conds[0] + " AND " + conds[1], args
	}
}

// --- Asset catalog ---

func (s *PostgresStore) CreateAsset(ctx context.Context, a *model.Asset) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO assets (id, name, ticker, price, change, change_percent, market_cap, volume, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9)`,
		a.ID, a.Name, a.Ticker, a.Price.String(), a.Change.String(), a.ChangePercent.String(),
		a.MarketCap, a.Volume, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create asset %s: %w", a.Ticker, translate(err))
	}
	return nil
}

func (s *PostgresStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	return getAsset(ctx, s.pool, id)
}

func getAsset(ctx context.Context, q querier, id string) (*model.Asset, error) {
	a, err := scanAsset(q.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get asset %s: %w", id, translate(err))
	}
	return a, nil
}

func (s *PostgresStore) ListAssets(ctx context.Context) ([]model.Asset, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

// --- Holdings and history ---

func (s *PostgresStore) ListPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE account_id = $1 ORDER BY asset_ticker`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (s *PostgresStore) ListAllPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions ORDER BY account_id, asset_ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (s *PostgresStore) ListTrades(ctx context.Context, accountID string, limit int) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE account_id = $1
		 ORDER BY timestamp DESC, seq DESC LIMIT NULLIF($2::INT, 0)`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// --- Unit of work ---

// Atomic opens a transaction and locks the account row with SELECT ... FOR UPDATE
// so concurrent orders for the same account queue behind each other. The
// transaction is rolled back if fn returns an error.
func (s *PostgresStore) Atomic(ctx context.Context, accountID string, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&locked)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("lock account %s: %w", accountID, err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	return getAsset(ctx, t.tx, id)
}

func (t *pgTx) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return getAccount(ctx, t.tx, `WHERE id = $1`, id)
}

func (t *pgTx) GetPosition(ctx context.Context, accountID, assetID string) (*model.Position, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE account_id = $1 AND asset_id = $2`,
		accountID, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("position %s/%s: %w", accountID, assetID, ErrNotFound)
	}
	return &positions[0], nil
}

func (t *pgTx) UpdateBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts SET balance = $2::NUMERIC, updated_at = NOW() WHERE id = $1`,
		accountID, balance.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) SavePosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (account_id, asset_id, asset_ticker, quantity, average_price)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)
		 ON CONFLICT (account_id, asset_id)
		 DO UPDATE SET quantity = EXCLUDED.quantity, average_price = EXCLUDED.average_price`,
		p.AccountID, p.AssetID, p.AssetTicker, p.Quantity.String(), p.AveragePrice.String(),
	)
	return err
}

func (t *pgTx) DeletePosition(ctx context.Context, accountID, assetID string) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM positions WHERE account_id = $1 AND asset_id = $2`, accountID, assetID)
	return err
}

func (t *pgTx) InsertTrade(ctx context.Context, e *model.Trade) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO trades (id, account_id, asset_id, asset_ticker, side, quantity, price, total, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		e.ID, e.AccountID, e.AssetID, e.AssetTicker, e.Side,
		e.Quantity.String(), e.Price.String(), e.Total.String(),
		e.Timestamp,
	)
	return err
}

// --- Scanning ---

// translate maps driver errors onto the store's sentinel errors.
func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	var balance string
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &balance,
		&a.IsAdmin, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Balance, _ = decimal.NewFromString(balance)
	return &a, nil
}

func scanAsset(row pgx.Row) (*model.Asset, error) {
	var a model.Asset
	var price, change, changePct string
	if err := row.Scan(&a.ID, &a.Name, &a.Ticker, &price, &change, &changePct,
		&a.MarketCap, &a.Volume, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Price, _ = decimal.NewFromString(price)
	a.Change, _ = decimal.NewFromString(change)
	a.ChangePercent, _ = decimal.NewFromString(changePct)
	return &a, nil
}

func scanPositions(rows pgx.Rows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var qtyS, avgS string
		if err := rows.Scan(&p.AccountID, &p.AssetID, &p.AssetTicker, &qtyS, &avgS); err != nil {
			return nil, err
		}
		p.Quantity, _ = decimal.NewFromString(qtyS)
		p.AveragePrice, _ = decimal.NewFromString(avgS)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var e model.Trade
		var qtyS, priceS, totalS string

		if err := rows.Scan(&e.ID, &e.AccountID, &e.AssetID, &e.AssetTicker, &e.Side,
			&qtyS, &priceS, &totalS, &e.Timestamp); err != nil {
			return nil, err
		}

		e.Quantity, _ = decimal.NewFromString(qtyS)
		e.Price, _ = decimal.NewFromString(priceS)
		e.Total, _ = decimal.NewFromString(totalS)

		trades = append(trades, e)
	}
	return trades, rows.Err()
}

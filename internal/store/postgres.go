package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bitchest/wallet-engine/internal/model"
)

//go:embed schema/postgres.sql
var postgresSchema string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if a.CashBalance.IsNegative() {
		return ErrNegativeBalance
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, cash_balance, created_at, updated_at)
		 VALUES ($1, $2::NUMERIC, $3, $4)`,
		a.UserID, a.CashBalance.String(), a.CreatedAt, a.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("account %s: %w", a.UserID, ErrAccountExists)
	}
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	return getPgAccount(ctx, s.pool, userID, false)
}

func getPgAccount(ctx context.Context, q pgQuerier, userID string, forUpdate bool) (*model.Account, error) {
	query := `SELECT user_id, cash_balance::TEXT, created_at, updated_at
	          FROM accounts WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var a model.Account
	var balance string
	err := q.QueryRow(ctx, query, userID).Scan(&a.UserID, &balance, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", userID, ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}

	a.CashBalance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("account %s balance: %w", userID, err)
	}
	a.CreatedAt, a.UpdatedAt = a.CreatedAt.UTC(), a.UpdatedAt.UTC()
	return &a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, cash_balance::TEXT, created_at, updated_at
		 FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []model.Account{}
	for rows.Next() {
		var a model.Account
		var balance string
		if err := rows.Scan(&a.UserID, &balance, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if a.CashBalance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("account %s balance: %w", a.UserID, err)
		}
		a.CreatedAt, a.UpdatedAt = a.CreatedAt.UTC(), a.UpdatedAt.UTC()
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// DeleteAccount relies on ON DELETE CASCADE to drop the ledger. The row lock
// taken by the DELETE waits for any in-flight WithAccount on the same user.
func (s *PostgresStore) DeleteAccount(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete account %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", userID, ErrAccountNotFound)
	}
	return nil
}

func (s *PostgresStore) LedgerEntries(ctx context.Context, userID, assetID string) ([]model.LedgerEntry, error) {
	return pgLedgerEntries(ctx, s.pool, userID, assetID)
}

func pgLedgerEntries(ctx context.Context, q pgQuerier, userID, assetID string) ([]model.LedgerEntry, error) {
	rows, err := q.Query(ctx,
		`SELECT id::TEXT, seq, user_id, asset_id, type,
		        quantity::TEXT, unit_price::TEXT, timestamp
		 FROM ledger_entries
		 WHERE user_id = $1 AND ($2 = '' OR asset_id = $2)
		 ORDER BY timestamp, seq`, userID, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) InsertPricePoint(ctx context.Context, p *model.PricePoint) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_points (asset_id, price, at)
		 VALUES ($1, $2::NUMERIC, $3)
		 ON CONFLICT (asset_id, at) DO UPDATE SET price = EXCLUDED.price`,
		p.AssetID, p.Price.String(), p.At,
	)
	return err
}

func (s *PostgresStore) LatestPrice(ctx context.Context, assetID string) (*model.PricePoint, error) {
	var p model.PricePoint
	var price string
	err := s.pool.QueryRow(ctx,
		`SELECT asset_id, price::TEXT, at FROM price_points
		 WHERE asset_id = $1 ORDER BY at DESC LIMIT 1`, assetID).
		Scan(&p.AssetID, &price, &p.At)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("price for %s: %w", assetID, ErrPriceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest price %s: %w", assetID, err)
	}
	p.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("price for %s: %w", assetID, err)
	}
	p.At = p.At.UTC()
	return &p, nil
}

func (s *PostgresStore) PriceHistory(ctx context.Context, assetID string, since time.Time) ([]model.PricePoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT asset_id, price::TEXT, at FROM price_points
		 WHERE asset_id = $1 AND at >= $2 ORDER BY at`, assetID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.PricePoint
	for rows.Next() {
		var p model.PricePoint
		var price string
		if err := rows.Scan(&p.AssetID, &price, &p.At); err != nil {
			return nil, err
		}
		if p.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("price %s at %s: %w", p.AssetID, p.At, err)
		}
		p.At = p.At.UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}

// WithAccount locks the account row with SELECT ... FOR UPDATE for the
// lifetime of the transaction.
func (s *PostgresStore) WithAccount(ctx context.Context, userID string, fn func(context.Context, Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	acct, err := getPgAccount(ctx, tx, userID, true)
	if err != nil {
		return err
	}

	if err := fn(ctx, &pgTx{tx: tx, account: *acct}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgTx struct {
	tx      pgx.Tx
	account model.Account
}

func (t *pgTx) Account(_ context.Context) (model.Account, error) {
	return t.account, nil
}

func (t *pgTx) LedgerEntries(ctx context.Context, userID, assetID string) ([]model.LedgerEntry, error) {
	if userID != t.account.UserID {
		return nil, ErrForeignAccount
	}
	return pgLedgerEntries(ctx, t.tx, userID, assetID)
}

func (t *pgTx) SetBalance(ctx context.Context, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return ErrNegativeBalance
	}
	err := t.tx.QueryRow(ctx,
		`UPDATE accounts SET cash_balance = $2::NUMERIC, updated_at = NOW()
		 WHERE user_id = $1 RETURNING updated_at`,
		t.account.UserID, balance.String(),
	).Scan(&t.account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("set balance %s: %w", t.account.UserID, err)
	}
	t.account.CashBalance = balance
	return nil
}

func (t *pgTx) AppendLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	if e.UserID != t.account.UserID {
		return ErrForeignAccount
	}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (id, user_id, asset_id, type, quantity, unit_price, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7)
		 RETURNING seq`,
		e.ID, e.UserID, e.AssetID, string(e.Type),
		e.Quantity.String(), e.UnitPrice.String(), e.Timestamp,
	).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// scanLedgerEntries reads rows into LedgerEntry slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanLedgerEntries(rows pgxRows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var typ, qtyS, priceS string

		if err := rows.Scan(&e.ID, &e.Seq, &e.UserID, &e.AssetID, &typ,
			&qtyS, &priceS, &e.Timestamp); err != nil {
			return nil, err
		}

		e.Type = model.TradeType(typ)
		var err error
		if e.Quantity, err = decimal.NewFromString(qtyS); err != nil {
			return nil, fmt.Errorf("ledger entry %s quantity: %w", e.ID, err)
		}
		if e.UnitPrice, err = decimal.NewFromString(priceS); err != nil {
			return nil, fmt.Errorf("ledger entry %s unit price: %w", e.ID, err)
		}
		e.Timestamp = e.Timestamp.UTC()

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

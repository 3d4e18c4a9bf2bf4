package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/bitchest/wallet-engine/internal/model"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// SQLiteStore implements Store on a single SQLite file. Every transaction
// is opened with BEGIN IMMEDIATE, so writers are serialized by the database
// lock and WithAccount needs no extra locking.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. ":memory:" gives a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	if path == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on&_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if path == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if a.CashBalance.IsNegative() {
		return ErrNegativeBalance
	}
	_, err := s.db.ExecContext(ctx, sqliteInsertAccount,
		a.UserID, a.CashBalance.String(), a.CreatedAt.UnixNano(), a.UpdatedAt.UnixNano())
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("account %s: %w", a.UserID, ErrAccountExists)
	}
	return err
}

func (s *SQLiteStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	return getSQLiteAccount(ctx, s.db, userID)
}

func getSQLiteAccount(ctx context.Context, q sqlQuerier, userID string) (*model.Account, error) {
	a, err := scanAccount(q.QueryRowContext(ctx, sqliteSelectAccount, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", userID, ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var a model.Account
	var balance string
	var created, updated int64
	if err := row.Scan(&a.UserID, &balance, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if a.CashBalance, err = decimal.NewFromString(balance); err != nil {
		return nil, err
	}
	a.CreatedAt = time.Unix(0, created).UTC()
	a.UpdatedAt = time.Unix(0, updated).UTC()
	return &a, nil
}

func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx, sqliteListAccounts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []model.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (s *SQLiteStore) DeleteAccount(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, sqliteDeleteAccount, userID)
	if err != nil {
		return fmt.Errorf("delete account %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", userID, ErrAccountNotFound)
	}
	return nil
}

func (s *SQLiteStore) LedgerEntries(ctx context.Context, userID, assetID string) ([]model.LedgerEntry, error) {
	return sqliteLedgerEntries(ctx, s.db, userID, assetID)
}

func sqliteLedgerEntries(ctx context.Context, q sqlQuerier, userID, assetID string) ([]model.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, sqliteSelectLedger, userID, assetID, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var typ, qty, price string
		var ts int64
		if err := rows.Scan(&e.ID, &e.Seq, &e.UserID, &e.AssetID, &typ, &qty, &price, &ts); err != nil {
			return nil, err
		}
		e.Type = model.TradeType(typ)
		if e.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("ledger entry %s quantity: %w", e.ID, err)
		}
		if e.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("ledger entry %s unit price: %w", e.ID, err)
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) InsertPricePoint(ctx context.Context, p *model.PricePoint) error {
	_, err := s.db.ExecContext(ctx, sqliteUpsertPrice, p.AssetID, p.Price.String(), p.At.UnixNano())
	return err
}

func (s *SQLiteStore) LatestPrice(ctx context.Context, assetID string) (*model.PricePoint, error) {
	p, err := scanPricePoint(s.db.QueryRowContext(ctx, sqliteLatestPrice, assetID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("price for %s: %w", assetID, ErrPriceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest price %s: %w", assetID, err)
	}
	return p, nil
}

func (s *SQLiteStore) PriceHistory(ctx context.Context, assetID string, since time.Time) ([]model.PricePoint, error) {
	rows, err := s.db.QueryContext(ctx, sqlitePriceHistory, assetID, since.UnixNano())
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

func scanPricePoint(row rowScanner) (*model.PricePoint, error) {
	var p model.PricePoint
	var price string
	var at int64
	if err := row.Scan(&p.AssetID, &price, &at); err != nil {
		return nil, err
	}
	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, err
	}
	p.At = time.Unix(0, at).UTC()
	return &p, nil
}

func (s *SQLiteStore) WithAccount(ctx context.Context, userID string, fn func(context.Context, Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	acct, err := getSQLiteAccount(ctx, tx, userID)
	if err != nil {
		return err
	}

	if err := fn(ctx, &sqliteTx{tx: tx, account: *acct}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx      *sql.Tx
	account model.Account
}

func (t *sqliteTx) Account(_ context.Context) (model.Account, error) {
	return t.account, nil
}

func (t *sqliteTx) LedgerEntries(ctx context.Context, userID, assetID string) ([]model.LedgerEntry, error) {
	if userID != t.account.UserID {
		return nil, ErrForeignAccount
	}
	return sqliteLedgerEntries(ctx, t.tx, userID, assetID)
}

func (t *sqliteTx) SetBalance(ctx context.Context, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return ErrNegativeBalance
	}
	now := time.Now().UTC()
	if _, err := t.tx.ExecContext(ctx, sqliteUpdateBalance, balance.String(), now.UnixNano(), t.account.UserID); err != nil {
		return fmt.Errorf("set balance %s: %w", t.account.UserID, err)
	}
	t.account.CashBalance = balance
	t.account.UpdatedAt = now
	return nil
}

func (t *sqliteTx) AppendLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	if e.UserID != t.account.UserID {
		return ErrForeignAccount
	}
	res, err := t.tx.ExecContext(ctx, sqliteInsertLedgerEntry,
		e.ID, e.UserID, e.AssetID, string(e.Type),
		e.Quantity.String(), e.UnitPrice.String(), e.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	e.Seq, err = res.LastInsertId()
	return err
}

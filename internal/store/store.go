// Package store defines the persistence interface for the wallet engine.
// Implementations include PostgreSQL (source of truth), SQLite (single-node
// deployments), Redis (read-through cache) and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bitchest/wallet-engine/internal/model"
)

var (
	ErrAccountNotFound = errors.New("store: account not found")
	ErrAccountExists   = errors.New("store: account already exists")
	ErrPriceNotFound   = errors.New("store: price not found")
	ErrNegativeBalance = errors.New("store: negative cash balance")
	ErrForeignAccount  = errors.New("store: transaction is bound to another account")
)

// Store is the persistence interface. PostgreSQL or SQLite is the source of
// truth; Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account. ErrAccountExists if the user
	// already has one.
	CreateAccount(ctx context.Context, acct *model.Account) error

	// GetAccount retrieves the account of a user.
	GetAccount(ctx context.Context, userID string) (*model.Account, error)

	// ListAccounts returns all accounts ordered by user id.
	ListAccounts(ctx context.Context) ([]model.Account, error)

	// DeleteAccount removes an account together with its ledger entries.
	DeleteAccount(ctx context.Context, userID string) error

	// --- Immutable ledger ---

	// LedgerEntries returns a user's entries in replay order. An empty
	// assetID selects every asset.
	LedgerEntries(ctx context.Context, userID, assetID string) ([]model.LedgerEntry, error)

	// --- Prices ---

	// InsertPricePoint records a quoted price.
	InsertPricePoint(ctx context.Context, p *model.PricePoint) error

	// LatestPrice returns the most recent price point of an asset.
	LatestPrice(ctx context.Context, assetID string) (*model.PricePoint, error)

	// PriceHistory returns the price points of an asset at or after since,
	// oldest first.
	PriceHistory(ctx context.Context, assetID string, since time.Time) ([]model.PricePoint, error)

	// --- Settlement ---

	// WithAccount runs fn as one atomic unit against the user's account.
	// Units for the same account never overlap; units for different accounts
	// may run in parallel. If fn returns an error nothing it wrote is kept.
	WithAccount(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx) error) error

	Close() error
}

// Tx is the view of one account inside WithAccount. It satisfies
// ledger.Source and ledger.Writer.
type Tx interface {
	// Account returns the locked account, reflecting balance changes made in
	// this unit.
	Account(ctx context.Context) (model.Account, error)

	// LedgerEntries returns the account's entries, including the ones
	// appended in this unit. userID must be the bound account.
	LedgerEntries(ctx context.Context, userID, assetID string) ([]model.LedgerEntry, error)

	// SetBalance replaces the cash balance. ErrNegativeBalance if below zero.
	SetBalance(ctx context.Context, balance decimal.Decimal) error

	// AppendLedgerEntry appends an entry and assigns its Seq.
	AppendLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error
}

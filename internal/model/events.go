package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types emitted after a trade commits.
const (
	EventBalanceChanged       = "balance_changed"
	EventTransactionCompleted = "transaction_completed"
)

// BalanceChanged is emitted once per committed change of an account's cash.
type BalanceChanged struct {
	UserID          string          `json:"user_id"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	NewBalance      decimal.Decimal `json:"new_balance"`
	Delta           decimal.Decimal `json:"delta"`
	At              time.Time       `json:"at"`
}

// TransactionCompleted is emitted once per committed ledger entry.
type TransactionCompleted struct {
	EntryID   string          `json:"entry_id"`
	UserID    string          `json:"user_id"`
	AssetID   string          `json:"asset_id"`
	Type      TradeType       `json:"type"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
	Balance   decimal.Decimal `json:"balance"`
	At        time.Time       `json:"at"`
}

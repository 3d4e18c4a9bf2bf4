// Package model defines the core domain types shared across the wallet engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// InitialBalance is the EUR cash balance a client account starts with.
var InitialBalance = decimal.NewFromInt(500)

// Account is the cash side of a client's wallet. One per client user.
// CashBalance is never negative.
type Account struct {
	UserID      string          `json:"user_id" db:"user_id"`
	CashBalance decimal.Decimal `json:"cash_balance" db:"cash_balance"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// TradeType is the direction of a ledger entry.
type TradeType string

const (
	Buy  TradeType = "buy"
	Sell TradeType = "sell"
)

// Valid reports whether t is buy or sell.
func (t TradeType) Valid() bool {
	return t == Buy || t == Sell
}

// LedgerEntry is an immutable record of an executed trade.
// Once created, entries are never modified; they are only removed when the
// owning account is deleted.
type LedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	Seq       int64           `json:"seq" db:"seq"` // insertion order, breaks timestamp ties
	UserID    string          `json:"user_id" db:"user_id"`
	AssetID   string          `json:"asset_id" db:"asset_id"`
	Type      TradeType       `json:"type" db:"type"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`     // always positive
	UnitPrice decimal.Decimal `json:"unit_price" db:"unit_price"` // EUR, always positive
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Total is the gross EUR amount of the entry.
func (e LedgerEntry) Total() decimal.Decimal {
	return e.Quantity.Mul(e.UnitPrice)
}

// Holding is the net position in one asset, derived by replaying the ledger.
// It is never persisted.
type Holding struct {
	AssetID      string          `json:"asset_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	CostBasis    decimal.Decimal `json:"cost_basis"`
	AveragePrice decimal.Decimal `json:"average_price"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
}

// Closed reports whether the position has been fully sold.
func (h Holding) Closed() bool {
	return !h.Quantity.IsPositive()
}

// PricePoint is a quoted price for an asset at a point in time.
type PricePoint struct {
	AssetID string          `json:"asset_id" db:"asset_id"`
	Price   decimal.Decimal `json:"price" db:"price"`
	At      time.Time       `json:"at" db:"at"`
}

// Valuation is a holding marked to the current market price.
type Valuation struct {
	Holding
	CurrentPrice decimal.Decimal `json:"current_price"`
	CurrentValue decimal.Decimal `json:"current_value"` // quantity * currentPrice
	ProfitLoss   decimal.Decimal `json:"profit_loss"`   // currentValue - costBasis
}

// Portfolio aggregates a client's cash and open holdings.
type Portfolio struct {
	UserID          string          `json:"user_id"`
	CashBalance     decimal.Decimal `json:"cash_balance"`
	Holdings        []Valuation     `json:"holdings"`
	HoldingsValue   decimal.Decimal `json:"holdings_value"`
	TotalBalance    decimal.Decimal `json:"total_balance"` // cash + Σ currentValue
	TotalProfitLoss decimal.Decimal `json:"total_profit_loss"`
	AsOf            time.Time       `json:"as_of"`
}

package wallet

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Error kinds. Every typed error below matches exactly one of these through
// errors.Is, so callers can branch on the kind without a type switch.
var (
	ErrInsufficientBalance  = errors.New("wallet: insufficient balance")
	ErrInsufficientHoldings = errors.New("wallet: insufficient holdings")
	ErrNoPriceAvailable     = errors.New("wallet: no price available")
	ErrInvalidTrade         = errors.New("wallet: invalid trade")

	// ErrCorruptLedger means a replay sold more than was held. Admission
	// makes this impossible, so it indicates damaged or misordered entries.
	ErrCorruptLedger = errors.New("wallet: corrupt ledger")
)

// InsufficientBalanceError is returned when a buy costs more than the
// account's cash balance.
type InsufficientBalanceError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%v: required %s, available %s",
		ErrInsufficientBalance, e.Required.StringFixed(2), e.Available.StringFixed(2))
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// InsufficientHoldingsError is returned when a sell asks for more units than
// the account holds.
type InsufficientHoldingsError struct {
	AssetID   string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientHoldingsError) Error() string {
	return fmt.Sprintf("%v: %s requested %s, available %s",
		ErrInsufficientHoldings, e.AssetID, e.Requested, e.Available)
}

func (e *InsufficientHoldingsError) Is(target error) bool {
	return target == ErrInsufficientHoldings
}

// NoPriceError is returned when an asset has no current (or no fresh) price.
type NoPriceError struct {
	AssetID string
	Reason  string
}

func (e *NoPriceError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%v for %s", ErrNoPriceAvailable, e.AssetID)
	}
	return fmt.Sprintf("%v for %s: %s", ErrNoPriceAvailable, e.AssetID, e.Reason)
}

func (e *NoPriceError) Is(target error) bool {
	return target == ErrNoPriceAvailable
}

// InvalidTradeError describes a structurally invalid trade input.
type InvalidTradeError struct {
	Field  string
	Reason string
}

func (e *InvalidTradeError) Error() string {
	return fmt.Sprintf("%v: %s %s", ErrInvalidTrade, e.Field, e.Reason)
}

func (e *InvalidTradeError) Is(target error) bool {
	return target == ErrInvalidTrade
}

// Invalid is shorthand for building an InvalidTradeError.
func Invalid(field, reason string) error {
	return &InvalidTradeError{Field: field, Reason: reason}
}

// OversoldError is returned by a replay when a sell takes a holding below
// zero.
type OversoldError struct {
	AssetID  string
	EntryID  string
	Quantity decimal.Decimal // the negative running quantity
}

func (e *OversoldError) Error() string {
	return fmt.Sprintf("%v: entry %s leaves %s %s", ErrCorruptLedger, e.EntryID, e.Quantity, e.AssetID)
}

func (e *OversoldError) Is(target error) bool {
	return target == ErrCorruptLedger
}

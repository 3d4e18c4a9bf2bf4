package wallet

import (
	"github.com/shopspring/decimal"

	"github.com/bitchest/wallet-engine/internal/model"
)

const (
	// QuantityScale is the finest quantity resolution (1e-8).
	QuantityScale int32 = 8
	// PriceScale is the finest EUR resolution (one cent).
	PriceScale int32 = 2
)

// BuyCost is the cash debited for a buy: quantity*unitPrice rounded up to
// the cent, so the account is never under-charged.
func BuyCost(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return quantity.Mul(unitPrice).RoundCeil(PriceScale)
}

// SellProceeds is the cash credited for a sell: quantity*unitPrice rounded
// down to the cent.
func SellProceeds(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return quantity.Mul(unitPrice).RoundFloor(PriceScale)
}

// AdmitBuy checks that balance covers the purchase and returns its cost.
func AdmitBuy(balance, quantity, unitPrice decimal.Decimal) (decimal.Decimal, error) {
	if err := CheckTrade(quantity, unitPrice); err != nil {
		return decimal.Zero, err
	}
	cost := BuyCost(quantity, unitPrice)
	if balance.LessThan(cost) {
		return decimal.Zero, &InsufficientBalanceError{Required: cost, Available: balance}
	}
	return cost, nil
}

// AdmitSell checks that the holding covers the sale and returns its proceeds.
// A sale is never clamped to the available quantity.
func AdmitSell(h model.Holding, quantity, unitPrice decimal.Decimal) (decimal.Decimal, error) {
	if err := CheckTrade(quantity, unitPrice); err != nil {
		return decimal.Zero, err
	}
	if quantity.GreaterThan(h.Quantity) {
		return decimal.Zero, &InsufficientHoldingsError{
			AssetID:   h.AssetID,
			Requested: quantity,
			Available: h.Quantity,
		}
	}
	return SellProceeds(quantity, unitPrice), nil
}

// CheckQuantity validates a trade quantity: positive, at most 8 decimals.
func CheckQuantity(q decimal.Decimal) error {
	if !q.IsPositive() {
		return Invalid("quantity", "must be positive")
	}
	if !q.Equal(q.Truncate(QuantityScale)) {
		return Invalid("quantity", "must not be finer than 0.00000001")
	}
	return nil
}

// CheckUnitPrice validates a unit price: positive, at most 2 decimals.
func CheckUnitPrice(p decimal.Decimal) error {
	if !p.IsPositive() {
		return Invalid("unit_price", "must be positive")
	}
	if !p.Equal(p.Truncate(PriceScale)) {
		return Invalid("unit_price", "must not be finer than 0.01")
	}
	return nil
}

// CheckTrade validates both quantity and unit price.
func CheckTrade(quantity, unitPrice decimal.Decimal) error {
	if err := CheckQuantity(quantity); err != nil {
		return err
	}
	return CheckUnitPrice(unitPrice)
}

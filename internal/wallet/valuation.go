package wallet

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bitchest/wallet-engine/internal/model"
)

// Value marks a holding to the given market price.
func Value(h model.Holding, price decimal.Decimal) model.Valuation {
	current := h.Quantity.Mul(price)
	return model.Valuation{
		Holding:      h,
		CurrentPrice: price,
		CurrentValue: current,
		ProfitLoss:   current.Sub(h.CostBasis),
	}
}

// Summarize builds the portfolio view of an account. Closed holdings are
// excluded. Every open holding needs a price in prices, otherwise the result
// is a NoPriceError for that asset.
func Summarize(acct model.Account, holdings []model.Holding, prices map[string]decimal.Decimal, asOf time.Time) (model.Portfolio, error) {
	p := model.Portfolio{
		UserID:          acct.UserID,
		CashBalance:     acct.CashBalance,
		Holdings:        []model.Valuation{},
		HoldingsValue:   decimal.Zero,
		TotalProfitLoss: decimal.Zero,
		AsOf:            asOf,
	}

	for _, h := range Open(holdings) {
		price, ok := prices[h.AssetID]
		if !ok {
			return model.Portfolio{}, &NoPriceError{AssetID: h.AssetID}
		}
		v := Value(h, price)
		p.Holdings = append(p.Holdings, v)
		p.HoldingsValue = p.HoldingsValue.Add(v.CurrentValue)
		p.TotalProfitLoss = p.TotalProfitLoss.Add(v.ProfitLoss)
	}

	p.TotalBalance = p.CashBalance.Add(p.HoldingsValue)
	return p, nil
}

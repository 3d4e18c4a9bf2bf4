// Package wallet implements the valuation engine: it derives holdings from a
// ledger replay using weighted-average cost, gates trade admission against the
// current balance and holdings, and marks holdings to market.
//
// Every function here is pure. Replaying the same ordered entries always
// yields the same holdings.
//
// All monetary values use shopspring/decimal, never float64.
package wallet

import (
	"cmp"
	"iter"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/bitchest/wallet-engine/internal/model"
)

// Epsilon is the rounding-noise guard. A running quantity in [0, Epsilon) is
// treated as a closed position. It is a tunable constant, not part of any
// contract.
var Epsilon = decimal.New(1, -8)

// Replay computes the holding for one asset by replaying entries in order.
// Entries for other assets are skipped. The caller supplies entries already
// ordered by timestamp then insertion sequence.
//
// Buys add quantity*unitPrice to the cost basis and recompute the average
// price. Sells remove cost at the existing average, so the average price of
// the remaining units is unchanged.
//
// A sell that takes the quantity below zero stops the replay with an
// *OversoldError.
func Replay(assetID string, entries iter.Seq[model.LedgerEntry]) (model.Holding, error) {
	h := model.Holding{AssetID: assetID}
	for e := range entries {
		if e.AssetID != assetID {
			continue
		}
		h = Apply(h, e)
		if err := checkReplayed(h, e); err != nil {
			return h, err
		}
	}
	return h, nil
}

// Apply advances a holding by a single ledger entry. An oversell leaves a
// negative quantity for the caller to detect.
func Apply(h model.Holding, e model.LedgerEntry) model.Holding {
	switch e.Type {
	case model.Buy:
		h.CostBasis = h.CostBasis.Add(e.Quantity.Mul(e.UnitPrice))
		h.Quantity = h.Quantity.Add(e.Quantity)
		if h.Quantity.IsPositive() {
			h.AveragePrice = h.CostBasis.Div(h.Quantity)
		}
	case model.Sell:
		avg := decimal.Zero
		if h.Quantity.IsPositive() {
			avg = h.CostBasis.Div(h.Quantity)
		}
		released := avg.Mul(e.Quantity)
		h.RealizedPnL = h.RealizedPnL.Add(e.Quantity.Mul(e.UnitPrice).Sub(released))
		h.CostBasis = h.CostBasis.Sub(released)
		if h.CostBasis.IsNegative() {
			h.CostBasis = decimal.Zero
		}
		h.Quantity = h.Quantity.Sub(e.Quantity)
	}

	if !h.Quantity.IsNegative() && h.Quantity.LessThan(Epsilon) {
		h.Quantity = decimal.Zero
		h.CostBasis = decimal.Zero
		h.AveragePrice = decimal.Zero
	}
	return h
}

// Holdings replays every asset found in entries and returns one holding per
// asset ever traded, closed positions included, sorted by asset id.
func Holdings(entries iter.Seq[model.LedgerEntry]) ([]model.Holding, error) {
	byAsset := make(map[string]model.Holding)
	for e := range entries {
		h, ok := byAsset[e.AssetID]
		if !ok {
			h = model.Holding{AssetID: e.AssetID}
		}
		h = Apply(h, e)
		if err := checkReplayed(h, e); err != nil {
			return nil, err
		}
		byAsset[e.AssetID] = h
	}

	holdings := make([]model.Holding, 0, len(byAsset))
	for _, h := range byAsset {
		holdings = append(holdings, h)
	}
	slices.SortFunc(holdings, func(a, b model.Holding) int {
		return cmp.Compare(a.AssetID, b.AssetID)
	})
	return holdings, nil
}

func checkReplayed(h model.Holding, e model.LedgerEntry) error {
	if h.Quantity.IsNegative() {
		return &OversoldError{AssetID: e.AssetID, EntryID: e.ID, Quantity: h.Quantity}
	}
	return nil
}

// Open drops closed holdings.
func Open(holdings []model.Holding) []model.Holding {
	var open []model.Holding
	for _, h := range holdings {
		if !h.Closed() {
			open = append(open, h)
		}
	}
	return open
}

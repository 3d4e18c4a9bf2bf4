// Package ledger is the append-only record of executed trades. It builds
// structurally valid entries, appends them through a storage writer and
// exposes ordered, restartable sequences over a user's entries.
//
// Business admission (balance, holdings) happens before Append is called, so
// Append never needs to roll anything back on its own.
package ledger

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bitchest/wallet-engine/internal/model"
	"github.com/bitchest/wallet-engine/internal/wallet"
)

// Writer appends entries. Implementations assign Seq.
type Writer interface {
	AppendLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error
}

// Source reads a user's entries; an empty assetID selects every asset.
type Source interface {
	LedgerEntries(ctx context.Context, userID, assetID string) ([]model.LedgerEntry, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, userID, assetID string) ([]model.LedgerEntry, error)

func (f SourceFunc) LedgerEntries(ctx context.Context, userID, assetID string) ([]model.LedgerEntry, error) {
	return f(ctx, userID, assetID)
}

// NewEntry validates the trade fields and returns a new entry with a fresh id.
// Seq is left for the storage layer.
func NewEntry(userID, assetID string, typ model.TradeType, quantity, unitPrice decimal.Decimal, ts time.Time) (*model.LedgerEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, wallet.Invalid("user_id", "is required")
	}
	if strings.TrimSpace(assetID) == "" {
		return nil, wallet.Invalid("asset_id", "is required")
	}
	if !typ.Valid() {
		return nil, wallet.Invalid("type", "must be buy or sell")
	}
	if err := wallet.CheckTrade(quantity, unitPrice); err != nil {
		return nil, err
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	return &model.LedgerEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		AssetID:   assetID,
		Type:      typ,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Timestamp: ts.UTC(),
	}, nil
}

// Append persists entry through w.
func Append(ctx context.Context, w Writer, entry *model.LedgerEntry) error {
	return w.AppendLedgerEntry(ctx, entry)
}

// Compare orders entries by timestamp, then by insertion sequence.
func Compare(a, b model.LedgerEntry) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}

// Sort puts entries in replay order in place.
func Sort(entries []model.LedgerEntry) {
	slices.SortStableFunc(entries, Compare)
}

// EntriesFor returns a lazy sequence of a user's entries in replay order.
// Nothing is read until the sequence is ranged over, and every range re-reads
// the source, so the sequence can be iterated any number of times. A read
// failure is yielded once as the error value and ends the iteration.
func EntriesFor(ctx context.Context, src Source, userID, assetID string) iter.Seq2[model.LedgerEntry, error] {
	return func(yield func(model.LedgerEntry, error) bool) {
		entries, err := src.LedgerEntries(ctx, userID, assetID)
		if err != nil {
			yield(model.LedgerEntry{}, err)
			return
		}
		Sort(entries)
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Collect drains a sequence built by EntriesFor.
func Collect(seq iter.Seq2[model.LedgerEntry, error]) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for e, err := range seq {
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Package price resolves the current market price of an asset. An asset
// without a usable price is reported as wallet.ErrNoPriceAvailable, never
// as a zero price.
package price

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/bitchest/wallet-engine/internal/model"
	"github.com/bitchest/wallet-engine/internal/store"
	"github.com/bitchest/wallet-engine/internal/wallet"
)

// Feed returns the current price of an asset.
type Feed interface {
	CurrentPrice(ctx context.Context, assetID string) (model.PricePoint, error)
}

// LatestPricer is the part of store.Store a StoreFeed reads from.
type LatestPricer interface {
	LatestPrice(ctx context.Context, assetID string) (*model.PricePoint, error)
}

// StoreFeed serves the latest stored price point of each asset.
type StoreFeed struct {
	src    LatestPricer
	maxAge time.Duration
	now    func() time.Time
	group  singleflight.Group
}

// NewStoreFeed creates a feed over src. Points older than maxAge are
// treated as missing; a zero maxAge accepts any age.
func NewStoreFeed(src LatestPricer, maxAge time.Duration) *StoreFeed {
	return &StoreFeed{src: src, maxAge: maxAge, now: time.Now}
}

// CurrentPrice collapses concurrent lookups of the same asset into one
// store read.
func (f *StoreFeed) CurrentPrice(ctx context.Context, assetID string) (model.PricePoint, error) {
	v, err, _ := f.group.Do(assetID, func() (any, error) {
		return f.src.LatestPrice(ctx, assetID)
	})
	if errors.Is(err, store.ErrPriceNotFound) {
		return model.PricePoint{}, &wallet.NoPriceError{AssetID: assetID}
	}
	if err != nil {
		return model.PricePoint{}, fmt.Errorf("price %s: %w", assetID, err)
	}

	p := *v.(*model.PricePoint)
	if err := f.check(p); err != nil {
		return model.PricePoint{}, err
	}
	return p, nil
}

func (f *StoreFeed) check(p model.PricePoint) error {
	if !p.Price.IsPositive() {
		return &wallet.NoPriceError{AssetID: p.AssetID, Reason: "quoted price is not positive"}
	}
	if f.maxAge > 0 {
		if age := f.now().Sub(p.At); age > f.maxAge {
			return &wallet.NoPriceError{
				AssetID: p.AssetID,
				Reason:  fmt.Sprintf("last quote is %s old (max %s)", age.Round(time.Second), f.maxAge),
			}
		}
	}
	return nil
}

// Prices resolves the current price of every asset in ids. It fails with
// the first lookup error.
func Prices(ctx context.Context, feed Feed, ids []string) (map[string]decimal.Decimal, error) {
	var mu sync.Mutex
	prices := make(map[string]decimal.Decimal, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range ids {
		g.Go(func() error {
			p, err := feed.CurrentPrice(ctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			prices[id] = p.Price
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return prices, nil
}

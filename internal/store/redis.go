package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bitchest/wallet-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// accounts and latest prices. Writes go to the primary store and invalidate
// the cache; reads check Redis first then fall back to the primary.
//
// The latest price key only ever moves forward in time: both the read fill
// and the write refresh go through setLatestPrice, so a reader holding an
// older point cannot overwrite a newer one.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store. The Redis
// client is not closed by Close.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.CreateAccount(ctx, a); err != nil {
		return err
	}
	s.cache(ctx, accountKey(a.UserID), a)
	return nil
}

func (s *CachedStore) DeleteAccount(ctx context.Context, userID string) error {
	err := s.primary.DeleteAccount(ctx, userID)
	s.rdb.Del(ctx, accountKey(userID))
	return err
}

func (s *CachedStore) InsertPricePoint(ctx context.Context, p *model.PricePoint) error {
	if err := s.primary.InsertPricePoint(ctx, p); err != nil {
		return err
	}
	// Points may arrive out of order, so cache whatever the primary now
	// considers latest. An equal timestamp replaces the cached point.
	latest, err := s.primary.LatestPrice(ctx, p.AssetID)
	if err != nil {
		s.rdb.Del(ctx, latestPriceKey(p.AssetID))
		return nil
	}
	if err := s.setLatestPrice(ctx, latest, true); err != nil {
		s.rdb.Del(ctx, latestPriceKey(p.AssetID))
	}
	return nil
}

// WithAccount drops the cached account once the unit has committed.
func (s *CachedStore) WithAccount(ctx context.Context, userID string, fn func(context.Context, Tx) error) error {
	if err := s.primary.WithAccount(ctx, userID, fn); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(userID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	var a model.Account
	if s.lookup(ctx, accountKey(userID), &a) {
		return &a, nil
	}

	acct, err := s.primary.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, accountKey(userID), acct)
	return acct, nil
}

func (s *CachedStore) LatestPrice(ctx context.Context, assetID string) (*model.PricePoint, error) {
	var cp cachedPrice
	if s.lookup(ctx, latestPriceKey(assetID), &cp) {
		return &cp.PricePoint, nil
	}

	point, err := s.primary.LatestPrice(ctx, assetID)
	if err != nil {
		return nil, err
	}
	_ = s.setLatestPrice(ctx, point, false)
	return point, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return s.primary.ListAccounts(ctx)
}

func (s *CachedStore) LedgerEntries(ctx context.Context, userID, assetID string) ([]model.LedgerEntry, error) {
	return s.primary.LedgerEntries(ctx, userID, assetID)
}

func (s *CachedStore) PriceHistory(ctx context.Context, assetID string, since time.Time) ([]model.PricePoint, error) {
	return s.primary.PriceHistory(ctx, assetID, since)
}

func (s *CachedStore) Close() error {
	return s.primary.Close()
}

// --- Cache helpers ---

// cachedPrice is the value stored under a latest price key. AtMicros lets
// the compare script order points without parsing time strings.
type cachedPrice struct {
	model.PricePoint
	AtMicros int64 `json:"at_us"`
}

// setLatestScript stores ARGV[1] unless the cached point is newer than
// ARGV[2] (microseconds). With ARGV[4] = "1" an equal timestamp replaces the
// cached point; otherwise it is kept. ARGV[3] is the TTL in milliseconds, 0
// for none.
var setLatestScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local ok, v = pcall(cjson.decode, cur)
	if ok and type(v) == 'table' and tonumber(v.at_us) then
		local have, want = tonumber(v.at_us), tonumber(ARGV[2])
		if have > want or (have == want and ARGV[4] ~= '1') then
			return 0
		end
	end
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

func (s *CachedStore) setLatestPrice(ctx context.Context, p *model.PricePoint, replaceEqual bool) error {
	data, err := json.Marshal(cachedPrice{PricePoint: *p, AtMicros: p.At.UnixMicro()})
	if err != nil {
		return err
	}
	replace := "0"
	if replaceEqual {
		replace = "1"
	}
	return setLatestScript.Run(ctx, s.rdb, []string{latestPriceKey(p.AssetID)},
		data, p.At.UnixMicro(), s.ttl.Milliseconds(), replace).Err()
}

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func accountKey(uid string) string { return fmt.Sprintf("account:%s", uid) }
func latestPriceKey(asset string) string { return fmt.Sprintf("price:latest:%s", asset) }

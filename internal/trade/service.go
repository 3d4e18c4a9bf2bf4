// Package trade admits and settles buy and sell orders against a client's
// wallet, serves portfolio and history queries, and exposes all of it over
// HTTP.
//
// A trade runs in one store.WithAccount unit: the account is locked, the
// holding is replayed from the ledger, admission is decided against that
// locked state, and the balance update and ledger append commit together.
// Events are emitted only after the commit.
package trade

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bitchest/wallet-engine/internal/asset"
	"github.com/bitchest/wallet-engine/internal/ledger"
	"github.com/bitchest/wallet-engine/internal/metrics"
	"github.com/bitchest/wallet-engine/internal/model"
	"github.com/bitchest/wallet-engine/internal/notify"
	"github.com/bitchest/wallet-engine/internal/price"
	"github.com/bitchest/wallet-engine/internal/store"
	"github.com/bitchest/wallet-engine/internal/wallet"
)

// DefaultHistoryDays is the price history window when none is requested.
const DefaultHistoryDays = 30

// Service handles wallet operations. Trades on one account are serialized by
// the store; trades on different accounts run in parallel.
type Service struct {
	store          store.Store
	feed           price.Feed
	assets         *asset.Catalog
	notifier       notify.Notifier
	initialBalance decimal.Decimal
	now            func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets where committed events go. The default discards them.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithInitialBalance overrides the cash balance of new accounts.
func WithInitialBalance(b decimal.Decimal) Option {
	return func(s *Service) { s.initialBalance = b }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new trade service.
func NewService(st store.Store, feed price.Feed, assets *asset.Catalog, opts ...Option) *Service {
	s := &Service{
		store:          st,
		feed:           feed,
		assets:         assets,
		notifier:       notify.Nop{},
		initialBalance: model.InitialBalance,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --- Request/Response types ---

// Request is a buy or sell order. UserID comes from the caller's identity,
// never from the request body.
type Request struct {
	UserID   string          `json:"user_id" validate:"required"`
	AssetID  string          `json:"asset_id" validate:"required"`
	Quantity decimal.Decimal `json:"quantity" validate:"gt=0"`
}

// Result describes a committed trade.
type Result struct {
	Entry           model.LedgerEntry `json:"entry"`
	Amount          decimal.Decimal   `json:"amount"` // cash debited (buy) or credited (sell)
	PreviousBalance decimal.Decimal   `json:"previous_balance"`
	Balance         decimal.Decimal   `json:"balance"`
	Holding         model.Holding     `json:"holding"` // position after the trade
}

// ProvisionRequest creates a client account.
type ProvisionRequest struct {
	UserID string `json:"user_id" validate:"required,max=64,printascii"`
}

// PriceRequest records a quote for an asset. A zero At means now.
type PriceRequest struct {
	AssetID string          `json:"asset_id" validate:"required"`
	Price   decimal.Decimal `json:"price" validate:"gt=0"`
	At      time.Time       `json:"at"`
}

// Quote is an asset with its current price, if it has one.
type Quote struct {
	asset.Asset
	Price decimal.NullDecimal `json:"price"`
	At    *time.Time          `json:"at,omitempty"`
}

// --- Trading ---

// order is a validated trade ready for execution.
type order struct {
	typ      model.TradeType
	userID   string
	assetID  string
	quantity decimal.Decimal
	all      bool // sell the whole holding, resolved under the account lock
}

// Buy debits quantity*price from the account and records the purchase.
func (s *Service) Buy(ctx context.Context, req Request) (*Result, error) {
	if err := s.checkRequest(req); err != nil {
		return nil, s.reject(model.Buy, req.UserID, req.AssetID, err)
	}
	return s.execute(ctx, order{typ: model.Buy, userID: req.UserID, assetID: req.AssetID, quantity: req.Quantity})
}

// Sell credits quantity*price to the account and records the sale. Selling
// more than the holding is rejected, never clamped.
func (s *Service) Sell(ctx context.Context, req Request) (*Result, error) {
	if err := s.checkRequest(req); err != nil {
		return nil, s.reject(model.Sell, req.UserID, req.AssetID, err)
	}
	return s.execute(ctx, order{typ: model.Sell, userID: req.UserID, assetID: req.AssetID, quantity: req.Quantity})
}

// SellAll sells the entire holding of an asset. The quantity is read inside
// the locked unit, so a concurrent trade cannot leave a remainder.
func (s *Service) SellAll(ctx context.Context, userID, assetID string) (*Result, error) {
	if userID == "" {
		return nil, s.reject(model.Sell, userID, assetID, wallet.Invalid("user_id", "is required"))
	}
	return s.execute(ctx, order{typ: model.Sell, userID: userID, assetID: assetID, all: true})
}

func (s *Service) checkRequest(req Request) error {
	if err := check(req); err != nil {
		return err
	}
	return wallet.CheckQuantity(req.Quantity)
}

func (s *Service) execute(ctx context.Context, o order) (*Result, error) {
	start := time.Now()

	a, err := s.assets.Lookup(o.assetID)
	if err != nil {
		return nil, s.reject(o.typ, o.userID, o.assetID, wallet.Invalid("asset_id", err.Error()))
	}

	quote, err := s.feed.CurrentPrice(ctx, a.ID)
	if err != nil {
		return nil, s.reject(o.typ, o.userID, a.ID, err)
	}
	unitPrice := quote.Price

	var (
		entry *model.LedgerEntry
		res   Result
	)
	err = s.store.WithAccount(ctx, o.userID, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		entries, err := ledger.Collect(ledger.EntriesFor(ctx, tx, o.userID, ""))
		if err != nil {
			return err
		}
		holding, err := wallet.Replay(a.ID, slices.Values(entries))
		if err != nil {
			return err
		}
		ts := s.entryTime(entries)

		quantity := o.quantity
		if o.all {
			if holding.Closed() {
				return &wallet.InsufficientHoldingsError{AssetID: a.ID, Requested: decimal.Zero, Available: decimal.Zero}
			}
			quantity = holding.Quantity
		}

		var amount, balance decimal.Decimal
		switch o.typ {
		case model.Buy:
			amount, err = wallet.AdmitBuy(acct.CashBalance, quantity, unitPrice)
			balance = acct.CashBalance.Sub(amount)
		case model.Sell:
			amount, err = wallet.AdmitSell(holding, quantity, unitPrice)
			balance = acct.CashBalance.Add(amount)
		}
		if err != nil {
			return err
		}

		entry, err = ledger.NewEntry(o.userID, a.ID, o.typ, quantity, unitPrice, ts)
		if err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, balance); err != nil {
			return err
		}
		if err := ledger.Append(ctx, tx, entry); err != nil {
			return err
		}

		res = Result{
			Amount:          amount,
			PreviousBalance: acct.CashBalance,
			Balance:         balance,
			Holding:         wallet.Apply(holding, *entry),
		}
		return nil
	})
	if err != nil {
		return nil, s.reject(o.typ, o.userID, a.ID, err)
	}
	// Seq is final only once the unit has committed.
	res.Entry = *entry

	s.emit(ctx, &res)

	typ := string(o.typ)
	metrics.TradesTotal.WithLabelValues(typ).Inc()
	metrics.TradeLatency.WithLabelValues(typ).Observe(time.Since(start).Seconds())
	metrics.TradeVolume.WithLabelValues(a.ID, typ).Add(res.Amount.InexactFloat64())

	slog.Info("trade executed",
		"entry_id", res.Entry.ID,
		"user_id", o.userID,
		"asset_id", a.ID,
		"type", typ,
		"quantity", res.Entry.Quantity.String(),
		"unit_price", unitPrice.String(),
		"amount", res.Amount.String(),
		"balance", res.Balance.String(),
	)
	return &res, nil
}

// entryTime stamps a new entry. It runs under the account lock and never
// goes back past the account's last entry, so replay order matches the
// order trades were admitted in.
func (s *Service) entryTime(entries []model.LedgerEntry) time.Time {
	ts := s.now().UTC().Truncate(time.Microsecond)
	if n := len(entries); n > 0 && entries[n-1].Timestamp.After(ts) {
		ts = entries[n-1].Timestamp
	}
	return ts
}

// emit sends the committed trade's events, once each.
func (s *Service) emit(ctx context.Context, res *Result) {
	e := res.Entry
	s.notifier.BalanceChanged(ctx, model.BalanceChanged{
		UserID:          e.UserID,
		PreviousBalance: res.PreviousBalance,
		NewBalance:      res.Balance,
		Delta:           res.Balance.Sub(res.PreviousBalance),
		At:              e.Timestamp,
	})
	s.notifier.TransactionCompleted(ctx, model.TransactionCompleted{
		EntryID:   e.ID,
		UserID:    e.UserID,
		AssetID:   e.AssetID,
		Type:      e.Type,
		Quantity:  e.Quantity,
		UnitPrice: e.UnitPrice,
		Total:     res.Amount,
		Balance:   res.Balance,
		At:        e.Timestamp,
	})
}

// reject records a refused or failed trade and returns err unchanged.
func (s *Service) reject(typ model.TradeType, userID, assetID string, err error) error {
	kind := Kind(err)
	if !rejected(kind) {
		slog.Error("trade failed", "user_id", userID, "asset_id", assetID, "type", string(typ), "error", err)
		return err
	}
	metrics.AdmissionRejections.WithLabelValues(kind).Inc()
	slog.Info("trade rejected", "user_id", userID, "asset_id", assetID, "type", string(typ), "kind", kind, "reason", err.Error())
	return err
}

// --- Queries ---

// Portfolio values every open holding of userID at the current price. The
// account and its ledger are read in one unit so cash and holdings agree.
func (s *Service) Portfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	var (
		acct    model.Account
		entries []model.LedgerEntry
	)
	err := s.store.WithAccount(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		var err error
		if acct, err = tx.Account(ctx); err != nil {
			return err
		}
		entries, err = ledger.Collect(ledger.EntriesFor(ctx, tx, userID, ""))
		return err
	})
	if err != nil {
		return nil, err
	}

	holdings, err := wallet.Holdings(slices.Values(entries))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(holdings))
	for _, h := range wallet.Open(holdings) {
		ids = append(ids, h.AssetID)
	}
	prices, err := price.Prices(ctx, s.feed, ids)
	if err != nil {
		return nil, err
	}

	p, err := wallet.Summarize(acct, holdings, prices, s.now().UTC())
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// History returns userID's ledger entries in replay order, optionally for
// one asset only.
func (s *Service) History(ctx context.Context, userID, assetID string) ([]model.LedgerEntry, error) {
	if assetID != "" {
		id, err := asset.ParseID(assetID)
		if err != nil {
			return nil, wallet.Invalid("asset", err.Error())
		}
		assetID = id
	}
	if _, err := s.store.GetAccount(ctx, userID); err != nil {
		return nil, err
	}

	entries, err := ledger.Collect(ledger.EntriesFor(ctx, s.store, userID, assetID))
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	return entries, nil
}

// --- Accounts ---

// Provision creates a client account with the initial cash balance.
func (s *Service) Provision(ctx context.Context, req ProvisionRequest) (*model.Account, error) {
	if err := check(req); err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	acct := &model.Account{
		UserID:      req.UserID,
		CashBalance: s.initialBalance,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}
	metrics.Accounts.Inc()

	slog.Info("account provisioned",
		"user_id", acct.UserID,
		"cash_balance", acct.CashBalance.String(),
	)
	return acct, nil
}

// Deprovision deletes the account of userID together with its ledger.
func (s *Service) Deprovision(ctx context.Context, userID string) error {
	if err := s.store.DeleteAccount(ctx, userID); err != nil {
		return err
	}
	metrics.Accounts.Dec()
	slog.Info("account deprovisioned", "user_id", userID)
	return nil
}

// Accounts lists every client account.
func (s *Service) Accounts(ctx context.Context) ([]model.Account, error) {
	return s.store.ListAccounts(ctx)
}

// RefreshMetrics resets the account gauge from the store.
func (s *Service) RefreshMetrics(ctx context.Context) error {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return err
	}
	metrics.Accounts.Set(float64(len(accounts)))
	return nil
}

// --- Prices ---

// RecordPrice stores a quote. Quotes are the only source of trade prices.
func (s *Service) RecordPrice(ctx context.Context, req PriceRequest) (*model.PricePoint, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	a, err := s.assets.Lookup(req.AssetID)
	if err != nil {
		return nil, wallet.Invalid("asset_id", err.Error())
	}
	if err := wallet.CheckUnitPrice(req.Price); err != nil {
		return nil, wallet.Invalid("price", "must not be finer than 0.01")
	}

	at := req.At
	if at.IsZero() {
		at = s.now()
	}
	p := &model.PricePoint{
		AssetID: a.ID,
		Price:   req.Price,
		At:      at.UTC().Truncate(time.Microsecond),
	}
	if err := s.store.InsertPricePoint(ctx, p); err != nil {
		return nil, err
	}

	slog.Debug("price recorded", "asset_id", p.AssetID, "price", p.Price.String(), "at", p.At)
	return p, nil
}

// PriceHistory returns the quotes of assetID from the last days days.
func (s *Service) PriceHistory(ctx context.Context, assetID string, days int) ([]model.PricePoint, error) {
	a, err := s.assets.Lookup(assetID)
	if err != nil {
		return nil, wallet.Invalid("asset_id", err.Error())
	}
	if days <= 0 {
		days = DefaultHistoryDays
	}

	since := s.now().UTC().AddDate(0, 0, -days)
	points, err := s.store.PriceHistory(ctx, a.ID, since)
	if err != nil {
		return nil, err
	}
	if points == nil {
		points = []model.PricePoint{}
	}
	return points, nil
}

// Quotes lists the catalog with each asset's current price. An asset with
// no usable price is listed with a null price.
func (s *Service) Quotes(ctx context.Context) ([]Quote, error) {
	all := s.assets.All()
	quotes := make([]Quote, 0, len(all))
	for _, a := range all {
		q := Quote{Asset: a}
		p, err := s.feed.CurrentPrice(ctx, a.ID)
		switch {
		case err == nil:
			q.Price = decimal.NewNullDecimal(p.Price)
			q.At = &p.At
		case !errors.Is(err, wallet.ErrNoPriceAvailable):
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

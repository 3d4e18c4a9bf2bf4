package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bitchest/wallet-engine/internal/ledger"
	"github.com/bitchest/wallet-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	ledger   []model.LedgerEntry
	prices   map[string][]model.PricePoint
	seq      int64

	locks *keyedMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
		prices:   make(map[string][]model.PricePoint),
		locks:    newKeyedMutex(),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	if a.CashBalance.IsNegative() {
		return ErrNegativeBalance
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.UserID]; ok {
		return fmt.Errorf("account %s: %w", a.UserID, ErrAccountExists)
	}

	// Store a copy to avoid external mutation.
	copy := *a
	s.accounts[a.UserID] = &copy
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", userID, ErrAccountNotFound)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, *a)
	}
	slices.SortFunc(accounts, func(a, b model.Account) int {
		return cmp.Compare(a.UserID, b.UserID)
	})
	return accounts, nil
}

// DeleteAccount waits for any in-flight unit on the account before removing it.
func (s *MemoryStore) DeleteAccount(_ context.Context, userID string) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[userID]; !ok {
		return fmt.Errorf("account %s: %w", userID, ErrAccountNotFound)
	}
	delete(s.accounts, userID)
	s.ledger = slices.DeleteFunc(s.ledger, func(e model.LedgerEntry) bool {
		return e.UserID == userID
	})
	return nil
}

func (s *MemoryStore) LedgerEntries(_ context.Context, userID, assetID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.entriesLocked(userID, assetID), nil
}

func (s *MemoryStore) entriesLocked(userID, assetID string) []model.LedgerEntry {
	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.UserID == userID && (assetID == "" || e.AssetID == assetID) {
			result = append(result, e)
		}
	}
	ledger.Sort(result)
	return result
}

func (s *MemoryStore) InsertPricePoint(_ context.Context, p *model.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	points := s.prices[p.AssetID]
	i, found := slices.BinarySearchFunc(points, p.At, func(pp model.PricePoint, at time.Time) int {
		return pp.At.Compare(at)
	})
	if found {
		points[i] = *p
		return nil
	}
	s.prices[p.AssetID] = slices.Insert(points, i, *p)
	return nil
}

func (s *MemoryStore) LatestPrice(_ context.Context, assetID string) (*model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := s.prices[assetID]
	if len(points) == 0 {
		return nil, fmt.Errorf("price for %s: %w", assetID, ErrPriceNotFound)
	}
	p := points[len(points)-1]
	return &p, nil
}

func (s *MemoryStore) PriceHistory(_ context.Context, assetID string, since time.Time) ([]model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PricePoint
	for _, p := range s.prices[assetID] {
		if !p.At.Before(since) {
			result = append(result, p)
		}
	}
	return result, nil
}

// WithAccount holds the account's mutex for the whole unit. Writes made
// through the Tx are staged and only applied when fn succeeds.
func (s *MemoryStore) WithAccount(ctx context.Context, userID string, fn func(context.Context, Tx) error) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	acct, err := s.GetAccount(ctx, userID)
	if err != nil {
		return err
	}

	tx := &memoryTx{store: s, account: *acct}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.accounts[userID]
	if !ok {
		return fmt.Errorf("account %s: %w", userID, ErrAccountNotFound)
	}
	if tx.dirty {
		stored.CashBalance = tx.account.CashBalance
		stored.UpdatedAt = tx.account.UpdatedAt
	}
	for _, e := range tx.staged {
		s.seq++
		e.Seq = s.seq
		s.ledger = append(s.ledger, *e)
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

type memoryTx struct {
	store   *MemoryStore
	account model.Account
	staged  []*model.LedgerEntry
	dirty   bool
}

func (tx *memoryTx) Account(_ context.Context) (model.Account, error) {
	return tx.account, nil
}

func (tx *memoryTx) LedgerEntries(_ context.Context, userID, assetID string) ([]model.LedgerEntry, error) {
	if userID != tx.account.UserID {
		return nil, ErrForeignAccount
	}

	tx.store.mu.RLock()
	entries := tx.store.entriesLocked(userID, assetID)
	tx.store.mu.RUnlock()

	for _, e := range tx.staged {
		if assetID == "" || e.AssetID == assetID {
			entries = append(entries, *e)
		}
	}
	ledger.Sort(entries)
	return entries, nil
}

func (tx *memoryTx) SetBalance(_ context.Context, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return ErrNegativeBalance
	}
	tx.account.CashBalance = balance
	tx.account.UpdatedAt = time.Now().UTC()
	tx.dirty = true
	return nil
}

// AppendLedgerEntry stages the entry. Seq is assigned at commit; staged
// entries sort after committed ones with the same timestamp.
func (tx *memoryTx) AppendLedgerEntry(_ context.Context, e *model.LedgerEntry) error {
	if e.UserID != tx.account.UserID {
		return ErrForeignAccount
	}
	e.Seq = maxSeq
	tx.staged = append(tx.staged, e)
	return nil
}

const maxSeq = int64(^uint64(0) >> 1)

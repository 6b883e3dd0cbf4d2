package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mocktrade/trading-engine/internal/model"
)

type positionKey struct {
	accountID string
	assetID   string
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]*model.Account
	order     []string // account IDs in creation order
	assets    map[string]*model.Asset
	positions map[positionKey]*model.Position
	trades    []model.Trade
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*model.Account),
		assets:    make(map[string]*model.Asset),
		positions: make(map[positionKey]*model.Position),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if existing.Email == a.Email || existing.Username == a.Username {
			return fmt.Errorf("account %s: %w", a.Email, ErrDuplicate)
		}
	}

	// Store a copy to avoid external mutation.
	copy := *a
	s.accounts[a.ID] = &copy
	s.order = append(s.order, a.ID)
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) GetAccountByEmail(_ context.Context, email string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.Email == email {
			copy := *a
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("account %s: %w", email, ErrNotFound)
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]model.Account, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		accounts = append(accounts, *s.accounts[s.order[i]])
	}
	return accounts, nil
}

func (s *MemoryStore) CountAccounts(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts), nil
}

func (s *MemoryStore) SetBalance(_ context.Context, f AccountFilter, balance decimal.Decimal) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, a := range s.selectAccounts(f) {
		a.Balance = balance
		a.UpdatedAt = time.Now().UTC()
		n++
	}
	return n, nil
}

func (s *MemoryStore) AddBalance(_ context.Context, f AccountFilter, amount decimal.Decimal) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, a := range s.selectAccounts(f) {
		a.Balance = a.Balance.Add(amount)
		a.UpdatedAt = time.Now().UTC()
		n++
	}
	return n, nil
}

func (s *MemoryStore) ResetPortfolios(_ context.Context, f AccountFilter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	selected := func(id string) bool {
		if f.IDs == nil {
			return true
		}
		for _, want := range f.IDs {
			if want == id {
				return true
			}
		}
		return false
	}

	kept := s.trades[:0]
	for _, t := range s.trades {
		if !selected(t.AccountID) {
			kept = append(kept, t)
		}
	}
	s.trades = kept

	for k := range s.positions {
		if selected(k.accountID) {
			delete(s.positions, k)
		}
	}

	for _, a := range s.selectAccounts(f) {
		a.Balance = decimal.Zero
		a.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// selectAccounts returns live pointers; callers must hold the write lock.
func (s *MemoryStore) selectAccounts(f AccountFilter) []*model.Account {
	var out []*model.Account
	match := func(a *model.Account) {
		if f.SkipAdmins && a.IsAdmin {
			return
		}
		out = append(out, a)
	}
	if f.IDs == nil {
		for _, id := range s.order {
			match(s.accounts[id])
		}
		return out
	}
	for _, id := range f.IDs {
		if a, ok := s.accounts[id]; ok {
			match(a)
		}
	}
	return out
}

func (s *MemoryStore) CreateAsset(_ context.Context, a *model.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.assets {
		if existing.Ticker == a.Ticker {
			return fmt.Errorf("asset %s: %w", a.Ticker, ErrDuplicate)
		}
	}
	copy := *a
	s.assets[a.ID] = &copy
	return nil
}

func (s *MemoryStore) GetAsset(_ context.Context, id string) (*model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getAsset(id)
}

func (s *MemoryStore) getAsset(id string) (*model.Asset, error) {
	a, ok := s.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) ListAssets(_ context.Context) ([]model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assets := make([]model.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		assets = append(assets, *a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Ticker < assets[j].Ticker })
	return assets, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, accountID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for k, p := range s.positions {
		if k.accountID == accountID {
			positions = append(positions, *p)
		}
	}
	sortPositions(positions)
	return positions, nil
}

func (s *MemoryStore) ListAllPositions(_ context.Context) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]model.Position, 0, len(s.positions))
	for _, p := range s.positions {
		positions = append(positions, *p)
	}
	sortPositions(positions)
	return positions, nil
}

func sortPositions(positions []model.Position) {
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].AccountID != positions[j].AccountID {
			return positions[i].AccountID < positions[j].AccountID
		}
		return positions[i].AssetTicker < positions[j].AssetTicker
	})
}

func (s *MemoryStore) ListTrades(_ context.Context, accountID string, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for i := len(s.trades) - 1; i >= 0; i-- {
		if s.trades[i].AccountID != accountID {
			continue
		}
		result = append(result, s.trades[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// Atomic holds the store's write lock for the duration of fn and stages
// every write, applying them only if fn returns nil.
func (s *MemoryStore) Atomic(_ context.Context, _ string, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:         s,
		balances:  make(map[string]decimal.Decimal),
		positions: make(map[positionKey]*model.Position),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// memTx reads through its staged writes to the underlying maps.
// A nil entry in positions marks a staged delete.
type memTx struct {
	s         *MemoryStore
	balances  map[string]decimal.Decimal
	positions map[positionKey]*model.Position
	trades    []model.Trade
}

func (tx *memTx) GetAsset(_ context.Context, id string) (*model.Asset, error) {
	return tx.s.getAsset(id)
}

func (tx *memTx) GetAccount(_ context.Context, id string) (*model.Account, error) {
	a, ok := tx.s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	copy := *a
	if b, ok := tx.balances[id]; ok {
		copy.Balance = b
	}
	return &copy, nil
}

func (tx *memTx) GetPosition(_ context.Context, accountID, assetID string) (*model.Position, error) {
	k := positionKey{accountID, assetID}
	p, staged := tx.positions[k]
	if !staged {
		p = tx.s.positions[k]
	}
	if p == nil {
		return nil, fmt.Errorf("position %s/%s: %w", accountID, assetID, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (tx *memTx) UpdateBalance(_ context.Context, accountID string, balance decimal.Decimal) error {
	if _, ok := tx.s.accounts[accountID]; !ok {
		return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	tx.balances[accountID] = balance
	return nil
}

func (tx *memTx) SavePosition(_ context.Context, p *model.Position) error {
	copy := *p
	tx.positions[positionKey{p.AccountID, p.AssetID}] = &copy
	return nil
}

func (tx *memTx) DeletePosition(_ context.Context, accountID, assetID string) error {
	tx.positions[positionKey{accountID, assetID}] = nil
	return nil
}

func (tx *memTx) InsertTrade(_ context.Context, t *model.Trade) error {
	tx.trades = append(tx.trades, *t)
	return nil
}

func (tx *memTx) commit() {
	now := time.Now().UTC()
	for id, b := range tx.balances {
		a := tx.s.accounts[id]
		a.Balance = b
		a.UpdatedAt = now
	}
	for k, p := range tx.positions {
		if p == nil {
			delete(tx.s.positions, k)
			continue
		}
		tx.s.positions[k] = p
	}
	tx.s.trades = append(tx.s.trades, tx.trades...)
}

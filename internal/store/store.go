// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/mocktrade/trading-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("store: duplicate")
)

// AccountFilter selects the accounts touched by an administrative update.
// A nil IDs slice selects every account.
type AccountFilter struct {
	IDs        []string
	SkipAdmins bool
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account. Returns ErrDuplicate when the
	// username or email is taken.
	CreateAccount(ctx context.Context, account *model.Account) error

	// GetAccount retrieves an account by its ID.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// GetAccountByEmail retrieves an account by its login email.
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)

	// ListAccounts returns all accounts, newest first.
	ListAccounts(ctx context.Context) ([]model.Account, error)

	// CountAccounts returns the number of accounts.
	CountAccounts(ctx context.Context) (int, error)

	// SetBalance overwrites the balance of the selected accounts.
	SetBalance(ctx context.Context, filter AccountFilter, balance decimal.Decimal) (int64, error)

	// AddBalance credits amount to the selected accounts.
	AddBalance(ctx context.Context, filter AccountFilter, amount decimal.Decimal) (int64, error)

	// ResetPortfolios deletes the trades and positions of the selected
	// accounts and zeroes their balances. SkipAdmins only protects balances.
	ResetPortfolios(ctx context.Context, filter AccountFilter) error

	// --- Asset catalog ---

	// CreateAsset persists a new catalog entry. Returns ErrDuplicate on ticker clash.
	CreateAsset(ctx context.Context, asset *model.Asset) error

	// GetAsset retrieves an asset by its ID.
	GetAsset(ctx context.Context, id string) (*model.Asset, error)

	// ListAssets returns the catalog ordered by ticker.
	ListAssets(ctx context.Context) ([]model.Asset, error)

	// --- Holdings and history ---

	// ListPositions returns an account's open positions ordered by ticker.
	ListPositions(ctx context.Context, accountID string) ([]model.Position, error)

	// ListAllPositions returns every open position.
	ListAllPositions(ctx context.Context) ([]model.Position, error)

	// ListTrades returns an account's most recent trades, newest first.
	ListTrades(ctx context.Context, accountID string, limit int) ([]model.Trade, error)

	// --- Unit of work ---

	// Atomic runs fn as a single unit of work scoped to one account. Either
	// every write made through tx is applied or none is. Concurrent calls for
	// the same account are serialized.
	Atomic(ctx context.Context, accountID string, fn func(tx Tx) error) error

	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error
}

// Tx is the view of the store available inside Atomic.
type Tx interface {
	GetAsset(ctx context.Context, id string) (*model.Asset, error)
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// GetPosition returns ErrNotFound when the account holds none of the asset.
	GetPosition(ctx context.Context, accountID, assetID string) (*model.Position, error)

	UpdateBalance(ctx context.Context, accountID string, balance decimal.Decimal) error

	// SavePosition inserts or replaces the (account, asset) position.
	SavePosition(ctx context.Context, position *model.Position) error

	DeletePosition(ctx context.Context, accountID, assetID string) error

	// InsertTrade appends an immutable trade record.
	InsertTrade(ctx context.Context, trade *model.Trade) error
}

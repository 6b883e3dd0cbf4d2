// Package catalog handles asset ticker parsing and validation, the default
// catalog, and first-start seeding of accounts and assets.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mocktrade/trading-engine/internal/model"
	"github.com/mocktrade/trading-engine/internal/store"
)

// tickerRegex matches an upper-cased symbol: a letter followed by up to nine
// letters, digits or dots.
// Examples: AAPL, BRK.B, GOOGL
var tickerRegex = regexp.MustCompile(`^[A-Z][A-Z0-9.]{0,9}$`)

var (
	ErrInvalidTicker = errors.New("catalog: invalid ticker format")
	ErrInvalidAsset  = errors.New("catalog: invalid asset")
)

// ParseTicker normalizes and validates a ticker symbol.
func ParseTicker(ticker string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(ticker))
	if !tickerRegex.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q (expected 1-10 characters, A-Z, 0-9 or '.', starting with a letter)",
			ErrInvalidTicker, ticker)
	}
	return normalized, nil
}

// AssetSpec describes a catalog entry to be created.
type AssetSpec struct {
	Name      string          `json:"name"`
	Ticker    string          `json:"ticker"`
	Price     decimal.Decimal `json:"price"`
	MarketCap string          `json:"marketCap,omitempty"`
	Volume    int64           `json:"volume,omitempty"`
}

// NewAsset validates spec and builds a catalog entry with a fresh ID.
func NewAsset(spec AssetSpec, now time.Time) (*model.Asset, error) {
	ticker, err := ParseTicker(spec.Ticker)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidAsset)
	}
	if !spec.Price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidAsset)
	}
	if spec.Volume < 0 {
		return nil, fmt.Errorf("%w: volume must not be negative", ErrInvalidAsset)
	}

	return &model.Asset{
		ID:            uuid.New().String(),
		Name:          name,
		Ticker:        ticker,
		Price:         spec.Price,
		Change:        decimal.Zero,
		ChangePercent: decimal.Zero,
		MarketCap:     strings.TrimSpace(spec.MarketCap),
		Volume:        spec.Volume,
		UpdatedAt:     now.UTC(),
	}, nil
}

// AccountSpec describes a seeded account.
type AccountSpec struct {
	Username string
	Email    string
	Password string
	IsAdmin  bool
	Balance  decimal.Decimal
}

// DefaultAccounts is the set of accounts created on first start.
var DefaultAccounts = []AccountSpec{
	{Username: "admin", Email: "admin@trading.com", Password: "admin123", IsAdmin: true, Balance: decimal.NewFromInt(50000)},
	{Username: "john_doe", Email: "john@example.com", Password: "user123", Balance: decimal.NewFromInt(15000)},
	{Username: "jane_smith", Email: "jane@example.com", Password: "user123", Balance: decimal.NewFromInt(8500)},
	{Username: "mike_trader", Email: "mike@example.com", Password: "user123", Balance: decimal.NewFromInt(12750)},
	{Username: "sarah_investor", Email: "sarah@example.com", Password: "user123", Balance: decimal.NewFromInt(9900)},
}

// DefaultAssets is the catalog created on first start.
var DefaultAssets = []AssetSpec{
	{Name: "Apple Inc.", Ticker: "AAPL", Price: decimal.RequireFromString("175.50"), MarketCap: "$2.8T", Volume: 58234567},
	{Name: "Tesla Inc.", Ticker: "TSLA", Price: decimal.RequireFromString("248.75"), MarketCap: "$789B", Volume: 42156789},
	{Name: "Microsoft Corporation", Ticker: "MSFT", Price: decimal.RequireFromString("385.20"), MarketCap: "$2.9T", Volume: 32567890},
	{Name: "Amazon.com Inc.", Ticker: "AMZN", Price: decimal.RequireFromString("142.35"), MarketCap: "$1.5T", Volume: 28934567},
	{Name: "NVIDIA Corporation", Ticker: "NVDA", Price: decimal.RequireFromString("485.60"), MarketCap: "$1.2T", Volume: 65432109},
	{Name: "Alphabet Inc.", Ticker: "GOOGL", Price: decimal.RequireFromString("138.75"), MarketCap: "$1.7T", Volume: 23456789},
	{Name: "Meta Platforms Inc.", Ticker: "META", Price: decimal.RequireFromString("325.40"), MarketCap: "$825B", Volume: 18765432},
	{Name: "Bitcoin", Ticker: "BTC", Price: decimal.RequireFromString("43250.00"), MarketCap: "$845B", Volume: 12345678},
	{Name: "Ethereum", Ticker: "ETH", Price: decimal.RequireFromString("2580.75"), MarketCap: "$310B", Volume: 8765432},
	{Name: "GameStop Corp.", Ticker: "GME", Price: decimal.RequireFromString("15.85"), MarketCap: "$4.8B", Volume: 3456789},
}

// PasswordHasher hashes seeded account passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// Seed creates the default accounts and catalog when the store holds no
// accounts yet. It reports whether anything was written.
func Seed(ctx context.Context, st store.Store, hasher PasswordHasher) (bool, error) {
	n, err := st.CountAccounts(ctx)
	if err != nil {
		return false, fmt.Errorf("count accounts: %w", err)
	}
	if n > 0 {
		slog.Info("store already seeded", "accounts", n)
		return false, nil
	}

	now := time.Now().UTC()
	for _, spec := range DefaultAccounts {
		hash, err := hasher.Hash(spec.Password)
		if err != nil {
			return false, err
		}
		acct := &model.Account{
			ID:           uuid.New().String(),
			Username:     spec.Username,
			Email:        spec.Email,
			PasswordHash: hash,
			Balance:      spec.Balance,
			IsAdmin:      spec.IsAdmin,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := st.CreateAccount(ctx, acct); err != nil {
			return false, fmt.Errorf("seed account %s: %w", spec.Email, err)
		}
	}

	for _, spec := range DefaultAssets {
		asset, err := NewAsset(spec, now)
		if err != nil {
			return false, err
		}
		if err := st.CreateAsset(ctx, asset); err != nil && !errors.Is(err, store.ErrDuplicate) {
			return false, fmt.Errorf("seed asset %s: %w", spec.Ticker, err)
		}
	}

	slog.Info("store seeded",
		"accounts", len(DefaultAccounts),
		"assets", len(DefaultAssets),
		"admin", DefaultAccounts[0].Email,
	)
	return true, nil
}

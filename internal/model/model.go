// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Account is a trader (or administrator) holding a cash balance.
type Account struct {
	ID           string          `json:"id" db:"id"`
	Username     string          `json:"username" db:"username"`
	Email        string          `json:"email" db:"email"`
	PasswordHash string          `json:"-" db:"password_hash"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	IsAdmin      bool            `json:"isAdmin" db:"is_admin"`
	CreatedAt    time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time       `json:"updatedAt" db:"updated_at"`
}

// Asset is a tradable catalog entry. Price is the baseline reference price;
// quotes served to clients are derived from it and never written back.
type Asset struct {
	ID            string          `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Ticker        string          `json:"ticker" db:"ticker"`
	Price         decimal.Decimal `json:"price" db:"price"`
	Change        decimal.Decimal `json:"change" db:"change"`
	ChangePercent decimal.Decimal `json:"changePercent" db:"change_percent"`
	MarketCap     string          `json:"marketCap,omitempty" db:"market_cap"`
	Volume        int64           `json:"volume,omitempty" db:"volume"`
	UpdatedAt     time.Time       `json:"updatedAt" db:"updated_at"`
}

// Position is an account's current holding of one asset.
// A position with zero quantity is deleted, never stored.
type Position struct {
	AccountID    string          `json:"userId" db:"account_id"`
	AssetID      string          `json:"assetId" db:"asset_id"`
	AssetTicker  string          `json:"assetTicker" db:"asset_ticker"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
	AveragePrice decimal.Decimal `json:"averagePrice" db:"average_price"`
}

// Trade is an immutable record of one executed buy or sell.
// Once created, these are never modified by the engine.
type Trade struct {
	ID          string          `json:"id" db:"id"`
	AccountID   string          `json:"userId" db:"account_id"`
	AssetID     string          `json:"assetId" db:"asset_id"`
	AssetTicker string          `json:"assetTicker" db:"asset_ticker"`
	Side        string          `json:"type" db:"side"` // "buy" or "sell"
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Total       decimal.Decimal `json:"total" db:"total"` // quantity × price
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
}

// PositionView is a position marked to a live quote.
type PositionView struct {
	Position
	Name            string          `json:"name"`
	CurrentPrice    decimal.Decimal `json:"currentPrice"`
	MarketValue     decimal.Decimal `json:"marketValue"`     // quantity × currentPrice
	GainLoss        decimal.Decimal `json:"gainLoss"`        // (currentPrice − averagePrice) × quantity
	GainLossPercent decimal.Decimal `json:"gainLossPercent"` // relative to averagePrice, in percent
}

// LeaderboardEntry ranks one non-admin account by total value.
type LeaderboardEntry struct {
	AccountID      string          `json:"id"`
	Username       string          `json:"username"`
	Email          string          `json:"email"`
	Balance        decimal.Decimal `json:"balance"`
	PortfolioValue decimal.Decimal `json:"portfolioValue"`
	TotalGainLoss  decimal.Decimal `json:"totalGainLoss"`
	TotalValue     decimal.Decimal `json:"totalValue"`    // balance + portfolioValue
	ReturnPercent  decimal.Decimal `json:"returnPercent"` // gain/loss over cost, in percent
}

// Dashboard is the admin view of a single account.
type Dashboard struct {
	User      Account        `json:"user"`
	Portfolio []PositionView `json:"portfolio"`
	Trades    []Trade        `json:"trades"`
}

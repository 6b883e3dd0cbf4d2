// Package pricing supplies current quotes for catalog assets.
//
// Quotes are ephemeral: two calls for the same asset may return different
// prices, and a quote is never written back as the asset's baseline.
package pricing

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mocktrade/trading-engine/internal/model"
)

// Quote is a point-in-time price for one asset.
type Quote struct {
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"changePercent"`
}

// Feed produces quotes from an asset's baseline reference price.
type Feed interface {
	Quote(ctx context.Context, asset model.Asset) (Quote, error)
}

// Apply returns a copy of asset with the quote's price fields substituted.
func Apply(asset model.Asset, q Quote) model.Asset {
	asset.Price = q.Price
	asset.Change = q.Change
	asset.ChangePercent = q.ChangePercent
	return asset
}

// Jitter bounds used by JitterFeed.
var (
	// PriceJitter is the maximum relative deviation from the baseline (±1%).
	PriceJitter = 0.01

	// ChangeRange bounds the reported absolute change (±5).
	ChangeRange = 5.0

	// ChangePercentRange bounds the reported percent change (±4%).
	ChangePercentRange = 4.0

	// QuoteScale is the number of decimal places quotes are rounded to.
	QuoteScale int32 = 2
)

// JitterFeed perturbs the baseline price by a bounded uniform random factor
// on every call. Safe for concurrent use.
type JitterFeed struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewJitterFeed creates a feed drawing from src. Pass nil to seed from the
// runtime's random source.
func NewJitterFeed(src rand.Source) *JitterFeed {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &JitterFeed{rng: rand.New(src)}
}

// Quote returns baseline × (1 + u), u ∈ [−PriceJitter, PriceJitter).
func (f *JitterFeed) Quote(_ context.Context, asset model.Asset) (Quote, error) {
	f.mu.Lock()
	u := f.uniform(PriceJitter)
	change := f.uniform(ChangeRange)
	changePct := f.uniform(ChangePercentRange)
	f.mu.Unlock()

	factor := decimal.NewFromFloat(1 + u)
	return Quote{
		Price:         asset.Price.Mul(factor).Round(QuoteScale),
		Change:        decimal.NewFromFloat(change).Round(QuoteScale),
		ChangePercent: decimal.NewFromFloat(changePct).Round(QuoteScale),
	}, nil
}

// uniform draws from [−bound, bound). Caller holds mu.
func (f *JitterFeed) uniform(bound float64) float64 {
	return f.rng.Float64()*2*bound - bound
}

// StaticFeed returns pinned prices with zero change. Assets without a pin
// are quoted at their baseline. Intended for tests and deterministic demos.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticFeed creates a feed with no pinned prices.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{prices: make(map[string]decimal.Decimal)}
}

// Pin fixes the quote for the asset with the given ID.
func (f *StaticFeed) Pin(assetID string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[assetID] = price
}

func (f *StaticFeed) Quote(_ context.Context, asset model.Asset) (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	price, ok := f.prices[asset.ID]
	if !ok {
		price = asset.Price
	}
	return Quote{Price: price, Change: decimal.Zero, ChangePercent: decimal.Zero}, nil
}

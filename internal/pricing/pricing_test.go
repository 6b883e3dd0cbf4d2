package pricing

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mocktrade/trading-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestJitterFeed_WithinBounds(t *testing.T) {
	feed := NewJitterFeed(rand.NewPCG(1, 2))
	asset := model.Asset{ID: "a1", Ticker: "AAPL", Price: d(175.50)}

	// 175.50 ± 1%, widened by a cent for rounding.
	low := d(173.74)
	high := d(177.26)

	for i := 0; i < 1000; i++ {
		q, err := feed.Quote(context.Background(), asset)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if q.Price.LessThan(low) || q.Price.GreaterThan(high) {
			t.Fatalf("quote %s outside [%s, %s]", q.Price, low, high)
		}
		if q.Change.Abs().GreaterThan(d(5)) {
			t.Fatalf("change %s outside ±5", q.Change)
		}
		if q.ChangePercent.Abs().GreaterThan(d(4)) {
			t.Fatalf("change percent %s outside ±4", q.ChangePercent)
		}
		if q.Price.Exponent() < -2 {
			t.Fatalf("quote %s has more than 2 decimal places", q.Price)
		}
	}
}

func TestJitterFeed_DoesNotMutateBaseline(t *testing.T) {
	feed := NewJitterFeed(rand.NewPCG(3, 4))
	asset := model.Asset{ID: "a1", Price: d(100)}

	if _, err := feed.Quote(context.Background(), asset); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !asset.Price.Equal(d(100)) {
		t.Errorf("baseline changed to %s", asset.Price)
	}
}

func TestJitterFeed_QuotesVary(t *testing.T) {
	feed := NewJitterFeed(rand.NewPCG(5, 6))
	asset := model.Asset{ID: "a1", Price: d(43250)}

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		q, _ := feed.Quote(context.Background(), asset)
		seen[q.Price.String()] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected quotes to vary, got %d distinct values", len(seen))
	}
}

func TestStaticFeed(t *testing.T) {
	feed := NewStaticFeed()
	pinned := model.Asset{ID: "a1", Price: d(50)}
	unpinned := model.Asset{ID: "a2", Price: d(80)}

	feed.Pin("a1", d(60))

	q, _ := feed.Quote(context.Background(), pinned)
	if !q.Price.Equal(d(60)) {
		t.Errorf("expected pinned price 60, got %s", q.Price)
	}
	if !q.Change.IsZero() || !q.ChangePercent.IsZero() {
		t.Errorf("expected zero change, got %s / %s", q.Change, q.ChangePercent)
	}

	q, _ = feed.Quote(context.Background(), unpinned)
	if !q.Price.Equal(d(80)) {
		t.Errorf("expected baseline 80, got %s", q.Price)
	}
}

func TestApply(t *testing.T) {
	asset := model.Asset{ID: "a1", Ticker: "TSLA", Price: d(248.75)}
	quoted := Apply(asset, Quote{Price: d(250), Change: d(1.25), ChangePercent: d(0.5)})

	if !quoted.Price.Equal(d(250)) || quoted.Ticker != "TSLA" {
		t.Errorf("unexpected quoted asset: %+v", quoted)
	}
	if !asset.Price.Equal(d(248.75)) {
		t.Errorf("Apply mutated its input: %s", asset.Price)
	}
}

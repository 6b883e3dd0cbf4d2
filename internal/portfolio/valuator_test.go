package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mocktrade/trading-engine/internal/model"
	"github.com/mocktrade/trading-engine/internal/pricing"
	"github.com/mocktrade/trading-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type fixture struct {
	store *store.MemoryStore
	feed  *pricing.StaticFeed
	v     *Valuator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ms := store.NewMemoryStore()
	feed := pricing.NewStaticFeed()
	ctx := context.Background()

	for _, a := range []model.Asset{
		{ID: "aapl", Name: "Apple Inc.", Ticker: "AAPL", Price: d(50)},
		{ID: "msft", Name: "Microsoft Corporation", Ticker: "MSFT", Price: d(300)},
	} {
		a := a
		if err := ms.CreateAsset(ctx, &a); err != nil {
			t.Fatalf("seed asset: %v", err)
		}
	}
	return &fixture{store: ms, feed: feed, v: NewValuator(ms, feed)}
}

func (f *fixture) account(t *testing.T, id string, balance float64, admin bool) {
	t.Helper()
	err := f.store.CreateAccount(context.Background(), &model.Account{
		ID: id, Username: id, Email: id + "@example.com", Balance: d(balance), IsAdmin: admin,
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func (f *fixture) hold(t *testing.T, accountID, assetID, ticker string, qty, avg float64) {
	t.Helper()
	err := f.store.Atomic(context.Background(), accountID, func(tx store.Tx) error {
		return tx.SavePosition(context.Background(), &model.Position{
			AccountID: accountID, AssetID: assetID, AssetTicker: ticker,
			Quantity: d(qty), AveragePrice: d(avg),
		})
	})
	if err != nil {
		t.Fatalf("seed position: %v", err)
	}
}

func TestMark(t *testing.T) {
	p := model.Position{AssetID: "aapl", AssetTicker: "AAPL", Quantity: d(10), AveragePrice: d(50)}

	v := Mark(p, "Apple Inc.", d(60))

	if !v.MarketValue.Equal(d(600)) {
		t.Errorf("marketValue = %s, want 600", v.MarketValue)
	}
	if !v.GainLoss.Equal(d(100)) {
		t.Errorf("gainLoss = %s, want 100", v.GainLoss)
	}
	if !v.GainLossPercent.Equal(d(20)) {
		t.Errorf("gainLossPercent = %s, want 20", v.GainLossPercent)
	}
	if v.Name != "Apple Inc." || !v.CurrentPrice.Equal(d(60)) {
		t.Errorf("unexpected view %+v", v)
	}
}

func TestMark_Loss(t *testing.T) {
	v := Mark(model.Position{Quantity: d(4), AveragePrice: d(200)}, "", d(150))
	if !v.GainLoss.Equal(d(-200)) {
		t.Errorf("gainLoss = %s, want -200", v.GainLoss)
	}
	if !v.GainLossPercent.Equal(d(-25)) {
		t.Errorf("gainLossPercent = %s, want -25", v.GainLossPercent)
	}
}

func TestMark_ZeroAveragePrice(t *testing.T) {
	v := Mark(model.Position{Quantity: d(3), AveragePrice: decimal.Zero}, "", d(10))
	if !v.GainLossPercent.IsZero() {
		t.Errorf("gainLossPercent = %s, want 0", v.GainLossPercent)
	}
	if !v.GainLoss.Equal(d(30)) {
		t.Errorf("gainLoss = %s, want 30", v.GainLoss)
	}
}

func TestValuate(t *testing.T) {
	f := newFixture(t)
	f.account(t, "u1", 1000, false)
	f.hold(t, "u1", "aapl", "AAPL", 10, 50)
	f.feed.Pin("aapl", d(60))

	views, err := f.v.Valuate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Valuate: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 view, got %d", len(views))
	}
	if views[0].Name != "Apple Inc." {
		t.Errorf("name = %q", views[0].Name)
	}
	if !views[0].MarketValue.Equal(d(600)) {
		t.Errorf("marketValue = %s, want 600", views[0].MarketValue)
	}
}

func TestValuate_NoPositions(t *testing.T) {
	f := newFixture(t)
	f.account(t, "u1", 1000, false)

	views, err := f.v.Valuate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Valuate: %v", err)
	}
	if views == nil || len(views) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", views)
	}
}

func TestLeaderboard(t *testing.T) {
	f := newFixture(t)
	f.account(t, "admin", 50000, true)
	f.account(t, "alice", 1000, false)
	f.account(t, "bob", 2000, false)
	f.account(t, "carol", 500, false)

	// alice: 10 AAPL @ 50 now 60 → value 600, gain 100, total 1600.
	f.hold(t, "alice", "aapl", "AAPL", 10, 50)
	// carol: 5 MSFT @ 300 now 400 → value 2000, gain 500, total 2500.
	f.hold(t, "carol", "msft", "MSFT", 5, 300)
	f.feed.Pin("aapl", d(60))
	f.feed.Pin("msft", d(400))

	entries, err := f.v.Leaderboard(context.Background())
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries (admins excluded), got %d", len(entries))
	}

	wantOrder := []string{"carol", "bob", "alice"}
	for i, id := range wantOrder {
		if entries[i].AccountID != id {
			t.Errorf("entries[%d] = %s, want %s", i, entries[i].AccountID, id)
		}
	}

	carol := entries[0]
	if !carol.PortfolioValue.Equal(d(2000)) || !carol.TotalGainLoss.Equal(d(500)) || !carol.TotalValue.Equal(d(2500)) {
		t.Errorf("unexpected carol entry %+v", carol)
	}
	// 500 / (2000 - 500) × 100
	want := d(50000).DivRound(d(1500), PercentScale)
	if !carol.ReturnPercent.Equal(want) {
		t.Errorf("returnPercent = %s, want %s", carol.ReturnPercent, want)
	}

	bob := entries[1]
	if !bob.PortfolioValue.IsZero() || !bob.ReturnPercent.IsZero() {
		t.Errorf("cash-only account should have zero value and return, got %+v", bob)
	}

	alice := entries[2]
	if !alice.ReturnPercent.Equal(d(20)) {
		t.Errorf("alice returnPercent = %s, want 20", alice.ReturnPercent)
	}
}

func TestLeaderboard_Empty(t *testing.T) {
	f := newFixture(t)
	f.account(t, "admin", 50000, true)

	entries, err := f.v.Leaderboard(context.Background())
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestDashboard(t *testing.T) {
	f := newFixture(t)
	f.account(t, "u1", 1000, false)
	f.hold(t, "u1", "aapl", "AAPL", 2, 50)

	err := f.store.Atomic(context.Background(), "u1", func(tx store.Tx) error {
		for i := 0; i < DashboardTrades+10; i++ {
			if err := tx.InsertTrade(context.Background(), &model.Trade{
				ID: "t" + string(rune('a'+i%26)) + string(rune('a'+i/26)), AccountID: "u1",
				AssetID: "aapl", AssetTicker: "AAPL", Side: model.SideBuy,
				Quantity: d(1), Price: d(1), Total: d(1), Timestamp: time.Now().UTC(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed trades: %v", err)
	}

	dash, err := f.v.Dashboard(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if dash.User.ID != "u1" {
		t.Errorf("user = %s", dash.User.ID)
	}
	if len(dash.Portfolio) != 1 {
		t.Errorf("portfolio size = %d, want 1", len(dash.Portfolio))
	}
	if len(dash.Trades) != DashboardTrades {
		t.Errorf("trades = %d, want %d", len(dash.Trades), DashboardTrades)
	}
}

func TestDashboard_UnknownAccount(t *testing.T) {
	f := newFixture(t)
	if _, err := f.v.Dashboard(context.Background(), "ghost"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestDashboard_NoTradesIsEmptySlice(t *testing.T) {
	f := newFixture(t)
	f.account(t, "u1", 1000, false)

	dash, err := f.v.Dashboard(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if dash.Trades == nil || dash.Portfolio == nil {
		t.Errorf("expected non-nil slices, got %+v", dash)
	}
}

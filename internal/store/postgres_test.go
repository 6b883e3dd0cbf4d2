package store_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mocktrade/trading-engine/internal/config"
	"github.com/mocktrade/trading-engine/internal/database"
	"github.com/mocktrade/trading-engine/internal/model"
	"github.com/mocktrade/trading-engine/internal/store"
	"github.com/mocktrade/trading-engine/internal/trade"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newPostgresStore connects to TEST_DATABASE_URL, migrates, and empties every
// table. The database is wiped on each call.
func newPostgresStore(t *testing.T) (*store.PostgresStore, *pgxpool.Pool) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := database.Open(ctx, config.DBConfig{URL: url, MaxConns: 8})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := database.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE trades, positions, assets, accounts`); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	st := store.NewPostgresStore(pool)
	now := time.Now().UTC()
	if err := st.CreateAccount(ctx, &model.Account{
		ID: "00000000-0000-0000-0000-000000000001", Username: "alice", Email: "alice@x",
		PasswordHash: "x", Balance: d(1000), CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := st.CreateAsset(ctx, &model.Asset{
		ID: "00000000-0000-0000-0000-0000000000a1", Name: "Apple", Ticker: "AAPL",
		Price: d(10), UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create asset: %v", err)
	}
	return st, pool
}

const (
	alice = "00000000-0000-0000-0000-000000000001"
	aapl  = "00000000-0000-0000-0000-0000000000a1"
)

func execute(t *testing.T, exec *trade.Executor, side string, qty, price float64) *model.Trade {
	t.Helper()
	tr, err := exec.Execute(context.Background(), trade.Order{
		AccountID: alice, AssetID: aapl, Side: side, Quantity: d(qty), Price: d(price),
	})
	if err != nil {
		t.Fatalf("%s %v@%v: %v", side, qty, price, err)
	}
	return tr
}

func TestPostgresStore_AtomicRollsBack(t *testing.T) {
	ctx := context.Background()
	st, _ := newPostgresStore(t)
	execute(t, trade.NewExecutor(st), model.SideBuy, 2, 100)

	boom := errors.New("boom")
	err := st.Atomic(ctx, alice, func(tx store.Tx) error {
		if err := tx.UpdateBalance(ctx, alice, d(0)); err != nil {
			return err
		}
		if err := tx.SavePosition(ctx, &model.Position{
			AccountID: alice, AssetID: aapl, AssetTicker: "AAPL", Quantity: d(99), AveragePrice: d(1),
		}); err != nil {
			return err
		}
		if err := tx.InsertTrade(ctx, &model.Trade{
			ID: "00000000-0000-0000-0000-0000000000f1", AccountID: alice, AssetID: aapl,
			AssetTicker: "AAPL", Side: model.SideBuy, Quantity: d(97), Price: d(1), Total: d(97),
			Timestamp: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	acct, _ := st.GetAccount(ctx, alice)
	if !acct.Balance.Equal(d(800)) {
		t.Errorf("balance = %s, want 800", acct.Balance)
	}
	positions, _ := st.ListPositions(ctx, alice)
	if len(positions) != 1 || !positions[0].Quantity.Equal(d(2)) || !positions[0].AveragePrice.Equal(d(100)) {
		t.Errorf("position changed on rollback: %v", positions)
	}
	if trades, _ := st.ListTrades(ctx, alice, 0); len(trades) != 1 {
		t.Errorf("trade recorded on rollback: %d trades", len(trades))
	}
}

func TestPostgresStore_RejectedOrderLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	st, _ := newPostgresStore(t)
	exec := trade.NewExecutor(st)
	execute(t, exec, model.SideBuy, 2, 100)

	_, err := exec.Execute(ctx, trade.Order{AccountID: alice, AssetID: aapl, Side: model.SideBuy, Quantity: d(10), Price: d(100)})
	if !errors.Is(err, trade.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	_, err = exec.Execute(ctx, trade.Order{AccountID: alice, AssetID: aapl, Side: model.SideSell, Quantity: d(3), Price: d(100)})
	if !errors.Is(err, trade.ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}

	acct, _ := st.GetAccount(ctx, alice)
	if !acct.Balance.Equal(d(800)) {
		t.Errorf("balance = %s, want 800", acct.Balance)
	}
	if trades, _ := st.ListTrades(ctx, alice, 0); len(trades) != 1 {
		t.Errorf("expected 1 trade, got %d", len(trades))
	}
}

func TestPostgresStore_FullSellDeletesRow(t *testing.T) {
	ctx := context.Background()
	st, pool := newPostgresStore(t)
	exec := trade.NewExecutor(st)

	execute(t, exec, model.SideBuy, 2, 100)
	execute(t, exec, model.SideBuy, 2, 200)
	execute(t, exec, model.SideSell, 4, 250)

	var rows int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM positions WHERE account_id = $1`, alice).Scan(&rows); err != nil {
		t.Fatalf("count positions: %v", err)
	}
	if rows != 0 {
		t.Errorf("expected position row deleted, found %d", rows)
	}

	acct, _ := st.GetAccount(ctx, alice)
	if !acct.Balance.Equal(d(1400)) {
		t.Errorf("balance = %s, want 1400", acct.Balance)
	}
}

func TestPostgresStore_ListTradesLimit(t *testing.T) {
	ctx := context.Background()
	st, _ := newPostgresStore(t)
	exec := trade.NewExecutor(st)

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, execute(t, exec, model.SideBuy, 1, 10).ID)
	}

	all, err := st.ListTrades(ctx, alice, 0)
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("limit 0: expected 3 trades, got %d", len(all))
	}
	if all[0].ID != ids[2] || all[2].ID != ids[0] {
		t.Errorf("expected newest first, got %s..%s", all[0].ID, all[2].ID)
	}

	limited, _ := st.ListTrades(ctx, alice, 2)
	if len(limited) != 2 || limited[0].ID != ids[2] {
		t.Errorf("limit 2: unexpected trades %v", limited)
	}
}

func TestPostgresStore_Duplicates(t *testing.T) {
	ctx := context.Background()
	st, _ := newPostgresStore(t)

	err := st.CreateAccount(ctx, &model.Account{
		ID: "00000000-0000-0000-0000-000000000002", Username: "other", Email: "alice@x", PasswordHash: "x",
	})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("duplicate email: expected ErrDuplicate, got %v", err)
	}
	err = st.CreateAsset(ctx, &model.Asset{ID: "00000000-0000-0000-0000-0000000000a2", Name: "Dup", Ticker: "AAPL", Price: d(1)})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("duplicate ticker: expected ErrDuplicate, got %v", err)
	}
}

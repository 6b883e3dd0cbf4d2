package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mocktrade/trading-engine/internal/model"
)

// countingStore records how often reads reach the primary.
type countingStore struct {
	*MemoryStore
	assetReads    int
	positionReads int

	// afterPositionRead, when set, runs once after the primary has read
	// positions and before the cache is filled.
	afterPositionRead func()
}

func (c *countingStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	c.assetReads++
	return c.MemoryStore.GetAsset(ctx, id)
}

func (c *countingStore) ListPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	c.positionReads++
	positions, err := c.MemoryStore.ListPositions(ctx, accountID)
	if hook := c.afterPositionRead; hook != nil {
		c.afterPositionRead = nil
		hook()
	}
	return positions, err
}

func newCachedFixture(t *testing.T) (*CachedStore, *countingStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	primary := &countingStore{MemoryStore: newFixture(t)}
	return NewCachedStore(primary, rdb, time.Minute), primary, mr
}

func TestCachedStore_GetAssetFromCache(t *testing.T) {
	ctx := context.Background()
	cs, primary, mr := newCachedFixture(t)

	for i := 0; i < 3; i++ {
		a, err := cs.GetAsset(ctx, "a1")
		if err != nil {
			t.Fatalf("GetAsset: %v", err)
		}
		if a.Ticker != "AAPL" || !a.Price.Equal(d(10)) {
			t.Errorf("unexpected asset %+v", a)
		}
	}
	if primary.assetReads != 1 {
		t.Errorf("primary read %d times, want 1", primary.assetReads)
	}
	if !mr.Exists(assetKey("a1")) {
		t.Error("asset not cached")
	}
}

func TestCachedStore_ListPositionsFromCache(t *testing.T) {
	ctx := context.Background()
	cs, primary, mr := newCachedFixture(t)
	buy(t, cs, "u1", "t1", 3)

	for i := 0; i < 3; i++ {
		positions, err := cs.ListPositions(ctx, "u1")
		if err != nil {
			t.Fatalf("ListPositions: %v", err)
		}
		if len(positions) != 1 || !positions[0].Quantity.Equal(d(3)) {
			t.Errorf("unexpected positions %v", positions)
		}
	}
	if primary.positionReads != 1 {
		t.Errorf("primary read %d times, want 1", primary.positionReads)
	}
	if !mr.Exists(positionsKey("u1")) {
		t.Error("positions not cached")
	}
}

func TestCachedStore_AtomicInvalidatesOwnAccount(t *testing.T) {
	ctx := context.Background()
	cs, _, mr := newCachedFixture(t)
	buy(t, cs, "u1", "t1", 3)
	buy(t, cs, "u2", "t2", 5)

	cs.ListPositions(ctx, "u1")
	cs.ListPositions(ctx, "u2")

	err := cs.Atomic(ctx, "u1", func(tx Tx) error {
		return tx.DeletePosition(ctx, "u1", "a1")
	})
	if err != nil {
		t.Fatalf("atomic: %v", err)
	}

	if mr.Exists(positionsKey("u1")) {
		t.Error("u1 positions still cached after write")
	}
	if !mr.Exists(positionsKey("u2")) {
		t.Error("u2 positions dropped by a u1 write")
	}
	if positions, _ := cs.ListPositions(ctx, "u1"); len(positions) != 0 {
		t.Errorf("stale positions after close: %v", positions)
	}
}

func TestCachedStore_FailedAtomicKeepsCache(t *testing.T) {
	ctx := context.Background()
	cs, primary, mr := newCachedFixture(t)
	buy(t, cs, "u1", "t1", 3)
	cs.ListPositions(ctx, "u1")

	err := cs.Atomic(ctx, "u1", func(tx Tx) error {
		tx.DeletePosition(ctx, "u1", "a1")
		return ErrNotFound
	})
	if err == nil {
		t.Fatal("expected fn error")
	}
	if !mr.Exists(positionsKey("u1")) {
		t.Error("rolled-back write invalidated the cache")
	}
	if positions, _ := cs.ListPositions(ctx, "u1"); len(positions) != 1 {
		t.Errorf("unexpected positions %v", positions)
	}
	if primary.positionReads != 1 {
		t.Errorf("primary read %d times, want 1", primary.positionReads)
	}
}

func TestCachedStore_ResetAllInvalidatesEveryAccount(t *testing.T) {
	ctx := context.Background()
	cs, _, mr := newCachedFixture(t)
	buy(t, cs, "u1", "t1", 3)
	buy(t, cs, "u2", "t2", 5)
	cs.ListPositions(ctx, "u1")
	cs.ListPositions(ctx, "u2")
	cs.GetAsset(ctx, "a1")

	if err := cs.ResetPortfolios(ctx, AccountFilter{SkipAdmins: true}); err != nil {
		t.Fatalf("reset: %v", err)
	}

	for _, id := range []string{"u1", "u2"} {
		if mr.Exists(positionsKey(id)) {
			t.Errorf("%s positions still cached after reset", id)
		}
		if positions, _ := cs.ListPositions(ctx, id); len(positions) != 0 {
			t.Errorf("%s: stale positions after reset: %v", id, positions)
		}
	}
	if !mr.Exists(assetKey("a1")) {
		t.Error("reset dropped the asset cache")
	}
	if !mr.Exists(positionsGenKey) {
		t.Error("reset scan deleted the write generation")
	}
}

func TestCachedStore_CreateAssetInvalidatesList(t *testing.T) {
	ctx := context.Background()
	cs, _, mr := newCachedFixture(t)

	if assets, _ := cs.ListAssets(ctx); len(assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(assets))
	}
	if !mr.Exists(assetListKey) {
		t.Fatal("asset list not cached")
	}

	err := cs.CreateAsset(ctx, &model.Asset{ID: "a3", Name: "GameStop", Ticker: "GME", Price: d(15)})
	if err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}
	if mr.Exists(assetListKey) {
		t.Error("asset list still cached after create")
	}
	if !mr.Exists(assetKey("a3")) {
		t.Error("new asset not cached")
	}
	if assets, _ := cs.ListAssets(ctx); len(assets) != 3 {
		t.Errorf("expected 3 assets, got %d", len(assets))
	}
}

func TestCachedStore_FillRacingWriteNotCached(t *testing.T) {
	ctx := context.Background()
	cs, primary, mr := newCachedFixture(t)
	buy(t, cs, "u1", "t1", 3)

	// The position is closed after the read-through has loaded it but
	// before the result is cached.
	primary.afterPositionRead = func() {
		err := cs.Atomic(ctx, "u1", func(tx Tx) error {
			return tx.DeletePosition(ctx, "u1", "a1")
		})
		if err != nil {
			t.Errorf("close position: %v", err)
		}
	}

	if positions, _ := cs.ListPositions(ctx, "u1"); len(positions) != 1 {
		t.Fatalf("first read should see the pre-close rows, got %v", positions)
	}
	if mr.Exists(positionsKey("u1")) {
		t.Error("rows read before the close were cached")
	}
	if positions, _ := cs.ListPositions(ctx, "u1"); len(positions) != 0 {
		t.Errorf("closed position served: %v", positions)
	}
}

func TestCachedStore_Ping(t *testing.T) {
	cs, _, mr := newCachedFixture(t)

	if err := cs.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	mr.Close()
	if err := cs.Ping(context.Background()); err != nil {
		t.Errorf("cache outage should not fail Ping: %v", err)
	}
}

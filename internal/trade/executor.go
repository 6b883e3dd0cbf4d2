package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mocktrade/trading-engine/internal/metrics"
	"github.com/mocktrade/trading-engine/internal/model"
	"github.com/mocktrade/trading-engine/internal/store"
)

var (
	// ErrAssetNotFound is returned when the order names an unknown asset.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrAccountNotFound is returned when the ordering account does not exist.
	ErrAccountNotFound = errors.New("user not found")

	// ErrInvalidOrder is returned for a non-positive quantity or price, or an
	// unknown side.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrInsufficientFunds is returned when a buy costs more than the balance.
	ErrInsufficientFunds = errors.New("insufficient balance")

	// ErrInsufficientShares is returned when a sell exceeds the position held.
	ErrInsufficientShares = errors.New("insufficient shares to sell")
)

// AveragePriceScale is the number of decimal places kept when dividing for
// the weighted-average cost basis.
const AveragePriceScale int32 = 16

// Order is a single buy or sell instruction at a client-supplied price.
type Order struct {
	AccountID string
	AssetID   string
	Side      string // model.SideBuy or model.SideSell
	Quantity  decimal.Decimal
	Price     decimal.Decimal
}

// Executor validates orders and settles them against an account's cash
// balance and position.
//
// Each order runs inside one store unit of work, so the balance update,
// position upsert or delete, and trade insert are applied together or not at
// all. Orders for the same account are additionally serialized in-process;
// orders for different accounts run in parallel.
type Executor struct {
	store store.Store
	locks *accountLocks
	now   func() time.Time
}

// NewExecutor creates an executor over st.
func NewExecutor(st store.Store) *Executor {
	return &Executor{
		store: st,
		locks: newAccountLocks(),
		now:   time.Now,
	}
}

// Execute applies o and returns the resulting trade record. Rejected orders
// leave balance, position and trade history untouched.
func (e *Executor) Execute(ctx context.Context, o Order) (*model.Trade, error) {
	start := time.Now()

	unlock := e.locks.lock(o.AccountID)
	defer unlock()

	var trade *model.Trade
	err := e.store.Atomic(ctx, o.AccountID, func(tx store.Tx) error {
		asset, err := tx.GetAsset(ctx, o.AssetID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrAssetNotFound
		} else if err != nil {
			return fmt.Errorf("load asset: %w", err)
		}

		account, err := tx.GetAccount(ctx, o.AccountID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrAccountNotFound
		} else if err != nil {
			return fmt.Errorf("load account: %w", err)
		}

		if err := validate(o); err != nil {
			return err
		}

		total := o.Quantity.Mul(o.Price)

		switch o.Side {
		case model.SideBuy:
			err = e.buy(ctx, tx, account, asset, o, total)
		case model.SideSell:
			err = e.sell(ctx, tx, account, o, total)
		}
		if err != nil {
			return err
		}

		trade = &model.Trade{
			ID:          uuid.New().String(),
			AccountID:   account.ID,
			AssetID:     asset.ID,
			AssetTicker: asset.Ticker,
			Side:        o.Side,
			Quantity:    o.Quantity,
			Price:       o.Price,
			Total:       total,
			Timestamp:   e.now().UTC(),
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return fmt.Errorf("record trade: %w", err)
		}
		return nil
	})
	if err != nil {
		metrics.TradeRejections.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(trade.Side).Inc()
	metrics.TradeLatency.WithLabelValues(trade.Side).Observe(time.Since(start).Seconds())
	metrics.TradeNotional.WithLabelValues(trade.AssetTicker, trade.Side).Add(trade.Total.InexactFloat64())

	slog.Info("trade executed",
		"trade_id", trade.ID,
		"account", trade.AccountID,
		"ticker", trade.AssetTicker,
		"side", trade.Side,
		"qty", trade.Quantity.String(),
		"price", trade.Price.String(),
		"total", trade.Total.String(),
	)
	return trade, nil
}

func validate(o Order) error {
	if !o.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if !o.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	}
	if o.Side != model.SideBuy && o.Side != model.SideSell {
		return fmt.Errorf("%w: trade type must be %q or %q", ErrInvalidOrder, model.SideBuy, model.SideSell)
	}
	return nil
}

func (e *Executor) buy(ctx context.Context, tx store.Tx, account *model.Account, asset *model.Asset, o Order, total decimal.Decimal) error {
	if account.Balance.LessThan(total) {
		return ErrInsufficientFunds
	}

	if err := tx.UpdateBalance(ctx, account.ID, account.Balance.Sub(total)); err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}

	pos, err := tx.GetPosition(ctx, account.ID, asset.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		pos = &model.Position{
			AccountID:    account.ID,
			AssetID:      asset.ID,
			AssetTicker:  asset.Ticker,
			Quantity:     o.Quantity,
			AveragePrice: o.Price,
		}
	case err != nil:
		return fmt.Errorf("load position: %w", err)
	default:
		avg, err := WeightedAverage(pos.Quantity, pos.AveragePrice, o.Quantity, o.Price)
		if err != nil {
			return err
		}
		pos.Quantity = pos.Quantity.Add(o.Quantity)
		pos.AveragePrice = avg
	}

	if err := tx.SavePosition(ctx, pos); err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

func (e *Executor) sell(ctx context.Context, tx store.Tx, account *model.Account, o Order, total decimal.Decimal) error {
	pos, err := tx.GetPosition(ctx, account.ID, o.AssetID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrInsufficientShares
	} else if err != nil {
		return fmt.Errorf("load position: %w", err)
	}
	if pos.Quantity.LessThan(o.Quantity) {
		return ErrInsufficientShares
	}

	// Proceeds use the order price; cost basis is not consulted.
	if err := tx.UpdateBalance(ctx, account.ID, account.Balance.Add(total)); err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}

	if pos.Quantity.Equal(o.Quantity) {
		if err := tx.DeletePosition(ctx, account.ID, o.AssetID); err != nil {
			return fmt.Errorf("close position: %w", err)
		}
		return nil
	}

	pos.Quantity = pos.Quantity.Sub(o.Quantity)
	if err := tx.SavePosition(ctx, pos); err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// WeightedAverage returns the cost basis after buying addQty at addPrice on
// top of heldQty bought at an average of heldAvg:
//
//	(heldQty × heldAvg + addQty × addPrice) / (heldQty + addQty)
func WeightedAverage(heldQty, heldAvg, addQty, addPrice decimal.Decimal) (decimal.Decimal, error) {
	newQty := heldQty.Add(addQty)
	if !newQty.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: resulting quantity %s is not positive", ErrInvalidOrder, newQty)
	}
	cost := heldQty.Mul(heldAvg).Add(addQty.Mul(addPrice))
	return cost.DivRound(newQty, AveragePriceScale), nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrAssetNotFound):
		return "asset_not_found"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrInvalidOrder):
		return "invalid_order"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientShares):
		return "insufficient_shares"
	default:
		return "internal"
	}
}

// accountLocks hands out one mutex per account, dropping it once no order
// for that account is in flight.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*accountLock)}
}

func (l *accountLocks) lock(accountID string) (unlock func()) {
	l.mu.Lock()
	al, ok := l.locks[accountID]
	if !ok {
		al = &accountLock{}
		l.locks[accountID] = al
	}
	al.refs++
	l.mu.Unlock()

	al.mu.Lock()
	return func() {
		al.mu.Unlock()
		l.mu.Lock()
		al.refs--
		if al.refs == 0 {
			delete(l.locks, accountID)
		}
		l.mu.Unlock()
	}
}

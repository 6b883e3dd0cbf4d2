// Package portfolio marks stored positions to live quotes.
//
// Everything here is read-only: positions come from the store, current prices
// from the pricing feed, and nothing is written back.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mocktrade/trading-engine/internal/model"
	"github.com/mocktrade/trading-engine/internal/pricing"
	"github.com/mocktrade/trading-engine/internal/store"
)

// ErrAccountNotFound is returned when the requested account does not exist.
var ErrAccountNotFound = errors.New("user not found")

// DashboardTrades is the number of recent trades included in a dashboard.
const DashboardTrades = 50

var hundred = decimal.NewFromInt(100)

// PercentScale is the number of decimal places kept in percent divisions.
const PercentScale int32 = 8

// Valuator derives market value and gain/loss from positions and quotes.
type Valuator struct {
	store store.Store
	feed  pricing.Feed
}

// NewValuator creates a valuator.
func NewValuator(st store.Store, feed pricing.Feed) *Valuator {
	return &Valuator{store: st, feed: feed}
}

// Valuate returns the account's positions marked to a fresh quote per asset.
func (v *Valuator) Valuate(ctx context.Context, accountID string) ([]model.PositionView, error) {
	positions, err := v.store.ListPositions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		held[p.AssetID] = true
	}
	quotes, err := v.quotes(ctx, held)
	if err != nil {
		return nil, err
	}

	views := make([]model.PositionView, 0, len(positions))
	for _, p := range positions {
		q, ok := quotes[p.AssetID]
		if !ok {
			return nil, fmt.Errorf("position in unknown asset %s", p.AssetID)
		}
		views = append(views, Mark(p, q.name, q.price))
	}
	return views, nil
}

// Mark values a single position at currentPrice.
func Mark(p model.Position, name string, currentPrice decimal.Decimal) model.PositionView {
	diff := currentPrice.Sub(p.AveragePrice)
	return model.PositionView{
		Position:        p,
		Name:            name,
		CurrentPrice:    currentPrice,
		MarketValue:     p.Quantity.Mul(currentPrice),
		GainLoss:        diff.Mul(p.Quantity),
		GainLossPercent: percentOf(diff, p.AveragePrice),
	}
}

// percentOf returns part / whole × 100, or zero when whole is zero.
func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Mul(hundred).DivRound(whole, PercentScale)
}

// Leaderboard ranks every non-admin account by balance plus portfolio value,
// highest first. All accounts are valued against one quote per asset.
func (v *Valuator) Leaderboard(ctx context.Context) ([]model.LeaderboardEntry, error) {
	var (
		accounts  []model.Account
		positions []model.Position
		quotes    map[string]quote
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		accounts, err = v.store.ListAccounts(gctx)
		return err
	})
	g.Go(func() (err error) {
		positions, err = v.store.ListAllPositions(gctx)
		return err
	})
	g.Go(func() (err error) {
		quotes, err = v.quotes(gctx, nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load leaderboard: %w", err)
	}

	byAccount := make(map[string][]model.Position)
	for _, p := range positions {
		byAccount[p.AccountID] = append(byAccount[p.AccountID], p)
	}

	entries := make([]model.LeaderboardEntry, 0, len(accounts))
	for _, a := range accounts {
		if a.IsAdmin {
			continue
		}
		value, gain := decimal.Zero, decimal.Zero
		for _, p := range byAccount[a.ID] {
			q, ok := quotes[p.AssetID]
			if !ok {
				continue
			}
			view := Mark(p, q.name, q.price)
			value = value.Add(view.MarketValue)
			gain = gain.Add(view.GainLoss)
		}

		ret := decimal.Zero
		if value.IsPositive() {
			ret = percentOf(gain, value.Sub(gain))
		}

		entries = append(entries, model.LeaderboardEntry{
			AccountID:      a.ID,
			Username:       a.Username,
			Email:          a.Email,
			Balance:        a.Balance,
			PortfolioValue: value,
			TotalGainLoss:  gain,
			TotalValue:     a.Balance.Add(value),
			ReturnPercent:  ret,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TotalValue.GreaterThan(entries[j].TotalValue)
	})
	return entries, nil
}

// Dashboard loads an account, its valued portfolio and its most recent
// trades concurrently.
func (v *Valuator) Dashboard(ctx context.Context, accountID string) (*model.Dashboard, error) {
	account, err := v.store.GetAccount(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAccountNotFound
	} else if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	dash := &model.Dashboard{User: *account}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		dash.Portfolio, err = v.Valuate(gctx, accountID)
		return err
	})
	g.Go(func() (err error) {
		dash.Trades, err = v.store.ListTrades(gctx, accountID, DashboardTrades)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if dash.Trades == nil {
		dash.Trades = []model.Trade{}
	}
	return dash, nil
}

type quote struct {
	name  string
	price decimal.Decimal
}

// quotes takes one quote per catalog asset in held, or per asset when held is nil.
func (v *Valuator) quotes(ctx context.Context, held map[string]bool) (map[string]quote, error) {
	assets, err := v.store.ListAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}
	out := make(map[string]quote, len(assets))
	for _, a := range assets {
		if held != nil && !held[a.ID] {
			continue
		}
		q, err := v.feed.Quote(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("quote %s: %w", a.Ticker, err)
		}
		out[a.ID] = quote{name: a.Name, price: q.Price}
	}
	return out, nil
}

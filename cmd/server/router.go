package main

import (
	"net/http"
	"slices"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mocktrade/trading-engine/internal/account"
	"github.com/mocktrade/trading-engine/internal/auth"
	"github.com/mocktrade/trading-engine/internal/catalog"
	"github.com/mocktrade/trading-engine/internal/config"
	"github.com/mocktrade/trading-engine/internal/httpx"
	"github.com/mocktrade/trading-engine/internal/metrics"
	"github.com/mocktrade/trading-engine/internal/portfolio"
	"github.com/mocktrade/trading-engine/internal/pricing"
	"github.com/mocktrade/trading-engine/internal/store"
	"github.com/mocktrade/trading-engine/internal/trade"
)

type app struct {
	store    store.Store
	issuer   *auth.Issuer
	wsHub    *trade.WSHub
	accounts *account.Service
	assets   *catalog.Service
	trades   *trade.Service

	// ready flips once first-start seeding has finished.
	ready atomic.Bool
}

func newApp(st store.Store, feed pricing.Feed, issuer *auth.Issuer, hasher auth.Hasher, hub *trade.WSHub) *app {
	valuator := portfolio.NewValuator(st, feed)
	return &app{
		store:    st,
		issuer:   issuer,
		wsHub:    hub,
		accounts: account.NewService(st, valuator, issuer, hasher),
		assets:   catalog.NewService(st, feed),
		trades:   trade.NewService(trade.NewExecutor(st), valuator, st, hub),
	}
}

func (a *app) routes(cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors(cfg.AllowedOrigins))

	r.Get("/health", a.health)
	r.Get("/ready", a.readiness)

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	// WebSocket endpoint for trade notifications. Kept outside the request
	// timeout since the connection is long-lived.
	r.Get("/ws", a.wsHub.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		r.Route("/api", a.api)
		a.api(r)
	})
	return r
}

func (a *app) api(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", a.accounts.Register)
		r.Post("/login", a.accounts.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(a.issuer.Middleware)

		// Asset catalog.
		r.Get("/assets", a.assets.ListAssets)
		r.Get("/assets/{assetID}", a.assets.GetAsset)

		// Trade execution and history.
		r.Post("/trades", a.trades.ExecuteTrade)
		r.Get("/trades", a.trades.ListTrades)
		r.Get("/trades/portfolio", a.trades.GetPortfolio)

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Get("/users", a.accounts.ListUsers)
			r.Patch("/user/{userID}", a.accounts.UpdateBalance)
			r.Post("/reset-user/{userID}", a.accounts.ResetUser)
			r.Post("/reset-all", a.accounts.ResetAll)
			r.Post("/bonus/{userID}", a.accounts.AddBonus)
			r.Get("/user-dashboard/{userID}", a.accounts.UserDashboard)
			r.Get("/analytics/leaderboard", a.accounts.Leaderboard)
			r.Post("/bulk-update", a.accounts.BulkUpdate)
			r.Post("/assets", a.assets.CreateAsset)
		})
	})
}

func (a *app) health(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "trading-engine"})
}

func (a *app) readiness(w http.ResponseWriter, r *http.Request) {
	if !a.ready.Load() {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "seeding"})
		return
	}
	a.health(w, r)
}

// cors answers preflight requests and allows the listed frontend origins to
// send credentialed requests.
func cors(origins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && slices.Contains(origins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

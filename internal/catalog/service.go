package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mocktrade/trading-engine/internal/httpx"
	"github.com/mocktrade/trading-engine/internal/metrics"
	"github.com/mocktrade/trading-engine/internal/model"
	"github.com/mocktrade/trading-engine/internal/pricing"
	"github.com/mocktrade/trading-engine/internal/store"
)

// Service serves the asset catalog with live quotes applied.
type Service struct {
	store store.Store
	feed  pricing.Feed
}

// NewService creates a catalog service.
func NewService(st store.Store, feed pricing.Feed) *Service {
	return &Service{store: st, feed: feed}
}

// ListAssets handles GET /assets
func (s *Service) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.store.ListAssets(r.Context())
	if err != nil {
		httpx.Fail(w, r, err, http.StatusInternalServerError)
		return
	}

	out := make([]model.Asset, 0, len(assets))
	for _, a := range assets {
		q, err := s.feed.Quote(r.Context(), a)
		if err != nil {
			httpx.Fail(w, r, err, http.StatusInternalServerError)
			return
		}
		out = append(out, pricing.Apply(a, q))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// GetAsset handles GET /assets/{assetID}
func (s *Service) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.store.GetAsset(r.Context(), chi.URLParam(r, "assetID"))
	if errors.Is(err, store.ErrNotFound) {
		httpx.WriteError(w, "asset not found", http.StatusNotFound)
		return
	} else if err != nil {
		httpx.Fail(w, r, err, http.StatusInternalServerError)
		return
	}

	q, err := s.feed.Quote(r.Context(), *asset)
	if err != nil {
		httpx.Fail(w, r, err, http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pricing.Apply(*asset, q))
}

// CreateAsset handles POST /admin/assets
func (s *Service) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var spec AssetSpec
	if err := httpx.Decode(r, &spec); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}

	asset, err := NewAsset(spec, time.Now())
	if err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.CreateAsset(r.Context(), asset); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			httpx.WriteError(w, "asset with this ticker already exists", http.StatusConflict)
			return
		}
		httpx.Fail(w, r, err, http.StatusInternalServerError)
		return
	}

	metrics.AdminActions.WithLabelValues("create_asset").Inc()
	slog.Info("asset created", "asset_id", asset.ID, "ticker", asset.Ticker)
	httpx.WriteJSON(w, http.StatusCreated, asset)
}

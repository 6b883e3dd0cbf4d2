// Package account provides registration, login and the admin console.
package account

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mocktrade/trading-engine/internal/auth"
	"github.com/mocktrade/trading-engine/internal/httpx"
	"github.com/mocktrade/trading-engine/internal/metrics"
	"github.com/mocktrade/trading-engine/internal/model"
	"github.com/mocktrade/trading-engine/internal/portfolio"
	"github.com/mocktrade/trading-engine/internal/store"
)

// Bulk update actions.
const (
	ActionSetBalance     = "setBalance"
	ActionAddBonus       = "addBonus"
	ActionResetPortfolio = "resetPortfolio"
)

// Service handles account registration, login and administration.
type Service struct {
	store    store.Store
	valuator *portfolio.Valuator
	issuer   *auth.Issuer
	hasher   auth.Hasher
	now      func() time.Time
}

// NewService creates an account service.
func NewService(st store.Store, valuator *portfolio.Valuator, issuer *auth.Issuer, hasher auth.Hasher) *Service {
	return &Service{
		store:    st,
		valuator: valuator,
		issuer:   issuer,
		hasher:   hasher,
		now:      time.Now,
	}
}

// --- Request/Response types ---

// RegisterRequest is the JSON body for POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"isAdmin"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned from register and login.
type AuthResponse struct {
	Message string        `json:"message"`
	Token   string        `json:"token"`
	User    model.Account `json:"user"`
}

// BalanceRequest is the JSON body for PATCH /admin/user/{userID}.
type BalanceRequest struct {
	Balance *decimal.Decimal `json:"balance"`
}

// BonusRequest is the JSON body for POST /admin/bonus/{userID}.
type BonusRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// BulkRequest is the JSON body for POST /admin/bulk-update.
type BulkRequest struct {
	UserIDs []string         `json:"userIds"`
	Action  string           `json:"action"`
	Value   *decimal.Decimal `json:"value,omitempty"`
}

// --- Auth handlers ---

// Register handles POST /auth/register
func (s *Service) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		httpx.WriteError(w, "username, email, and password are required", http.StatusBadRequest)
		return
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		httpx.Fail(w, r, err, http.StatusInternalServerError)
		return
	}

	now := s.now().UTC()
	acct := &model.Account{
		ID:           uuid.New().String(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Balance:      decimal.Zero,
		IsAdmin:      req.IsAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateAccount(r.Context(), acct); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			httpx.WriteError(w, "user with this email or username already exists", http.StatusBadRequest)
			return
		}
		httpx.Fail(w, r, err, http.StatusInternalServerError)
		return
	}

	token, err := s.issuer.Issue(acct.ID, acct.IsAdmin)
	if err != nil {
		httpx.Fail(w, r, err, http.StatusInternalServerError)
		return
	}

	slog.Info("account registered", "account", acct.ID, "username", acct.Username)
	httpx.WriteJSON(w, http.StatusCreated, AuthResponse{
		Message: "User created successfully",
		Token:   token,
		User:    *acct,
	})
}

// Login handles POST /auth/login
func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, "email and password are required", http.StatusBadRequest)
		return
	}

	acct, err := s.store.GetAccountByEmail(r.Context(), strings.TrimSpace(req.Email))
	if errors.Is(err, store.ErrNotFound) {
		httpx.WriteError(w, "invalid credentials", http.StatusUnauthorized)
		return
	} else if err != nil {
		httpx.Fail(w, r, err, http.StatusInternalServerError)
		return
	}
	if !s.hasher.Check(acct.PasswordHash, req.Password) {
		httpx.WriteError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := s.issuer.Issue(acct.ID, acct.IsAdmin)
	if err != nil {
		httpx.Fail(w, r, err, http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, AuthResponse{
		Message: "Login successful",
		Token:   token,
		User:    *acct,
	})
}

// --- Admin handlers ---

// ListUsers handles GET /admin/users
func (s *Service) ListUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts(r.Context())
	if err != nil {
		httpx.Fail(w, r, err, http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	httpx.WriteJSON(w, http.StatusOK, accounts)
}

// UpdateBalance handles PATCH /admin/user/{userID}
func (s *Service) UpdateBalance(w http.ResponseWriter, r *http.Request) {
	var req BalanceRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Balance == nil || req.Balance.IsNegative() {
		httpx.WriteError(w, "valid balance is required", http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "userID")
	if !s.exists(w, r, id) {
		return
	}
	if _, err := s.store.SetBalance(r.Context(), store.AccountFilter{IDs: []string{id}}, *req.Balance); err != nil {
		httpx.Fail(w, r, err, http.StatusInternalServerError)
		return
	}

	s.audit(r, "set_balance", "account", id, "balance", req.Balance.String())
	httpx.WriteJSON(w, http.StatusOK, httpx.Message{Message: "User balance updated successfully"})
}

// ResetUser handles POST /admin/reset-user/{userID}
func (s *Service) ResetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userID")
	if !s.exists(w, r, id) {
		return
	}
	if err := s.store.ResetPortfolios(r.Context(), store.AccountFilter{IDs: []string{id}}); err != nil {
		httpx.Fail(w, r, err, http.StatusInternalServerError)
		return
	}

	s.audit(r, "reset_user", "account", id)
	httpx.WriteJSON(w, http.StatusOK, httpx.Message{Message: "User portfolio reset successfully"})
}

// ResetAll handles POST /admin/reset-all
// Trades and positions of every account are deleted; admin balances are kept.
func (s *Service) ResetAll(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ResetPortfolios(r.Context(), store.AccountFilter{SkipAdmins: true}); err != nil {
		httpx.Fail(w, r, err, http.StatusInternalServerError)
		return
	}

	s.audit(r, "reset_all")
	httpx.WriteJSON(w, http.StatusOK, httpx.Message{Message: "All user portfolios reset successfully"})
}

// AddBonus handles POST /admin/bonus/{userID}
func (s *Service) AddBonus(w http.ResponseWriter, r *http.Request) {
	var req BonusRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		httpx.WriteError(w, "valid bonus amount is required", http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "userID")
	if !s.exists(w, r, id) {
		return
	}
	if _, err := s.store.AddBalance(r.Context(), store.AccountFilter{IDs: []string{id}}, req.Amount); err != nil {
		httpx.Fail(w, r, err, http.StatusInternalServerError)
		return
	}

	s.audit(r, "add_bonus", "account", id, "amount", req.Amount.String())
	httpx.WriteJSON(w, http.StatusOK, httpx.Message{
		Message: fmt.Sprintf("Bonus of %s added successfully", FormatUSD(req.Amount)),
	})
}

// UserDashboard handles GET /admin/user-dashboard/{userID}
func (s *Service) UserDashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := s.valuator.Dashboard(r.Context(), chi.URLParam(r, "userID"))
	if errors.Is(err, portfolio.ErrAccountNotFound) {
		httpx.WriteError(w, "user not found", http.StatusNotFound)
		return
	} else if err != nil {
		httpx.Fail(w, r, err, http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, dash)
}

// Leaderboard handles GET /admin/analytics/leaderboard
func (s *Service) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.valuator.Leaderboard(r.Context())
	if err != nil {
		httpx.Fail(w, r, err, http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, entries)
}

// BulkUpdate handles POST /admin/bulk-update
// Balance changes never touch admin accounts.
func (s *Service) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.UserIDs) == 0 {
		httpx.WriteError(w, "user IDs array is required", http.StatusBadRequest)
		return
	}

	filter := store.AccountFilter{IDs: req.UserIDs, SkipAdmins: true}
	var err error
	switch req.Action {
	case ActionSetBalance:
		if req.Value == nil || req.Value.IsNegative() {
			httpx.WriteError(w, "valid balance value is required", http.StatusBadRequest)
			return
		}
		_, err = s.store.SetBalance(r.Context(), filter, *req.Value)
	case ActionAddBonus:
		if req.Value == nil || !req.Value.IsPositive() {
			httpx.WriteError(w, "valid bonus amount is required", http.StatusBadRequest)
			return
		}
		_, err = s.store.AddBalance(r.Context(), filter, *req.Value)
	case ActionResetPortfolio:
		err = s.store.ResetPortfolios(r.Context(), filter)
	default:
		httpx.WriteError(w, "invalid action", http.StatusBadRequest)
		return
	}
	if err != nil {
		httpx.Fail(w, r, err, http.StatusInternalServerError)
		return
	}

	s.audit(r, "bulk_"+req.Action, "accounts", len(req.UserIDs))
	httpx.WriteJSON(w, http.StatusOK, httpx.Message{
		Message: fmt.Sprintf("Bulk %s completed for %d users", req.Action, len(req.UserIDs)),
	})
}

// exists writes 404 and returns false when id names no account.
func (s *Service) exists(w http.ResponseWriter, r *http.Request, id string) bool {
	_, err := s.store.GetAccount(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httpx.WriteError(w, "user not found", http.StatusNotFound)
		return false
	} else if err != nil {
		httpx.Fail(w, r, err, http.StatusInternalServerError)
		return false
	}
	return true
}

func (s *Service) audit(r *http.Request, action string, args ...any) {
	metrics.AdminActions.WithLabelValues(action).Inc()
	attrs := []any{"action", action}
	if claims, ok := auth.FromContext(r.Context()); ok {
		attrs = append(attrs, "admin", claims.AccountID)
	}
	slog.Info("admin action", append(attrs, args...)...)
}

// FormatUSD renders amount as a dollar string, e.g. $1,250.50.
func FormatUSD(amount decimal.Decimal) string {
	cents := amount.Shift(2).Round(0).IntPart()
	return money.New(cents, "USD").Display()
}

package trade

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/bitchest/wallet-engine/internal/model"
	"github.com/bitchest/wallet-engine/internal/notify"
	"github.com/bitchest/wallet-engine/internal/wallet"
)

// Identity headers set by the upstream authentication layer.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// requestTimeout bounds every route except the WebSocket stream.
const requestTimeout = 30 * time.Second

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller set by Identify.
func IdentityFrom(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(model.Identity)
	return id, ok
}

// Identify reads the caller from the identity headers. Requests without a
// user id or with an unknown role are rejected with 401.
func Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := model.Identity{
			UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
			Role:   model.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole)))),
		}
		if id.UserID == "" {
			writeError(w, "missing "+HeaderUserID+" header", http.StatusUnauthorized)
			return
		}
		if id.Role != model.RoleAdmin && id.Role != model.RoleClient {
			writeError(w, "unknown role: "+string(id.Role), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireRole rejects callers without role with 403. It must run after
// Identify.
func RequireRole(role model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				writeError(w, "unauthenticated", http.StatusUnauthorized)
				return
			}
			if id.Role != role {
				writeError(w, string(role)+" role required", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Handler exposes a Service over HTTP.
type Handler struct {
	svc *Service
	hub *notify.Hub // nil disables the WebSocket stream
}

// NewHandler creates the HTTP handler. Pass nil for hub if WebSocket
// streaming is not needed.
func NewHandler(svc *Service, hub *notify.Hub) *Handler {
	return &Handler{svc: svc, hub: hub}
}

// Routes mounts the API on r, typically under /api/v1.
func (h *Handler) Routes(r chi.Router) {
	r.Use(Identify)

	// The stream outlives any request timeout.
	r.With(RequireRole(model.RoleClient)).Get("/ws", h.Stream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/assets", h.ListAssets)
		r.Get("/assets/{assetID}/history", h.PriceHistory)

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(model.RoleClient))
			r.Get("/wallet", h.Wallet)
			r.Get("/transactions", h.Transactions)
			r.Post("/trades/buy", h.Buy)
			r.Post("/trades/sell", h.Sell)
			r.Post("/trades/sell-all", h.SellAll)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireRole(model.RoleAdmin))
			r.Get("/accounts", h.ListAccounts)
			r.Post("/accounts", h.CreateAccount)
			r.Delete("/accounts/{userID}", h.DeleteAccount)
			r.Get("/accounts/{userID}/wallet", h.AccountWallet)
			r.Post("/prices", h.RecordPrice)
		})
	})
}

// --- Client handlers ---

// tradeBody is the JSON body for POST /trades/buy and /trades/sell.
type tradeBody struct {
	AssetID  string          `json:"asset_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Buy handles POST /api/v1/trades/buy
func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, h.svc.Buy)
}

// Sell handles POST /api/v1/trades/sell
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, h.svc.Sell)
}

func (h *Handler) trade(w http.ResponseWriter, r *http.Request, exec func(context.Context, Request) (*Result, error)) {
	id, _ := IdentityFrom(r.Context())

	var body tradeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeServiceError(w, wallet.Invalid("body", "is not a valid trade request"))
		return
	}

	res, err := exec(r.Context(), Request{UserID: id.UserID, AssetID: body.AssetID, Quantity: body.Quantity})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SellAll handles POST /api/v1/trades/sell-all
func (h *Handler) SellAll(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	var body struct {
		AssetID string `json:"asset_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeServiceError(w, wallet.Invalid("body", "is not a valid trade request"))
		return
	}

	res, err := h.svc.SellAll(r.Context(), id.UserID, body.AssetID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Wallet handles GET /api/v1/wallet
func (h *Handler) Wallet(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	h.writePortfolio(w, r, id.UserID)
}

func (h *Handler) writePortfolio(w http.ResponseWriter, r *http.Request, userID string) {
	p, err := h.svc.Portfolio(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Transactions handles GET /api/v1/transactions?asset=BTC
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	entries, err := h.svc.History(r.Context(), id.UserID, r.URL.Query().Get("asset"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Stream handles GET /api/v1/ws
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, "event stream disabled", http.StatusNotFound)
		return
	}
	id, _ := IdentityFrom(r.Context())
	h.hub.Serve(w, r, id.UserID)
}

// --- Shared handlers ---

// ListAssets handles GET /api/v1/assets
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	quotes, err := h.svc.Quotes(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quotes)
}

// PriceHistory handles GET /api/v1/assets/{assetID}/history?days=30
func (h *Handler) PriceHistory(w http.ResponseWriter, r *http.Request) {
	days := DefaultHistoryDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeServiceError(w, wallet.Invalid("days", "must be a positive integer"))
			return
		}
		days = n
	}

	points, err := h.svc.PriceHistory(r.Context(), chi.URLParam(r, "assetID"), days)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// --- Admin handlers ---

// ListAccounts handles GET /api/v1/admin/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.svc.Accounts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

// CreateAccount handles POST /api/v1/admin/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req ProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	acct, err := h.svc.Provision(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

// DeleteAccount handles DELETE /api/v1/admin/accounts/{userID}
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Deprovision(r.Context(), chi.URLParam(r, "userID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AccountWallet handles GET /api/v1/admin/accounts/{userID}/wallet
func (h *Handler) AccountWallet(w http.ResponseWriter, r *http.Request) {
	h.writePortfolio(w, r, chi.URLParam(r, "userID"))
}

// RecordPrice handles POST /api/v1/admin/prices
func (h *Handler) RecordPrice(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	p, err := h.svc.RecordPrice(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

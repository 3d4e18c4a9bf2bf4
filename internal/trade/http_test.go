package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/bitchest/wallet-engine/internal/asset"
	"github.com/bitchest/wallet-engine/internal/model"
	"github.com/bitchest/wallet-engine/internal/notify"
	"github.com/bitchest/wallet-engine/internal/price"
	"github.com/bitchest/wallet-engine/internal/store"
	"github.com/bitchest/wallet-engine/internal/trade"
)

// errorBody mirrors the error response of the API.
type errorBody struct {
	Error     string          `json:"error"`
	Kind      string          `json:"kind"`
	Field     string          `json:"field"`
	AssetID   string          `json:"asset_id"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
	Requested decimal.Decimal `json:"requested"`
}

func doRequest(t *testing.T, router chi.Router, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(trade.HeaderUserID, userID)
	}
	if role != "" {
		req.Header.Set(trade.HeaderUserRole, role)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func asClient(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return doRequest(t, router, method, path, "client-1", "client", body)
}

func asAdmin(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return doRequest(t, router, method, path, "admin-1", "admin", body)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var e errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("error body is not JSON: %v: %s", err, w.Body.String())
	}
	return e
}

// --- Trade endpoints ---

func TestBuyEndpoint_Success(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedAccount(t, ms, "client-1", "1000")
	seedPrice(t, ms, "BTC", "20000")

	w := asClient(t, router, "POST", "/api/v1/trades/buy", map[string]string{
		"asset_id": "BTC",
		"quantity": "0.04",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp trade.Result
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Entry.ID == "" {
		t.Error("expected non-empty entry id")
	}
	if resp.Entry.UserID != "client-1" {
		t.Errorf("expected entry for client-1, got %q", resp.Entry.UserID)
	}
	if !resp.Balance.Equal(d("200")) {
		t.Errorf("expected balance 200, got %s", resp.Balance)
	}
	if !resp.Holding.AveragePrice.Equal(d("20000")) {
		t.Errorf("expected average price 20000, got %s", resp.Holding.AveragePrice)
	}
}

func TestBuyEndpoint_IgnoresBodyUserID(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedAccount(t, ms, "client-1", "1000")
	seedAccount(t, ms, "victim", "1000")
	seedPrice(t, ms, "BTC", "100")

	w := asClient(t, router, "POST", "/api/v1/trades/buy", map[string]string{
		"user_id":  "victim",
		"asset_id": "BTC",
		"quantity": "1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := balanceOf(t, ms, "victim"); !got.Equal(d("1000")) {
		t.Errorf("victim balance changed to %s", got)
	}
	if got := balanceOf(t, ms, "client-1"); !got.Equal(d("900")) {
		t.Errorf("expected client-1 balance 900, got %s", got)
	}
}

func TestBuyEndpoint_InsufficientBalance(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedAccount(t, ms, "client-1", "100")
	seedPrice(t, ms, "BTC", "20000")

	w := asClient(t, router, "POST", "/api/v1/trades/buy", map[string]any{
		"asset_id": "BTC",
		"quantity": 1,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}

	e := decodeError(t, w)
	if e.Kind != trade.KindInsufficientBalance {
		t.Errorf("expected kind %s, got %q", trade.KindInsufficientBalance, e.Kind)
	}
	if !e.Required.Equal(d("20000")) || !e.Available.Equal(d("100")) {
		t.Errorf("expected required 20000 / available 100, got %s / %s", e.Required, e.Available)
	}
	if len(entriesOf(t, ms, "client-1")) != 0 {
		t.Error("rejected buy must not create a ledger entry")
	}
}

func TestSellEndpoint_InsufficientHoldings(t *testing.T) {
	svc, ms, router := newTestEnv(t)
	seedAccount(t, ms, "client-1", "1000")
	seedPrice(t, ms, "ETH", "1000")
	if _, err := buy(svc, "client-1", "ETH", "0.1"); err != nil {
		t.Fatalf("seed buy failed: %v", err)
	}

	w := asClient(t, router, "POST", "/api/v1/trades/sell", map[string]string{
		"asset_id": "ETH",
		"quantity": "1",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}

	e := decodeError(t, w)
	if e.Kind != trade.KindInsufficientHoldings {
		t.Errorf("expected kind %s, got %q", trade.KindInsufficientHoldings, e.Kind)
	}
	if e.AssetID != "ETH" {
		t.Errorf("expected asset ETH, got %q", e.AssetID)
	}
	if !e.Requested.Equal(d("1")) || !e.Available.Equal(d("0.1")) {
		t.Errorf("expected requested 1 / available 0.1, got %s / %s", e.Requested, e.Available)
	}
}

func TestBuyEndpoint_NoPrice(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedAccount(t, ms, "client-1", "1000")

	w := asClient(t, router, "POST", "/api/v1/trades/buy", map[string]string{
		"asset_id": "XEM",
		"quantity": "1",
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if e := decodeError(t, w); e.Kind != trade.KindNoPriceAvailable || e.AssetID != "XEM" {
		t.Errorf("expected no_price_available for XEM, got %q for %q", e.Kind, e.AssetID)
	}
}

func TestTradeEndpoints_InvalidInput(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedAccount(t, ms, "client-1", "1000")
	seedPrice(t, ms, "BTC", "100")

	tests := []struct {
		name  string
		path  string
		body  any
		field string
	}{
		{"zero quantity", "/api/v1/trades/buy", map[string]string{"asset_id": "BTC", "quantity": "0"}, "quantity"},
		{"negative quantity", "/api/v1/trades/sell", map[string]string{"asset_id": "BTC", "quantity": "-2"}, "quantity"},
		{"missing quantity", "/api/v1/trades/buy", map[string]string{"asset_id": "BTC"}, "quantity"},
		{"unknown asset", "/api/v1/trades/buy", map[string]string{"asset_id": "DOGE", "quantity": "1"}, "asset_id"},
		{"malformed body", "/api/v1/trades/buy", "{not json", "body"},
		{"sell-all without asset", "/api/v1/trades/sell-all", map[string]string{}, "asset_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := asClient(t, router, "POST", tt.path, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			e := decodeError(t, w)
			if e.Kind != trade.KindInvalidTrade {
				t.Errorf("expected kind %s, got %q", trade.KindInvalidTrade, e.Kind)
			}
			if e.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, e.Field)
			}
		})
	}
}

func TestSellAllEndpoint(t *testing.T) {
	svc, ms, router := newTestEnv(t)
	seedAccount(t, ms, "client-1", "500")
	seedPrice(t, ms, "ADA", "2")
	if _, err := buy(svc, "client-1", "ADA", "100"); err != nil {
		t.Fatalf("seed buy failed: %v", err)
	}

	w := asClient(t, router, "POST", "/api/v1/trades/sell-all", map[string]string{"asset_id": "ADA"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp trade.Result
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Entry.Quantity.Equal(d("100")) {
		t.Errorf("expected to sell 100, sold %s", resp.Entry.Quantity)
	}
	if !resp.Holding.Quantity.IsZero() {
		t.Errorf("expected closed holding, got %s", resp.Holding.Quantity)
	}

	w = asClient(t, router, "POST", "/api/v1/trades/sell-all", map[string]string{"asset_id": "ADA"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 on empty holding, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Queries ---

func TestWalletEndpoint(t *testing.T) {
	svc, ms, router := newTestEnv(t)
	seedAccount(t, ms, "client-1", "1000")
	seedPrice(t, ms, "BTC", "20000")
	if _, err := buy(svc, "client-1", "BTC", "0.04"); err != nil {
		t.Fatalf("seed buy failed: %v", err)
	}
	seedPrice(t, ms, "BTC", "15000")

	w := asClient(t, router, "GET", "/api/v1/wallet", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var p model.Portfolio
	json.Unmarshal(w.Body.Bytes(), &p)

	if len(p.Holdings) != 1 {
		t.Fatalf("expected 1 holding, got %d", len(p.Holdings))
	}
	if !p.Holdings[0].ProfitLoss.Equal(d("-200")) {
		t.Errorf("expected P/L -200, got %s", p.Holdings[0].ProfitLoss)
	}
	if !p.TotalBalance.Equal(d("800")) {
		t.Errorf("expected total 800, got %s", p.TotalBalance)
	}
}

func TestWalletEndpoint_UnknownAccount(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := asClient(t, router, "GET", "/api/v1/wallet", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestTransactionsEndpoint(t *testing.T) {
	svc, ms, router := newTestEnv(t)
	seedAccount(t, ms, "client-1", "1000")
	seedPrice(t, ms, "BTC", "100")
	seedPrice(t, ms, "ETH", "10")
	for _, id := range []string{"BTC", "ETH"} {
		if _, err := buy(svc, "client-1", id, "1"); err != nil {
			t.Fatalf("seed buy failed: %v", err)
		}
	}

	w := asClient(t, router, "GET", "/api/v1/transactions?asset=ETH", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var entries []model.LedgerEntry
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 1 || entries[0].AssetID != "ETH" {
		t.Errorf("expected one ETH entry, got %+v", entries)
	}
}

func TestAssetsEndpoints(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := asAdmin(t, router, "POST", "/api/v1/admin/prices", map[string]string{
		"asset_id": "btc",
		"price":    "21000.50",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = asClient(t, router, "GET", "/api/v1/assets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var quotes []struct {
		ID    string           `json:"id"`
		Name  string           `json:"name"`
		Price *decimal.Decimal `json:"price"`
		At    *time.Time       `json:"at"`
	}
	json.Unmarshal(w.Body.Bytes(), &quotes)
	if len(quotes) != len(asset.DefaultCatalog().All()) {
		t.Fatalf("expected full catalog, got %d assets", len(quotes))
	}
	for _, q := range quotes {
		switch {
		case q.ID == "BTC" && (q.Price == nil || !q.Price.Equal(d("21000.50"))):
			t.Errorf("expected BTC at 21000.50, got %v", q.Price)
		case q.ID != "BTC" && q.Price != nil:
			t.Errorf("expected no price for %s, got %s", q.ID, q.Price)
		}
	}

	w = asClient(t, router, "GET", "/api/v1/assets/BTC/history?days=7", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var points []model.PricePoint
	json.Unmarshal(w.Body.Bytes(), &points)
	if len(points) != 1 {
		t.Errorf("expected 1 price point, got %d", len(points))
	}

	w = asClient(t, router, "GET", "/api/v1/assets/BTC/history?days=abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad days, got %d", w.Code)
	}
}

func TestRecordPriceEndpoint_Invalid(t *testing.T) {
	_, _, router := newTestEnv(t)

	for _, body := range []map[string]string{
		{"asset_id": "BTC", "price": "0"},
		{"asset_id": "BTC", "price": "10.001"},
		{"asset_id": "NOPE", "price": "10"},
	} {
		w := asAdmin(t, router, "POST", "/api/v1/admin/prices", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%v: expected 400, got %d: %s", body, w.Code, w.Body.String())
		}
	}
}

// --- Admin ---

func TestAdminAccounts(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPrice(t, ms, "BTC", "100")

	w := asAdmin(t, router, "POST", "/api/v1/admin/accounts", map[string]string{"user_id": "client-1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var acct model.Account
	json.Unmarshal(w.Body.Bytes(), &acct)
	if !acct.CashBalance.Equal(d("500")) {
		t.Errorf("expected initial balance 500, got %s", acct.CashBalance)
	}

	w = asAdmin(t, router, "POST", "/api/v1/admin/accounts", map[string]string{"user_id": "client-1"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d: %s", w.Code, w.Body.String())
	}

	if w := asClient(t, router, "POST", "/api/v1/trades/buy", map[string]string{"asset_id": "BTC", "quantity": "1"}); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = asAdmin(t, router, "GET", "/api/v1/admin/accounts/client-1/wallet", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var p model.Portfolio
	json.Unmarshal(w.Body.Bytes(), &p)
	if !p.CashBalance.Equal(d("400")) {
		t.Errorf("expected cash 400, got %s", p.CashBalance)
	}

	w = asAdmin(t, router, "GET", "/api/v1/admin/accounts", nil)
	var accounts []model.Account
	json.Unmarshal(w.Body.Bytes(), &accounts)
	if len(accounts) != 1 {
		t.Errorf("expected 1 account, got %d", len(accounts))
	}

	w = asAdmin(t, router, "DELETE", "/api/v1/admin/accounts/client-1", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if n := len(entriesOf(t, ms, "client-1")); n != 0 {
		t.Errorf("expected ledger removed with account, %d entries left", n)
	}

	w = asAdmin(t, router, "DELETE", "/api/v1/admin/accounts/client-1", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", w.Code)
	}
}

// --- Identity ---

func TestIdentity(t *testing.T) {
	_, _, router := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		userID string
		role   string
		want   int
	}{
		{"no identity", "GET", "/api/v1/wallet", "", "", http.StatusUnauthorized},
		{"unknown role", "GET", "/api/v1/wallet", "client-1", "superuser", http.StatusUnauthorized},
		{"admin on client route", "GET", "/api/v1/wallet", "admin-1", "admin", http.StatusForbidden},
		{"client on admin route", "GET", "/api/v1/admin/accounts", "client-1", "client", http.StatusForbidden},
		{"admin trading", "POST", "/api/v1/trades/buy", "admin-1", "admin", http.StatusForbidden},
		{"role is case-insensitive", "GET", "/api/v1/admin/accounts", "admin-1", "Admin", http.StatusOK},
		{"assets need identity", "GET", "/api/v1/assets", "", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, tt.method, tt.path, tt.userID, tt.role, nil)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

// --- Stream ---

func TestStreamEndpoint_DeliversTradeEvents(t *testing.T) {
	ms := store.NewMemoryStore()
	hub := notify.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	svc := trade.NewService(ms, price.NewStoreFeed(ms, 0), asset.DefaultCatalog(), trade.WithNotifier(hub))
	r := chi.NewRouter()
	r.Route("/api/v1", trade.NewHandler(svc, hub).Routes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	seedAccount(t, ms, "client-1", "1000")
	seedPrice(t, ms, "BTC", "100")

	header := http.Header{}
	header.Set(trade.HeaderUserID, "client-1")
	header.Set(trade.HeaderUserRole, "client")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients("client-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("socket never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := buy(svc, "client-1", "BTC", "1"); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	seen := map[string]bool{}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(seen) < 2 {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		seen[msg.Type] = true
	}
	if !seen[model.EventBalanceChanged] || !seen[model.EventTransactionCompleted] {
		t.Errorf("expected both event types, got %v", seen)
	}
}

func TestStreamEndpoint_Disabled(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := asClient(t, router, "GET", "/api/v1/ws", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a hub, got %d", w.Code)
	}
}

package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bitchest/wallet-engine/internal/asset"
	"github.com/bitchest/wallet-engine/internal/price"
	"github.com/bitchest/wallet-engine/internal/store"
	"github.com/bitchest/wallet-engine/internal/trade"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := trade.NewService(ms, price.NewStoreFeed(ms, 0), asset.DefaultCatalog())
	return newRouter(trade.NewHandler(svc, nil))
}

func TestRouter_Health(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestRouter_Metrics(t *testing.T) {
	router := newTestRouter(t)

	// Produce at least one labelled request first.
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "bitchest_http_requests_total") {
		t.Error("expected HTTP request counter in metrics output")
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("OPTIONS", "/api/v1/trades/buy", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, trade.HeaderUserID) {
		t.Errorf("expected identity headers to be allowed, got %q", got)
	}
}

func TestRouter_APIRequiresIdentity(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/wallet", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

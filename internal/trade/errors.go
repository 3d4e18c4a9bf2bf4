package trade

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/bitchest/wallet-engine/internal/store"
	"github.com/bitchest/wallet-engine/internal/wallet"
)

// Error kinds reported in the "kind" field of error responses.
const (
	KindInsufficientBalance  = "insufficient_balance"
	KindInsufficientHoldings = "insufficient_holdings"
	KindNoPriceAvailable     = "no_price_available"
	KindInvalidTrade         = "invalid_trade"
	KindAccountNotFound      = "account_not_found"
	KindAccountExists        = "account_exists"
	KindInternal             = "internal"
)

// noPriceRetryAfter is the Retry-After hint, in seconds, sent with
// no_price_available.
const noPriceRetryAfter = "30"

// Kind classifies err into one of the error kinds.
func Kind(err error) string {
	switch {
	case errors.Is(err, wallet.ErrInsufficientBalance):
		return KindInsufficientBalance
	case errors.Is(err, wallet.ErrInsufficientHoldings):
		return KindInsufficientHoldings
	case errors.Is(err, wallet.ErrNoPriceAvailable):
		return KindNoPriceAvailable
	case errors.Is(err, wallet.ErrInvalidTrade):
		return KindInvalidTrade
	case errors.Is(err, store.ErrAccountNotFound):
		return KindAccountNotFound
	case errors.Is(err, store.ErrAccountExists):
		return KindAccountExists
	default:
		return KindInternal
	}
}

// rejected reports whether the kind is a user-visible admission outcome
// rather than a failure of the service.
func rejected(kind string) bool {
	return kind != KindInternal
}

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	Error     string           `json:"error"`
	Kind      string           `json:"kind,omitempty"`
	Field     string           `json:"field,omitempty"`
	AssetID   string           `json:"asset_id,omitempty"`
	Required  *decimal.Decimal `json:"required,omitempty"`
	Available *decimal.Decimal `json:"available,omitempty"`
	Requested *decimal.Decimal `json:"requested,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps a service error to its status code and writes the
// structured failure. Internal errors are not echoed to the client.
func writeServiceError(w http.ResponseWriter, err error) {
	kind := Kind(err)
	resp := errorResponse{Error: err.Error(), Kind: kind}
	status := http.StatusInternalServerError

	var (
		balErr   *wallet.InsufficientBalanceError
		holdErr  *wallet.InsufficientHoldingsError
		priceErr *wallet.NoPriceError
		invErr   *wallet.InvalidTradeError
	)
	switch {
	case errors.As(err, &balErr):
		status = http.StatusUnprocessableEntity
		resp.Required, resp.Available = &balErr.Required, &balErr.Available
	case errors.As(err, &holdErr):
		status = http.StatusUnprocessableEntity
		resp.AssetID = holdErr.AssetID
		resp.Requested, resp.Available = &holdErr.Requested, &holdErr.Available
	case errors.As(err, &priceErr):
		status = http.StatusServiceUnavailable
		resp.AssetID = priceErr.AssetID
		w.Header().Set("Retry-After", noPriceRetryAfter)
	case errors.As(err, &invErr):
		status = http.StatusBadRequest
		resp.Field = invErr.Field
	case kind == KindNoPriceAvailable:
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", noPriceRetryAfter)
	case kind == KindInvalidTrade:
		status = http.StatusBadRequest
	case kind == KindAccountNotFound:
		status = http.StatusNotFound
	case kind == KindAccountExists:
		status = http.StatusConflict
	default:
		resp.Error = "internal error"
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

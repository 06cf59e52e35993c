package handlers

import (
	"errors"
	"net/http"

	"github.com/pysugar/trade-nexus/internal/api/middleware"
	"github.com/pysugar/trade-nexus/internal/auth/token"
	"github.com/pysugar/trade-nexus/internal/credential"
	"github.com/pysugar/trade-nexus/internal/kis"
	"github.com/pysugar/trade-nexus/internal/logging"
)

type stockBuyRequest struct {
	Symbol          string `json:"symbol"`
	Quantity        int64  `json:"quantity"`
	Price           int64  `json:"price"`
	OrderType       string `json:"order_type"` // "market" or "limit"
	TakeProfitPrice int64  `json:"take_profit_price"`
	StopLossPrice   int64  `json:"stop_loss_price"`
}

type stockBuyResponse struct {
	Success bool `json:"success"`
	*kis.BuyResult
}

// StockBuyHandler places a domestic buy with optional exit orders.
// POST /api/stock-buy
func StockBuyHandler(store *credential.Store, tokenMgr *token.Manager, client *kis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := middleware.UserID(ctx)
		logger := logging.FromContext(ctx).With().Str("user_id", userID).Logger()

		var in stockBuyRequest
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
			return
		}
		req := kis.BuyRequest{
			Symbol:          in.Symbol,
			Quantity:        in.Quantity,
			Price:           in.Price,
			Market:          in.OrderType == "market",
			TakeProfitPrice: in.TakeProfitPrice,
			StopLossPrice:   in.StopLossPrice,
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
			return
		}

		cred, err := store.GetKIS(ctx, userID)
		if err != nil {
			writeInternal(w, r, err, "failed to load kis credential")
			return
		}
		tok, err := tokenMgr.TokenSource(ctx, cred, userID).Token()
		switch {
		case errors.Is(err, token.ErrNoCredential):
			writeError(w, http.StatusBadRequest, "KIS API settings are required. Complete them in your profile.", "invalid_request_error")
			return
		case errors.Is(err, token.ErrIssuance):
			writeError(w, http.StatusBadRequest, "KIS API authentication failed. Check your settings.", "authentication_error")
			return
		case err != nil:
			writeInternal(w, r, err, "failed to obtain kis token")
			return
		}

		result, err := client.BuyWithExits(ctx, *cred, tok, req)
		if err != nil {
			var apiErr *kis.APIError
			if errors.As(err, &apiErr) {
				writeError(w, http.StatusBadRequest, "Buy order rejected: "+apiErr.Message, "order_error")
				return
			}
			logger.Error().Err(err).Str("symbol", req.Symbol).Msg("buy order failed")
			writeError(w, http.StatusBadGateway, "KIS buy order failed", "upstream_error")
			return
		}

		logger.Info().
			Str("symbol", req.Symbol).
			Int64("quantity", req.Quantity).
			Str("order_number", result.BuyOrderNumber).
			Msg("buy order submitted")
		writeJSON(w, http.StatusOK, stockBuyResponse{Success: true, BuyResult: result})
	}
}

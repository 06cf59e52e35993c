package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/pysugar/trade-nexus/internal/api/middleware"
	"github.com/pysugar/trade-nexus/internal/credential"
	"github.com/pysugar/trade-nexus/internal/upbit"
)

// CryptoAssetsHandler lists the caller's Upbit balances. An optional
// ?market=KRW-BTC narrows the list to that market's coin.
// GET /api/crypto/assets
func CryptoAssetsHandler(store *credential.Store, client *upbit.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		market := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("market")))
		if market != "" {
			if !upbit.ValidateMarketCode(market) {
				writeError(w, http.StatusBadRequest, "Invalid market code: "+market, "invalid_request_error")
				return
			}
			if !upbit.IsKRWMarket(market) {
				writeError(w, http.StatusBadRequest, "Only KRW markets are supported", "invalid_request_error")
				return
			}
		}

		cred, err := store.GetUpbit(ctx, middleware.UserID(ctx))
		if err != nil {
			writeInternal(w, r, err, "failed to load upbit credential")
			return
		}
		if cred == nil {
			writeError(w, http.StatusBadRequest, "Upbit API settings are required. Complete them in your profile.", "invalid_request_error")
			return
		}

		accounts, err := client.Accounts(ctx, *cred)
		if err != nil {
			var apiErr *upbit.APIError
			if errors.As(err, &apiErr) {
				writeError(w, http.StatusBadRequest, upbit.ErrorMessage(apiErr.Name, apiErr.Message), "upstream_error")
				return
			}
			writeError(w, http.StatusBadGateway, "Upbit request failed", "upstream_error")
			return
		}
		if market != "" {
			accounts = filterMarket(accounts, market)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"assets":  accounts,
		})
	}
}

func filterMarket(accounts []upbit.Account, market string) []upbit.Account {
	out := []upbit.Account{}
	for _, a := range accounts {
		if a.Market() == market {
			out = append(out, a)
		}
	}
	return out
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/pysugar/trade-nexus/internal/api/middleware"
	"github.com/pysugar/trade-nexus/internal/auth/token"
	"github.com/pysugar/trade-nexus/internal/credential"
	"github.com/pysugar/trade-nexus/internal/logging"
)

// KISSettingsHandler returns the caller's brokerage settings, secret masked.
func KISSettingsHandler(store *credential.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := store.KISSettingsView(r.Context(), middleware.UserID(r.Context()))
		if err != nil {
			writeInternal(w, r, err, "failed to load kis settings")
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// SaveKISSettingsHandler stores the caller's brokerage settings. The cached
// token belongs to the previous app key, so it is dropped.
func SaveKISSettingsHandler(store *credential.Store, tokenMgr *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := middleware.UserID(ctx)

		var in credential.KISSettings
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
			return
		}
		if err := store.SaveKIS(ctx, userID, in); err != nil {
			if errors.Is(err, credential.ErrInvalidSettings) {
				writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
				return
			}
			writeInternal(w, r, err, "failed to save kis settings")
			return
		}
		if err := tokenMgr.Invalidate(ctx, userID); err != nil {
			logger := logging.FromContext(ctx)
			logger.Warn().Err(err).Str("user_id", userID).Msg("failed to drop token after settings change")
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "KIS settings saved",
		})
	}
}

func UpbitSettingsHandler(store *credential.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := store.UpbitSettingsView(r.Context(), middleware.UserID(r.Context()))
		if err != nil {
			writeInternal(w, r, err, "failed to load upbit settings")
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func SaveUpbitSettingsHandler(store *credential.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in credential.UpbitSettings
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
			return
		}
		if err := store.SaveUpbit(r.Context(), middleware.UserID(r.Context()), in); err != nil {
			if errors.Is(err, credential.ErrInvalidSettings) {
				writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
				return
			}
			writeInternal(w, r, err, "failed to save upbit settings")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Upbit settings saved",
		})
	}
}

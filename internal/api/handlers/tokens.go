package handlers

import (
	"net/http"
	"time"

	"github.com/pysugar/trade-nexus/internal/api/middleware"
	"github.com/pysugar/trade-nexus/internal/auth/token"
)

// TokenStatusHandler reports the caller's cached brokerage token.
// GET /api/tokens/status
func TokenStatusHandler(tokenMgr *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := tokenMgr.Status(r.Context(), middleware.UserID(r.Context()))
		if err != nil {
			writeInternal(w, r, err, "failed to read token status")
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// InvalidateTokenHandler drops the caller's token, used on logout.
// DELETE /api/tokens
func InvalidateTokenHandler(tokenMgr *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := tokenMgr.Invalidate(r.Context(), middleware.UserID(r.Context())); err != nil {
			writeInternal(w, r, err, "failed to invalidate token")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Token deleted",
		})
	}
}

// CleanupTokensHandler deletes every expired token row.
// POST /api/tokens/cleanup
func CleanupTokensHandler(tokenMgr *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := tokenMgr.Sweep(r.Context())
		if err != nil {
			writeInternal(w, r, err, "expired token cleanup failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"deleted":   n,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

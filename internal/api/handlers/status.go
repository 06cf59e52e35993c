package handlers

import (
	"net/http"
	"time"

	"github.com/pysugar/trade-nexus/internal/auth/token"
	"github.com/pysugar/trade-nexus/internal/version"
)

// StatusHandler returns liveness, build info and token cache counters.
// GET /api/status
func StatusHandler(tokenMgr *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "online",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   version.Current(),
			"tokens":    tokenMgr.Stats(),
		})
	}
}

package handlers

import (
	"net/http"

	"github.com/pysugar/trade-nexus/internal/db"
	"github.com/pysugar/trade-nexus/internal/util"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// GetAPIKeyHandler returns the current API key
func GetAPIKeyHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"api_key": db.GetAPIKey(database),
		})
	}
}

// RegenerateAPIKeyHandler generates a new API key
func RegenerateAPIKeyHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey, err := db.RegenerateAPIKey(database)
		if err != nil {
			writeInternal(w, r, err, "failed to regenerate api key")
			return
		}
		log.Info().Str("api_key", util.MaskToken(apiKey)).Msg("regenerated API key")
		writeJSON(w, http.StatusOK, map[string]any{
			"api_key": apiKey,
		})
	}
}

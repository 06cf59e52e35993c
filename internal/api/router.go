// Package api wires the HTTP surface: middleware, route groups and handlers.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pysugar/trade-nexus/internal/api/handlers"
	"github.com/pysugar/trade-nexus/internal/api/middleware"
	"github.com/pysugar/trade-nexus/internal/auth/token"
	"github.com/pysugar/trade-nexus/internal/credential"
	"github.com/pysugar/trade-nexus/internal/kis"
	"github.com/pysugar/trade-nexus/internal/upbit"
	"gorm.io/gorm"
)

// Deps are the collaborators the routes are built from.
type Deps struct {
	DB            *gorm.DB
	Credentials   *credential.Store
	Tokens        *token.Manager
	KIS           *kis.Client
	Upbit         *upbit.Client
	AdminPassword string
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog)
	r.Use(chimiddleware.Recoverer)

	adminAuth := middleware.AdminAuth(d.AdminPassword)

	r.Route("/api", func(r chi.Router) {
		// API key management (protected if NEXUS_ADMIN_PASSWORD is set)
		r.Group(func(r chi.Router) {
			r.Use(adminAuth)
			r.Get("/config/apikey", handlers.GetAPIKeyHandler(d.DB))
			r.Post("/config/apikey/regenerate", handlers.RegenerateAPIKeyHandler(d.DB))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKeyAuth(d.DB))
			r.Get("/status", handlers.StatusHandler(d.Tokens))
			r.With(adminAuth).Post("/tokens/cleanup", handlers.CleanupTokensHandler(d.Tokens))

			// Per-user routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireUser)
				r.Get("/kis-settings", handlers.KISSettingsHandler(d.Credentials))
				r.Post("/kis-settings", handlers.SaveKISSettingsHandler(d.Credentials, d.Tokens))
				r.Get("/upbit-settings", handlers.UpbitSettingsHandler(d.Credentials))
				r.Post("/upbit-settings", handlers.SaveUpbitSettingsHandler(d.Credentials))
				r.Get("/tokens/status", handlers.TokenStatusHandler(d.Tokens))
				r.Delete("/tokens", handlers.InvalidateTokenHandler(d.Tokens))
				r.Post("/stock-buy", handlers.StockBuyHandler(d.Credentials, d.Tokens, d.KIS))
				r.Get("/crypto/assets", handlers.CryptoAssetsHandler(d.Credentials, d.Upbit))
			})
		})
	})

	return r
}

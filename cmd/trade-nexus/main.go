package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/pysugar/trade-nexus/internal/api"
	"github.com/pysugar/trade-nexus/internal/auth/token"
	"github.com/pysugar/trade-nexus/internal/config"
	"github.com/pysugar/trade-nexus/internal/credential"
	"github.com/pysugar/trade-nexus/internal/db"
	"github.com/pysugar/trade-nexus/internal/kis"
	"github.com/pysugar/trade-nexus/internal/logging"
	"github.com/pysugar/trade-nexus/internal/upbit"
	"github.com/pysugar/trade-nexus/internal/version"
	"github.com/rs/zerolog/log"
)

const appname = "Trade Nexus"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)
	displayAppname(appname)

	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}

	key, err := cfg.EncryptionKey()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid credential encryption key")
	}
	if key == nil {
		log.Warn().Msg("NEXUS_SECRET_KEY not set, credentials are stored unencrypted")
	}
	credentials := credential.NewStore(database, key,
		credential.WithBaseURLs(cfg.KIS.BaseURL, cfg.Upbit.BaseURL))

	kisClient := kis.NewClient(kis.WithTimeout(cfg.KIS.TokenTimeout))
	tokenManager := token.NewManager(token.NewStore(database), kisClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tokenManager.StartSweepLoop(ctx, cfg.Sweep.Interval)

	router := api.NewRouter(api.Deps{
		DB:            database,
		Credentials:   credentials,
		Tokens:        tokenManager,
		KIS:           kisClient,
		Upbit:         upbit.NewClient(cfg.Upbit.Timeout),
		AdminPassword: cfg.Server.AdminPassword,
	})

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	displayURL := "localhost:" + cfg.Server.Port
	if cfg.Server.Host == "0.0.0.0" {
		displayURL = "<your-ip>:" + cfg.Server.Port
	}
	log.Info().
		Str("addr", cfg.Addr()).
		Str("version", version.Version).
		Msgf("🚀 %s starting, API at http://%s/api", appname, displayURL)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	waitForShutdown()
	cancel()
	if err := shutdown(server); err != nil {
		log.Err(err).Msg("graceful shutdown failed")
	}
	if sqlDB, err := database.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("stopped")
}

func waitForShutdown() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	figure.NewFigure(appname, "cybermedium", true).Print()
	fmt.Println()
}

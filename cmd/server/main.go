// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

// Command server runs the TuneTrail serving plane: the authenticated HTTP
// API, the session expiry sweeper, and the impression flusher, all under a
// single supervision tree.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tunetrail/tunetrail/internal/api"
	"github.com/tunetrail/tunetrail/internal/auth"
	"github.com/tunetrail/tunetrail/internal/cache"
	"github.com/tunetrail/tunetrail/internal/clock"
	"github.com/tunetrail/tunetrail/internal/config"
	"github.com/tunetrail/tunetrail/internal/dispatch"
	"github.com/tunetrail/tunetrail/internal/engine"
	"github.com/tunetrail/tunetrail/internal/gate"
	"github.com/tunetrail/tunetrail/internal/ingest"
	"github.com/tunetrail/tunetrail/internal/logging"
	"github.com/tunetrail/tunetrail/internal/repository"
	"github.com/tunetrail/tunetrail/internal/session"
	"github.com/tunetrail/tunetrail/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logger := logging.Logger()
	logger.Info().
		Str("edition", cfg.Server.Edition).
		Str("addr", cfg.Server.Addr()).
		Msg("starting tunetrail serving plane")

	repo, err := repository.OpenSQLite(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer repo.Close()

	var store cache.Store
	if cfg.Cache.Path == "" {
		store = cache.NewMemory(clock.System{})
	} else {
		badgerStore, badgerDB, err := cache.OpenBadger(cfg.Cache.Path)
		if err != nil {
			return err
		}
		defer badgerDB.Close()
		store = badgerStore
	}

	clk := clock.System{}
	ids := clock.System{}

	jwt, err := auth.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.SessionTokenTTL, clk)
	if err != nil {
		return err
	}
	keys := auth.NewKeyManager(repo, clk, ids, &logger)
	verifier := auth.NewVerifier(jwt, keys, repo, &logger)
	g := gate.New(store, clk, cfg.Billing.UpgradeURL, &logger)

	eng := engine.NewHTTPClient(cfg.Engine.URL, cfg.Engine.Timeout, cfg.Engine.MaxRPS, &logger)
	buffer := dispatch.NewImpressionBuffer(cfg.Engine.ImpressionBuffer)
	flusher := dispatch.NewFlusher(buffer, repo, cfg.Engine.FlushInterval, 0, &logger)

	dispatchCfg := dispatch.DefaultConfig()
	dispatchCfg.FreshTTL = cfg.Engine.FreshTTL
	dispatchCfg.StaleTTL = cfg.Engine.StaleTTL
	dispatcher := dispatch.New(eng, repo, store, clk, ids, buffer, dispatchCfg, &logger)

	sessions := session.NewManager(repo, store, clk, ids, cfg.Sessions.IdleTimeout, &logger)
	sweeper := session.NewSweeper(sessions, cfg.Sessions.SweepInterval, &logger)
	ingestor := ingest.New(repo, clk, ids, &logger)

	router := api.NewRouter(
		api.Config{
			CORSOrigins:    cfg.Server.CORSOrigins,
			AuthRateLimit:  cfg.Security.AuthRateLimit,
			AuthRateWindow: cfg.Security.AuthRateWindow,
			RequestTimeout: cfg.Server.RequestTimeout,
		},
		verifier, jwt, keys, g, dispatcher, ingestor, sessions,
		buffer, repo, store, clk, ids, &logger,
	)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	slogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	tree := supervisor.NewTree(slogger, treeCfg)
	tree.AddBackgroundService(sweeper)
	tree.AddBackgroundService(flusher)
	tree.AddAPIService(supervisor.NewHTTPService(srv, cfg.Server.ShutdownTimeout, &logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if ctx.Err() != nil {
		logger.Info().Msg("shutdown complete")
		if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(unstopped) > 0 {
			for _, svc := range unstopped {
				logger.Warn().Str("service", svc.Name).Msg("service did not stop before deadline")
			}
		}
		return nil
	}
	return err
}

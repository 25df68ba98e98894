package main

import (
	"context"

	"github.com/driftchat/driftchat/internal/app"
	"github.com/driftchat/driftchat/internal/cache"
	"github.com/driftchat/driftchat/internal/config"
	"github.com/driftchat/driftchat/internal/db"
	"github.com/driftchat/driftchat/internal/logger"
	"github.com/driftchat/driftchat/internal/server"
	"github.com/driftchat/driftchat/internal/service/identity"
	"github.com/driftchat/driftchat/internal/service/match"
	"github.com/driftchat/driftchat/internal/sweeper"
)

func main() {
	cfg := config.New()

	// Init logger (global singleton)
	logger.InitFromConfig(cfg)
	log := logger.L()

	// Init DB
	database, err := db.NewDB(cfg)
	if err != nil {
		log.Error("failed to init db", "err", err)
		return
	}

	// Init Redis
	redisCache := cache.NewRedisCache(cfg)
	if err := redisCache.Ping(context.Background()); err != nil {
		log.Error("failed to connect to redis", "err", err)
		return
	}

	appCtx := app.New(database, redisCache, log)

	if cfg.App.ENV == "development" {
		if err := db.SeedTestData(database); err != nil {
			log.Error("failed to seed", "err", err)
		}
	}

	identitySvc := identity.NewService(appCtx)
	matchSvc := match.NewService(appCtx, cfg)
	sweep := sweeper.New(appCtx, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweep.Start(ctx)

	handler := server.NewHandler(identitySvc, matchSvc, sweep, log)

	addr := cfg.HTTP.Host + ":" + cfg.HTTP.Port
	log.Info("starting HTTP server", "addr", addr)

	if err := server.StartHTTPServer(cfg, handler); err != nil {
		log.Error("failed to start HTTP server", "err", err)
	}
}

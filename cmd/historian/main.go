// cmd/historian/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/skirmish/internal/cache"
	"github.com/jason-s-yu/skirmish/internal/config"
	"github.com/jason-s-yu/skirmish/internal/database"
	"github.com/jason-s-yu/skirmish/internal/historian"
)

func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	logger := cfg.NewLogger()
	if cfg.Database.URL == "" || cfg.Redis.Addr == "" {
		logger.Fatal("historian requires DATABASE_URL and REDIS_ADDR")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.ConnectDB(ctx, cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		logger.WithError(err).Fatal("failed to prepare schema")
	}

	rdb, err := cache.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.DB, cfg.Historian.Queue)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to redis")
	}
	defer rdb.Close()

	svc := historian.New(rdb, db, logger.WithField("component", "historian"),
		cfg.Historian.BatchSize, cfg.Historian.FlushInterval())
	if cfg.Historian.PopWait > 0 {
		svc.PopWait = cfg.Historian.PopWait
	}
	if err := svc.Run(ctx); err != nil {
		logger.WithError(err).Fatal("historian exited")
	}
}

// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/skirmish/internal/auth"
	"github.com/jason-s-yu/skirmish/internal/cache"
	"github.com/jason-s-yu/skirmish/internal/config"
	"github.com/jason-s-yu/skirmish/internal/database"
	"github.com/jason-s-yu/skirmish/internal/game"
	"github.com/jason-s-yu/skirmish/internal/handlers"
	"github.com/jason-s-yu/skirmish/internal/memstore"
	"github.com/jason-s-yu/skirmish/internal/middleware"
	"github.com/jason-s-yu/skirmish/internal/room"
	"github.com/jason-s-yu/skirmish/internal/router"
	"github.com/sirupsen/logrus"
)

// durable is what the game manager and the room repository persist to.
type durable interface {
	game.SessionStore
	room.ParticipantStore
}

func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]handlers.Check{}

	var store durable
	if cfg.Database.URL != "" {
		db, err := database.ConnectDB(ctx, cfg.Database.URL)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to database")
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			logger.WithError(err).Fatal("failed to prepare schema")
		}
		checks["database"] = db.Ping
		store = db
		logger.Info("connected to database")
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		store = memstore.New()
	}

	var c cache.Store = cache.Disabled{}
	var rdb *cache.Redis
	if cfg.Redis.Addr != "" {
		rdb, err = cache.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.DB, cfg.Historian.Queue)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to redis")
		}
		defer rdb.Close()
		checks["redis"] = rdb.Ping
		c = rdb
		logger.Info("connected to redis")
	} else {
		logger.Warn("REDIS_ADDR not set, running without cache or historian queue")
	}

	games := game.NewManager(store, c, logger.WithField("component", "game"))
	games.TTL = cfg.Cache.TTL
	if rdb != nil {
		games.Publisher = rdb
	}
	rooms := room.NewRepository(store, games, c, logger.WithField("component", "room"))
	rooms.TTL = cfg.Cache.TTL

	hub := handlers.NewHub(logger.WithField("component", "hub"))
	events := router.New(rooms, games, hub, logger.WithField("component", "router"), nil)
	defer events.Close()

	ttl, err := auth.ParseTTL(cfg.Auth.TokenTTL)
	if err != nil {
		logger.WithError(err).Fatal("invalid token ttl")
	}
	var signer *auth.Signer
	if cfg.Auth.PrivateKeyPath != "" {
		signer, err = auth.LoadSigner(cfg.Auth.PrivateKeyPath, cfg.Auth.PublicKeyPath, ttl)
	} else {
		logger.Warn("no auth key pair configured, generating an ephemeral one")
		signer, err = auth.NewSigner(ttl)
	}
	if err != nil {
		logger.WithError(err).Fatal("failed to set up token signer")
	}

	shutdown := make(chan struct{})
	ws := &handlers.WSHandler{
		Hub:            hub,
		Router:         events,
		Signer:         signer,
		Limiter:        middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateLimitBurst),
		Log:            logger.WithField("component", "ws"),
		RequireAuth:    cfg.Auth.Required,
		OriginPatterns: cfg.Server.AllowedOrigins,
		Shutdown:       shutdown,
	}

	handler := handlers.NewRouter(handlers.Deps{
		Log:          logger,
		Rooms:        rooms,
		WS:           ws,
		Signer:       signer,
		HTTPLimiter:  middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateLimitBurst),
		Checks:       checks,
		SecureCookie: cfg.Server.SecureCookie,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(func() { close(shutdown) })

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", srv.Addr).Info("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server exited")
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
	// Websocket goroutines are hijacked and outlive Shutdown; give them the
	// same deadline to run their disconnect handling.
	for hub.Count() > 0 && shutdownCtx.Err() == nil {
		time.Sleep(50 * time.Millisecond)
	}
	logger.WithField("connections", hub.Count()).Info("server stopped")
}

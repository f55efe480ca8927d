package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat/internal/api"
	"github.com/Tyrowin/gochat/internal/auth"
	"github.com/Tyrowin/gochat/internal/cache"
	"github.com/Tyrowin/gochat/internal/chat"
	"github.com/Tyrowin/gochat/internal/config"
	"github.com/Tyrowin/gochat/internal/dispatch"
	"github.com/Tyrowin/gochat/internal/logger"
	"github.com/Tyrowin/gochat/internal/router"
	"github.com/Tyrowin/gochat/internal/server"
	"github.com/Tyrowin/gochat/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log, os.Stdout)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("store", cfg.Store.Backend).
		Str("auth_cache", cfg.Auth.Cache.Backend).
		Msg("starting GoChat server")

	st, err := store.Open(ctx, cfg.Store, logger.Component(log, "store"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			log.Error().Err(err).Msg("error closing store")
		}
	}()

	tokens := auth.NewJWT(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	verified, closeCache, err := openTokenCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()
	verifier := auth.NewCachingVerifier(tokens, verified, cfg.Auth.Cache.TTL)

	rt := router.New(st, logger.Component(log, "router"))

	dispatcher := dispatch.New(rt, logger.Component(log, "dispatch"))
	chat.NewHandlers(st, rt, logger.Component(log, "chat")).Register(dispatcher)

	hub := server.NewHub(logger.Component(log, "hub"))
	go hub.Run()

	gateway := server.NewGateway(cfg.Server, hub, rt, verifier, dispatcher, logger.Component(log, "ws"))
	accounts := api.New(st, rt, tokens, verifier, logger.Component(log, "api"))
	httpServer := server.CreateServer(cfg.Server.Port, server.SetupRoutes(gateway, accounts))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, log)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			_ = hub.Shutdown(cfg.Server.ShutdownTimeout)
			return fmt.Errorf("http server: %w", err)
		}
	}

	if err := server.ShutdownServer(httpServer, cfg.Server.ShutdownTimeout, log); err != nil {
		log.Error().Err(err).Msg("HTTP server did not shut down cleanly")
	}
	if err := hub.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		log.Error().Err(err).Msg("hub did not shut down cleanly")
	}

	log.Info().Msg("server stopped")
	return nil
}

// openTokenCache builds the verification cache selected by
// auth.cache.backend. The returned func releases its resources.
func openTokenCache(ctx context.Context, cfg *config.Config, log zerolog.Logger) (cache.Cache[auth.Verified], func(), error) {
	switch cfg.Auth.Cache.Backend {
	case "redis":
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("token cache using redis")
		closeFn := func() { closeRedis(client, log) }
		return cache.NewRedis[auth.Verified](client, cfg.Redis.KeyPrefix, logger.Component(log, "cache")), closeFn, nil
	case "none":
		return cache.Nop[auth.Verified]{}, func() {}, nil
	default:
		return cache.NewMemory[auth.Verified](cfg.Auth.Cache.TTL, cfg.Auth.Cache.CleanupInterval), func() {}, nil
	}
}

func closeRedis(client *redis.Client, log zerolog.Logger) {
	if err := client.Close(); err != nil {
		log.Error().Err(err).Msg("error closing redis client")
	}
}

// Command offline-proxy serves a static blog through the offline cache.
//
// Every request is answered by the offline cache interceptor: fresh cached
// copies are served directly, stale or missing ones are fetched from the
// origin, and the precached offline page is served when the origin cannot be
// reached.
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

	"github.com/Sternrassler/offline-cache/pkg/cache"
	"github.com/Sternrassler/offline-cache/pkg/config"
	"github.com/Sternrassler/offline-cache/pkg/lifecycle"
	"github.com/Sternrassler/offline-cache/pkg/logging"
	"github.com/Sternrassler/offline-cache/pkg/network"
	"github.com/Sternrassler/offline-cache/pkg/search"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("offline-proxy stopped")
	}
}

func run() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Logging.Output = os.Stderr
	logging.Setup(cfg.Logging)
	logger := logging.NewLogger("proxy")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage()
	logger.Info().Str("backend", cfg.Cache.Backend).Msg("Storage ready")

	fetcher := network.NewHTTPFetcher(
		network.WithTimeout(cfg.Timeout()),
		network.WithUserAgent(cfg.Network.UserAgent),
	)
	retry := cfg.Retry()

	ctrl, err := lifecycle.New(lifecycle.Config{
		Storage:     storage,
		Network:     fetcher,
		Version:     cfg.Cache.Version,
		Origin:      cfg.OriginURL(),
		Manifest:    cfg.Cache.Manifest,
		OfflinePage: cfg.Cache.OfflinePage,
		Policy:      cfg.TTLPolicy(),
		Exclude:     cfg.Cache.Exclude,
		Concurrency: cfg.Network.InstallConcurrency,
		Retry:       &retry,
	})
	if err != nil {
		return fmt.Errorf("create controller: %w", err)
	}
	defer ctrl.Close()

	// A failed install leaves the stores as they were; exit so the
	// supervisor retries with the previous version's data intact.
	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("start %s: %w", ctrl.StoreName(), err)
	}

	var loader *search.Loader
	if cfg.Search.Enabled {
		loader = search.NewLoader(controllerFetcher(ctrl), cfg.IndexURL())
	}

	var ping pinger
	if p, ok := storage.(pinger); ok {
		ping = p
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           newHandler(ctrl, cfg.OriginURL(), loader, ping),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("origin", cfg.Server.Origin).
			Str("store", ctrl.StoreName()).
			Msg("Starting offline proxy")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStorage creates the configured backend and a func releasing it.
func openStorage(ctx context.Context, cfg config.Config) (cache.Storage, func(), error) {
	switch cfg.Cache.Backend {
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.Cache.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient := redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
		}
		prefix := cfg.Cache.Redis.Prefix
		if prefix == "" {
			prefix = cache.DefaultRedisPrefix
		}
		return cache.NewRedisStorageWithPrefix(redisClient, prefix), func() { redisClient.Close() }, nil

	case config.BackendLevelDB:
		db, err := cache.OpenLevelDBStorage(cfg.Cache.LevelDB.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil

	default:
		return cache.NewMemoryStorage(), func() {}, nil
	}
}

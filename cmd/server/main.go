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

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"storefront/backend/internal/cache"
	"storefront/backend/internal/config"
	"storefront/backend/internal/events"
	"storefront/backend/internal/httpapi"
	"storefront/backend/internal/logging"
	"storefront/backend/internal/service"
	"storefront/backend/internal/store"
	"storefront/backend/internal/store/memory"
	pgstore "storefront/backend/internal/store/postgres"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cmd := &cli.Command{
		Name:   "storefront",
		Usage:  "storefront backend",
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "Apply the database schema",
				Action: migrate,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrate(ctx context.Context, _ *cli.Command) error {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL must be set to run migrations")
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	logger.Info().Msg("migration complete")
	return nil
}

func serve(ctx context.Context, _ *cli.Command) error {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 3)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Error().Err(err).Msg("close error")
			}
		}
	}()

	repo, err := openRepository(startCtx, cfg, logger)
	if err != nil {
		return err
	}
	closers = append(closers, repo.Close)

	storeCache := openCache(startCtx, cfg, logger)
	if c, ok := storeCache.(*cache.RedisStoreCache); ok {
		closers = append(closers, c.Close)
	}

	publisher := openPublisher(cfg, logger)
	closers = append(closers, publisher.Close)

	svc := service.New(repo, storeCache, publisher, logger,
		service.WithStoreCacheTTL(time.Duration(cfg.StoreCacheTTLSeconds)*time.Second),
		service.WithPublishTimeout(time.Duration(cfg.PublishTimeoutMillis)*time.Millisecond))
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, svc)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Address()).Msg("storefront backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-sig:
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}

	logger.Info().Msg("server stopped")
	return nil
}

// openRepository uses postgres when DATABASE_URL is set and never falls back
// to memory in that case.
func openRepository(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.Repository, error) {
	if cfg.DatabaseURL == "" {
		repo, err := memory.NewSeeded(logger)
		if err != nil {
			return nil, fmt.Errorf("seed memory store: %w", err)
		}
		logger.Info().Msg("repository: in-memory")
		return repo, nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, err
	}
	logger.Info().Msg("repository: postgres")
	return pg, nil
}

func openCache(ctx context.Context, cfg config.Config, logger zerolog.Logger) cache.StoreCache {
	if cfg.RedisAddr == "" {
		logger.Info().Msg("cache: noop")
		return cache.NoopStoreCache{}
	}
	redisCache := cache.NewRedisStoreCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, using noop cache")
		_ = redisCache.Close()
		return cache.NoopStoreCache{}
	}
	logger.Info().Msg("cache: redis")
	return redisCache
}

func openPublisher(cfg config.Config, logger zerolog.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info().Msg("events: disabled")
		return events.Noop{}
	}
	logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaOrderTopic).Msg("events: kafka")
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaOrderTopic, logger)
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

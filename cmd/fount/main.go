// Command fount runs the spell resolution and token economy service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	app "github.com/fount-network/fount/internal/app"
	"github.com/fount-network/fount/internal/app/httpapi"
	redisstore "github.com/fount-network/fount/internal/app/storage/redis"
	"github.com/fount-network/fount/internal/config"
	"github.com/fount-network/fount/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fount: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Missing .env is fine; environment may be set by the deployment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, closeStores, err := connectStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	application, err := app.New(stores, cfg, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	if cfg.Spellbook.SeedPath != "" {
		if err := application.Spellbook.SeedFromFile(ctx, cfg.Spellbook.SeedPath); err != nil {
			return fmt.Errorf("seed spellbook: %w", err)
		}
	}

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Stop(shutdownCtx); err != nil {
			log.WithError(err).Warn("stop application")
		}
	}()

	handler, err := httpapi.NewHandler(application, cfg, os.Getenv("FOUNT_AUDIT_LOG"), log)
	if err != nil {
		return fmt.Errorf("build handler: %w", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("fount listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// connectStores opens the Redis-backed stores, falling back to the in-memory
// implementation when no address is configured or the connection fails.
func connectStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (app.Stores, func(), error) {
	noop := func() {}

	if cfg.Redis.Addr == "" {
		log.Warn("redis addr not set; using in-memory stores")
		return app.Stores{}, noop, nil
	}

	store, err := redisstore.New(ctx, redisstore.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.WithError(err).Warn("redis unavailable; using in-memory stores")
		return app.Stores{}, noop, nil
	}

	log.WithField("addr", cfg.Redis.Addr).Info("connected to redis")
	return app.Stores{
		Users:     store,
		Nineum:    store,
		Spellbook: store,
	}, func() { _ = store.Close() }, nil
}

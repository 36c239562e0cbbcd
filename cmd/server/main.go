package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/niklaspandersson/dicebox/internal/clock"
	"github.com/niklaspandersson/dicebox/internal/logging"
	"github.com/niklaspandersson/dicebox/internal/server"
	"github.com/niklaspandersson/dicebox/internal/signaling"
	"github.com/niklaspandersson/dicebox/internal/store"
	"github.com/niklaspandersson/dicebox/internal/version"
)

func main() {
	logger := logging.Init(slog.LevelInfo)
	if err := run(logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	hub := signaling.NewHub(st, cfg.Hub(), clock.New(), logger)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.New(hub, cfg, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("starting signaling server", "addr", cfg.Addr, "version", version.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg server.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.RedisURL == "" {
		logger.Info("using in-memory store")
		return store.NewMemory(), nil
	}
	st, err := store.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	logger.Info("using redis store")
	return st, nil
}

// Command rtrelay serves the realtime relay: local sessions connect to it
// without a credential and it forwards them to the upstream API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codewandler/rtsession-go/config"
	"github.com/codewandler/rtsession-go/relay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rtrelay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.Logger()

	srv, err := relay.New(relay.Config{
		UpstreamURL:    cfg.RelayUpstreamURL,
		APIKey:         cfg.APIKey,
		Model:          cfg.Model,
		AllowAnyOrigin: cfg.RelayAllowAnyOrigin,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.RelayBindAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay listening", slog.String("addr", cfg.RelayBindAddr), slog.String("upstream", cfg.RelayUpstreamURL))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-sigCh:
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	// hijacked websocket connections are not tracked by Shutdown
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.Any("err", err))
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
	return nil
}

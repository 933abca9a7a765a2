package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nugget/dbus-ws-bridge/internal/config"
	"github.com/nugget/dbus-ws-bridge/internal/metrics"
	"github.com/nugget/dbus-ws-bridge/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge's upgrade surface",
	Long: `Start the D-Bus WebSocket bridge.

Exposes:
  GET  /         redirects to /api
  GET  /api      the AsyncAPI schema for this bridge
  GET  /ws/v1    the WebSocket upgrade endpoint
  GET  /metrics  Prometheus metrics

Examples:
  dbusws serve
  dbusws serve --address 0.0.0.0:2024
  dbusws serve --log-level debug`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("address", "", "address to listen on (default 127.0.0.1:2024)")
	serveCmd.Flags().String("log-level", "", "off, error, warn, info, debug, trace (default warn)")
}

func runServe(cmd *cobra.Command, args []string) error {
	address, _ := cmd.Flags().GetString("address")
	logLevelFlag, _ := cmd.Flags().GetString("log-level")

	level, err := config.ParseLogLevel(logLevelFlag)
	if err != nil {
		return err
	}

	cfg := config.Default()
	cfg.LogLevel = level
	if address != "" {
		cfg.Address = address
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	handler := config.NewHandler(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}), level)
	logger := slog.New(handler)

	m := metrics.New()
	srv := server.New(cfg.Address, logger, m)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return <-errCh
	}
}

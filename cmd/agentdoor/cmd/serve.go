package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/agent-door/agentdoor/internal/adapter/inbound/gateway"
	"github.com/agent-door/agentdoor/internal/adapter/inbound/httpserver"
	"github.com/agent-door/agentdoor/internal/adapter/outbound/registrystore"
	"github.com/agent-door/agentdoor/internal/config"
	"github.com/agent-door/agentdoor/internal/domain/registry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Long: `Start the Agent Door gateway: restores previously registered
tenants from the configured registry backend, then serves admin,
registration, and tenant traffic until an interrupt or term signal
triggers a graceful, bounded shutdown.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("startup misconfiguration: %w", err)
	}

	logLevel := slog.LevelInfo
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	shutdownTracing, err := gateway.SetupTracing(context.Background(), "agentdoor")
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	reg, err := openRegistry(cfg, logger)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}

	gw := gateway.New(cfg.ToGatewayConfig(), reg, logger, Version)

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	if err := gw.Restore(ctx); err != nil {
		return fmt.Errorf("restore tenants: %w", err)
	}
	logger.Info("gateway restored", "tenants", gw.TenantCount())

	srv := httpserver.New(gw, httpserver.WithAddr(":"+strconv.Itoa(cfg.Port)), httpserver.WithLogger(logger))
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	logger.Info("agentdoor stopped")
	return nil
}

func openRegistry(cfg *config.AppConfig, logger *slog.Logger) (registry.Registry, error) {
	backend := cfg.Storage()
	switch backend.Kind {
	case "sqlite":
		return registrystore.OpenSQLiteStore(backend.Path)
	default:
		return registrystore.NewFileStore(backend.Path, logger), nil
	}
}

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

	"github.com/OrlandoBitencourt/whydah/internal/cache"
	"github.com/OrlandoBitencourt/whydah/internal/config"
	"github.com/OrlandoBitencourt/whydah/internal/logging"
	"github.com/OrlandoBitencourt/whydah/internal/server"
	"github.com/OrlandoBitencourt/whydah/internal/storage"
	"github.com/OrlandoBitencourt/whydah/internal/telemetry"
)

var serveAddr string

const telemetryFlushTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load the repository and start the HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func serve(ctx context.Context, cfg *config.Config) error {
	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.SDKConfig())
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryFlushTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("failed to flush telemetry", "error", err)
		}
	}()

	logger, err := logging.New(os.Stdout, logging.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: cfg.Telemetry.ServiceName,
		OTLP:        cfg.Telemetry.OTLPLogs,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	tel, err := telemetry.New()
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}

	manager, err := cache.New(
		cache.WithConfig(cfg.CacheConfig()),
		cache.WithTelemetry(tel),
		cache.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Warn("failed to clean up work dir", "error", err)
		}
	}()

	if err := manager.Start(ctx); err != nil {
		logger.Error("initial load failed", "error", err)
		return err
	}

	opts := []server.Option{
		server.WithAddr(cfg.Server.Addr),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithTelemetry(tel),
		server.WithLogger(logger),
		server.WithWebhookSecret(cfg.Server.WebhookSecret),
		server.WithWebhookBranch(cfg.Server.WebhookBranch),
	}

	if cfg.RenderCache.Enabled {
		render, err := storage.NewRenderCache(cfg.RenderCacheConfig())
		if err != nil {
			return err
		}
		defer render.Close()
		opts = append(opts, server.WithRenderCache(render))
	}

	return server.New(manager, opts...).ListenAndServe(ctx)
}

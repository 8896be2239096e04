package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/paulpriyanshu/elytra/internal/catalog"
	"github.com/paulpriyanshu/elytra/internal/coordinator"
	"github.com/paulpriyanshu/elytra/internal/httpapi"
	"github.com/paulpriyanshu/elytra/internal/observability"
	"github.com/paulpriyanshu/elytra/internal/reaper"
	"github.com/paulpriyanshu/elytra/internal/registry"
	"github.com/paulpriyanshu/elytra/internal/router"
	"github.com/paulpriyanshu/elytra/pkg/config"
	"github.com/paulpriyanshu/elytra/pkg/version"
)

// shutdownGracePeriod bounds how long the HTTP server waits for in-flight
// requests to drain after a shutdown signal.
const shutdownGracePeriod = 10 * time.Second

// NewServeCommand builds the "serve" subcommand: it wires every collaborator
// and blocks until an OS signal requests shutdown.
func NewServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Elytra control plane server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config.yaml (default: searched in ., ./config, /etc/elytra)")

	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceName = "elytra-server"
	obsCfg.ServiceVersion = version.Version
	obsCfg.Environment = cfg.Observability.Environment
	obsCfg.Mode = observability.ModeServe
	obsCfg.OTLPEndpoint = cfg.Observability.OTLPEndpoint
	obsCfg.OTLPInsecure = cfg.Observability.OTLPInsecure
	obsCfg.DebugTrace = cfg.Observability.DebugTrace
	obsCfg.LogJSON = cfg.Logging.Format == "json"
	var logLevel slog.Level
	if logLevel.UnmarshalText([]byte(cfg.Logging.Level)) == nil {
		obsCfg.LogLevel = logLevel
	}

	if cfg.Observability.SampleRatio > 0 {
		obsCfg.SampleRatio = cfg.Observability.SampleRatio
	}

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defer func() {
		shutdownErr := providers.Shutdown(context.Background())
		if shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	log := providers.Logger

	metrics, err := observability.NewDomainMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("init domain metrics: %w", err)
	}

	cat, err := catalog.New(cfg.Catalog.Directory, log)
	if err != nil {
		return fmt.Errorf("init catalog: %w", err)
	}

	err = cat.RestoreFromDisk()
	if err != nil {
		log.Warn("serve: failed to restore catalog from disk", "error", err)
	}

	reg := registry.New(cfg.Registry.LivenessPeriod, log)
	coord := coordinator.New(cat, reg, metrics, log)
	rt := router.New(coord, reg, log)

	srv := httpapi.New(cat, coord, reg, rt, metrics, log)
	ready := readinessCheck(cfg.Catalog.Directory)
	mux := httpapi.NewMux(srv, providers.Tracer, providers.PrometheusHandler, ready)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	reap := reaper.New(cat, cfg.Reaper.SweepPeriod, cfg.Catalog.MaxAge, metrics, log)

	go reg.RunLivenessSweep(ctx)
	go reap.Run(ctx)

	serveErrCh := make(chan error, 1)

	go func() {
		log.Info("serve: listening", "addr", httpServer.Addr)

		serveErr := httpServer.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			serveErrCh <- serveErr

			return
		}

		serveErrCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("serve: shutdown signal received")
	case serveErr := <-serveErrCh:
		if serveErr != nil {
			return fmt.Errorf("http server: %w", serveErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	shutdownErr := httpServer.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		return fmt.Errorf("http server shutdown: %w", shutdownErr)
	}

	return nil
}

// readinessCheck reports unready if the catalog's disk root cannot be
// written to.
func readinessCheck(catalogDir string) observability.ReadyCheck {
	return func(_ context.Context) error {
		probe := filepath.Join(catalogDir, ".ready-probe")

		f, err := os.Create(probe) //nolint:gosec // path is operator-configured, not user input
		if err != nil {
			return fmt.Errorf("catalog root unwritable: %w", err)
		}

		_ = f.Close()

		return os.Remove(probe)
	}
}

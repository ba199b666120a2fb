package commands

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zommehq/buntime/internal/config"
	"github.com/zommehq/buntime/internal/dispatcher"
	"github.com/zommehq/buntime/internal/logger"
	"github.com/zommehq/buntime/internal/plugin"
	"github.com/zommehq/buntime/internal/registry"
	"github.com/zommehq/buntime/internal/workerpool"
)

// ServeCmd starts the buntime server: it loads configuration, builds
// the registry/pool/plugin/dispatcher stack, and runs until signaled.
// Grounded on cmd/qntx/commands/server.go's runServer.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the buntime server",
	Long:  `Start the buntime HTTP server: worker pool dispatch, plugin registry, and the admin API.`,
	RunE:  runServe,
}

func init() {
	ServeCmd.Flags().StringP("config", "c", "", "Path to a buntime config file")
	ServeCmd.Flags().IntP("port", "p", 0, "Override the listen port")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	portOverride, _ := cmd.Flags().GetInt("port")

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if portOverride != 0 {
		cfg.Port = portOverride
	}

	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = cfg.Log.Verbosity
	}
	logger.SetVerbosity(verbosity)
	if err := logger.InitializeAtLevel(logger.VerbosityToLevel(verbosity), cfg.Log.JSON || cfg.IsProduction()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Cleanup()

	defaults := workerpool.WorkerConfig{
		Timeout:     cfg.Worker.Timeout,
		TTL:         cfg.Worker.TTL,
		IdleTimeout: cfg.Worker.IdleTimeout,
		MaxRequests: cfg.Worker.MaxRequests,
		AutoInstall: cfg.Worker.AutoInstall,
		LowMemory:   cfg.Worker.LowMemory,
	}

	reg, err := registry.New(cfg.WorkerDirs, cfg.PluginDirs, defaults)
	if err != nil {
		return fmt.Errorf("failed to build registry: %w", err)
	}

	spawner := workerpool.NewSpawner()
	loader := workerpool.NewCachingLoader(reg)
	pool := workerpool.New(cfg.PoolSize, cfg.Shutdown.Grace, loader, spawner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.StartRetirementSweep(ctx)

	plugins := plugin.NewRegistry()
	if err := plugins.Load(reg.AppNameConflicts); err != nil {
		return fmt.Errorf("failed to load plugins: %w", err)
	}
	if err := plugins.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize plugins: %w", err)
	}

	admin := dispatcher.NewAdminHandler(plugins, pool, reg)
	d := dispatcher.New(plugins, pool, cfg.WorkerDirs, admin, "*")

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: d}

	printStartupBanner(cfg, verbosity)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if err := plugins.ServerStart(addr); err != nil {
		logger.Errorw("plugin server start hook failed", logger.FieldError, err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-sigCh:
		logger.Infow("shutdown signal received, draining")
	}

	go func() {
		<-sigCh
		logger.Warnw("second signal received, forcing exit")
		os.Exit(1)
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Shutdown.Grace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("http server shutdown error", logger.FieldError, err)
	}
	pool.Shutdown(cfg.Shutdown.Grace)
	if errs := plugins.Shutdown(shutdownCtx); len(errs) > 0 {
		for _, e := range errs {
			logger.Errorw("plugin shutdown error", logger.FieldError, e)
		}
	}

	logger.Infow("shutdown complete", "grace", cfg.Shutdown.Grace.String())
	return nil
}

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

	"github.com/spf13/cobra"

	"github.com/soficis/forge-meta-link/internal/logging"
	"github.com/soficis/forge-meta-link/internal/memory"
	"github.com/soficis/forge-meta-link/internal/metrics"
	"github.com/soficis/forge-meta-link/internal/server"
	"github.com/soficis/forge-meta-link/internal/startup"
)

const (
	readTimeout     = 15 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 10 * time.Second
	statsInterval   = 30 * time.Second
)

func newServeCmd() *cobra.Command {
	var (
		watch       bool
		scanOnStart bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long:  "Start the HTTP server exposing the image library, search, thumbnail, and scan endpoints.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), watch, scanOnStart)
		},
	}

	cmd.Flags().StringVar(&flags.LibraryDir, "library", "", "image library root to scan and watch")
	cmd.Flags().StringVar(&flags.Port, "port", "", "HTTP listen port")
	cmd.Flags().BoolVar(&watch, "watch", false, "watch the library for changes and rescan automatically")
	cmd.Flags().BoolVar(&scanOnStart, "scan-on-start", false, "run a full library scan before serving")

	return cmd
}

func runServe(ctx context.Context, watch, scanOnStart bool) error {
	start := time.Now()

	config, state, closeAll, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	ix := newIndexer(state)

	mon := memory.NewMonitor(memory.DefaultConfig())
	mon.Start()
	defer mon.Stop()
	ix.Memory = mon

	collector := metrics.NewCollector(state.DB, statsInterval)
	collector.Start()
	defer collector.Stop()

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()

	if scanOnStart {
		if config.LibraryDir == "" {
			return errors.New("--scan-on-start requires --library or FORGE_LIBRARY_DIR")
		}
		logging.Info("Scanning library %s before serving", config.LibraryDir)
		result, err := ix.Scan(watchCtx, config.LibraryDir)
		if err != nil {
			return fmt.Errorf("initial scan failed: %w", err)
		}
		logging.Info("Initial scan: %d indexed, %d skipped, %d errors",
			result.Indexed, result.Skipped, result.Errors)
	}

	if watch {
		if config.LibraryDir == "" {
			return errors.New("--watch requires --library or FORGE_LIBRARY_DIR")
		}
		go ix.Watch(watchCtx, config.LibraryDir)
	}

	srv := &http.Server{
		Addr:        ":" + config.Port,
		Handler:     server.New(state, ix, config.LibraryDir).Handler(),
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	startup.LogServerStarted(config.Port, time.Since(start))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		startup.LogShutdownInitiated(sig.String())
	case <-ctx.Done():
		startup.LogShutdownInitiated("context cancelled")
	}

	cancelWatch()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	startup.LogShutdownStep("Draining HTTP connections")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("HTTP shutdown did not complete cleanly: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownComplete()
	return nil
}

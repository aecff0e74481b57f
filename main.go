package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/soficis/forge-meta-link/internal/app"
	"github.com/soficis/forge-meta-link/internal/database"
	"github.com/soficis/forge-meta-link/internal/indexer"
	"github.com/soficis/forge-meta-link/internal/metrics"
	"github.com/soficis/forge-meta-link/internal/startup"
	"github.com/soficis/forge-meta-link/internal/thumbs"
)

var flags startup.Options

func main() {
	root := &cobra.Command{
		Use:     "forge-meta-link",
		Short:   "Index, search, and browse AI-generated image metadata",
		Long:    "forge-meta-link indexes the generation metadata embedded in Forge/A1111/ComfyUI images into a searchable local database with cached thumbnails.",
		Version: startup.Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.DBPath, "db", "", "SQLite database path")
	root.PersistentFlags().StringVar(&flags.DataDir, "data-dir", "", "data directory for database and settings")
	root.PersistentFlags().StringVar(&flags.CacheDir, "cache-dir", "", "thumbnail cache directory")
	root.PersistentFlags().StringVar(&flags.Profile, "profile", "", "storage profile: hdd or ssd")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(newServeCmd())
	root.AddCommand(newScanCmd())
	root.AddCommand(newPrecacheCmd())
	root.AddCommand(newMigrateThumbsCmd())
	root.AddCommand(newVacuumCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap resolves config and opens the shared state every command
// needs. The caller owns the returned close function.
func bootstrap(ctx context.Context) (*startup.Config, *app.State, func(), error) {
	config, err := startup.LoadConfig(flags)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("configuration error: %w", err)
	}

	metrics.SetAppInfo(startup.Version, startup.Commit, runtime.Version())
	metrics.InitializeMetrics()
	thumbs.InitVips()

	dbStart := time.Now()
	db, err := database.New(ctx, config.DatabasePath, config.Profile)
	if err != nil {
		thumbs.ShutdownVips()
		return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	startup.LogDatabaseInit(time.Since(dbStart))

	gen := thumbs.NewGenerator(config.ThumbnailDir, config.Profile)
	state := app.New(db, gen, config.DataDir, config.Profile)

	closeAll := func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
		}
		thumbs.ShutdownVips()
	}
	return config, state, closeAll, nil
}

func newIndexer(state *app.State) *indexer.Indexer {
	ix := indexer.New(state.DB, state.Thumbs, state.Profile())
	ix.ThumbnailsDone = state.RecordThumbnails
	return ix
}

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/soficis/forge-meta-link/internal/app"
	"github.com/soficis/forge-meta-link/internal/thumbs"
)

func newPrecacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "precache",
		Short: "Generate thumbnails for every indexed image",
		Long:  "Walk the indexed library newest-first and generate any missing thumbnail cache entries.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			_, state, closeAll, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer closeAll()

			start := time.Now()
			result, err := state.PrecacheAll(ctx, newPrecacheProgress())
			if err != nil {
				return fmt.Errorf("precache failed: %w", err)
			}

			fmt.Printf("\nPrecache complete in %v: %d of %d thumbnails generated\n",
				time.Since(start).Round(time.Millisecond), result.Generated, result.Total)
			return nil
		},
	}
}

func newPrecacheProgress() func(app.PrecacheProgress) {
	var (
		mu  sync.Mutex
		bar *progressbar.ProgressBar
	)

	return func(p app.PrecacheProgress) {
		mu.Lock()
		defer mu.Unlock()

		if p.Stage != "generating" || p.Total <= 0 {
			return
		}
		if bar == nil {
			bar = progressbar.NewOptions(p.Total,
				progressbar.OptionSetDescription("Generating thumbnails"),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
				progressbar.OptionSetWidth(30),
			)
		}
		_ = bar.Set(p.Current)
	}
}

func newMigrateThumbsCmd() *cobra.Command {
	var (
		cacheDir string
		yes      bool
	)

	cmd := &cobra.Command{
		Use:   "migrate-thumbs",
		Short: "Convert legacy WebP thumbnail cache entries to JPEG",
		Long:  "Rewrite every .webp file in the thumbnail cache as .jpg and remove the WebP originals. The server regenerates anything that fails to convert.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := thumbs.ResolveCacheDir(cacheDir)
			if err != nil {
				return err
			}

			if !yes && !confirm(fmt.Sprintf("Convert all WebP thumbnails under %s to JPEG?", dir)) {
				fmt.Println("Aborted.")
				return nil
			}

			summary, err := thumbs.MigrateLegacyCache(dir, 85)
			if err != nil {
				return err
			}

			fmt.Printf("Scanned %d WebP thumbnails: %d converted, %d already had JPEG, %d removed\n",
				summary.ScannedWebp, summary.MigratedToJpg, summary.KeptExistingJpg, summary.RemovedWebp)
			if summary.FailedConvert > 0 || summary.FailedRemove > 0 {
				fmt.Printf("Failures: %d convert, %d remove (regenerated on next access)\n",
					summary.FailedConvert, summary.FailedRemove)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "thumbnail cache directory (default: autodetect)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}

// confirm asks on the terminal and defaults to no. A non-interactive
// stdin counts as a refusal so scripts must pass --yes explicitly.
func confirm(question string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "stdin is not a terminal; use --yes to proceed")
		return false
	}

	fmt.Printf("%s [y/N]: ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func newVacuumCmd() *cobra.Command {
	var rebuildFTS bool

	cmd := &cobra.Command{
		Use:   "vacuum",
		Short: "Compact the database and optionally rebuild the search index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			_, state, closeAll, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer closeAll()

			if rebuildFTS {
				fmt.Println("Rebuilding full-text search index...")
				if err := state.DB.RebuildFTS(ctx); err != nil {
					return fmt.Errorf("rebuild search index: %w", err)
				}
			}

			fmt.Println("Vacuuming database...")
			start := time.Now()
			if err := state.DB.Vacuum(ctx); err != nil {
				return fmt.Errorf("vacuum: %w", err)
			}
			fmt.Printf("Done in %v\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().BoolVar(&rebuildFTS, "rebuild-fts", false, "rebuild the full-text search index before vacuuming")

	return cmd
}

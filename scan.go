package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/soficis/forge-meta-link/internal/indexer"
	"github.com/soficis/forge-meta-link/internal/memory"
)

func newScanCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "scan <directory>",
		Short: "Index a directory of generated images",
		Long:  "Walk a directory tree, extract generation metadata from every supported image, and index it into the database.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, args[0], watch)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep watching the directory for changes after the scan")

	return cmd
}

func runScan(cmd *cobra.Command, root string, watch bool) error {
	ctx := cmd.Context()

	_, state, closeAll, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	ix := newIndexer(state)
	ix.Progress = newScanProgress()

	mon := memory.NewMonitor(memory.DefaultConfig())
	mon.Start()
	defer mon.Stop()
	ix.Memory = mon

	start := time.Now()
	result, err := ix.Scan(ctx, root)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	fmt.Printf("\nScanned %d files in %v: %d indexed, %d skipped, %d thumbnails, %d errors\n",
		result.TotalFiles, time.Since(start).Round(time.Millisecond),
		result.Indexed, result.Skipped, result.Thumbnailed, result.Errors)

	if watch {
		fmt.Printf("Watching %s for changes (Ctrl+C to stop)\n", root)
		ix.Watch(ctx, root)
	}
	return nil
}

// newScanProgress renders one progress bar per pipeline stage,
// recreating the bar whenever the stage changes.
func newScanProgress() func(indexer.Progress) {
	var (
		mu    sync.Mutex
		stage string
		bar   *progressbar.ProgressBar
	)

	return func(p indexer.Progress) {
		mu.Lock()
		defer mu.Unlock()

		if p.Total <= 0 {
			return
		}
		if p.Stage != stage {
			if bar != nil {
				_ = bar.Finish()
			}
			stage = p.Stage
			bar = progressbar.NewOptions(p.Total,
				progressbar.OptionSetDescription(stageLabel(p.Stage)),
				progressbar.OptionShowCount(),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer: "=", SaucerHead: ">", SaucerPadding: " ",
					BarStart: "[", BarEnd: "]",
				}),
				progressbar.OptionClearOnFinish(),
				progressbar.OptionSetWidth(30),
			)
		}
		_ = bar.Set(p.Current)
	}
}

func stageLabel(stage string) string {
	switch stage {
	case "scanning":
		return "Scanning files"
	case "indexing":
		return "Extracting metadata"
	case "thumbnails":
		return "Generating thumbnails"
	default:
		return stage
	}
}

package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soficis/forge-meta-link/internal/database"
	"github.com/soficis/forge-meta-link/internal/logging"
	"github.com/soficis/forge-meta-link/internal/memory"
	"github.com/soficis/forge-meta-link/internal/metrics"
	"github.com/soficis/forge-meta-link/internal/parser"
	"github.com/soficis/forge-meta-link/internal/scanner"
	"github.com/soficis/forge-meta-link/internal/sidecar"
	"github.com/soficis/forge-meta-link/internal/thumbs"
	"github.com/soficis/forge-meta-link/internal/workers"
)

const (
	// metadataParseChunkSize bounds how many files are held in memory
	// as parsed records between database writes.
	metadataParseChunkSize = 2048
	// bulkChunkSize is the rows-per-transaction granularity of writes.
	bulkChunkSize = 1000
	// scanThumbChunkSize is the progress granularity of the immediate
	// thumbnail stage.
	scanThumbChunkSize = 128
	// progressEvery throttles extraction progress callbacks.
	progressEvery = 64
)

// Progress is one scan progress update.
type Progress struct {
	Current  int    `json:"current"`
	Total    int    `json:"total"`
	Stage    string `json:"stage"` // "scanning", "indexing", "thumbnails"
	Filename string `json:"filename,omitempty"`
}

// Result summarizes a completed scan.
type Result struct {
	TotalFiles  int `json:"total_files"`
	Indexed     int `json:"indexed"`
	Skipped     int `json:"skipped"`
	Errors      int `json:"errors"`
	Thumbnailed int `json:"thumbnailed"`
}

// Indexer wires the scan pipeline together. ThumbnailsDone, when set,
// receives every batch of generated thumbnails so the owner can keep
// its in-memory index current. Memory, when set, pauses chunked work
// under heap pressure; nil disables throttling.
type Indexer struct {
	db             *database.Database
	thumbs         *thumbs.Generator
	profile        workers.StorageProfile
	Progress       func(Progress)
	ThumbnailsDone func([]thumbs.Mapping)
	Memory         *memory.Monitor
}

func New(db *database.Database, gen *thumbs.Generator, profile workers.StorageProfile) *Indexer {
	return &Indexer{db: db, thumbs: gen, profile: profile}
}

func (ix *Indexer) report(p Progress) {
	if ix.Progress != nil {
		ix.Progress(p)
	}
}

func (ix *Indexer) notifyThumbnails(generated []thumbs.Mapping) {
	if ix.ThumbnailsDone != nil && len(generated) > 0 {
		ix.ThumbnailsDone(generated)
	}
}

// Scan indexes a directory tree:
//
//  1. walk the filesystem for supported images,
//  2. fetch all stored mtimes in one query and drop unchanged files,
//  3. extract metadata in parallel, chunked,
//  4. bulk-upsert records with tags, chunked transactions,
//  5. generate a profile-bounded number of thumbnails before
//     returning, and warm the rest in the background.
func (ix *Indexer) Scan(ctx context.Context, root string) (Result, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return Result{}, fmt.Errorf("invalid directory: %s", root)
	}

	metrics.ScanRunsTotal.Inc()
	metrics.ScanIsRunning.Set(1)
	defer metrics.ScanIsRunning.Set(0)
	totalTimer := time.Now()
	defer func() {
		metrics.ScanLastRunTimestamp.SetToCurrentTime()
		metrics.ScanLastRunDuration.Set(time.Since(totalTimer).Seconds())
	}()

	// Stage 1: discovery.
	discoveryTimer := time.Now()
	ix.report(Progress{Stage: "scanning"})
	found := scanner.ScanDirectory(root)
	totalFiles := len(found)
	discoveryElapsed := time.Since(discoveryTimer)

	if totalFiles == 0 {
		logging.Info("Scan complete: no files discovered in %s (discovery took %.1f ms)",
			root, discoveryElapsed.Seconds()*1000)
		return Result{}, nil
	}

	// Stage 2: changed-file detection against one bulk mtime query.
	filterTimer := time.Now()
	existingMtimes, err := ix.db.GetAllFileMtimes(ctx)
	if err != nil {
		logging.Warn("Scan: mtime lookup failed, treating all files as new: %v", err)
		existingMtimes = map[string]int64{}
	}

	pending := found[:0]
	for _, file := range found {
		if stored, ok := existingMtimes[file.Path]; ok && file.Mtime != 0 && stored == file.Mtime {
			continue
		}
		pending = append(pending, file)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Path < pending[j].Path })

	toProcess := len(pending)
	skipped := totalFiles - toProcess
	filterElapsed := time.Since(filterTimer)
	metrics.ScanFilesSkipped.Add(float64(skipped))
	logging.Info("Scan: %d total files, %d unchanged (skipped), %d to process",
		totalFiles, skipped, toProcess)
	ix.report(Progress{Total: toProcess, Stage: "indexing"})

	// Stage 3/4: chunked parallel extraction + bulk upserts.
	metadataTimer := time.Now()
	var progressCounter atomic.Int64
	indexed := 0
	errorCount := 0
	writeBatch := 0

	for start := 0; start < toProcess; start += metadataParseChunkSize {
		ix.Memory.Wait(ctx)
		end := min(start+metadataParseChunkSize, toProcess)
		records := ix.extractChunk(ctx, root, pending[start:end], &progressCounter, toProcess)

		for batchStart := 0; batchStart < len(records); batchStart += bulkChunkSize {
			batchEnd := min(batchStart+bulkChunkSize, len(records))
			batch := records[batchStart:batchEnd]
			count, err := ix.db.BulkUpsertWithTags(ctx, batch)
			writeBatch++
			if err != nil {
				logging.Error("Bulk upsert chunk %d failed: %v", writeBatch, err)
				errorCount += len(batch)
				continue
			}
			indexed += count
			ix.report(Progress{
				Current:  int(progressCounter.Load()),
				Total:    toProcess,
				Stage:    "indexing",
				Filename: fmt.Sprintf("Writing batch %d...", writeBatch),
			})
		}
	}
	metadataElapsed := time.Since(metadataTimer)
	metrics.ScanFilesProcessed.Add(float64(toProcess))
	metrics.ScanErrors.Add(float64(errorCount))

	// Stage 5: immediate thumbnails from the newest end of the list,
	// the rest deferred to a background warmup.
	thumbTimer := time.Now()
	immediateCount := min(toProcess, workers.ImmediateThumbBudget(ix.profile))
	splitAt := toProcess - immediateCount
	remaining := pendingPathsNewestFirst(pending[:splitAt])
	immediate := pendingPathsNewestFirst(pending[splitAt:])

	thumbnailed := 0
	if immediateCount > 0 {
		ix.report(Progress{Total: immediateCount, Stage: "thumbnails"})
		for start := 0; start < len(immediate); start += scanThumbChunkSize {
			end := min(start+scanThumbChunkSize, len(immediate))
			generated := ix.thumbs.GenerateBatch(ctx, immediate[start:end])
			thumbnailed += len(generated)
			ix.notifyThumbnails(generated)
			ix.report(Progress{Current: end, Total: immediateCount, Stage: "thumbnails"})
		}
	}
	thumbElapsed := time.Since(thumbTimer)

	logging.Info("Scan complete: %d total, %d indexed, %d errors, %d skipped (unchanged)",
		totalFiles, indexed, errorCount, skipped)
	logging.Info("Scan timings (%s): discovery=%.1fms, filter=%.1fms, metadata=%.1fms, thumbs=%.1fms (chunk=%d), total=%.1fms",
		ix.profile, discoveryElapsed.Seconds()*1000, filterElapsed.Seconds()*1000,
		metadataElapsed.Seconds()*1000, thumbElapsed.Seconds()*1000,
		scanThumbChunkSize, time.Since(totalTimer).Seconds()*1000)

	if len(remaining) > 0 {
		go ix.warmupThumbnails(remaining)
	}

	return Result{
		TotalFiles:  totalFiles,
		Indexed:     indexed,
		Skipped:     skipped,
		Errors:      errorCount,
		Thumbnailed: thumbnailed,
	}, nil
}

// extractChunk parses a slice of pending files in parallel and builds
// their upsert records. Per-file failures produce a record with empty
// metadata rather than dropping the file from the index.
func (ix *Indexer) extractChunk(ctx context.Context, root string, chunk []scanner.ScannedFile, progress *atomic.Int64, total int) []database.BulkRecord {
	records := make([]database.BulkRecord, len(chunk))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(workers.ScanWorkers(ix.profile))

	for i, file := range chunk {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			done := progress.Add(1)
			if done%progressEvery == 0 || int(done) == total {
				ix.report(Progress{
					Current:  int(done),
					Total:    total,
					Stage:    "indexing",
					Filename: filepath.Base(file.Path),
				})
			}

			raw := scanner.ExtractParameters(file.Path)
			var params parser.Params
			if strings.TrimSpace(raw) != "" {
				params = parser.Parse(raw)
			}
			tags := parser.ExtractTags(params.Prompt)
			if data, ok := sidecar.Read(file.Path); ok {
				tags = append(tags, data.Tags...)
			}

			directory := filepath.Dir(file.Path)
			if directory == "." {
				directory = root
			}

			records[i] = database.BulkRecord{
				Filepath:  file.Path,
				Filename:  filepath.Base(file.Path),
				Directory: directory,
				Params:    params,
				FileMtime: file.Mtime,
				FileSize:  file.Size,
				QuickHash: scanner.QuickHash(file.Path, file.Size),
				Tags:      tags,
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		logging.Debug("Scan extraction cancelled: %v", err)
	}

	built := records[:0]
	for _, record := range records {
		if record.Filepath != "" {
			built = append(built, record)
		}
	}
	return built
}

// warmupThumbnails generates the non-immediate thumbnails on a
// detached goroutine so scan completion is not gated on them.
func (ix *Indexer) warmupThumbnails(sources []string) {
	warmupTimer := time.Now()
	chunkSize := max(workers.PrecacheChunkSize(ix.profile), 1)
	generatedTotal := 0
	for start := 0; start < len(sources); start += chunkSize {
		ix.Memory.Wait(context.Background())
		end := min(start+chunkSize, len(sources))
		generated := ix.thumbs.GenerateBatch(context.Background(), sources[start:end])
		generatedTotal += len(generated)
		ix.notifyThumbnails(generated)
	}
	logging.Info("Background thumbnail warmup complete (%d files, %d generated, chunk=%d, %.1fs)",
		len(sources), generatedTotal, chunkSize, time.Since(warmupTimer).Seconds())
}

func pendingPathsNewestFirst(pending []scanner.ScannedFile) []string {
	paths := make([]string, len(pending))
	for i, file := range pending {
		paths[len(pending)-1-i] = file.Path
	}
	return paths
}

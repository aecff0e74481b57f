package app

import (
	"context"
	"errors"
	"os"
	"sort"
	"time"

	"github.com/soficis/forge-meta-link/internal/logging"
	"github.com/soficis/forge-meta-link/internal/metrics"
	"github.com/soficis/forge-meta-link/internal/thumbs"
	"github.com/soficis/forge-meta-link/internal/workers"
)

// ErrPrecacheRunning is returned when a precache pass is requested
// while one is already in flight.
var ErrPrecacheRunning = errors.New("thumbnail precache already running")

// preparePhaseProgressEvery throttles progress during the cheap
// index-check phase of a precache pass.
const preparePhaseProgressEvery = 1024

// PrecacheProgress is one update from a precache pass.
type PrecacheProgress struct {
	Stage     string `json:"stage"` // "preparing", "generating", "complete"
	Current   int    `json:"current"`
	Total     int    `json:"total"`
	Generated int    `json:"generated"`
}

// PrecacheResult summarizes a completed precache pass.
type PrecacheResult struct {
	Total     int `json:"total"`
	Generated int `json:"generated"`
}

// GetThumbnailPath resolves one source image to its thumbnail path.
// Known sources resolve without touching the generator; sources that
// previously failed to decode return the original path unchanged so
// callers can fall back to the full image.
func (s *State) GetThumbnailPath(source string) string {
	cachePath := s.Thumbs.CachePath(source)

	s.mu.RLock()
	_, indexed := s.thumbIndex[cachePath]
	_, failed := s.failedSources[source]
	s.mu.RUnlock()

	if indexed {
		return cachePath
	}
	if failed {
		return source
	}
	if info, err := os.Stat(cachePath); err == nil && info.Size() > 0 {
		s.recordThumbnail(source, cachePath)
		return cachePath
	}

	generated, err := s.Thumbs.Ensure(source)
	if err != nil {
		logging.Debug("Thumbnail generation failed for %s: %v", source, err)
		s.recordFailure(source)
		return source
	}
	s.recordThumbnail(source, generated)
	return generated
}

// GetThumbnailPaths is the batch form used by the gallery grid. The
// known/failed partition happens under a single read lock; only the
// genuinely missing sources reach the generator, sorted and deduped
// so a spinning disk seeks in one direction.
func (s *State) GetThumbnailPaths(ctx context.Context, sources []string) []thumbs.Mapping {
	resolved := make([]thumbs.Mapping, len(sources))
	var missing []string
	seen := map[string]struct{}{}

	s.mu.RLock()
	for i, source := range sources {
		cachePath := s.Thumbs.CachePath(source)
		if _, ok := s.thumbIndex[cachePath]; ok {
			resolved[i] = thumbs.Mapping{Filepath: source, ThumbnailPath: cachePath}
			continue
		}
		if _, ok := s.failedSources[source]; ok {
			resolved[i] = thumbs.Mapping{Filepath: source, ThumbnailPath: source}
			continue
		}
		if _, dup := seen[source]; !dup {
			seen[source] = struct{}{}
			missing = append(missing, source)
		}
	}
	s.mu.RUnlock()

	if len(missing) == 0 {
		return resolved
	}
	sort.Strings(missing)

	generated := s.Thumbs.ResolveBatch(ctx, missing)
	bySource := make(map[string]string, len(generated))
	for _, m := range generated {
		bySource[m.Filepath] = m.ThumbnailPath
		if m.ThumbnailPath != m.Filepath {
			s.recordThumbnail(m.Filepath, m.ThumbnailPath)
		} else {
			s.recordFailure(m.Filepath)
		}
	}

	for i, source := range sources {
		if resolved[i].Filepath != "" {
			continue
		}
		thumbPath, ok := bySource[source]
		if !ok {
			thumbPath = source
		}
		resolved[i] = thumbs.Mapping{Filepath: source, ThumbnailPath: thumbPath}
	}
	return resolved
}

// PrecacheAll generates thumbnails for every indexed image that does
// not have one, newest first. Only one pass runs at a time; a second
// caller gets ErrPrecacheRunning immediately.
func (s *State) PrecacheAll(ctx context.Context, progress func(PrecacheProgress)) (PrecacheResult, error) {
	if !s.precacheRunning.CompareAndSwap(false, true) {
		return PrecacheResult{}, ErrPrecacheRunning
	}
	defer s.precacheRunning.Store(false)

	metrics.ThumbnailPrecacheRunning.Set(1)
	defer metrics.ThumbnailPrecacheRunning.Set(0)
	start := time.Now()

	report := func(p PrecacheProgress) {
		if progress != nil {
			progress(p)
		}
	}

	filepaths, err := s.DB.GetAllImageFilepathsDesc(ctx)
	if err != nil {
		return PrecacheResult{}, err
	}

	// Preparation phase: skip sources whose thumbnail is already
	// indexed or already on disk.
	var pending []string
	s.mu.RLock()
	index := make(map[string]struct{}, len(s.thumbIndex))
	for k := range s.thumbIndex {
		index[k] = struct{}{}
	}
	s.mu.RUnlock()

	for i, source := range filepaths {
		if i%preparePhaseProgressEvery == 0 {
			report(PrecacheProgress{Stage: "preparing", Current: i, Total: len(filepaths)})
		}
		cachePath := s.Thumbs.CachePath(source)
		if _, ok := index[cachePath]; ok {
			continue
		}
		if info, err := os.Stat(cachePath); err == nil && info.Size() > 0 {
			s.recordThumbnail(source, cachePath)
			continue
		}
		pending = append(pending, source)
	}

	if len(pending) == 0 {
		report(PrecacheProgress{Stage: "complete"})
		logging.Info("Precache: nothing to do, %d images all cached", len(filepaths))
		return PrecacheResult{}, nil
	}

	if err := s.Thumbs.PrepareCacheDir(); err != nil {
		return PrecacheResult{}, err
	}

	chunkSize := workers.PrecacheChunkSize(s.Profile())
	generatedTotal := 0
	for startIdx := 0; startIdx < len(pending); startIdx += chunkSize {
		if err := ctx.Err(); err != nil {
			return PrecacheResult{Total: len(pending), Generated: generatedTotal}, err
		}
		end := min(startIdx+chunkSize, len(pending))
		generated := s.Thumbs.GenerateBatch(ctx, pending[startIdx:end])
		s.RecordThumbnails(generated)
		generatedTotal += len(generated)
		for _, source := range pending[startIdx:end] {
			if !s.hasThumbnail(source) {
				s.recordFailure(source)
			}
		}
		report(PrecacheProgress{
			Stage:     "generating",
			Current:   end,
			Total:     len(pending),
			Generated: generatedTotal,
		})
	}

	report(PrecacheProgress{Stage: "complete", Current: len(pending), Total: len(pending), Generated: generatedTotal})
	logging.Info("Precache complete: %d generated of %d pending in %.1fs",
		generatedTotal, len(pending), time.Since(start).Seconds())
	return PrecacheResult{Total: len(pending), Generated: generatedTotal}, nil
}

func (s *State) hasThumbnail(source string) bool {
	cachePath := s.Thumbs.CachePath(source)
	s.mu.RLock()
	_, ok := s.thumbIndex[cachePath]
	s.mu.RUnlock()
	return ok
}

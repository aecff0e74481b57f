package app

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/soficis/forge-meta-link/internal/database"
	"github.com/soficis/forge-meta-link/internal/thumbs"
	"github.com/soficis/forge-meta-link/internal/workers"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(ctx, filepath.Join(t.TempDir(), "forge.db"), workers.HDD)
	if err != nil {
		t.Fatalf("database.New() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cacheDir := filepath.Join(t.TempDir(), "thumbnails")
	gen := thumbs.NewGenerator(cacheDir, workers.HDD)
	return New(db, gen, t.TempDir(), workers.HDD)
}

func writeTestPNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error: %v", path, err)
	}
}

func indexImage(t *testing.T, s *State, path string) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.DB.BulkUpsertWithTags(ctx, []database.BulkRecord{{
		Filepath:  path,
		Filename:  filepath.Base(path),
		Directory: filepath.Dir(path),
		FileMtime: 1,
		FileSize:  100,
	}}); err != nil {
		t.Fatalf("BulkUpsertWithTags() error: %v", err)
	}
}

func TestGetThumbnailPathGeneratesAndMemoizes(t *testing.T) {
	t.Parallel()
	s := newTestState(t)

	source := filepath.Join(t.TempDir(), "a.png")
	writeTestPNG(t, source)
	if err := s.Thumbs.PrepareCacheDir(); err != nil {
		t.Fatalf("PrepareCacheDir() error: %v", err)
	}

	got := s.GetThumbnailPath(source)
	if got == source {
		t.Fatalf("GetThumbnailPath() = source path, want generated thumbnail")
	}
	if _, err := os.Stat(got); err != nil {
		t.Fatalf("thumbnail %s not on disk: %v", got, err)
	}

	again := s.GetThumbnailPath(source)
	if again != got {
		t.Errorf("second call = %q, want memoized %q", again, got)
	}
}

func TestGetThumbnailPathFallsBackToSourceOnFailure(t *testing.T) {
	t.Parallel()
	s := newTestState(t)

	source := filepath.Join(t.TempDir(), "broken.png")
	if err := os.WriteFile(source, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if err := s.Thumbs.PrepareCacheDir(); err != nil {
		t.Fatalf("PrepareCacheDir() error: %v", err)
	}

	if got := s.GetThumbnailPath(source); got != source {
		t.Errorf("GetThumbnailPath() = %q, want source fallback %q", got, source)
	}

	s.mu.RLock()
	_, failed := s.failedSources[source]
	s.mu.RUnlock()
	if !failed {
		t.Error("failed source was not memoized")
	}
}

func TestGetThumbnailPathsBatch(t *testing.T) {
	t.Parallel()
	s := newTestState(t)

	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	broken := filepath.Join(dir, "broken.png")
	writeTestPNG(t, good)
	if err := os.WriteFile(broken, []byte("junk"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	resolved := s.GetThumbnailPaths(context.Background(), []string{good, broken, good})
	if len(resolved) != 3 {
		t.Fatalf("got %d mappings, want 3", len(resolved))
	}
	if resolved[0].ThumbnailPath == good {
		t.Error("good source resolved to itself, want thumbnail path")
	}
	if resolved[1].ThumbnailPath != broken {
		t.Errorf("broken source resolved to %q, want source fallback", resolved[1].ThumbnailPath)
	}
	if resolved[2].ThumbnailPath != resolved[0].ThumbnailPath {
		t.Error("duplicate source resolved inconsistently")
	}
}

func TestPrecacheAllEmptyLibrary(t *testing.T) {
	t.Parallel()
	s := newTestState(t)

	result, err := s.PrecacheAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("PrecacheAll() error: %v", err)
	}
	if result.Total != 0 || result.Generated != 0 {
		t.Errorf("got %+v, want zero result", result)
	}
	if _, err := os.Stat(s.Thumbs.CacheDir()); !os.IsNotExist(err) {
		t.Error("empty-library precache created the cache directory")
	}
}

func TestPrecacheAllGeneratesMissingThumbnails(t *testing.T) {
	t.Parallel()
	s := newTestState(t)

	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.png"} {
		path := filepath.Join(dir, name)
		writeTestPNG(t, path)
		indexImage(t, s, path)
	}

	var stages []string
	result, err := s.PrecacheAll(context.Background(), func(p PrecacheProgress) {
		stages = append(stages, p.Stage)
	})
	if err != nil {
		t.Fatalf("PrecacheAll() error: %v", err)
	}
	if result.Total != 2 || result.Generated != 2 {
		t.Fatalf("got %+v, want Total=2 Generated=2", result)
	}
	if len(stages) == 0 || stages[len(stages)-1] != "complete" {
		t.Errorf("stages = %v, want trailing complete", stages)
	}

	// A second pass finds everything cached.
	second, err := s.PrecacheAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("second PrecacheAll() error: %v", err)
	}
	if second.Total != 0 || second.Generated != 0 {
		t.Errorf("second pass = %+v, want zero result", second)
	}
}

func TestPrecacheAllRejectsConcurrentRun(t *testing.T) {
	t.Parallel()
	s := newTestState(t)

	s.precacheRunning.Store(true)
	t.Cleanup(func() { s.precacheRunning.Store(false) })

	if _, err := s.PrecacheAll(context.Background(), nil); !errors.Is(err, ErrPrecacheRunning) {
		t.Errorf("got %v, want ErrPrecacheRunning", err)
	}
}

func TestProfilePersistsAcrossRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dataDir := t.TempDir()
	db, err := database.New(ctx, filepath.Join(t.TempDir(), "forge.db"), workers.HDD)
	if err != nil {
		t.Fatalf("database.New() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	gen := thumbs.NewGenerator(filepath.Join(t.TempDir(), "thumbnails"), workers.HDD)

	first := New(db, gen, dataDir, workers.HDD)
	if err := first.SetProfile(workers.SSD); err != nil {
		t.Fatalf("SetProfile() error: %v", err)
	}

	reloaded := New(db, gen, dataDir, workers.HDD)
	if got := reloaded.Profile(); got != workers.SSD {
		t.Errorf("reloaded profile = %s, want ssd", got)
	}
}

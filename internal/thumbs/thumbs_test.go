package thumbs

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/soficis/forge-meta-link/internal/workers"
)

func writeTestImage(t *testing.T, path string, width, height int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func TestCacheKeyStableAndDistinct(t *testing.T) {
	t.Parallel()
	keyA := CacheKey("/library/a.png")
	keyB := CacheKey("/library/b.png")

	if keyA != CacheKey("/library/a.png") {
		t.Error("cache key is not stable for the same path")
	}
	if keyA == keyB {
		t.Error("distinct paths produced the same cache key")
	}
	if len(keyA) != 32 {
		t.Errorf("cache key length = %d, want 32", len(keyA))
	}
	for _, ch := range keyA {
		if !strings.ContainsRune("0123456789abcdef", ch) {
			t.Fatalf("cache key contains non-hex rune %q", ch)
		}
	}
}

func TestEnsureGeneratesJPEGThumbnail(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	source := filepath.Join(dir, "source.png")
	writeTestImage(t, source, 800, 600)

	gen := NewGenerator(filepath.Join(dir, "cache"), workers.HDD)
	if err := gen.PrepareCacheDir(); err != nil {
		t.Fatalf("PrepareCacheDir() error: %v", err)
	}

	thumbPath, err := gen.Ensure(source)
	if err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	if filepath.Ext(thumbPath) != ".jpg" {
		t.Errorf("thumbnail extension = %q, want .jpg", filepath.Ext(thumbPath))
	}
	info, err := os.Stat(thumbPath)
	if err != nil {
		t.Fatalf("thumbnail missing on disk: %v", err)
	}
	if info.Size() == 0 {
		t.Error("thumbnail file is empty")
	}

	// Second call must serve the cached file.
	again, err := gen.Ensure(source)
	if err != nil {
		t.Fatalf("Ensure() second call error: %v", err)
	}
	if again != thumbPath {
		t.Errorf("second Ensure() = %q, want %q", again, thumbPath)
	}
}

func TestEnsureFitsWithinBoundingBox(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	source := filepath.Join(dir, "wide.png")
	writeTestImage(t, source, 1600, 400)

	gen := NewGenerator(filepath.Join(dir, "cache"), workers.HDD)
	if err := gen.PrepareCacheDir(); err != nil {
		t.Fatalf("PrepareCacheDir() error: %v", err)
	}
	thumbPath, err := gen.Ensure(source)
	if err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}

	file, err := os.Open(thumbPath)
	if err != nil {
		t.Fatalf("open thumbnail: %v", err)
	}
	defer file.Close()
	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		t.Fatalf("decode thumbnail config: %v", err)
	}
	if cfg.Width > 400 || cfg.Height > 400 {
		t.Errorf("thumbnail %dx%d exceeds 400x400 box", cfg.Width, cfg.Height)
	}
	if cfg.Width != 400 {
		t.Errorf("wide image should fit to width 400, got %d", cfg.Width)
	}
}

func TestResolveBatchFallsBackToSourceOnFailure(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	writeTestImage(t, good, 100, 100)
	missing := filepath.Join(dir, "missing.png")

	gen := NewGenerator(filepath.Join(dir, "cache"), workers.HDD)
	mappings := gen.ResolveBatch(context.Background(), []string{good, missing})
	if len(mappings) != 2 {
		t.Fatalf("got %d mappings, want 2", len(mappings))
	}

	byPath := map[string]string{}
	for _, mapping := range mappings {
		byPath[mapping.Filepath] = mapping.ThumbnailPath
	}
	if byPath[good] == good {
		t.Error("good source should resolve to a cache path, not itself")
	}
	if byPath[missing] != missing {
		t.Errorf("missing source should map to itself, got %q", byPath[missing])
	}
}

func TestGenerateBatchOmitsFailures(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	writeTestImage(t, good, 100, 100)
	missing := filepath.Join(dir, "missing.png")

	gen := NewGenerator(filepath.Join(dir, "cache"), workers.HDD)
	mappings := gen.GenerateBatch(context.Background(), []string{good, missing})
	if len(mappings) != 1 {
		t.Fatalf("got %d mappings, want 1", len(mappings))
	}
	if mappings[0].Filepath != good {
		t.Errorf("got %q, want %q", mappings[0].Filepath, good)
	}
}

func TestMigrateLegacyCacheConvertsWebpEntries(t *testing.T) {
	t.Parallel()
	cacheDir := t.TempDir()

	// Legacy entries carry the .webp extension; content format does
	// not matter to the migration since decoding sniffs the header.
	legacy := filepath.Join(cacheDir, "0123456789abcdef0123456789abcdef.webp")
	writeTestImage(t, legacy, 64, 64)

	summary, err := MigrateLegacyCache(cacheDir, defaultJPEGQuality)
	if err != nil {
		t.Fatalf("MigrateLegacyCache() error: %v", err)
	}
	if summary.ScannedWebp != 1 || summary.MigratedToJpg != 1 || summary.RemovedWebp != 1 {
		t.Errorf("summary = %+v, want scanned=1 migrated=1 removed=1", summary)
	}
	if _, err := os.Stat(strings.TrimSuffix(legacy, ".webp") + ".jpg"); err != nil {
		t.Errorf("migrated jpg missing: %v", err)
	}
	if _, err := os.Stat(legacy); !os.IsNotExist(err) {
		t.Error("legacy webp entry still present after migration")
	}

	// Second pass is a no-op.
	summary, err = MigrateLegacyCache(cacheDir, defaultJPEGQuality)
	if err != nil {
		t.Fatalf("MigrateLegacyCache() second pass error: %v", err)
	}
	if summary.ScannedWebp != 0 {
		t.Errorf("second pass scanned %d webp entries, want 0", summary.ScannedWebp)
	}
}

func TestBuildIndexListsCacheEntries(t *testing.T) {
	t.Parallel()
	cacheDir := t.TempDir()
	jpg := filepath.Join(cacheDir, "aaaa.jpg")
	if err := os.WriteFile(jpg, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cacheDir, "ignore.webp"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	index := BuildIndex(cacheDir)
	if _, ok := index[jpg]; !ok {
		t.Errorf("index missing %s", jpg)
	}
	if len(index) != 1 {
		t.Errorf("index has %d entries, want 1", len(index))
	}
}

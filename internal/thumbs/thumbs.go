package thumbs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/soficis/forge-meta-link/internal/logging"
	"github.com/soficis/forge-meta-link/internal/metrics"
	"github.com/soficis/forge-meta-link/internal/workers"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const (
	thumbExtension       = ".jpg"
	legacyThumbExtension = ".webp"
	thumbSize            = 400
	defaultJPEGQuality   = 85

	// Bumping the version invalidates every cached entry on the next
	// resolve, so only change it together with a format change.
	cacheKeyVersion = "forge-thumb-v2"
)

// Mapping pairs a source image with its resolved thumbnail path. A
// thumbnail path equal to the source means resolution failed and the
// caller should fall back to the original file.
type Mapping struct {
	Filepath      string `json:"filepath"`
	ThumbnailPath string `json:"thumbnail_path"`
}

// Generator owns one cache directory and the profile-sized worker
// pool that fills it. Safe for concurrent use.
type Generator struct {
	cacheDir string
	profile  workers.StorageProfile
	quality  int
}

func NewGenerator(cacheDir string, profile workers.StorageProfile) *Generator {
	return &Generator{
		cacheDir: cacheDir,
		profile:  profile,
		quality:  jpegQuality(),
	}
}

// jpegQuality reads FORGE_THUMB_QUALITY, clamped to a range that is
// still recognizably a thumbnail (40) and not wastefully large (95).
func jpegQuality() int {
	raw := os.Getenv("FORGE_THUMB_QUALITY")
	if raw == "" {
		return defaultJPEGQuality
	}
	quality, err := strconv.Atoi(raw)
	if err != nil {
		return defaultJPEGQuality
	}
	if quality < 40 {
		return 40
	}
	if quality > 95 {
		return 95
	}
	return quality
}

// CacheKey derives the cache filename stem for a source path. Pure
// function of the path and the format version, stable across runs.
func CacheKey(source string) string {
	digest := sha256.Sum256([]byte(cacheKeyVersion + "\x00" + source))
	return hex.EncodeToString(digest[:])[:32]
}

func (g *Generator) CacheDir() string {
	return g.cacheDir
}

// PrepareCacheDir creates the cache directory if needed.
func (g *Generator) PrepareCacheDir() error {
	if err := os.MkdirAll(g.cacheDir, 0755); err != nil {
		return fmt.Errorf("create thumbnail cache dir %s: %w", g.cacheDir, err)
	}
	return nil
}

// CachePath returns the canonical (JPEG) cache path for a source.
func (g *Generator) CachePath(source string) string {
	return filepath.Join(g.cacheDir, CacheKey(source)+thumbExtension)
}

func (g *Generator) candidatePaths(source string) (jpgPath, webpPath string) {
	key := CacheKey(source)
	return filepath.Join(g.cacheDir, key+thumbExtension),
		filepath.Join(g.cacheDir, key+legacyThumbExtension)
}

// Ensure returns the thumbnail path for a source, generating it if
// the cache has no current entry.
func (g *Generator) Ensure(source string) (string, error) {
	jpgPath, webpPath := g.candidatePaths(source)

	if fileExists(jpgPath) {
		metrics.ThumbnailCacheHits.Inc()
		return jpgPath, nil
	}
	metrics.ThumbnailCacheMisses.Inc()

	hasLegacy := fileExists(webpPath)
	if !fileExists(source) && hasLegacy {
		// Source disappeared but the old cache entry survives; serve it.
		return webpPath, nil
	}

	start := time.Now()
	img, err := g.decode(source)
	if err != nil {
		metrics.ThumbnailGenerationsTotal.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("decode %s: %w", source, err)
	}

	thumb := imaging.Fit(img, thumbSize, thumbSize, imaging.Lanczos)
	if err := g.encodeJPEG(thumb, jpgPath); err != nil {
		metrics.ThumbnailGenerationsTotal.WithLabelValues("failed").Inc()
		if hasLegacy {
			logging.Warn("Failed to refresh legacy thumbnail for %s: %v", source, err)
			return webpPath, nil
		}
		return "", err
	}
	metrics.ThumbnailGenerationsTotal.WithLabelValues("generated").Inc()
	metrics.ThumbnailGenerationDuration.Observe(time.Since(start).Seconds())

	// JPEG is the canonical format now; drop the WebP twin.
	if hasLegacy {
		if err := os.Remove(webpPath); err != nil {
			logging.Debug("Failed to remove legacy thumbnail %s: %v", webpPath, err)
		}
	}
	return jpgPath, nil
}

// GenerateBatch produces thumbnails for sources that have none yet,
// in parallel. Returns a mapping per successful source; failures are
// logged and omitted.
func (g *Generator) GenerateBatch(ctx context.Context, sources []string) []Mapping {
	if err := g.PrepareCacheDir(); err != nil {
		logging.Error("Thumbnail cache dir unavailable: %v", err)
		return nil
	}

	results := make([]Mapping, len(sources))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(workers.IOWorkers(g.profile))
	for i, source := range sources {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			thumbPath, err := g.Ensure(source)
			if err != nil {
				logging.Warn("Thumbnail generation failed for %s: %v", source, err)
				return nil
			}
			results[i] = Mapping{Filepath: source, ThumbnailPath: thumbPath}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		logging.Debug("Thumbnail batch cancelled: %v", err)
	}

	generated := results[:0]
	for _, mapping := range results {
		if mapping.Filepath != "" {
			generated = append(generated, mapping)
		}
	}
	return generated
}

// ResolveBatch maps every source to a thumbnail path. Cache hits
// return immediately; misses generate in parallel; failures map the
// source to itself so callers always get a usable path.
func (g *Generator) ResolveBatch(ctx context.Context, sources []string) []Mapping {
	if err := g.PrepareCacheDir(); err != nil {
		logging.Error("Thumbnail cache dir unavailable: %v", err)
		identity := make([]Mapping, len(sources))
		for i, source := range sources {
			identity[i] = Mapping{Filepath: source, ThumbnailPath: source}
		}
		return identity
	}

	results := make([]Mapping, len(sources))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(workers.IOWorkers(g.profile))
	for i, source := range sources {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			jpgPath := g.CachePath(source)
			if fileExists(jpgPath) {
				metrics.ThumbnailCacheHits.Inc()
				results[i] = Mapping{Filepath: source, ThumbnailPath: jpgPath}
				return nil
			}
			thumbPath, err := g.Ensure(source)
			if err != nil {
				logging.Warn("On-demand thumbnail failed for %s: %v", source, err)
				thumbPath = source
			}
			results[i] = Mapping{Filepath: source, ThumbnailPath: thumbPath}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		logging.Debug("Thumbnail resolve cancelled: %v", err)
		for i, source := range sources {
			if results[i].Filepath == "" {
				results[i] = Mapping{Filepath: source, ThumbnailPath: source}
			}
		}
	}
	return results
}

// decode opens a source image, preferring the libvips fast path which
// shrinks at decode time instead of loading full resolution.
func (g *Generator) decode(source string) (image.Image, error) {
	if VipsAvailable() {
		img, err := loadWithVips(source, thumbSize, thumbSize)
		if err == nil {
			return img, nil
		}
		logging.Debug("vips decode failed for %s: %v, falling back", source, err)
	}

	img, err := imaging.Open(source, imaging.AutoOrientation(true))
	if err == nil {
		return img, nil
	}

	// imaging only handles a fixed format set; retry with whatever
	// decoders are registered.
	file, openErr := os.Open(source)
	if openErr != nil {
		return nil, err
	}
	defer file.Close()
	decoded, _, decodeErr := image.Decode(file)
	if decodeErr != nil {
		return nil, err
	}
	return decoded, nil
}

func (g *Generator) encodeJPEG(thumb image.Image, outPath string) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: g.quality}); err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	if err := os.WriteFile(outPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write thumbnail %s: %w", outPath, err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// BuildIndex lists the cache directory and returns the set of cache
// paths present on disk. Called once at startup so later lookups are
// memory-only.
func BuildIndex(cacheDir string) map[string]struct{} {
	index := make(map[string]struct{})
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		logging.Debug("Thumbnail index: cannot list %s: %v", cacheDir, err)
		return index
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() && filepath.Ext(entry.Name()) == thumbExtension {
			index[filepath.Join(cacheDir, entry.Name())] = struct{}{}
		}
	}
	return index
}

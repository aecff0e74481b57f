package thumbs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/soficis/forge-meta-link/internal/logging"
)

// MigrationSummary counts what a legacy-cache migration pass did.
type MigrationSummary struct {
	ScannedWebp     int `json:"scanned_webp"`
	MigratedToJpg   int `json:"migrated_to_jpg"`
	RemovedWebp     int `json:"removed_webp"`
	KeptExistingJpg int `json:"kept_existing_jpg"`
	SkippedNonFile  int `json:"skipped_non_file"`
	FailedConvert   int `json:"failed_convert"`
	FailedRemove    int `json:"failed_remove"`
}

// ResolveCacheDir picks the thumbnail cache directory for migration:
// explicit flag value first, then FORGE_THUMB_CACHE_DIR, then the
// first existing platform data directory.
func ResolveCacheDir(flagDir string) (string, error) {
	if flagDir != "" {
		return flagDir, nil
	}
	if envDir := os.Getenv("FORGE_THUMB_CACHE_DIR"); envDir != "" {
		return envDir, nil
	}

	candidates := candidateCacheDirs()
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not locate thumbnail cache directory, checked: %s",
		strings.Join(candidates, ", "))
}

func candidateCacheDirs() []string {
	var dirs []string
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, "forge-meta-link", "thumbnails"))
	}
	if home := os.Getenv("HOME"); home != "" {
		dirs = append(dirs, filepath.Join(home, ".local", "share", "forge-meta-link", "thumbnails"))
	}
	if appData := os.Getenv("APPDATA"); appData != "" {
		dirs = append(dirs, filepath.Join(appData, "forge-meta-link", "thumbnails"))
	}
	return dirs
}

// MigrateLegacyCache converts every .webp cache entry in cacheDir to
// .jpg and removes the original. WebP files are removed even when
// conversion fails so a broken entry cannot wedge the pass forever;
// the thumbnail regenerates from source on next access.
func MigrateLegacyCache(cacheDir string, quality int) (MigrationSummary, error) {
	var summary MigrationSummary

	info, err := os.Stat(cacheDir)
	if err != nil {
		return summary, fmt.Errorf("cache directory does not exist: %s", cacheDir)
	}
	if !info.IsDir() {
		return summary, fmt.Errorf("cache path is not a directory: %s", cacheDir)
	}

	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		return summary, fmt.Errorf("read %s: %w", cacheDir, err)
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			summary.SkippedNonFile++
			continue
		}
		if !strings.EqualFold(filepath.Ext(entry.Name()), legacyThumbExtension) {
			continue
		}

		summary.ScannedWebp++
		webpPath := filepath.Join(cacheDir, entry.Name())
		jpgPath := strings.TrimSuffix(webpPath, filepath.Ext(webpPath)) + thumbExtension

		if fileExists(jpgPath) {
			summary.KeptExistingJpg++
		} else if err := convertToJPEG(webpPath, jpgPath, quality); err != nil {
			summary.FailedConvert++
			logging.Warn("Legacy thumbnail convert failed for %s: %v", webpPath, err)
		} else {
			summary.MigratedToJpg++
		}

		if err := os.Remove(webpPath); err != nil {
			summary.FailedRemove++
			logging.Warn("Legacy thumbnail remove failed for %s: %v", webpPath, err)
		} else {
			summary.RemovedWebp++
		}
	}

	return summary, nil
}

func convertToJPEG(inputPath, outputPath string, quality int) error {
	img, err := imaging.Open(inputPath)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := imaging.Save(img, outputPath, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

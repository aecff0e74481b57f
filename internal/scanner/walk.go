package scanner

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/soficis/forge-meta-link/internal/logging"
)

// ScannedFile is one discovered image with the stat fields the
// change-detection pass compares against the index.
type ScannedFile struct {
	Path  string
	Mtime int64
	Size  int64
}

var supportedExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".webp": {},
	".avif": {},
	".gif":  {},
	".jxl":  {},
}

// IsSupportedImage reports whether the path carries a scannable image
// extension.
func IsSupportedImage(path string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// ScanDirectory recursively collects supported image files under dir.
// Symlinks are not followed. Unreadable entries are skipped, not
// fatal.
func ScanDirectory(dir string) []ScannedFile {
	var files []ScannedFile

	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			logging.Debug("Skipping unreadable entry %s: %v", path, err)
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		if !IsSupportedImage(path) {
			return nil
		}

		scanned := ScannedFile{Path: path}
		if info, err := entry.Info(); err == nil {
			scanned.Mtime = info.ModTime().Unix()
			scanned.Size = info.Size()
		}
		files = append(files, scanned)
		return nil
	})
	if err != nil {
		logging.Warn("Directory walk of %s ended early: %v", dir, err)
	}

	return files
}

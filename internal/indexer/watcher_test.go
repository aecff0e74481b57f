package indexer

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/fsnotify/fsnotify"
)

// writeSizedImage writes a PNG with distinct pixel content so each
// file gets its own quick hash.
func writeSizedImage(t *testing.T, dir, name string, size int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 11), B: uint8(size), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error: %v", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error: %v", name, err)
	}
	return path
}

func TestEventTypeLabels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		op   fsnotify.Op
		want string
	}{
		{fsnotify.Create, "create"},
		{fsnotify.Write, "write"},
		{fsnotify.Remove, "remove"},
		{fsnotify.Rename, "rename"},
		{fsnotify.Chmod, "chmod"},
	}
	for _, tt := range tests {
		if got := eventType(tt.op); got != tt.want {
			t.Errorf("eventType(%v) = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func TestPruneMissingDeletesVanishedFiles(t *testing.T) {
	t.Parallel()
	ix, db := newTestIndexer(t)
	ctx := context.Background()

	root := t.TempDir()
	keep := writeSizedImage(t, root, "keep.png", 8)
	gone := writeSizedImage(t, root, "gone.png", 12)

	if _, err := ix.Scan(ctx, root); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if err := os.Remove(gone); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}

	ix.pruneMissing(ctx, root)

	total, err := db.GetTotalCount(ctx)
	if err != nil {
		t.Fatalf("GetTotalCount() error: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1 after prune", total)
	}
	if _, found, _ := db.GetImageIDByFilepath(ctx, keep); !found {
		t.Error("surviving file should remain indexed")
	}
	if _, found, _ := db.GetImageIDByFilepath(ctx, gone); found {
		t.Error("vanished file should be pruned")
	}
}

func TestPruneMissingKeepsExistingFiles(t *testing.T) {
	t.Parallel()
	ix, db := newTestIndexer(t)
	ctx := context.Background()

	root := t.TempDir()
	writeSizedImage(t, root, "a.png", 8)
	writeSizedImage(t, root, "b.png", 12)

	if _, err := ix.Scan(ctx, root); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}

	ix.pruneMissing(ctx, root)

	total, err := db.GetTotalCount(ctx)
	if err != nil {
		t.Fatalf("GetTotalCount() error: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2 (nothing vanished)", total)
	}
}

func TestPruneMissingRelocatesMovedFile(t *testing.T) {
	t.Parallel()
	ix, db := newTestIndexer(t)
	ctx := context.Background()

	root := t.TempDir()
	original := writeSizedImage(t, root, "moveme.png", 16)
	writeSizedImage(t, root, "stay.png", 8)

	if _, err := ix.Scan(ctx, root); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}

	id, found, err := db.GetImageIDByFilepath(ctx, original)
	if err != nil || !found {
		t.Fatalf("GetImageIDByFilepath() found=%v err=%v", found, err)
	}
	if _, err := db.SetImagesFavorite(ctx, []int64{id}, true); err != nil {
		t.Fatalf("SetImagesFavorite() error: %v", err)
	}

	// Move the file within the library, then rescan the destination
	// the way the watcher would before pruning.
	subdir := filepath.Join(root, "sorted")
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error: %v", err)
	}
	newPath := filepath.Join(subdir, "moveme.png")
	if err := os.Rename(original, newPath); err != nil {
		t.Fatalf("Rename() error: %v", err)
	}
	if _, err := ix.Scan(ctx, root); err != nil {
		t.Fatalf("rescan error: %v", err)
	}

	ix.pruneMissing(ctx, root)

	total, err := db.GetTotalCount(ctx)
	if err != nil {
		t.Fatalf("GetTotalCount() error: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2 after relocation", total)
	}

	img, found, err := db.GetImageByID(ctx, id)
	if err != nil || !found {
		t.Fatalf("GetImageByID() found=%v err=%v", found, err)
	}
	if img.Filepath != newPath {
		t.Errorf("Filepath = %q, want %q", img.Filepath, newPath)
	}
	if !img.IsFavorite {
		t.Error("favorite flag should survive the move")
	}
}

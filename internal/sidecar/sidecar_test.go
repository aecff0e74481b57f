package sidecar

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteAndReadYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	imagePath := filepath.Join(dir, "test_image.png")
	if err := os.WriteFile(imagePath, []byte("fake png"), 0o644); err != nil {
		t.Fatal(err)
	}

	data := Data{
		Tags:   []string{"landscape", "cat"},
		Notes:  "A nice image",
		Rating: 5,
	}

	sidecarPath, err := Write(imagePath, data)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.HasSuffix(sidecarPath, ".yaml") {
		t.Errorf("sidecar path = %q, want .yaml suffix", sidecarPath)
	}
	if _, err := os.Stat(sidecarPath); err != nil {
		t.Fatalf("sidecar file missing: %v", err)
	}

	readBack, ok := Read(imagePath)
	if !ok {
		t.Fatal("Read() found no sidecar")
	}
	if len(readBack.Tags) != 2 || readBack.Tags[0] != "landscape" || readBack.Tags[1] != "cat" {
		t.Errorf("Tags = %v", readBack.Tags)
	}
	if readBack.Notes != "A nice image" {
		t.Errorf("Notes = %q", readBack.Notes)
	}
	if readBack.Rating != 5 {
		t.Errorf("Rating = %d, want 5", readBack.Rating)
	}
}

func TestReadJSONFallback(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	imagePath := filepath.Join(dir, "test_image.png")
	if err := os.WriteFile(imagePath, []byte("fake png"), 0o644); err != nil {
		t.Fatal(err)
	}
	jsonPath := filepath.Join(dir, "test_image.json")
	if err := os.WriteFile(jsonPath, []byte(`{"tags":["hello","world"],"notes":"test note"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	readBack, ok := Read(imagePath)
	if !ok {
		t.Fatal("Read() found no JSON sidecar")
	}
	if len(readBack.Tags) != 2 || readBack.Tags[0] != "hello" {
		t.Errorf("Tags = %v", readBack.Tags)
	}
	if readBack.Notes != "test note" {
		t.Errorf("Notes = %q", readBack.Notes)
	}
}

func TestReadReturnsFalseWhenMissing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	imagePath := filepath.Join(dir, "no_sidecar.png")
	if err := os.WriteFile(imagePath, []byte("fake png"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, ok := Read(imagePath); ok {
		t.Error("Read() reported a sidecar where none exists")
	}
}

func TestYamlPreferredOverJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	imagePath := filepath.Join(dir, "img.png")
	if err := os.WriteFile(filepath.Join(dir, "img.yaml"), []byte("tags: [from-yaml]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "img.json"), []byte(`{"tags":["from-json"]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	readBack, ok := Read(imagePath)
	if !ok {
		t.Fatal("Read() found no sidecar")
	}
	if len(readBack.Tags) != 1 || readBack.Tags[0] != "from-yaml" {
		t.Errorf("Tags = %v, want [from-yaml]", readBack.Tags)
	}
}

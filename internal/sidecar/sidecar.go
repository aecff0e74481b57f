// Package sidecar reads and writes per-image YAML/JSON tag files.
//
// Sidecar files sit next to the image on disk (e.g. image.yaml) and
// carry portable metadata that travels with the file when copied or
// shared.
package sidecar

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Data is the portable metadata stored in a sidecar file next to each
// image.
type Data struct {
	Tags   []string `yaml:"tags" json:"tags"`
	Notes  string   `yaml:"notes,omitempty" json:"notes,omitempty"`
	Rating uint8    `yaml:"rating,omitempty" json:"rating,omitempty"`
}

// Read looks up a sidecar for the given image path. Search order is
// .yaml, .yml, .json. Returns false silently when no sidecar exists
// or it cannot be parsed.
func Read(imagePath string) (Data, bool) {
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		sidecarPath := replaceExt(imagePath, ext)
		if _, err := os.Stat(sidecarPath); err != nil {
			continue
		}
		return readFile(sidecarPath)
	}
	return Data{}, false
}

// Write stores sidecar data as <image_stem>.yaml in the same
// directory as the image and returns the sidecar path.
func Write(imagePath string, data Data) (string, error) {
	sidecarPath := replaceExt(imagePath, ".yaml")
	encoded, err := yaml.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encoding sidecar: %w", err)
	}
	if err := os.WriteFile(sidecarPath, encoded, 0o644); err != nil {
		return "", fmt.Errorf("writing sidecar: %w", err)
	}
	return sidecarPath, nil
}

func readFile(path string) (Data, bool) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Data{}, false
	}

	var data Data
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(content, &data); err != nil {
			return Data{}, false
		}
	} else {
		if err := yaml.Unmarshal(content, &data); err != nil {
			return Data{}, false
		}
	}
	return data, true
}

func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

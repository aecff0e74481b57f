package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/soficis/forge-meta-link/internal/database"
	"github.com/soficis/forge-meta-link/internal/logging"
	"github.com/soficis/forge-meta-link/internal/thumbs"
	"github.com/soficis/forge-meta-link/internal/workers"
)

const settingsFilename = "settings.json"

type settings struct {
	StorageProfile string `json:"storage_profile"`
}

// State is the shared application state. All methods are safe for
// concurrent use.
type State struct {
	DB     *database.Database
	Thumbs *thumbs.Generator

	dataDir string

	mu            sync.RWMutex
	profile       workers.StorageProfile
	thumbIndex    map[string]struct{}
	failedSources map[string]struct{}

	precacheRunning atomic.Bool
}

// New builds application state rooted at dataDir. The storage profile
// loads from the persisted settings file, falling back to the given
// default. The thumbnail index is primed by listing the cache
// directory once.
func New(db *database.Database, gen *thumbs.Generator, dataDir string, defaultProfile workers.StorageProfile) *State {
	s := &State{
		DB:            db,
		Thumbs:        gen,
		dataDir:       dataDir,
		profile:       defaultProfile,
		thumbIndex:    thumbs.BuildIndex(gen.CacheDir()),
		failedSources: map[string]struct{}{},
	}

	if loaded, ok := s.loadSettings(); ok {
		s.profile = loaded
	}
	logging.Info("Storage profile: %s, %d thumbnails already cached",
		s.profile, len(s.thumbIndex))
	return s
}

// Profile returns the active storage profile.
func (s *State) Profile() workers.StorageProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// SetProfile switches the storage profile and persists the choice.
func (s *State) SetProfile(profile workers.StorageProfile) error {
	s.mu.Lock()
	s.profile = profile
	s.mu.Unlock()
	return s.saveSettings(profile)
}

func (s *State) settingsPath() string {
	return filepath.Join(s.dataDir, settingsFilename)
}

func (s *State) loadSettings() (workers.StorageProfile, bool) {
	data, err := os.ReadFile(s.settingsPath())
	if err != nil {
		return 0, false
	}
	var stored settings
	if err := json.Unmarshal(data, &stored); err != nil {
		logging.Warn("Ignoring malformed settings file %s: %v", s.settingsPath(), err)
		return 0, false
	}
	return workers.ParseProfile(stored.StorageProfile), true
}

func (s *State) saveSettings(profile workers.StorageProfile) error {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := json.MarshalIndent(settings{StorageProfile: profile.String()}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.settingsPath(), data, 0o644); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}
	return nil
}

// recordThumbnail marks a cache path as present and clears any prior
// failure for its source.
func (s *State) recordThumbnail(source, cachePath string) {
	s.mu.Lock()
	s.thumbIndex[cachePath] = struct{}{}
	delete(s.failedSources, source)
	s.mu.Unlock()
}

func (s *State) recordFailure(source string) {
	s.mu.Lock()
	s.failedSources[source] = struct{}{}
	s.mu.Unlock()
}

// RecordThumbnails folds a batch of generated mappings into the
// index. Wired as the indexer's completion hook.
func (s *State) RecordThumbnails(generated []thumbs.Mapping) {
	s.mu.Lock()
	for _, m := range generated {
		if m.ThumbnailPath != m.Filepath {
			s.thumbIndex[m.ThumbnailPath] = struct{}{}
			delete(s.failedSources, m.Filepath)
		}
	}
	s.mu.Unlock()
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strings"

	"github.com/soficis/forge-meta-link/internal/app"
	"github.com/soficis/forge-meta-link/internal/logging"
	"github.com/soficis/forge-meta-link/internal/thumbs"
)

type scanRequest struct {
	Root string `json:"root"`
}

// TriggerScan runs a library scan and returns its result. The body
// may name a root directory; the server default applies otherwise.
func (s *Server) TriggerScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	root := strings.TrimSpace(req.Root)
	if root == "" {
		root = s.root
	}
	if root == "" {
		writeJSONError(w, "No scan root configured", http.StatusBadRequest)
		return
	}

	result, err := s.indexer.Scan(r.Context(), root)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, result)
}

// TriggerPrecache starts a full-library thumbnail warmup in the
// background. Returns 409 when one is already running.
func (s *Server) TriggerPrecache(w http.ResponseWriter, r *http.Request) {
	started := make(chan error, 1)
	go func() {
		result, err := s.state.PrecacheAll(context.Background(), func(p app.PrecacheProgress) {
			if p.Stage == "preparing" && p.Current == 0 {
				started <- nil
			}
		})
		select {
		case started <- err:
		default:
		}
		if err != nil {
			return
		}
		logging.Info("Precache finished: %d of %d generated", result.Generated, result.Total)
	}()

	if err := <-started; err != nil {
		if errors.Is(err, app.ErrPrecacheRunning) {
			writeJSONError(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	writeJSONStatus(w, "started")
}

// ResolveThumbnails resolves a comma-separated list of source paths to
// thumbnail paths.
func (s *Server) ResolveThumbnails(w http.ResponseWriter, r *http.Request) {
	paths := splitParam(r.URL.Query().Get("paths"))
	if len(paths) == 0 {
		writeJSONError(w, "Query parameter paths is required", http.StatusBadRequest)
		return
	}

	resolved := s.state.GetThumbnailPaths(r.Context(), paths)
	if resolved == nil {
		resolved = []thumbs.Mapping{}
	}
	writeJSON(w, resolved)
}

// StatsResponse summarizes the library and the runtime.
type StatsResponse struct {
	TotalImages  int    `json:"total_images"`
	TotalTags    int    `json:"total_tags"`
	Profile      string `json:"storage_profile"`
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
}

func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.state.DB.Stats(r.Context())
	if err != nil {
		writeJSONError(w, "Failed to collect stats", http.StatusInternalServerError)
		return
	}
	s.state.DB.UpdateDBMetrics()

	writeJSON(w, StatsResponse{
		TotalImages:  stats.TotalImages,
		TotalTags:    stats.TotalTags,
		Profile:      s.state.Profile().String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
	})
}

// HealthCheck reports liveness plus a cheap database probe.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if _, err := s.state.DB.GetTotalCount(r.Context()); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSONStatus(w, "healthy")
}

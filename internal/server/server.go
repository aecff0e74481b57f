package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soficis/forge-meta-link/internal/app"
	"github.com/soficis/forge-meta-link/internal/indexer"
	"github.com/soficis/forge-meta-link/internal/logging"
	"github.com/soficis/forge-meta-link/internal/middleware"
)

// Server bundles the handlers for the local API.
type Server struct {
	state   *app.State
	indexer *indexer.Indexer
	root    string
}

// New creates a server over shared state. root is the default library
// directory for scan requests that do not name one.
func New(state *app.State, ix *indexer.Indexer, root string) *Server {
	return &Server{state: state, indexer: ix, root: root}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.HealthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/scan", s.TriggerScan).Methods("POST")
	api.HandleFunc("/images", s.ListImages).Methods("GET")
	api.HandleFunc("/images", s.DeleteImages).Methods("DELETE")
	api.HandleFunc("/images/{id:[0-9]+}", s.GetImage).Methods("GET")
	api.HandleFunc("/images/{id:[0-9]+}/favorite", s.SetFavorite).Methods("POST")
	api.HandleFunc("/images/{id:[0-9]+}/lock", s.SetLocked).Methods("POST")
	api.HandleFunc("/images/{id:[0-9]+}/tags", s.SetTags).Methods("PUT")
	api.HandleFunc("/search", s.Search).Methods("GET")
	api.HandleFunc("/tags", s.GetTags).Methods("GET")
	api.HandleFunc("/directories", s.GetDirectories).Methods("GET")
	api.HandleFunc("/models", s.GetModels).Methods("GET")
	api.HandleFunc("/thumbnails", s.ResolveThumbnails).Methods("GET")
	api.HandleFunc("/precache", s.TriggerPrecache).Methods("POST")
	api.HandleFunc("/stats", s.GetStats).Methods("GET")

	return r
}

// Handler wraps the router with the middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.Router()
	h = middleware.Metrics(middleware.DefaultMetricsConfig())(h)
	h = middleware.Logger(middleware.DefaultLoggingConfig())(h)
	h = middleware.Compression(middleware.DefaultCompressionConfig())(h)
	return h
}

// writeJSON encodes v as JSON. Encoding errors are logged; by the
// time they surface the status line is already on the wire.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes an error response as JSON with the given status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		logging.Error("failed to encode JSON error response: %v", err)
	}
}

// writeJSONStatus writes a simple status response as JSON.
func writeJSONStatus(w http.ResponseWriter, status string) {
	writeJSON(w, map[string]string{"status": status})
}

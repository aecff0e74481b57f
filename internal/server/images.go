package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/soficis/forge-meta-link/internal/database"
	"github.com/soficis/forge-meta-link/internal/sidecar"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

// cursorOptionsFromQuery reads the pagination and filter knobs every
// listing endpoint shares.
func cursorOptionsFromQuery(q url.Values) database.CursorOptions {
	limit := defaultPageSize
	if raw := q.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, maxPageSize)
		}
	}
	return database.CursorOptions{
		Cursor:             q.Get("cursor"),
		Limit:              limit,
		SortBy:             q.Get("sort"),
		GenerationTypes:    splitParam(q.Get("generation_type")),
		ModelFilter:        q.Get("model"),
		ModelFamilyFilters: splitParam(q.Get("model_family")),
	}
}

func splitParam(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := parts[:0]
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

// ListImages serves a cursor page of the gallery, optionally filtered
// by tags and a text query.
func (s *Server) ListImages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := cursorOptionsFromQuery(q)
	includeTags := splitParam(q.Get("include_tags"))
	excludeTags := splitParam(q.Get("exclude_tags"))
	query := q.Get("q")

	var page database.CursorPage
	var err error
	if len(includeTags) > 0 || len(excludeTags) > 0 || query != "" {
		page, err = s.state.DB.FilterImagesCursor(r.Context(), database.FilterParams{
			Query:       query,
			IncludeTags: includeTags,
			ExcludeTags: excludeTags,
			Options:     opts,
		})
	} else {
		page, err = s.state.DB.GetImagesCursor(r.Context(), opts)
	}
	if err != nil {
		writeJSONError(w, "Failed to list images", http.StatusInternalServerError)
		return
	}

	if page.Items == nil {
		page.Items = []database.GalleryImage{}
	}
	writeJSON(w, page)
}

// Search serves full-text search results as a cursor page.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeJSONError(w, "Query parameter q is required", http.StatusBadRequest)
		return
	}

	page, err := s.state.DB.SearchCursor(r.Context(), database.SearchParams{
		Query:   query,
		Options: cursorOptionsFromQuery(q),
	})
	if err != nil {
		writeJSONError(w, "Search failed", http.StatusInternalServerError)
		return
	}

	if page.Items == nil {
		page.Items = []database.GalleryImage{}
	}
	writeJSON(w, page)
}

// ImageDetail is the detail payload: the full row plus its tags and
// resolved thumbnail.
type ImageDetail struct {
	database.Image
	Tags          []string `json:"tags"`
	ThumbnailPath string   `json:"thumbnail_path"`
}

func (s *Server) GetImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSONError(w, "Invalid image id", http.StatusBadRequest)
		return
	}

	img, found, err := s.state.DB.GetImageByID(r.Context(), id)
	if err != nil {
		writeJSONError(w, "Failed to load image", http.StatusInternalServerError)
		return
	}
	if !found {
		writeJSONError(w, "Image not found", http.StatusNotFound)
		return
	}

	tags, err := s.state.DB.GetTagsForImage(r.Context(), id)
	if err != nil {
		writeJSONError(w, "Failed to load tags", http.StatusInternalServerError)
		return
	}
	if tags == nil {
		tags = []string{}
	}

	writeJSON(w, ImageDetail{
		Image:         img,
		Tags:          tags,
		ThumbnailPath: s.state.GetThumbnailPath(img.Filepath),
	})
}

type favoriteRequest struct {
	IsFavorite bool `json:"is_favorite"`
}

func (s *Server) SetFavorite(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSONError(w, "Invalid image id", http.StatusBadRequest)
		return
	}

	var req favoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := s.state.DB.SetImagesFavorite(r.Context(), []int64{id}, req.IsFavorite)
	if err != nil {
		writeJSONError(w, "Failed to update favorite", http.StatusInternalServerError)
		return
	}
	if updated == 0 {
		writeJSONError(w, "Image not found", http.StatusNotFound)
		return
	}

	writeJSONStatus(w, "ok")
}

type lockRequest struct {
	IsLocked bool `json:"is_locked"`
}

// SetLocked toggles deletion protection for an image.
func (s *Server) SetLocked(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSONError(w, "Invalid image id", http.StatusBadRequest)
		return
	}

	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := s.state.DB.SetImagesLocked(r.Context(), []int64{id}, req.IsLocked)
	if err != nil {
		writeJSONError(w, "Failed to update lock", http.StatusInternalServerError)
		return
	}
	if updated == 0 {
		writeJSONError(w, "Image not found", http.StatusNotFound)
		return
	}

	writeJSONStatus(w, "ok")
}

type tagsRequest struct {
	Tags []string `json:"tags"`
}

// SetTags replaces an image's tags in both the database and the
// portable sidecar file next to the image.
func (s *Server) SetTags(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSONError(w, "Invalid image id", http.StatusBadRequest)
		return
	}

	var req tagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	img, found, err := s.state.DB.GetImageByID(r.Context(), id)
	if err != nil {
		writeJSONError(w, "Failed to load image", http.StatusInternalServerError)
		return
	}
	if !found {
		writeJSONError(w, "Image not found", http.StatusNotFound)
		return
	}

	if err := s.state.DB.ReplaceImageTags(r.Context(), id, req.Tags); err != nil {
		writeJSONError(w, "Failed to update tags", http.StatusInternalServerError)
		return
	}

	// Sidecar write is best-effort: the image may sit on read-only
	// storage while the index stays editable.
	existing, _ := sidecar.Read(img.Filepath)
	existing.Tags = req.Tags
	if _, err := sidecar.Write(img.Filepath, existing); err != nil {
		writeJSON(w, map[string]string{"status": "ok", "sidecar_error": err.Error()})
		return
	}

	writeJSONStatus(w, "ok")
}

// GetTags lists known tags, optionally by prefix, or the most used
// ones when top=true.
func (s *Server) GetTags(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if raw := q.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, 500)
		}
	}

	if q.Get("top") == "true" {
		tags, err := s.state.DB.GetTopTags(r.Context(), limit)
		if err != nil {
			writeJSONError(w, "Failed to list tags", http.StatusInternalServerError)
			return
		}
		if tags == nil {
			tags = []database.TagCount{}
		}
		writeJSON(w, tags)
		return
	}

	tags, err := s.state.DB.ListTags(r.Context(), q.Get("prefix"), limit)
	if err != nil {
		writeJSONError(w, "Failed to list tags", http.StatusInternalServerError)
		return
	}
	if tags == nil {
		tags = []string{}
	}
	writeJSON(w, tags)
}

type deleteRequest struct {
	IDs []int64 `json:"ids"`
}

type deleteResponse struct {
	Deleted       int64   `json:"deleted"`
	SkippedLocked []int64 `json:"skipped_locked,omitempty"`
}

// DeleteImages removes index rows for the given ids. Locked images are
// skipped and reported back rather than failing the whole request.
func (s *Server) DeleteImages(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 {
		writeJSONError(w, "No image ids supplied", http.StatusBadRequest)
		return
	}

	images, err := s.state.DB.GetImagesByIDs(r.Context(), req.IDs)
	if err != nil {
		writeJSONError(w, "Failed to load images", http.StatusInternalServerError)
		return
	}

	var resp deleteResponse
	deletable := make([]int64, 0, len(images))
	for _, img := range images {
		if img.IsLocked {
			resp.SkippedLocked = append(resp.SkippedLocked, img.ID)
			continue
		}
		deletable = append(deletable, img.ID)
	}

	resp.Deleted, err = s.state.DB.DeleteImagesByIDs(r.Context(), deletable)
	if err != nil {
		writeJSONError(w, "Failed to delete images", http.StatusInternalServerError)
		return
	}
	writeJSON(w, resp)
}

// GetDirectories lists every indexed directory with its image count.
func (s *Server) GetDirectories(w http.ResponseWriter, r *http.Request) {
	dirs, err := s.state.DB.GetUniqueDirectories(r.Context())
	if err != nil {
		writeJSONError(w, "Failed to list directories", http.StatusInternalServerError)
		return
	}
	if dirs == nil {
		dirs = []database.DirectoryEntry{}
	}
	writeJSON(w, dirs)
}

// GetModels lists every model name with its image count.
func (s *Server) GetModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.state.DB.GetUniqueModels(r.Context())
	if err != nil {
		writeJSONError(w, "Failed to list models", http.StatusInternalServerError)
		return
	}
	if models == nil {
		models = []database.ModelEntry{}
	}
	writeJSON(w, models)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

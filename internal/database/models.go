package database

import (
	"database/sql"

	"github.com/soficis/forge-meta-link/internal/parser"
)

// GalleryImage is the lightweight row used by gallery and
// infinite-scroll views.
type GalleryImage struct {
	ID         int64  `json:"id"`
	Filepath   string `json:"filepath"`
	Filename   string `json:"filename"`
	Directory  string `json:"directory"`
	Seed       string `json:"seed,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	ModelName  string `json:"model_name,omitempty"`
	IsFavorite bool   `json:"is_favorite"`
	IsLocked   bool   `json:"is_locked"`
}

// Image is the full row used by detail and export workflows.
type Image struct {
	ID             int64  `json:"id"`
	Filepath       string `json:"filepath"`
	Filename       string `json:"filename"`
	Directory      string `json:"directory"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	Steps          string `json:"steps,omitempty"`
	Sampler        string `json:"sampler,omitempty"`
	CfgScale       string `json:"cfg_scale,omitempty"`
	Seed           string `json:"seed,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	ModelHash      string `json:"model_hash,omitempty"`
	ModelName      string `json:"model_name,omitempty"`
	RawMetadata    string `json:"raw_metadata"`
	IsFavorite     bool   `json:"is_favorite"`
	IsLocked       bool   `json:"is_locked"`
}

// TagCount pairs a tag with its usage count.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// DirectoryEntry is a unique directory with its image count.
type DirectoryEntry struct {
	Directory string `json:"directory"`
	Count     int    `json:"count"`
}

// ModelEntry is a unique model name with its image count.
type ModelEntry struct {
	ModelName string `json:"model_name"`
	Count     int    `json:"count"`
}

// CursorPage is one page of results plus an opaque cursor for the
// next page. NextCursor is "" on the last page only when Items is
// empty; callers stop when a page comes back short or empty.
type CursorPage struct {
	Items      []GalleryImage `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// CursorOptions are the shared knobs of every cursor-paginated query.
type CursorOptions struct {
	Cursor             string
	Limit              int
	SortBy             string
	GenerationTypes    []string
	ModelFilter        string
	ModelFamilyFilters []string
}

// SearchParams drives SearchCursor.
type SearchParams struct {
	Query   string
	Options CursorOptions
}

// FilterParams drives FilterImagesCursor.
type FilterParams struct {
	Query       string
	IncludeTags []string
	ExcludeTags []string
	Options     CursorOptions
}

// BulkRecord is one image for bulk insert operations.
type BulkRecord struct {
	Filepath  string
	Filename  string
	Directory string
	Params    parser.Params
	FileMtime int64
	FileSize  int64
	QuickHash string
	Tags      []string
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGalleryImage(row rowScanner) (GalleryImage, error) {
	var img GalleryImage
	var seed, modelName sql.NullString
	var width, height sql.NullInt64
	err := row.Scan(
		&img.ID, &img.Filepath, &img.Filename, &img.Directory,
		&seed, &width, &height, &modelName, &img.IsFavorite, &img.IsLocked,
	)
	if err != nil {
		return GalleryImage{}, err
	}
	img.Seed = seed.String
	img.Width = int(width.Int64)
	img.Height = int(height.Int64)
	img.ModelName = modelName.String
	return img, nil
}

func scanGalleryImageWithSort(row rowScanner) (GalleryImage, string, error) {
	var img GalleryImage
	var seed, modelName sql.NullString
	var width, height sql.NullInt64
	var sortValue string
	err := row.Scan(
		&img.ID, &img.Filepath, &img.Filename, &img.Directory,
		&seed, &width, &height, &modelName, &img.IsFavorite, &img.IsLocked,
		&sortValue,
	)
	if err != nil {
		return GalleryImage{}, "", err
	}
	img.Seed = seed.String
	img.Width = int(width.Int64)
	img.Height = int(height.Int64)
	img.ModelName = modelName.String
	return img, sortValue, nil
}

func scanImage(row rowScanner) (Image, error) {
	var img Image
	var steps, sampler, cfgScale, seed, modelHash, modelName sql.NullString
	var width, height sql.NullInt64
	err := row.Scan(
		&img.ID, &img.Filepath, &img.Filename, &img.Directory,
		&img.Prompt, &img.NegativePrompt,
		&steps, &sampler, &cfgScale, &seed, &width, &height,
		&modelHash, &modelName, &img.RawMetadata,
		&img.IsFavorite, &img.IsLocked,
	)
	if err != nil {
		return Image{}, err
	}
	img.Steps = steps.String
	img.Sampler = sampler.String
	img.CfgScale = cfgScale.String
	img.Seed = seed.String
	img.Width = int(width.Int64)
	img.Height = int(height.Int64)
	img.ModelHash = modelHash.String
	img.ModelName = modelName.String
	return img, nil
}

// nullIfEmpty maps the in-memory "absent" representation (empty
// string) to a SQL NULL so nullable columns stay NULL.
func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullIfZero(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

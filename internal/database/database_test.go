package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/soficis/forge-meta-link/internal/metrics"
	"github.com/soficis/forge-meta-link/internal/parser"
	"github.com/soficis/forge-meta-link/internal/workers"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(context.Background(), filepath.Join(t.TempDir(), "forge.db"), workers.HDD)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertWithPrompt(t *testing.T, db *Database, path, prompt string, tags []string) {
	t.Helper()
	ctx := context.Background()
	params := parser.Params{Prompt: prompt, RawMetadata: prompt}
	id, err := db.UpsertImage(ctx, path, path, `c:\images`, &params, 1)
	if err != nil {
		t.Fatalf("UpsertImage(%q) error: %v", path, err)
	}
	if err := db.ReplaceImageTags(ctx, id, tags); err != nil {
		t.Fatalf("ReplaceImageTags(%q) error: %v", path, err)
	}
}

func TestSanitizeFTSQuery(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"prefix terms from mixed input", ` Model:XL cat++ seed:123 `, "modelxl* cat* seed123*"},
		{"all special chars is empty", ` ::: ??? +++  `, ""},
		{"quoted phrase kept", `"best quality" cat`, `"best quality" cat*`},
		{"explicit wildcard preserved", "cat* dog", "cat* dog*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := sanitizeFTSQuery(tt.query); got != tt.want {
				t.Errorf("sanitizeFTSQuery(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestSearchReturnsBestPrefixMatch(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	insertWithPrompt(t, db, "a.png", "cat hero portrait", []string{"cat", "hero"})
	insertWithPrompt(t, db, "b.png", "cat landscape", []string{"cat", "landscape"})

	page, err := db.SearchCursor(context.Background(), SearchParams{
		Query:   "cat hero",
		Options: CursorOptions{Limit: 10},
	})
	if err != nil {
		t.Fatalf("SearchCursor() error: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("got %d items, want 1", len(page.Items))
	}
	if page.Items[0].Filepath != "a.png" {
		t.Errorf("got %q, want a.png", page.Items[0].Filepath)
	}
}

func TestFilterByIncludeAndExcludeTags(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	insertWithPrompt(t, db, "a.png", "cat hero portrait", []string{"cat", "hero"})
	insertWithPrompt(t, db, "b.png", "cat landscape", []string{"cat", "landscape"})

	page, err := db.FilterImagesCursor(context.Background(), FilterParams{
		IncludeTags: []string{"cat"},
		ExcludeTags: []string{"landscape"},
		Options:     CursorOptions{Limit: 10},
	})
	if err != nil {
		t.Fatalf("FilterImagesCursor() error: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("got %d items, want 1", len(page.Items))
	}
	if page.Items[0].Filepath != "a.png" {
		t.Errorf("got %q, want a.png", page.Items[0].Filepath)
	}
}

func TestCursorPaginationReturnsCorrectPages(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	insertWithPrompt(t, db, "a.png", "first", nil)
	insertWithPrompt(t, db, "b.png", "second", nil)
	insertWithPrompt(t, db, "c.png", "third", nil)

	ctx := context.Background()
	page1, err := db.GetImagesCursor(ctx, CursorOptions{Limit: 2})
	if err != nil {
		t.Fatalf("GetImagesCursor() error: %v", err)
	}
	if len(page1.Items) != 2 {
		t.Fatalf("page 1: got %d items, want 2", len(page1.Items))
	}
	if page1.NextCursor == "" {
		t.Fatal("page 1: expected a next cursor")
	}

	page2, err := db.GetImagesCursor(ctx, CursorOptions{Cursor: page1.NextCursor, Limit: 2})
	if err != nil {
		t.Fatalf("GetImagesCursor() error: %v", err)
	}
	if len(page2.Items) != 1 {
		t.Fatalf("page 2: got %d items, want 1", len(page2.Items))
	}
	if page2.Items[0].ID == page1.Items[0].ID || page2.Items[0].ID == page1.Items[1].ID {
		t.Error("page 2 repeated an item from page 1")
	}
}

func TestSortedCursorPaginationByFilename(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	insertWithPrompt(t, db, "charlie.png", "third", nil)
	insertWithPrompt(t, db, "alpha.png", "first", nil)
	insertWithPrompt(t, db, "bravo.png", "second", nil)

	ctx := context.Background()
	page1, err := db.GetImagesCursor(ctx, CursorOptions{Limit: 2, SortBy: "name_asc"})
	if err != nil {
		t.Fatalf("GetImagesCursor() error: %v", err)
	}
	if len(page1.Items) != 2 {
		t.Fatalf("page 1: got %d items, want 2", len(page1.Items))
	}
	if page1.Items[0].Filename != "alpha.png" || page1.Items[1].Filename != "bravo.png" {
		t.Errorf("page 1 order wrong: %q, %q", page1.Items[0].Filename, page1.Items[1].Filename)
	}

	page2, err := db.GetImagesCursor(ctx, CursorOptions{Cursor: page1.NextCursor, Limit: 2, SortBy: "name_asc"})
	if err != nil {
		t.Fatalf("GetImagesCursor() error: %v", err)
	}
	if len(page2.Items) != 1 || page2.Items[0].Filename != "charlie.png" {
		t.Fatalf("page 2: got %+v, want only charlie.png", page2.Items)
	}
}

func TestTrigramSearchFindsSubstring(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	insertWithPrompt(t, db, "a.png", "concatenation is fun", nil)
	insertWithPrompt(t, db, "b.png", "hello world", nil)

	page, err := db.SearchCursor(context.Background(), SearchParams{
		Query:   "cat",
		Options: CursorOptions{Limit: 10},
	})
	if err != nil {
		t.Fatalf("SearchCursor() error: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("got %d items, want 1", len(page.Items))
	}
	if page.Items[0].Filepath != "a.png" {
		t.Errorf("got %q, want a.png", page.Items[0].Filepath)
	}
}

func TestFilterFallsBackToTrigramForSubstrings(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	insertWithPrompt(t, db, "a.png", "donald trump portrait", []string{"portrait"})
	insertWithPrompt(t, db, "b.png", "landscape painting", []string{"landscape"})

	page, err := db.FilterImagesCursor(context.Background(), FilterParams{
		Query:       "ump",
		IncludeTags: []string{"portrait"},
		Options:     CursorOptions{Limit: 10},
	})
	if err != nil {
		t.Fatalf("FilterImagesCursor() error: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("got %d items, want 1", len(page.Items))
	}
	if page.Items[0].Filepath != "a.png" {
		t.Errorf("got %q, want a.png", page.Items[0].Filepath)
	}
}

func TestGridFilterMatchesGridsDirectoryFallback(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	gridPath := `E:\outputs\txt2img-grids\2025-09-16\grid-0001.png`
	normalPath := `E:\outputs\txt2img-images\2025-09-16\0001.png`

	gridParams := parser.Params{Prompt: "test grid image", RawMetadata: "test grid image"}
	if _, err := db.UpsertImage(ctx, gridPath, "grid-0001.png",
		`E:\outputs\txt2img-grids\2025-09-16`, &gridParams, 1); err != nil {
		t.Fatalf("UpsertImage(grid) error: %v", err)
	}
	normalParams := parser.Params{Prompt: "test normal image", RawMetadata: "test normal image"}
	if _, err := db.UpsertImage(ctx, normalPath, "0001.png",
		`E:\outputs\txt2img-images\2025-09-16`, &normalParams, 1); err != nil {
		t.Fatalf("UpsertImage(normal) error: %v", err)
	}

	page, err := db.GetImagesCursor(ctx, CursorOptions{
		Limit:           50,
		GenerationTypes: []string{"grid"},
	})
	if err != nil {
		t.Fatalf("GetImagesCursor() error: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("got %d items, want 1", len(page.Items))
	}
	if page.Items[0].Filepath != gridPath {
		t.Errorf("got %q, want %q", page.Items[0].Filepath, gridPath)
	}
}

func TestBulkUpsertWithTags(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	records := []BulkRecord{
		{
			Filepath:  "a.png",
			Filename:  "a.png",
			Directory: `c:\images`,
			Params:    parser.Params{Prompt: "cat portrait", RawMetadata: "cat portrait"},
			FileMtime: 100,
			FileSize:  1000,
			QuickHash: "aaaabbbbccccdddd11112222",
			Tags:      []string{"cat", "portrait"},
		},
		{
			Filepath:  "b.png",
			Filename:  "b.png",
			Directory: `c:\images`,
			Params:    parser.Params{Prompt: "dog landscape", RawMetadata: "dog landscape"},
			FileMtime: 200,
			FileSize:  2000,
			QuickHash: "eeeeffff0000111122223333",
			Tags:      []string{"dog", "landscape"},
		},
	}

	count, err := db.BulkUpsertWithTags(ctx, records)
	if err != nil {
		t.Fatalf("BulkUpsertWithTags() error: %v", err)
	}
	if count != 2 {
		t.Errorf("got count %d, want 2", count)
	}

	total, err := db.GetTotalCount(ctx)
	if err != nil {
		t.Fatalf("GetTotalCount() error: %v", err)
	}
	if total != 2 {
		t.Errorf("got total %d, want 2", total)
	}

	id, ok, err := db.GetImageIDByFilepath(ctx, "a.png")
	if err != nil || !ok {
		t.Fatalf("GetImageIDByFilepath() = (%d, %v, %v)", id, ok, err)
	}
	tags, err := db.GetTagsForImage(ctx, id)
	if err != nil {
		t.Fatalf("GetTagsForImage() error: %v", err)
	}
	if len(tags) != 2 || tags[0] != "cat" || tags[1] != "portrait" {
		t.Errorf("got tags %v, want [cat portrait]", tags)
	}
}

func TestBulkUpsertIsIdempotent(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	record := BulkRecord{
		Filepath:  "a.png",
		Filename:  "a.png",
		Directory: `c:\images`,
		Params:    parser.Params{Prompt: "cat portrait", RawMetadata: "cat portrait"},
		FileMtime: 100,
		Tags:      []string{"cat"},
	}

	for i := 0; i < 2; i++ {
		if _, err := db.BulkUpsertWithTags(ctx, []BulkRecord{record}); err != nil {
			t.Fatalf("BulkUpsertWithTags() pass %d error: %v", i+1, err)
		}
	}

	total, err := db.GetTotalCount(ctx)
	if err != nil {
		t.Fatalf("GetTotalCount() error: %v", err)
	}
	if total != 1 {
		t.Errorf("got total %d, want 1", total)
	}
}

func TestGetAllFileMtimes(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	insertWithPrompt(t, db, "a.png", "test", nil)
	insertWithPrompt(t, db, "b.png", "test", nil)

	mtimes, err := db.GetAllFileMtimes(context.Background())
	if err != nil {
		t.Fatalf("GetAllFileMtimes() error: %v", err)
	}
	if len(mtimes) != 2 {
		t.Fatalf("got %d entries, want 2", len(mtimes))
	}
	if mtimes["a.png"] != 1 || mtimes["b.png"] != 1 {
		t.Errorf("got %v, want both mtimes == 1", mtimes)
	}
}

func TestDeleteImagesPrunesOrphanTags(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()
	insertWithPrompt(t, db, "a.png", "cat", []string{"cat", "solo"})
	insertWithPrompt(t, db, "b.png", "cat", []string{"cat"})

	id, ok, err := db.GetImageIDByFilepath(ctx, "a.png")
	if err != nil || !ok {
		t.Fatalf("GetImageIDByFilepath() = (%d, %v, %v)", id, ok, err)
	}

	deleted, err := db.DeleteImagesByIDs(ctx, []int64{id})
	if err != nil {
		t.Fatalf("DeleteImagesByIDs() error: %v", err)
	}
	if deleted != 1 {
		t.Errorf("got %d deleted, want 1", deleted)
	}

	tags, err := db.ListTags(ctx, "", 100)
	if err != nil {
		t.Fatalf("ListTags() error: %v", err)
	}
	if len(tags) != 1 || tags[0] != "cat" {
		t.Errorf("got tags %v, want only [cat] after orphan prune", tags)
	}
}

func TestSetFavoriteAndLockedFlags(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()
	insertWithPrompt(t, db, "a.png", "cat", nil)

	id, ok, err := db.GetImageIDByFilepath(ctx, "a.png")
	if err != nil || !ok {
		t.Fatalf("GetImageIDByFilepath() = (%d, %v, %v)", id, ok, err)
	}

	if _, err := db.SetImagesFavorite(ctx, []int64{id}, true); err != nil {
		t.Fatalf("SetImagesFavorite() error: %v", err)
	}
	if _, err := db.SetImagesLocked(ctx, []int64{id}, true); err != nil {
		t.Fatalf("SetImagesLocked() error: %v", err)
	}

	img, ok, err := db.GetImageByID(ctx, id)
	if err != nil || !ok {
		t.Fatalf("GetImageByID() = (_, %v, %v)", ok, err)
	}
	if !img.IsFavorite || !img.IsLocked {
		t.Errorf("flags not set: favorite=%v locked=%v", img.IsFavorite, img.IsLocked)
	}
}

func TestUpdateImageLocation(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()
	insertWithPrompt(t, db, "old/a.png", "cat", nil)

	id, ok, err := db.GetImageIDByFilepath(ctx, "old/a.png")
	if err != nil || !ok {
		t.Fatalf("GetImageIDByFilepath() = (%d, %v, %v)", id, ok, err)
	}

	moved, err := db.UpdateImageLocation(ctx, id, "new/a.png", "a.png", "new")
	if err != nil {
		t.Fatalf("UpdateImageLocation() error: %v", err)
	}
	if !moved {
		t.Fatal("UpdateImageLocation() reported no rows updated")
	}

	if _, ok, _ := db.GetImageIDByFilepath(ctx, "old/a.png"); ok {
		t.Error("old filepath still resolves after move")
	}
	newID, ok, err := db.GetImageIDByFilepath(ctx, "new/a.png")
	if err != nil || !ok || newID != id {
		t.Errorf("GetImageIDByFilepath(new) = (%d, %v, %v), want id %d", newID, ok, err, id)
	}
}

func TestQuickHashLookups(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	records := []BulkRecord{
		{Filepath: "lib/a.png", Filename: "a.png", Directory: "lib",
			Params: parser.Params{Prompt: "cat"}, FileMtime: 1, QuickHash: "deadbeef00112233"},
		{Filepath: "lib/copy.png", Filename: "copy.png", Directory: "lib",
			Params: parser.Params{Prompt: "cat"}, FileMtime: 2, QuickHash: "deadbeef00112233"},
		{Filepath: "lib/b.png", Filename: "b.png", Directory: "lib",
			Params: parser.Params{Prompt: "dog"}, FileMtime: 3},
	}
	if _, err := db.BulkUpsertWithTags(ctx, records); err != nil {
		t.Fatalf("BulkUpsertWithTags() error: %v", err)
	}

	aID, ok, err := db.GetImageIDByFilepath(ctx, "lib/a.png")
	if err != nil || !ok {
		t.Fatalf("GetImageIDByFilepath() = (%d, %v, %v)", aID, ok, err)
	}
	hash, err := db.GetImageQuickHash(ctx, aID)
	if err != nil {
		t.Fatalf("GetImageQuickHash() error: %v", err)
	}
	if hash != "deadbeef00112233" {
		t.Errorf("GetImageQuickHash() = %q, want deadbeef00112233", hash)
	}

	bID, _, _ := db.GetImageIDByFilepath(ctx, "lib/b.png")
	hash, err = db.GetImageQuickHash(ctx, bID)
	if err != nil {
		t.Fatalf("GetImageQuickHash(no hash) error: %v", err)
	}
	if hash != "" {
		t.Errorf("GetImageQuickHash(no hash) = %q, want empty", hash)
	}

	twins, err := db.FindImagesByQuickHash(ctx, "deadbeef00112233")
	if err != nil {
		t.Fatalf("FindImagesByQuickHash() error: %v", err)
	}
	if len(twins) != 2 {
		t.Fatalf("FindImagesByQuickHash() returned %d rows, want 2", len(twins))
	}
	if twins[0].Filepath != "lib/a.png" || twins[1].Filepath != "lib/copy.png" {
		t.Errorf("twins = %+v, want a.png then copy.png", twins)
	}

	if _, err := db.GetImageQuickHash(ctx, 999999); err != nil {
		t.Errorf("GetImageQuickHash(unknown id) error: %v, want nil", err)
	}
}

// No t.Parallel: reads a process-wide counter.
func TestQueryInstrumentationRecorded(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	counter := metrics.DBQueryTotal.WithLabelValues("get_total_count", "success")
	before := testutil.ToFloat64(counter)

	if _, err := db.GetTotalCount(ctx); err != nil {
		t.Fatalf("GetTotalCount() error: %v", err)
	}

	if after := testutil.ToFloat64(counter); after < before+1 {
		t.Errorf("forge_db_queries_total{get_total_count,success} = %v, want >= %v", after, before+1)
	}
}

func TestNormalizeGenerationTypes(t *testing.T) {
	t.Parallel()
	got := normalizeGenerationTypes([]string{"Txt2Image", "txt2img", "GRIDS", "bogus", "Extras"})
	want := []string{"txt2img", "grid", "upscale"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNormalizeModelFamily(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"Pony XL", "ponyxl", true},
		{"pony", "ponyxl", true},
		{"SDXL", "sdxl", true},
		{"z-image turbo", "zimage_turbo", true},
		{"SD 1.5", "sd15", true},
		{"flux", "flux", true},
		{"mystery", "", false},
	}

	for _, tt := range tests {
		got, ok := normalizeModelFamily(tt.input)
		if got != tt.want || ok != tt.ok {
			t.Errorf("normalizeModelFamily(%q) = (%q, %v), want (%q, %v)",
				tt.input, got, ok, tt.want, tt.ok)
		}
	}
}

func TestHotQueryPlansUseExpectedIndexes(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	insertWithPrompt(t, db, "a.png", "cat hero portrait", []string{"cat", "hero"})
	insertWithPrompt(t, db, "b.png", "cat landscape", []string{"cat", "landscape"})

	plans := []struct {
		name      string
		query     string
		args      []any
		wantIndex string
	}{
		{
			"generation type",
			"SELECT id FROM images WHERE generation_type = ? ORDER BY id DESC LIMIT 20",
			[]any{"unknown"},
			"idx_images_generation_type_id",
		},
		{
			"model name",
			"SELECT id FROM images WHERE model_name = ? COLLATE NOCASE ORDER BY id DESC LIMIT 20",
			[]any{"unknown"},
			"idx_images_model_name_nocase_id",
		},
	}

	for _, tt := range plans {
		t.Run(tt.name, func(t *testing.T) {
			details := explainDetails(t, db, "EXPLAIN QUERY PLAN "+tt.query, tt.args)
			found := false
			for _, detail := range details {
				if strings.Contains(detail, tt.wantIndex) {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("expected plan to use %s, got %v", tt.wantIndex, details)
			}
		})
	}
}

func explainDetails(t *testing.T, db *Database, query string, args []any) []string {
	t.Helper()
	rows, err := db.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		t.Fatalf("explain query error: %v", err)
	}
	defer rows.Close()

	var details []string
	for rows.Next() {
		var id, parent, notUsed int
		var detail string
		if err := rows.Scan(&id, &parent, &notUsed, &detail); err != nil {
			t.Fatalf("explain scan error: %v", err)
		}
		details = append(details, detail)
	}
	return details
}

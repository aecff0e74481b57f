package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soficis/forge-meta-link/internal/logging"
	"github.com/soficis/forge-meta-link/internal/metrics"
)

const galleryColumns = "images.id, images.filepath, images.filename, images.directory, " +
	"images.seed, images.width, images.height, images.model_name, images.is_favorite, images.is_locked"

// GetImagesCursor pages through the library with keyset pagination,
// which stays O(1) no matter how deep the caller scrolls.
func (d *Database) GetImagesCursor(ctx context.Context, opts CursorOptions) (CursorPage, error) {
	start := time.Now()
	page, err := d.getImagesCursor(ctx, opts)
	d.recordQuery("get_images_cursor", start, err)
	return page, err
}

func (d *Database) getImagesCursor(ctx context.Context, opts CursorOptions) (CursorPage, error) {
	sort := sortConfigFor(opts.SortBy)

	var sql strings.Builder
	sql.WriteString("SELECT ")
	sql.WriteString(galleryColumns)
	if sort.field != "id" {
		fmt.Fprintf(&sql, ", %s AS sort_value", sort.sortExpr())
	}
	sql.WriteString(" FROM images WHERE 1=1")

	var args []any
	appendGenerationTypeFilter(&sql, &args, normalizeGenerationTypes(opts.GenerationTypes))
	appendModelFilter(&sql, &args, opts.ModelFilter, "images")
	appendModelFamilyFilter(&sql, &args, normalizeModelFamilyFilters(opts.ModelFamilyFilters), "images")
	if token, ok := decodeCursor(opts.Cursor); ok {
		appendCursorPredicate(&sql, &args, sort, token, "images.id")
	}
	fmt.Fprintf(&sql, " ORDER BY %s LIMIT ?", sort.orderClause())
	args = append(args, opts.Limit)

	return d.queryCursorPage(ctx, sort, sql.String(), args)
}

// SearchCursor runs a full-text search with cursor pagination. Porter
// stemming is tried first; when it matches nothing, the raw query is
// retried against the trigram index so substrings still turn up hits.
func (d *Database) SearchCursor(ctx context.Context, params SearchParams) (CursorPage, error) {
	start := time.Now()
	page, err := d.searchCursorPorter(ctx, params)
	d.recordQuery("search_cursor", start, err)
	if err != nil {
		return page, err
	}
	if len(page.Items) > 0 {
		return page, nil
	}

	metrics.SearchFallbacksTotal.Inc()
	logging.Debug("Search: porter matched nothing for %q, retrying with trigram index", params.Query)
	fallbackStart := time.Now()
	page, err = d.searchCursorTrigram(ctx, params)
	d.recordQuery("search_cursor_trigram", fallbackStart, err)
	return page, err
}

func (d *Database) searchCursorPorter(ctx context.Context, params SearchParams) (CursorPage, error) {
	sanitized := sanitizeFTSQuery(params.Query)
	if sanitized == "" {
		return CursorPage{Items: []GalleryImage{}}, nil
	}
	return d.ftsCursorQuery(ctx, "images_fts", sanitized, params.Options, nil, nil)
}

func (d *Database) searchCursorTrigram(ctx context.Context, params SearchParams) (CursorPage, error) {
	sanitized := strings.TrimSpace(params.Query)
	if sanitized == "" || !containsSearchToken(sanitized) {
		return CursorPage{Items: []GalleryImage{}}, nil
	}
	return d.ftsCursorQuery(ctx, "images_fts_tri", trigramMatchExpr(sanitized), params.Options, nil, nil)
}

// FilterImagesCursor combines an optional full-text query with tag
// include/exclude sets. Same porter-then-trigram strategy as
// SearchCursor, but the trigram retry only happens when a text query
// is present; pure tag filters have nothing to fall back on.
func (d *Database) FilterImagesCursor(ctx context.Context, params FilterParams) (CursorPage, error) {
	start := time.Now()
	page, err := d.filterImagesCursorPorter(ctx, params)
	d.recordQuery("filter_images_cursor", start, err)
	if err != nil {
		return page, err
	}
	if len(page.Items) > 0 || strings.TrimSpace(params.Query) == "" {
		return page, nil
	}

	metrics.SearchFallbacksTotal.Inc()
	logging.Debug("Filter: porter matched nothing for %q, retrying with trigram index", params.Query)
	fallbackStart := time.Now()
	page, err = d.filterImagesCursorTrigram(ctx, params)
	d.recordQuery("filter_images_cursor_trigram", fallbackStart, err)
	return page, err
}

func (d *Database) filterImagesCursorPorter(ctx context.Context, params FilterParams) (CursorPage, error) {
	sort := sortConfigFor(params.Options.SortBy)

	var sql strings.Builder
	sql.WriteString("SELECT ")
	sql.WriteString(galleryColumns)
	if sort.field != "id" {
		fmt.Fprintf(&sql, ", %s AS sort_value", sort.sortExpr())
	}
	sql.WriteString(" FROM images")

	var args []any
	if params.Query != "" {
		sanitized := sanitizeFTSQuery(params.Query)
		if sanitized == "" {
			return CursorPage{Items: []GalleryImage{}}, nil
		}
		sql.WriteString(" JOIN images_fts ON images.id = images_fts.rowid WHERE images_fts MATCH ?")
		args = append(args, sanitized)
	} else {
		sql.WriteString(" WHERE 1=1")
	}

	appendGenerationTypeFilter(&sql, &args, normalizeGenerationTypes(params.Options.GenerationTypes))
	appendModelFilter(&sql, &args, params.Options.ModelFilter, "images")
	appendModelFamilyFilter(&sql, &args, normalizeModelFamilyFilters(params.Options.ModelFamilyFilters), "images")
	appendTagPredicates(&sql, &args, params.IncludeTags, params.ExcludeTags)
	if token, ok := decodeCursor(params.Options.Cursor); ok {
		appendCursorPredicate(&sql, &args, sort, token, "images.id")
	}
	fmt.Fprintf(&sql, " ORDER BY %s LIMIT ?", sort.orderClause())
	args = append(args, params.Options.Limit)

	return d.queryCursorPage(ctx, sort, sql.String(), args)
}

func (d *Database) filterImagesCursorTrigram(ctx context.Context, params FilterParams) (CursorPage, error) {
	sanitized := strings.TrimSpace(params.Query)
	if sanitized == "" || !containsSearchToken(sanitized) {
		return CursorPage{Items: []GalleryImage{}}, nil
	}
	return d.ftsCursorQuery(ctx, "images_fts_tri", trigramMatchExpr(sanitized),
		params.Options, params.IncludeTags, params.ExcludeTags)
}

// ftsCursorQuery builds and runs a cursor-paginated query joined
// against one of the two FTS tables.
func (d *Database) ftsCursorQuery(ctx context.Context, ftsTable, matchExpr string, opts CursorOptions, includeTags, excludeTags []string) (CursorPage, error) {
	sort := sortConfigFor(opts.SortBy)

	var sql strings.Builder
	sql.WriteString("SELECT ")
	sql.WriteString(galleryColumns)
	if sort.field != "id" {
		fmt.Fprintf(&sql, ", %s AS sort_value", sort.sortExpr())
	}
	fmt.Fprintf(&sql, " FROM images JOIN %s ON images.id = %s.rowid WHERE %s MATCH ?", ftsTable, ftsTable, ftsTable)

	args := []any{matchExpr}
	appendGenerationTypeFilter(&sql, &args, normalizeGenerationTypes(opts.GenerationTypes))
	appendModelFilter(&sql, &args, opts.ModelFilter, "images")
	appendModelFamilyFilter(&sql, &args, normalizeModelFamilyFilters(opts.ModelFamilyFilters), "images")
	appendTagPredicates(&sql, &args, includeTags, excludeTags)
	if token, ok := decodeCursor(opts.Cursor); ok {
		appendCursorPredicate(&sql, &args, sort, token, "images.id")
	}
	fmt.Fprintf(&sql, " ORDER BY %s LIMIT ?", sort.orderClause())
	args = append(args, opts.Limit)

	return d.queryCursorPage(ctx, sort, sql.String(), args)
}

func (d *Database) queryCursorPage(ctx context.Context, sort sortConfig, query string, args []any) (CursorPage, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return CursorPage{}, fmt.Errorf("cursor query: %w", err)
	}
	defer rows.Close()

	items := []GalleryImage{}
	var lastSortValue string
	for rows.Next() {
		var (
			record    GalleryImage
			sortValue string
		)
		if sort.field == "id" {
			record, err = scanGalleryImage(rows)
		} else {
			record, sortValue, err = scanGalleryImageWithSort(rows)
		}
		if err != nil {
			return CursorPage{}, fmt.Errorf("scan gallery row: %w", err)
		}
		items = append(items, record)
		lastSortValue = sortValue
	}
	if err := rows.Err(); err != nil {
		return CursorPage{}, err
	}

	page := CursorPage{Items: items}
	if len(items) > 0 {
		last := items[len(items)-1]
		if sort.field == "id" {
			page.NextCursor = encodeCursor(last.ID, nil)
		} else {
			page.NextCursor = encodeCursor(last.ID, &lastSortValue)
		}
	}
	return page, nil
}

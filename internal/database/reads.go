package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const imageColumns = `id, filepath, filename, directory, prompt, negative_prompt,
	steps, sampler, cfg_scale, seed, width, height,
	model_hash, model_name, raw_metadata, is_favorite, is_locked`

// ListTags returns tags for autocomplete, optionally restricted to a
// prefix.
func (d *Database) ListTags(ctx context.Context, prefix string, limit int) ([]string, error) {
	start := time.Now()
	tags, err := d.listTags(ctx, prefix, limit)
	d.recordQuery("list_tags", start, err)
	return tags, err
}

func (d *Database) listTags(ctx context.Context, prefix string, limit int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var (
		rows *sql.Rows
		err  error
	)
	if prefix != "" {
		rows, err = d.db.QueryContext(ctx,
			"SELECT tag FROM tags WHERE tag LIKE ? ORDER BY tag ASC LIMIT ?",
			strings.ToLower(strings.TrimSpace(prefix))+"%", limit)
	} else {
		rows, err = d.db.QueryContext(ctx,
			"SELECT tag FROM tags ORDER BY tag ASC LIMIT ?", limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// GetTopTags returns the most used tags for quick filter chips.
func (d *Database) GetTopTags(ctx context.Context, limit int) ([]TagCount, error) {
	start := time.Now()
	tags, err := d.getTopTags(ctx, limit)
	d.recordQuery("get_top_tags", start, err)
	return tags, err
}

func (d *Database) getTopTags(ctx context.Context, limit int) ([]TagCount, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		`SELECT tags.tag, COUNT(*) as usage_count
		 FROM tags
		 JOIN image_tags ON image_tags.tag_id = tags.id
		 GROUP BY tags.id, tags.tag
		 ORDER BY usage_count DESC, tags.tag ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := []TagCount{}
	for rows.Next() {
		var tag TagCount
		if err := rows.Scan(&tag.Tag, &tag.Count); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// GetTagsForImage returns the tags attached to one image, sorted.
func (d *Database) GetTagsForImage(ctx context.Context, imageID int64) ([]string, error) {
	start := time.Now()
	rows, err := d.db.QueryContext(ctx,
		`SELECT tags.tag
		 FROM image_tags
		 JOIN tags ON tags.id = image_tags.tag_id
		 WHERE image_tags.image_id = ?
		 ORDER BY tags.tag ASC`, imageID)
	if err != nil {
		d.recordQuery("get_tags_for_image", start, err)
		return nil, err
	}
	defer rows.Close()

	tags, err := scanStrings(rows)
	d.recordQuery("get_tags_for_image", start, err)
	return tags, err
}

// GetUniqueDirectories returns each indexed directory with its image
// count, busiest first.
func (d *Database) GetUniqueDirectories(ctx context.Context) ([]DirectoryEntry, error) {
	start := time.Now()
	rows, err := d.db.QueryContext(ctx,
		`SELECT directory, COUNT(*) as cnt
		 FROM images
		 GROUP BY directory
		 ORDER BY cnt DESC, directory ASC`)
	if err != nil {
		d.recordQuery("get_unique_directories", start, err)
		return nil, err
	}
	defer rows.Close()

	dirs := []DirectoryEntry{}
	for rows.Next() {
		var dir DirectoryEntry
		if err := rows.Scan(&dir.Directory, &dir.Count); err != nil {
			d.recordQuery("get_unique_directories", start, err)
			return nil, err
		}
		dirs = append(dirs, dir)
	}
	err = rows.Err()
	d.recordQuery("get_unique_directories", start, err)
	return dirs, err
}

// GetUniqueModels returns each model name with its image count.
// Images with no recorded model are grouped under "Unknown".
func (d *Database) GetUniqueModels(ctx context.Context) ([]ModelEntry, error) {
	start := time.Now()
	rows, err := d.db.QueryContext(ctx,
		`SELECT COALESCE(model_name, 'Unknown') as model, COUNT(*) as cnt
		 FROM images
		 GROUP BY model
		 ORDER BY cnt DESC, model ASC`)
	if err != nil {
		d.recordQuery("get_unique_models", start, err)
		return nil, err
	}
	defer rows.Close()

	models := []ModelEntry{}
	for rows.Next() {
		var model ModelEntry
		if err := rows.Scan(&model.ModelName, &model.Count); err != nil {
			d.recordQuery("get_unique_models", start, err)
			return nil, err
		}
		models = append(models, model)
	}
	err = rows.Err()
	d.recordQuery("get_unique_models", start, err)
	return models, err
}

// GetImagesByIDs fetches full records for explicit ids, newest first.
// Used by export and batch actions.
func (d *Database) GetImagesByIDs(ctx context.Context, ids []int64) ([]Image, error) {
	if len(ids) == 0 {
		return []Image{}, nil
	}

	start := time.Now()
	query := fmt.Sprintf(
		"SELECT %s FROM images WHERE id IN (%s) ORDER BY id DESC",
		imageColumns, placeholders(len(ids)))
	rows, err := d.db.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		d.recordQuery("get_images_by_ids", start, err)
		return nil, err
	}
	defer rows.Close()

	images := []Image{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			d.recordQuery("get_images_by_ids", start, err)
			return nil, err
		}
		images = append(images, img)
	}
	err = rows.Err()
	d.recordQuery("get_images_by_ids", start, err)
	return images, err
}

// GetImageQuickHash returns the stored content fingerprint for an id,
// or "" when none was recorded.
func (d *Database) GetImageQuickHash(ctx context.Context, id int64) (string, error) {
	start := time.Now()
	var hash sql.NullString
	err := d.db.QueryRowContext(ctx,
		"SELECT quick_hash FROM images WHERE id = ?", id).Scan(&hash)
	if err == sql.ErrNoRows {
		d.recordQuery("get_quick_hash", start, nil)
		return "", nil
	}
	d.recordQuery("get_quick_hash", start, err)
	return hash.String, err
}

// ImageRef is a minimal (id, filepath) pair for relocation matching.
type ImageRef struct {
	ID       int64
	Filepath string
}

// FindImagesByQuickHash returns all rows sharing a content
// fingerprint. Move detection matches a vanished file against its
// re-indexed copy this way.
func (d *Database) FindImagesByQuickHash(ctx context.Context, hash string) ([]ImageRef, error) {
	start := time.Now()
	rows, err := d.db.QueryContext(ctx,
		"SELECT id, filepath FROM images WHERE quick_hash = ? ORDER BY id ASC", hash)
	if err != nil {
		d.recordQuery("find_by_quick_hash", start, err)
		return nil, err
	}
	defer rows.Close()

	refs := []ImageRef{}
	for rows.Next() {
		var ref ImageRef
		if err := rows.Scan(&ref.ID, &ref.Filepath); err != nil {
			d.recordQuery("find_by_quick_hash", start, err)
			return nil, err
		}
		refs = append(refs, ref)
	}
	err = rows.Err()
	d.recordQuery("find_by_quick_hash", start, err)
	return refs, err
}

// GetTotalCount returns the number of indexed images.
func (d *Database) GetTotalCount(ctx context.Context) (int, error) {
	start := time.Now()
	var count int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM images").Scan(&count)
	d.recordQuery("get_total_count", start, err)
	return count, err
}

// GetAllImageFilepathsDesc returns every indexed source path, newest
// first. Thumbnail precache walks this list.
func (d *Database) GetAllImageFilepathsDesc(ctx context.Context) ([]string, error) {
	start := time.Now()
	rows, err := d.db.QueryContext(ctx, "SELECT filepath FROM images ORDER BY id DESC")
	if err != nil {
		d.recordQuery("get_all_filepaths", start, err)
		return nil, err
	}
	defer rows.Close()

	paths, err := scanStrings(rows)
	d.recordQuery("get_all_filepaths", start, err)
	return paths, err
}

// GetImageByID returns one full record, or (zero, false) if the id is
// unknown.
func (d *Database) GetImageByID(ctx context.Context, id int64) (Image, bool, error) {
	start := time.Now()
	query := fmt.Sprintf("SELECT %s FROM images WHERE id = ? LIMIT 1", imageColumns)
	img, err := scanImage(d.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		d.recordQuery("get_image_by_id", start, nil)
		return Image{}, false, nil
	}
	d.recordQuery("get_image_by_id", start, err)
	if err != nil {
		return Image{}, false, err
	}
	return img, true, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	values := []string{}
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

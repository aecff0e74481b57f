package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"github.com/soficis/forge-meta-link/internal/logging"
	"github.com/soficis/forge-meta-link/internal/metrics"
	"github.com/soficis/forge-meta-link/internal/parser"
	"github.com/soficis/forge-meta-link/internal/workers"
)

// Default timeout for single database operations
const defaultTimeout = 5 * time.Second

// Database manages all index operations. Safe for concurrent use;
// database/sql provides the connection pool.
type Database struct {
	db     *sql.DB
	dbPath string
}

// New opens or creates the SQLite index at dbPath. The connection
// pool is sized for the given storage profile. The parent directory
// must already exist and be writable.
func New(ctx context.Context, dbPath string, profile workers.StorageProfile) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	connStr := fmt.Sprintf(
		"%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-262144&_temp_store=MEMORY&_busy_timeout=5000&_foreign_keys=ON",
		dbPath,
	)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	poolSize := workers.DBPoolSize(profile)
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{db: db, dbPath: dbPath}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s (pool size %d)", dbPath, poolSize)
	return d, nil
}

func (d *Database) initialize(ctx context.Context) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("initialize_schema", start, err) }()

	schema := `
	-- Main images table
	CREATE TABLE IF NOT EXISTS images (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filepath TEXT UNIQUE NOT NULL,
		filename TEXT NOT NULL,
		directory TEXT NOT NULL,
		prompt TEXT NOT NULL DEFAULT '',
		negative_prompt TEXT NOT NULL DEFAULT '',
		steps TEXT,
		sampler TEXT,
		schedule_type TEXT,
		cfg_scale TEXT,
		seed TEXT,
		width INTEGER,
		height INTEGER,
		model_hash TEXT,
		model_name TEXT,
		generation_type TEXT,
		raw_metadata TEXT NOT NULL DEFAULT '',
		extra_params TEXT,
		file_mtime INTEGER,
		file_size INTEGER,
		quick_hash TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err = d.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	if err = d.ensureOptionalColumns(ctx); err != nil {
		return err
	}
	if err = d.backfillGenerationTypes(ctx); err != nil {
		return err
	}

	ftsSchema := `
	-- Porter FTS (ranked word-boundary search)
	CREATE VIRTUAL TABLE IF NOT EXISTS images_fts USING fts5(
		prompt,
		negative_prompt,
		raw_metadata,
		model_name,
		content='images',
		content_rowid='id',
		tokenize='porter unicode61'
	);

	CREATE TRIGGER IF NOT EXISTS images_ai AFTER INSERT ON images BEGIN
		INSERT INTO images_fts(rowid, prompt, negative_prompt, raw_metadata, model_name)
		VALUES (new.id, new.prompt, new.negative_prompt, new.raw_metadata, new.model_name);
	END;
	CREATE TRIGGER IF NOT EXISTS images_ad AFTER DELETE ON images BEGIN
		INSERT INTO images_fts(images_fts, rowid, prompt, negative_prompt, raw_metadata, model_name)
		VALUES ('delete', old.id, old.prompt, old.negative_prompt, old.raw_metadata, old.model_name);
	END;
	CREATE TRIGGER IF NOT EXISTS images_au AFTER UPDATE ON images BEGIN
		INSERT INTO images_fts(images_fts, rowid, prompt, negative_prompt, raw_metadata, model_name)
		VALUES ('delete', old.id, old.prompt, old.negative_prompt, old.raw_metadata, old.model_name);
		INSERT INTO images_fts(rowid, prompt, negative_prompt, raw_metadata, model_name)
		VALUES (new.id, new.prompt, new.negative_prompt, new.raw_metadata, new.model_name);
	END;

	-- Trigram FTS (infix substring search)
	CREATE VIRTUAL TABLE IF NOT EXISTS images_fts_tri USING fts5(
		prompt,
		negative_prompt,
		raw_metadata,
		model_name,
		content='images',
		content_rowid='id',
		tokenize='trigram'
	);

	CREATE TRIGGER IF NOT EXISTS images_ai_tri AFTER INSERT ON images BEGIN
		INSERT INTO images_fts_tri(rowid, prompt, negative_prompt, raw_metadata, model_name)
		VALUES (new.id, new.prompt, new.negative_prompt, new.raw_metadata, new.model_name);
	END;
	CREATE TRIGGER IF NOT EXISTS images_ad_tri AFTER DELETE ON images BEGIN
		INSERT INTO images_fts_tri(images_fts_tri, rowid, prompt, negative_prompt, raw_metadata, model_name)
		VALUES ('delete', old.id, old.prompt, old.negative_prompt, old.raw_metadata, old.model_name);
	END;
	CREATE TRIGGER IF NOT EXISTS images_au_tri AFTER UPDATE ON images BEGIN
		INSERT INTO images_fts_tri(images_fts_tri, rowid, prompt, negative_prompt, raw_metadata, model_name)
		VALUES ('delete', old.id, old.prompt, old.negative_prompt, old.raw_metadata, old.model_name);
		INSERT INTO images_fts_tri(rowid, prompt, negative_prompt, raw_metadata, model_name)
		VALUES (new.id, new.prompt, new.negative_prompt, new.raw_metadata, new.model_name);
	END;

	-- Backfill trigram FTS for rows indexed before the table existed
	INSERT OR IGNORE INTO images_fts_tri(rowid, prompt, negative_prompt, raw_metadata, model_name)
	SELECT id, prompt, negative_prompt, raw_metadata, model_name FROM images
	WHERE id NOT IN (SELECT rowid FROM images_fts_tri);

	-- Tags
	CREATE TABLE IF NOT EXISTS tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tag TEXT UNIQUE NOT NULL
	);
	CREATE TABLE IF NOT EXISTS image_tags (
		image_id INTEGER NOT NULL,
		tag_id INTEGER NOT NULL,
		PRIMARY KEY (image_id, tag_id),
		FOREIGN KEY(image_id) REFERENCES images(id) ON DELETE CASCADE,
		FOREIGN KEY(tag_id) REFERENCES tags(id) ON DELETE CASCADE
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_images_seed ON images(seed);
	CREATE INDEX IF NOT EXISTS idx_images_sampler ON images(sampler);
	CREATE INDEX IF NOT EXISTS idx_images_model_hash ON images(model_hash);
	CREATE INDEX IF NOT EXISTS idx_images_directory ON images(directory);
	CREATE INDEX IF NOT EXISTS idx_tags_tag ON tags(tag);
	DROP INDEX IF EXISTS idx_image_tags_tag_id;
	DROP INDEX IF EXISTS idx_images_model_name;
	CREATE INDEX IF NOT EXISTS idx_images_filename ON images(filename);
	CREATE INDEX IF NOT EXISTS idx_images_file_mtime ON images(file_mtime);
	CREATE INDEX IF NOT EXISTS idx_images_file_size ON images(file_size);
	CREATE INDEX IF NOT EXISTS idx_images_quick_hash ON images(quick_hash);
	DROP INDEX IF EXISTS idx_images_generation_type;
	CREATE INDEX IF NOT EXISTS idx_image_tags_tag_id_image_id ON image_tags(tag_id, image_id);
	CREATE INDEX IF NOT EXISTS idx_images_model_name_nocase_id ON images(model_name COLLATE NOCASE, id DESC);
	CREATE INDEX IF NOT EXISTS idx_images_generation_type_id ON images(generation_type, id DESC);
	`
	_, err = d.db.ExecContext(ctx, ftsSchema)
	return err
}

// ensureOptionalColumns adds columns introduced after the initial
// schema. Additive only, so older database files keep working.
func (d *Database) ensureOptionalColumns(ctx context.Context) error {
	rows, err := d.db.QueryContext(ctx, "PRAGMA table_info(images)")
	if err != nil {
		return err
	}
	defer rows.Close()

	existing := make(map[string]struct{})
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dfltValue sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return err
		}
		existing[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	optional := []struct {
		name    string
		sqlType string
	}{
		{"file_mtime", "INTEGER"},
		{"file_size", "INTEGER"},
		{"quick_hash", "TEXT"},
		{"generation_type", "TEXT"},
		{"is_favorite", "INTEGER NOT NULL DEFAULT 0"},
		{"is_locked", "INTEGER NOT NULL DEFAULT 0"},
	}
	for _, column := range optional {
		if _, ok := existing[column.name]; ok {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE images ADD COLUMN %s %s", column.name, column.sqlType)
		if _, err := d.db.ExecContext(ctx, alter); err != nil {
			if !strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
				return err
			}
		}
	}
	return nil
}

// backfillGenerationTypes classifies rows indexed before the
// generation_type column existed.
func (d *Database) backfillGenerationTypes(ctx context.Context) error {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, raw_metadata
		 FROM images
		 WHERE generation_type IS NULL OR TRIM(generation_type) = ''`,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	type update struct {
		id             int64
		generationType string
	}
	var updates []update
	for rows.Next() {
		var id int64
		var rawMetadata string
		if err := rows.Scan(&id, &rawMetadata); err != nil {
			return err
		}
		updates = append(updates, update{id, parser.InferGenerationType(rawMetadata)})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}

	stmt, err := d.db.PrepareContext(ctx, "UPDATE images SET generation_type = ? WHERE id = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.generationType, u.id); err != nil {
			return err
		}
	}
	logging.Info("Backfilled generation_type for %d rows", len(updates))
	return nil
}

// Close closes the underlying connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// RebuildFTS rebuilds both full-text search indexes from the content
// table.
func (d *Database) RebuildFTS(ctx context.Context) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("rebuild_fts", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	if _, err = d.db.ExecContext(ctx, "INSERT INTO images_fts(images_fts) VALUES('rebuild')"); err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx, "INSERT INTO images_fts_tri(images_fts_tri) VALUES('rebuild')")
	return err
}

// Vacuum compacts the database file.
func (d *Database) Vacuum(ctx context.Context) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("vacuum", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	_, err = d.db.ExecContext(ctx, "VACUUM")
	return err
}

// Stats reports library totals for the metrics collector.
func (d *Database) Stats(ctx context.Context) (metrics.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var stats metrics.Stats
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM images").Scan(&stats.TotalImages); err != nil {
		return stats, err
	}
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tags").Scan(&stats.TotalTags); err != nil {
		return stats, err
	}
	return stats, nil
}

// GetStats satisfies metrics.StatsProvider for the collector loop.
func (d *Database) GetStats() metrics.Stats {
	stats, err := d.Stats(context.Background())
	if err != nil {
		logging.Warn("Failed to collect library stats: %v", err)
	}
	return stats
}

// UpdateDBMetrics refreshes connection pool gauges.
func (d *Database) UpdateDBMetrics() {
	stats := d.db.Stats()
	metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

func (d *Database) recordQuery(operation string, start time.Time, err error) {
	recordQuery(operation, start, err)
}

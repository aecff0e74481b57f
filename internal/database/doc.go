// Package database is the SQLite-backed index of scanned images and
// their generation metadata.
//
// A single database file holds the images table, the tags/image_tags
// relation, and two external-content FTS5 tables kept in sync by
// triggers: a porter-tokenized table for ranked word search and a
// trigram table for infix substring search. Search runs porter first
// and falls back to trigram when the ranked pass matches nothing.
//
// All list endpoints use keyset (cursor) pagination: the cursor is an
// opaque JSON blob carrying the last row's id and, for non-id sort
// orders, its sort value. Schema changes are additive only; missing
// columns are added by ALTER TABLE on startup so older database files
// keep working.
package database

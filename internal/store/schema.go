package store

// schema is applied by Init. Every statement is idempotent so Init can run on
// an existing database.
//
// item_vectors deliberately has NO foreign key: it models a vector side-index
// without referential integrity (the original virtual table cannot cascade).
// CleanupOrphanedVectors restores the invariant after each cycle.
const schema = `
CREATE TABLE IF NOT EXISTS sources (
	id              TEXT PRIMARY KEY,
	url             TEXT NOT NULL,
	type            TEXT NOT NULL CHECK (type IN ('feed','forum','video','file')),
	name            TEXT NOT NULL DEFAULT '',
	active          INTEGER NOT NULL DEFAULT 1,
	error_count     INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT,
	last_fetched_at INTEGER,
	etag            TEXT NOT NULL DEFAULT '',
	last_modified   TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	UNIQUE (url, type)
);

CREATE TABLE IF NOT EXISTS items (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id       TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	external_id     TEXT NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	url             TEXT NOT NULL DEFAULT '',
	content         TEXT NOT NULL DEFAULT '',
	summary         TEXT NOT NULL DEFAULT '',
	reading_summary TEXT NOT NULL DEFAULT '',
	analysis        TEXT NOT NULL DEFAULT '{}',
	priority        TEXT NOT NULL DEFAULT 'none' CHECK (priority IN ('high','medium','low','none')),
	published_at    INTEGER,
	fetched_at      INTEGER NOT NULL,
	read            INTEGER NOT NULL DEFAULT 0,
	favorited       INTEGER NOT NULL DEFAULT 0,
	notes           TEXT NOT NULL DEFAULT '',
	UNIQUE (source_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_items_priority_published ON items (priority, published_at);
CREATE INDEX IF NOT EXISTS idx_items_fetched ON items (fetched_at);

CREATE TABLE IF NOT EXISTS item_vectors (
	content_id INTEGER PRIMARY KEY,
	embedding  BLOB NOT NULL
);
`

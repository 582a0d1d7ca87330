package store

import (
	"context"
	"database/sql"
	"fmt"

	"silo/internal/config"
	"silo/internal/coreerr"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS data (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
	key           TEXT PRIMARY KEY,
	size          INTEGER NOT NULL,
	metadata      TEXT,
	last_modified TEXT NOT NULL,
	md5           TEXT NOT NULL,
	FOREIGN KEY (key) REFERENCES data(key) ON DELETE CASCADE
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS multipart_upload (
	upload_id     BLOB PRIMARY KEY,
	bucket        TEXT NOT NULL,
	key           TEXT NOT NULL,
	last_modified TEXT NOT NULL,
	access_key    TEXT,
	UNIQUE (upload_id, bucket, key)
);

CREATE TABLE IF NOT EXISTS multipart_upload_part (
	upload_id     BLOB NOT NULL,
	part_number   INTEGER NOT NULL,
	value         BLOB NOT NULL,
	size          INTEGER NOT NULL,
	md5           TEXT NOT NULL,
	last_modified TEXT NOT NULL,
	PRIMARY KEY (upload_id, part_number),
	FOREIGN KEY (upload_id) REFERENCES multipart_upload(upload_id) ON DELETE CASCADE
);
`

// applyPragmasAndSchema applies the configured pragmas in the order
// mandated by the Pragma & Schema Manager, creates the schema if absent,
// and verifies foreign-key enforcement actually took effect.
func applyPragmasAndSchema(ctx context.Context, db *sql.DB, p config.Pragmas, readOnly bool) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA journal_mode=%s", p.JournalMode),
		fmt.Sprintf("PRAGMA synchronous=%s", p.Synchronous),
		fmt.Sprintf("PRAGMA temp_store=%s", p.TempStore),
		fmt.Sprintf("PRAGMA cache_size=%d", p.CacheSize),
		"PRAGMA foreign_keys=ON",
	}
	if readOnly {
		pragmas = append(pragmas, "PRAGMA query_only=ON")
	}

	for _, stmt := range pragmas {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return coreerr.Internal("apply pragma", fmt.Errorf("%s: %w", stmt, err))
		}
	}

	var fkEnabled int
	if err := db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		return coreerr.Internal("verify foreign_keys pragma", err)
	}
	if fkEnabled != 1 {
		return coreerr.New(coreerr.InternalError, "foreign key enforcement is not active")
	}

	if !readOnly {
		if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
			return coreerr.Internal("create schema", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA analysis_limit=1000"); err != nil {
			return coreerr.Internal("apply analysis_limit pragma", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
			return coreerr.Internal("run optimize pragma", err)
		}
	}

	return nil
}

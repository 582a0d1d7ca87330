// Package store implements the storage engine and S3-semantic
// translator: per-bucket SQLite schemas, the object CRUD surface, the
// paginated listing protocol, and the multipart-upload state machine.
// It knows nothing about HTTP; it receives plain Go values and returns
// plain Go values or a *coreerr.Error.
package store

import (
	"context"
	"database/sql"
	"os"
	"time"

	"silo/internal/config"
	"silo/internal/coreerr"
)

// Store is the capability set named in the design notes: object CRUD,
// multipart, listing, and bucket admin. It is a concrete type; no
// interface is declared for it, and the HTTP layer holds a *Store
// directly.
type Store struct {
	cfg        config.Config
	registry   *Registry
	gcStop     chan struct{}
	gcTTL      time.Duration
	gcInterval time.Duration
}

// Open creates the root directory if needed, discovers existing bucket
// databases, runs a startup multipart GC sweep, and starts the periodic
// GC timer.
func Open(ctx context.Context, cfg config.Config) (*Store, error) {
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, coreerr.Internal("create root directory", err)
	}

	registry := NewRegistry(cfg.Root, cfg.ConcurrencyLimit)
	if err := registry.Discover(ctx, cfg); err != nil {
		return nil, err
	}

	s := &Store{
		cfg:        cfg,
		registry:   registry,
		gcStop:     make(chan struct{}),
		gcTTL:      7 * 24 * time.Hour,
		gcInterval: 15 * time.Minute,
	}

	s.gcSweepAll(ctx)
	go s.gcLoop()

	return s, nil
}

// Close stops the GC loop and closes every open bucket handle.
func (s *Store) Close() error {
	close(s.gcStop)
	s.registry.CloseAll()
	return nil
}

// ReadOnly reports whether mutating operations against bucket are
// currently rejected, per the Admission Controller's read-only gate.
func (s *Store) ReadOnly(bucket string) bool {
	return s.cfg.BucketReadOnly(bucket) || s.registry.ReadOnly(bucket)
}

// withTx runs fn inside a transaction on conn, rolling back on error or
// panic and committing otherwise — the same shape as the teacher's
// withTransaction, adapted to a borrowed *sql.Conn instead of a *sql.DB.
func withTx(ctx context.Context, conn *sql.Conn, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a documented no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

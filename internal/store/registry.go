package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"silo/internal/config"
	"silo/internal/coreerr"

	_ "modernc.org/sqlite"
)

// sidecarSuffixes are the SQLite side files that travel with a bucket's
// database file and must be removed together with it.
var sidecarSuffixes = []string{"-wal", "-shm", "-journal"}

type bucketHandle struct {
	db        *sql.DB
	pragmas   config.Pragmas
	readOnly  bool
	createdAt string
}

// Registry maps bucket name to a bounded pool of database handles. Each
// bucket's *sql.DB is itself a connection pool, bounded to
// concurrencyLimit open connections — the same bound the Admission
// Controller enforces globally, so a single slow bucket can never starve
// the rest of the fleet of handles.
type Registry struct {
	mu               sync.RWMutex
	root             string
	concurrencyLimit int
	buckets          map[string]*bucketHandle
}

func NewRegistry(root string, concurrencyLimit int) *Registry {
	return &Registry{
		root:             root,
		concurrencyLimit: concurrencyLimit,
		buckets:          make(map[string]*bucketHandle),
	}
}

func (r *Registry) dbPath(bucket string) string {
	return filepath.Join(r.root, bucket+".sqlite3")
}

func (r *Registry) sidecarPaths(bucket string) []string {
	base := r.dbPath(bucket)
	paths := make([]string, len(sidecarSuffixes))
	for i, suf := range sidecarSuffixes {
		paths[i] = base + suf
	}
	return paths
}

// Discover scans root for existing "<bucket>.sqlite3" files and opens each
// one, applying the effective per-bucket configuration. Called once at
// startup, matching the original engine's pool-map startup scan.
func (r *Registry) Discover(ctx context.Context, cfg config.Config) error {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return coreerr.Internal("list root directory", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		const suffix = ".sqlite3"
		if filepath.Ext(name) != suffix {
			continue
		}
		bucket := name[:len(name)-len(suffix)]
		if err := r.open(ctx, bucket, cfg.BucketPragmas(bucket), cfg.BucketReadOnly(bucket), false); err != nil {
			return fmt.Errorf("open bucket %q: %w", bucket, err)
		}
	}

	for name, b := range cfg.Buckets {
		if _, ok := r.buckets[name]; !ok && (b.Sqlite != nil || b.ReadOnly != nil) {
			return coreerr.New(coreerr.NoSuchBucket, fmt.Sprintf("configured bucket %q does not exist on disk", name))
		}
	}

	return nil
}

// open opens (or creates, when create is true) the database file for
// bucket and registers it.
func (r *Registry) open(ctx context.Context, bucket string, pragmas config.Pragmas, readOnly, create bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.buckets[bucket]; ok {
		if create {
			return coreerr.New(coreerr.BucketAlreadyExists, bucket)
		}
		return nil
	}

	path := r.dbPath(bucket)
	if create {
		if _, err := os.Stat(path); err == nil {
			return coreerr.New(coreerr.BucketAlreadyExists, bucket)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return coreerr.Internal("open sqlite database", err)
	}

	db.SetMaxOpenConns(r.concurrencyLimit)

	if err := applyPragmasAndSchema(ctx, db, pragmas, readOnly); err != nil {
		_ = db.Close()
		if !create {
			return err
		}
		_ = os.Remove(path)
		return err
	}

	info, err := os.Stat(path)
	createdAt := ""
	if err == nil {
		createdAt = info.ModTime().UTC().Format("2006-01-02T15:04:05Z")
	}

	r.buckets[bucket] = &bucketHandle{db: db, pragmas: pragmas, readOnly: readOnly, createdAt: createdAt}
	return nil
}

// Create creates a brand new bucket database file. Returns
// BucketAlreadyExists if the file (or its sidecars) already exist.
func (r *Registry) Create(ctx context.Context, bucket string, pragmas config.Pragmas, readOnly bool) error {
	for _, p := range r.sidecarPaths(bucket) {
		if _, err := os.Stat(p); err == nil {
			return coreerr.New(coreerr.BucketAlreadyExists, bucket)
		}
	}
	return r.open(ctx, bucket, pragmas, readOnly, true)
}

// Exists reports whether bucket is registered.
func (r *Registry) Exists(bucket string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.buckets[bucket]
	return ok
}

// ReadOnly reports whether bucket is currently effectively read-only.
func (r *Registry) ReadOnly(bucket string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.buckets[bucket]
	return ok && b.readOnly
}

// List returns the registered bucket names with their creation
// timestamps, for ListBuckets.
func (r *Registry) List() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.buckets))
	for name, b := range r.buckets {
		out[name] = b.createdAt
	}
	return out
}

// handle returns the *sql.DB backing bucket, or NoSuchBucket.
func (r *Registry) handle(bucket string) (*sql.DB, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.buckets[bucket]
	if !ok {
		return nil, coreerr.New(coreerr.NoSuchBucket, bucket)
	}
	return b.db, nil
}

// Acquire waits for an idle connection to bucket's database, up to
// ctx's deadline. Release the returned connection with conn.Close(),
// which returns it to the pool rather than terminating it.
func (r *Registry) Acquire(ctx context.Context, bucket string) (*sql.Conn, error) {
	db, err := r.handle(bucket)
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, coreerr.Internal("acquire database handle", err)
	}
	return conn, nil
}

// Drop closes every handle for bucket and removes its database file and
// sidecars. The caller must have already verified the bucket is safe to
// delete (e.g. its data table is empty).
func (r *Registry) Drop(bucket string) error {
	r.mu.Lock()
	b, ok := r.buckets[bucket]
	if ok {
		delete(r.buckets, bucket)
	}
	r.mu.Unlock()

	if !ok {
		return coreerr.New(coreerr.NoSuchBucket, bucket)
	}

	if err := b.db.Close(); err != nil {
		return coreerr.Internal("close database handle", err)
	}

	if err := os.Remove(r.dbPath(bucket)); err != nil && !os.IsNotExist(err) {
		return coreerr.Internal("remove database file", err)
	}
	for _, p := range r.sidecarPaths(bucket) {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return coreerr.Internal("remove sidecar file", err)
		}
	}
	return nil
}

// CloseAll closes every open bucket handle, for graceful shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.buckets {
		_ = b.db.Close()
	}
	r.buckets = make(map[string]*bucketHandle)
}

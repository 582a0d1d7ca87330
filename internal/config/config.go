// Package config loads the server's YAML configuration file over the
// built-in defaults. CLI flag overrides are layered on top of the result
// by cmd/silo/main.go, not by this package.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// JournalMode mirrors SQLite's journal_mode pragma values.
type JournalMode string

const (
	JournalDelete   JournalMode = "DELETE"
	JournalTruncate JournalMode = "TRUNCATE"
	JournalPersist  JournalMode = "PERSIST"
	JournalMemory   JournalMode = "MEMORY"
	JournalWAL      JournalMode = "WAL"
	JournalOff      JournalMode = "OFF"
)

// Synchronous mirrors SQLite's synchronous pragma values.
type Synchronous string

const (
	SyncOff    Synchronous = "OFF"
	SyncNormal Synchronous = "NORMAL"
	SyncFull   Synchronous = "FULL"
	SyncExtra  Synchronous = "EXTRA"
)

// TempStore mirrors SQLite's temp_store pragma values.
type TempStore string

const (
	TempStoreDefault TempStore = "DEFAULT"
	TempStoreFile    TempStore = "FILE"
	TempStoreMemory  TempStore = "MEMORY"
)

// Pragmas holds the subset of per-database pragmas the Pragma & Schema
// Manager applies at open time.
type Pragmas struct {
	JournalMode JournalMode `yaml:"journal_mode"`
	Synchronous Synchronous `yaml:"synchronous"`
	TempStore   TempStore   `yaml:"temp_store"`
	CacheSize   int         `yaml:"cache_size"`
}

// DefaultPragmas matches the defaults observed across the example pack's
// embedded-SQLite servers: WAL journaling, NORMAL durability, in-memory
// temp storage, and a generous page cache.
func DefaultPragmas() Pragmas {
	return Pragmas{
		JournalMode: JournalWAL,
		Synchronous: SyncNormal,
		TempStore:   TempStoreMemory,
		CacheSize:   -64 * 1024, // 64 MiB, negative means KiB per SQLite convention
	}
}

// Bucket holds a per-bucket configuration override.
type Bucket struct {
	ReadOnly *bool    `yaml:"read_only,omitempty"`
	Sqlite   *Pragmas `yaml:"sqlite,omitempty"`
}

// Config is the fully resolved server configuration: service-level
// defaults plus named per-bucket overrides.
type Config struct {
	Root             string            `yaml:"root"`
	Host             string            `yaml:"host"`
	Port             int               `yaml:"port"`
	AccessKey        string            `yaml:"access_key"`
	SecretKey        string            `yaml:"secret_key"`
	ConcurrencyLimit int               `yaml:"concurrency_limit"`
	PermissiveCORS   bool              `yaml:"permissive_cors"`
	DomainName       string            `yaml:"domain_name"`
	ReadOnly         bool              `yaml:"read_only"`
	Sqlite           Pragmas           `yaml:"sqlite,inline"`
	Buckets          map[string]Bucket `yaml:"buckets"`
}

// Default returns the service defaults named in the external interface
// section: root ".", port 8014, concurrency limit 16, permissive CORS on.
func Default() Config {
	return Config{
		Root:             ".",
		Host:             "0.0.0.0",
		Port:             8014,
		ConcurrencyLimit: 16,
		PermissiveCORS:   true,
		Sqlite:           DefaultPragmas(),
		Buckets:          map[string]Bucket{},
	}
}

// Load reads a YAML configuration file and merges it over Default(). An
// absent path is not an error; the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	if cfg.Buckets == nil {
		cfg.Buckets = map[string]Bucket{}
	}

	return cfg, nil
}

// BucketPragmas resolves the effective pragmas for a bucket: the
// per-bucket sqlite block overrides the service-level one wholesale when
// present, matching the original's "inner sqlite block replaces the
// service defaults for that bucket" semantics.
func (c Config) BucketPragmas(name string) Pragmas {
	if b, ok := c.Buckets[name]; ok && b.Sqlite != nil {
		return *b.Sqlite
	}
	return c.Sqlite
}

// BucketReadOnly resolves the effective read_only flag for a bucket: the
// service flag ORed with any per-bucket override.
func (c Config) BucketReadOnly(name string) bool {
	if c.ReadOnly {
		return true
	}
	if b, ok := c.Buckets[name]; ok && b.ReadOnly != nil {
		return *b.ReadOnly
	}
	return false
}

// Addr formats the listen address for net/http.Server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

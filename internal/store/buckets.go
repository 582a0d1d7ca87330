package store

import (
	"context"
	"net"
	"regexp"
	"strings"

	"silo/internal/coreerr"
)

var bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

// ValidBucketName implements the S3 bucket naming rules named in §3:
// 3-63 bytes, lowercase letters/digits/hyphens/dots, no leading/trailing
// hyphen, no consecutive dots, and not shaped like an IPv4 address.
func ValidBucketName(name string) bool {
	if !bucketNamePattern.MatchString(name) {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	for i := 1; i < len(name); i++ {
		if (name[i-1] == '.' && name[i] == '-') || (name[i-1] == '-' && name[i] == '.') {
			return false
		}
	}
	return net.ParseIP(name) == nil
}

// ValidObjectKey enforces the object key constraints named in §3: a
// non-empty UTF-8 string up to 1024 bytes with no control characters.
func ValidObjectKey(key string) bool {
	if len(key) == 0 || len(key) > 1024 {
		return false
	}
	return !strings.ContainsFunc(key, func(c rune) bool {
		return c < 0x20 || c == 0x7f
	})
}

// BucketInfo describes one bucket for ListBuckets.
type BucketInfo struct {
	Name         string
	CreationDate string
}

// CreateBucket validates name and creates a new per-bucket database.
func (s *Store) CreateBucket(ctx context.Context, name string) error {
	if !ValidBucketName(name) {
		return coreerr.New(coreerr.InvalidArgument, "invalid bucket name")
	}
	return s.registry.Create(ctx, name, s.cfg.BucketPragmas(name), s.cfg.BucketReadOnly(name))
}

// HeadBucket reports whether bucket exists.
func (s *Store) HeadBucket(_ context.Context, name string) error {
	if !s.registry.Exists(name) {
		return coreerr.New(coreerr.NoSuchBucket, name)
	}
	return nil
}

// ListBuckets returns every registered bucket with its creation time.
func (s *Store) ListBuckets(_ context.Context) []BucketInfo {
	all := s.registry.List()
	out := make([]BucketInfo, 0, len(all))
	for name, created := range all {
		out = append(out, BucketInfo{Name: name, CreationDate: created})
	}
	return out
}

// DeleteBucket removes bucket after verifying its data table is empty.
func (s *Store) DeleteBucket(ctx context.Context, name string) error {
	conn, err := s.registry.Acquire(ctx, name)
	if err != nil {
		return err
	}

	var count int
	scanErr := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM data").Scan(&count)
	conn.Close()
	if scanErr != nil {
		return coreerr.Internal("check bucket emptiness", scanErr)
	}
	if count > 0 {
		return coreerr.New(coreerr.BucketNotEmpty, name)
	}

	return s.registry.Drop(name)
}

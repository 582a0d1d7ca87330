package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"sort"
	"strings"
	"time"

	"silo/internal/coreerr"
)

// ObjectSummary is one Contents entry in a listing response.
type ObjectSummary struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ListResult is the outcome of ListObjectsV2: a page of Contents and
// CommonPrefixes plus pagination state.
type ListResult struct {
	Contents              []ObjectSummary
	CommonPrefixes        []string
	IsTruncated           bool
	NextContinuationToken string
}

const defaultMaxKeys = 1000

func clampMaxKeys(maxKeys int) int {
	if maxKeys <= 0 {
		return defaultMaxKeys
	}
	if maxKeys > defaultMaxKeys {
		return defaultMaxKeys
	}
	return maxKeys
}

// EncodeContinuationToken renders a raw key as the opaque cursor
// returned to the client, per the design notes: base64 of the raw key.
func EncodeContinuationToken(key string) string {
	return base64.StdEncoding.EncodeToString([]byte(key))
}

// DecodeContinuationToken reverses EncodeContinuationToken, returning
// InvalidArgument for a token that isn't validly-formed base64.
func DecodeContinuationToken(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", coreerr.New(coreerr.InvalidArgument, "invalid continuation token")
	}
	return string(raw), nil
}

type metadataRow struct {
	key          string
	size         int64
	md5          string
	lastModified time.Time
}

// snapshotMetadata materializes every metadata row at or after start (or
// strictly after it, when exclusive is set) in ascending order inside one
// read transaction, then closes it — the "snapshot-for-pagination" design:
// no transaction is held across the paginated response.
func (s *Store) snapshotMetadata(ctx context.Context, bucket, start string, exclusive bool) ([]metadataRow, error) {
	conn, err := s.registry.Acquire(ctx, bucket)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var rows []metadataRow
	err = withTx(ctx, conn, func(tx *sql.Tx) error {
		var result *sql.Rows
		var queryErr error
		if exclusive {
			result, queryErr = tx.QueryContext(ctx,
				`SELECT key, size, md5, last_modified FROM metadata WHERE key > ? ORDER BY key ASC`, start)
		} else {
			result, queryErr = tx.QueryContext(ctx,
				`SELECT key, size, md5, last_modified FROM metadata WHERE key >= ? ORDER BY key ASC`, start)
		}
		if queryErr != nil {
			return queryErr
		}
		defer result.Close()

		for result.Next() {
			var (
				r       metadataRow
				lastMod string
			)
			if scanErr := result.Scan(&r.key, &r.size, &r.md5, &lastMod); scanErr != nil {
				return scanErr
			}
			r.lastModified, _ = time.Parse(timeLayout, lastMod)
			rows = append(rows, r)
		}
		return result.Err()
	})
	if err != nil {
		return nil, coreerr.Internal("list objects", err)
	}
	return rows, nil
}

// ListObjectsV2 implements §4.4's paginated listing algorithm.
func (s *Store) ListObjectsV2(ctx context.Context, bucket, prefix, delimiter, startAfter, continuationToken string, maxKeys int) (*ListResult, error) {
	maxKeys = clampMaxKeys(maxKeys)

	start := prefix
	exclusive := false
	if continuationToken != "" {
		token, err := DecodeContinuationToken(continuationToken)
		if err != nil {
			return nil, err
		}
		if token > start {
			start = token
		}
	} else if startAfter > start {
		start = startAfter
		exclusive = true
	}

	rows, err := s.snapshotMetadata(ctx, bucket, start, exclusive)
	if err != nil {
		return nil, err
	}

	return paginate(rows, prefix, delimiter, maxKeys), nil
}

func paginate(rows []metadataRow, prefix, delimiter string, maxKeys int) *ListResult {
	res := &ListResult{}
	p := len(prefix)

	seenPrefixes := make(map[string]bool)

	i := 0
	for i < len(rows) {
		row := rows[i]
		if !strings.HasPrefix(row.key, prefix) {
			i++
			continue
		}

		if len(res.Contents)+len(res.CommonPrefixes) >= maxKeys {
			res.IsTruncated = true
			res.NextContinuationToken = EncodeContinuationToken(row.key)
			break
		}

		if delimiter == "" {
			res.Contents = append(res.Contents, ObjectSummary{
				Key: row.key, Size: row.size, ETag: row.md5, LastModified: row.lastModified,
			})
			i++
			continue
		}

		rest := row.key[p:]
		d := strings.Index(rest, delimiter)
		if d < 0 {
			res.Contents = append(res.Contents, ObjectSummary{
				Key: row.key, Size: row.size, ETag: row.md5, LastModified: row.lastModified,
			})
			i++
			continue
		}

		cp := row.key[:p+d+len(delimiter)]
		if !seenPrefixes[cp] {
			seenPrefixes[cp] = true
			res.CommonPrefixes = append(res.CommonPrefixes, cp)
		}
		for i < len(rows) && strings.HasPrefix(rows[i].key, cp) {
			i++
		}
	}

	sort.Strings(res.CommonPrefixes)
	return res
}

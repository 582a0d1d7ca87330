package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"silo/internal/coreerr"
)

// Object is the result of Get/Head: body is nil for Head.
type Object struct {
	Key          string
	Body         []byte
	Size         int64
	LastModified time.Time
	ETag         string
	UserMetadata map[string]string
}

const timeLayout = time.RFC3339

func nowTruncated() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func marshalUserMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal user metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalUserMetadata(s sql.NullString) (map[string]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, fmt.Errorf("unmarshal user metadata: %w", err)
	}
	return m, nil
}

// PutObject buffers body, verifies declaredMD5Base64 if present, and
// writes the data/metadata row pair inside one transaction.
func (s *Store) PutObject(ctx context.Context, bucket, key string, body io.Reader, declaredMD5Base64 string, userMetadata map[string]string) (etag string, err error) {
	if !ValidObjectKey(key) {
		return "", coreerr.New(coreerr.InvalidArgument, "invalid object key")
	}

	data, md5Hex, err := readBodyVerifyMD5(body, declaredMD5Base64)
	if err != nil {
		return "", err
	}

	metaJSON, err := marshalUserMetadata(userMetadata)
	if err != nil {
		return "", coreerr.Internal("encode user metadata", err)
	}

	conn, err := s.registry.Acquire(ctx, bucket)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	now := nowTruncated().Format(timeLayout)

	err = withTx(ctx, conn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO data(key, value) VALUES(?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, data); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO metadata(key, size, metadata, last_modified, md5) VALUES(?, ?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET
			   size = excluded.size, metadata = excluded.metadata,
			   last_modified = excluded.last_modified, md5 = excluded.md5`,
			key, len(data), metaJSON, now, md5Hex)
		return err
	})
	if err != nil {
		return "", coreerr.Internal("write object", err)
	}

	return md5Hex, nil
}

// ByteRange is an inclusive byte range requested via the Range header.
type ByteRange struct {
	Start, End int64
}

// GetObject reads metadata then data within one transaction; rng, when
// non-nil, clamps the end to size-1 and rejects a start past the end
// with InvalidRange.
func (s *Store) GetObject(ctx context.Context, bucket, key string, rng *ByteRange) (*Object, error) {
	conn, err := s.registry.Acquire(ctx, bucket)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var (
		size         int64
		metaStr      sql.NullString
		lastModified string
		md5Hex       string
		value        []byte
	)

	err = withTx(ctx, conn, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT size, metadata, last_modified, md5 FROM metadata WHERE key = ?`, key)
		if scanErr := row.Scan(&size, &metaStr, &lastModified, &md5Hex); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return coreerr.New(coreerr.NoSuchKey, key)
			}
			return scanErr
		}

		dataRow := tx.QueryRowContext(ctx, `SELECT value FROM data WHERE key = ?`, key)
		return dataRow.Scan(&value)
	})
	if err != nil {
		if _, ok := coreerr.As(err); ok {
			return nil, err
		}
		return nil, coreerr.Internal("read object", err)
	}

	if rng != nil {
		if rng.Start > size-1 {
			return nil, coreerr.New(coreerr.InvalidRange, "the requested range is not satisfiable")
		}
		end := rng.End
		if end > size-1 || end < 0 {
			end = size - 1
		}
		value = value[rng.Start : end+1]
	}

	userMeta, err := unmarshalUserMetadata(metaStr)
	if err != nil {
		return nil, coreerr.Internal("decode user metadata", err)
	}

	lm, err := time.Parse(timeLayout, lastModified)
	if err != nil {
		return nil, coreerr.Internal("decode last_modified", err)
	}

	return &Object{
		Key:          key,
		Body:         value,
		Size:         size,
		LastModified: lm,
		ETag:         md5Hex,
		UserMetadata: userMeta,
	}, nil
}

// HeadObject is GetObject without reading the data row.
func (s *Store) HeadObject(ctx context.Context, bucket, key string) (*Object, error) {
	conn, err := s.registry.Acquire(ctx, bucket)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var (
		size         int64
		metaStr      sql.NullString
		lastModified string
		md5Hex       string
	)

	row := conn.QueryRowContext(ctx,
		`SELECT size, metadata, last_modified, md5 FROM metadata WHERE key = ?`, key)
	if err := row.Scan(&size, &metaStr, &lastModified, &md5Hex); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, coreerr.New(coreerr.NoSuchKey, key)
		}
		return nil, coreerr.Internal("read object metadata", err)
	}

	userMeta, err := unmarshalUserMetadata(metaStr)
	if err != nil {
		return nil, coreerr.Internal("decode user metadata", err)
	}
	lm, err := time.Parse(timeLayout, lastModified)
	if err != nil {
		return nil, coreerr.Internal("decode last_modified", err)
	}

	return &Object{Key: key, Size: size, LastModified: lm, ETag: md5Hex, UserMetadata: userMeta}, nil
}

// DeleteObject deletes key from data (metadata cascades). A missing key
// succeeds silently, matching S3 semantics.
func (s *Store) DeleteObject(ctx context.Context, bucket, key string) error {
	conn, err := s.registry.Acquire(ctx, bucket)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `DELETE FROM data WHERE key = ?`, key); err != nil {
		return coreerr.Internal("delete object", err)
	}
	return nil
}

// DeleteObjects deletes each key inside a single transaction, reporting
// per-key success.
func (s *Store) DeleteObjects(ctx context.Context, bucket string, keys []string) (deleted []string, err error) {
	conn, err := s.registry.Acquire(ctx, bucket)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	err = withTx(ctx, conn, func(tx *sql.Tx) error {
		for _, key := range keys {
			if _, execErr := tx.ExecContext(ctx, `DELETE FROM data WHERE key = ?`, key); execErr != nil {
				return execErr
			}
			deleted = append(deleted, key)
		}
		return nil
	})
	if err != nil {
		return nil, coreerr.Internal("delete objects", err)
	}
	return deleted, nil
}

// CopyObject copies srcKey in srcBucket to dstKey in dstBucket. When the
// buckets differ, handles are acquired in canonical (lexicographic)
// order to avoid cross-bucket deadlock.
func (s *Store) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) (etag string, err error) {
	if srcBucket == dstBucket && srcKey == dstKey {
		obj, err := s.HeadObject(ctx, srcBucket, srcKey)
		if err != nil {
			return "", err
		}
		return obj.ETag, nil
	}

	if srcBucket == dstBucket {
		return s.copySameBucket(ctx, srcBucket, srcKey, dstKey)
	}

	first, second := srcBucket, dstBucket
	if second < first {
		first, second = second, first
	}

	firstConn, err := s.registry.Acquire(ctx, first)
	if err != nil {
		return "", err
	}
	defer firstConn.Close()

	secondConn, err := s.registry.Acquire(ctx, second)
	if err != nil {
		return "", err
	}
	defer secondConn.Close()

	srcConn, dstConn := firstConn, secondConn
	if srcBucket != first {
		srcConn, dstConn = secondConn, firstConn
	}

	var (
		value        []byte
		size         int64
		metaStr      sql.NullString
		md5Hex       string
	)
	row := srcConn.QueryRowContext(ctx, `SELECT size, metadata, md5 FROM metadata WHERE key = ?`, srcKey)
	if scanErr := row.Scan(&size, &metaStr, &md5Hex); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return "", coreerr.New(coreerr.NoSuchKey, srcKey)
		}
		return "", coreerr.Internal("read source object", scanErr)
	}
	if scanErr := srcConn.QueryRowContext(ctx, `SELECT value FROM data WHERE key = ?`, srcKey).Scan(&value); scanErr != nil {
		return "", coreerr.Internal("read source object body", scanErr)
	}

	now := nowTruncated().Format(timeLayout)
	err = withTx(ctx, dstConn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO data(key, value) VALUES(?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, dstKey, value); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO metadata(key, size, metadata, last_modified, md5) VALUES(?, ?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET
			   size = excluded.size, metadata = excluded.metadata,
			   last_modified = excluded.last_modified, md5 = excluded.md5`,
			dstKey, size, metaStr, now, md5Hex)
		return err
	})
	if err != nil {
		return "", coreerr.Internal("write copied object", err)
	}

	return md5Hex, nil
}

func (s *Store) copySameBucket(ctx context.Context, bucket, srcKey, dstKey string) (string, error) {
	conn, err := s.registry.Acquire(ctx, bucket)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	var (
		value   []byte
		size    int64
		metaStr sql.NullString
		md5Hex  string
	)

	now := nowTruncated().Format(timeLayout)
	err = withTx(ctx, conn, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT size, metadata, md5 FROM metadata WHERE key = ?`, srcKey)
		if scanErr := row.Scan(&size, &metaStr, &md5Hex); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return coreerr.New(coreerr.NoSuchKey, srcKey)
			}
			return scanErr
		}
		if scanErr := tx.QueryRowContext(ctx, `SELECT value FROM data WHERE key = ?`, srcKey).Scan(&value); scanErr != nil {
			return scanErr
		}
		if _, execErr := tx.ExecContext(ctx,
			`INSERT INTO data(key, value) VALUES(?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, dstKey, value); execErr != nil {
			return execErr
		}
		_, execErr := tx.ExecContext(ctx,
			`INSERT INTO metadata(key, size, metadata, last_modified, md5) VALUES(?, ?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET
			   size = excluded.size, metadata = excluded.metadata,
			   last_modified = excluded.last_modified, md5 = excluded.md5`,
			dstKey, size, metaStr, now, md5Hex)
		return execErr
	})
	if err != nil {
		if _, ok := coreerr.As(err); ok {
			return "", err
		}
		return "", coreerr.Internal("copy object", err)
	}

	return md5Hex, nil
}

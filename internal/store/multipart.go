package store

import (
	"context"
	"crypto/md5" //nolint:gosec // S3 multipart ETags are defined in terms of MD5.
	"database/sql"
	"encoding/hex"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"silo/internal/coreerr"
)

// CompletedPart is one entry of the ordered part list a client submits
// to CompleteMultipartUpload.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// PartSummary describes one stored part, for ListParts.
type PartSummary struct {
	PartNumber   int
	Size         int64
	ETag         string
	LastModified time.Time
}

// UploadSummary describes one in-progress upload, for
// ListMultipartUploads.
type UploadSummary struct {
	Key          string
	UploadID     string
	LastModified time.Time
}

const minPartSize = 5 * 1024 * 1024

// CreateMultipartUpload generates a fresh upload-id and registers it
// against (bucket, key).
func (s *Store) CreateMultipartUpload(ctx context.Context, bucket, key, accessKey string) (string, error) {
	if !ValidObjectKey(key) {
		return "", coreerr.New(coreerr.InvalidArgument, "invalid object key")
	}

	conn, err := s.registry.Acquire(ctx, bucket)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	id := uuid.New()
	now := nowTruncated().Format(timeLayout)

	var accessKeyArg any
	if accessKey != "" {
		accessKeyArg = accessKey
	}

	_, err = conn.ExecContext(ctx,
		`INSERT INTO multipart_upload(upload_id, bucket, key, last_modified, access_key) VALUES(?, ?, ?, ?, ?)`,
		id[:], bucket, key, now, accessKeyArg)
	if err != nil {
		return "", coreerr.Internal("create multipart upload", err)
	}

	return id.String(), nil
}

func parseUploadID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, coreerr.New(coreerr.InvalidArgument, "malformed upload id")
	}
	return id, nil
}

// verifyUpload checks that uploadID exists for (bucket, key) and that
// accessKey, when the upload recorded one, matches.
func verifyUpload(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, id uuid.UUID, bucket, key, accessKey string) error {
	var boundKey sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT access_key FROM multipart_upload WHERE upload_id = ? AND bucket = ? AND key = ?`,
		id[:], bucket, key).Scan(&boundKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return coreerr.New(coreerr.NoSuchUpload, id.String())
		}
		return coreerr.Internal("verify multipart upload", err)
	}
	if boundKey.Valid && boundKey.String != "" && boundKey.String != accessKey {
		return coreerr.New(coreerr.AccessDenied, "the upload id belongs to a different credential")
	}
	return nil
}

// UploadPart validates part_number, verifies the upload, buffers the
// body, and upserts the part row.
func (s *Store) UploadPart(ctx context.Context, bucket, key, uploadIDStr string, partNumber int, body io.Reader, declaredMD5Base64, accessKey string) (string, error) {
	if partNumber < 1 || partNumber > 10000 {
		return "", coreerr.New(coreerr.InvalidArgument, "part number must be between 1 and 10000")
	}

	id, err := parseUploadID(uploadIDStr)
	if err != nil {
		return "", err
	}

	conn, err := s.registry.Acquire(ctx, bucket)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if err := verifyUpload(ctx, conn, id, bucket, key, accessKey); err != nil {
		return "", err
	}

	data, md5Hex, err := readBodyVerifyMD5(body, declaredMD5Base64)
	if err != nil {
		return "", err
	}

	now := nowTruncated().Format(timeLayout)
	_, err = conn.ExecContext(ctx,
		`INSERT INTO multipart_upload_part(upload_id, part_number, value, size, md5, last_modified)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(upload_id, part_number) DO UPDATE SET
		   value = excluded.value, size = excluded.size, md5 = excluded.md5, last_modified = excluded.last_modified`,
		id[:], partNumber, data, len(data), md5Hex, now)
	if err != nil {
		return "", coreerr.Internal("upload part", err)
	}

	return md5Hex, nil
}

// CompleteMultipartUpload validates ordering, ETags, and the 5 MiB
// minimum part size, concatenates parts, and writes the final object.
func (s *Store) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadIDStr string, parts []CompletedPart, accessKey string) (etag string, err error) {
	if len(parts) == 0 {
		return "", coreerr.New(coreerr.InvalidPart, "you must specify at least one part")
	}

	id, err := parseUploadID(uploadIDStr)
	if err != nil {
		return "", err
	}

	conn, err := s.registry.Acquire(ctx, bucket)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if err := verifyUpload(ctx, conn, id, bucket, key, accessKey); err != nil {
		return "", err
	}

	prev := 0
	for _, p := range parts {
		if p.PartNumber <= prev {
			return "", coreerr.New(coreerr.InvalidPart, "part numbers must be listed in strictly increasing order")
		}
		prev = p.PartNumber
	}

	var (
		md5Concat []byte
		finalData []byte
	)

	err = withTx(ctx, conn, func(tx *sql.Tx) error {
		for i, p := range parts {
			var (
				value     []byte
				size      int64
				storedMD5 string
			)
			row := tx.QueryRowContext(ctx,
				`SELECT value, size, md5 FROM multipart_upload_part WHERE upload_id = ? AND part_number = ?`,
				id[:], p.PartNumber)
			if scanErr := row.Scan(&value, &size, &storedMD5); scanErr != nil {
				if errors.Is(scanErr, sql.ErrNoRows) {
					return coreerr.New(coreerr.InvalidPart, "one or more of the specified parts could not be found")
				}
				return scanErr
			}
			if storedMD5 != stripQuotes(p.ETag) {
				return coreerr.New(coreerr.InvalidPart, "one or more of the specified parts could not be found")
			}
			if i < len(parts)-1 && size < minPartSize {
				return coreerr.New(coreerr.EntityTooSmall, "your proposed upload is smaller than the minimum allowed size")
			}

			rawMD5, decodeErr := hex.DecodeString(storedMD5)
			if decodeErr != nil {
				return decodeErr
			}
			md5Concat = append(md5Concat, rawMD5...)
			finalData = append(finalData, value...)
		}

		now := nowTruncated().Format(timeLayout)
		sum := md5.Sum(finalData) //nolint:gosec
		finalMD5 := hex.EncodeToString(sum[:])

		if _, execErr := tx.ExecContext(ctx,
			`INSERT INTO data(key, value) VALUES(?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, finalData); execErr != nil {
			return execErr
		}
		if _, execErr := tx.ExecContext(ctx,
			`INSERT INTO metadata(key, size, metadata, last_modified, md5) VALUES(?, ?, NULL, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET
			   size = excluded.size, metadata = excluded.metadata,
			   last_modified = excluded.last_modified, md5 = excluded.md5`,
			key, len(finalData), now, finalMD5); execErr != nil {
			return execErr
		}
		if _, execErr := tx.ExecContext(ctx, `DELETE FROM multipart_upload WHERE upload_id = ?`, id[:]); execErr != nil {
			return execErr
		}

		concatSum := md5.Sum(md5Concat) //nolint:gosec
		etag = hex.EncodeToString(concatSum[:]) + "-" + strconv.Itoa(len(parts))
		return nil
	})
	if err != nil {
		if _, ok := coreerr.As(err); ok {
			return "", err
		}
		return "", coreerr.Internal("complete multipart upload", err)
	}

	return etag, nil
}

// AbortMultipartUpload deletes the upload row; parts cascade. Idempotent.
func (s *Store) AbortMultipartUpload(ctx context.Context, bucket, key, uploadIDStr, accessKey string) error {
	id, err := parseUploadID(uploadIDStr)
	if err != nil {
		return err
	}

	conn, err := s.registry.Acquire(ctx, bucket)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := verifyUpload(ctx, conn, id, bucket, key, accessKey); err != nil {
		if ce, ok := coreerr.As(err); ok && ce.Kind == coreerr.NoSuchUpload {
			return nil
		}
		return err
	}

	if _, err := conn.ExecContext(ctx, `DELETE FROM multipart_upload WHERE upload_id = ?`, id[:]); err != nil {
		return coreerr.Internal("abort multipart upload", err)
	}
	return nil
}

// ListParts paginates the parts of one upload by part_number.
func (s *Store) ListParts(ctx context.Context, bucket, key, uploadIDStr string, partNumberMarker, maxParts int, accessKey string) ([]PartSummary, bool, error) {
	id, err := parseUploadID(uploadIDStr)
	if err != nil {
		return nil, false, err
	}
	if maxParts <= 0 || maxParts > 1000 {
		maxParts = 1000
	}

	conn, err := s.registry.Acquire(ctx, bucket)
	if err != nil {
		return nil, false, err
	}
	defer conn.Close()

	if err := verifyUpload(ctx, conn, id, bucket, key, accessKey); err != nil {
		return nil, false, err
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT part_number, size, md5, last_modified FROM multipart_upload_part
		 WHERE upload_id = ? AND part_number > ? ORDER BY part_number ASC`,
		id[:], partNumberMarker)
	if err != nil {
		return nil, false, coreerr.Internal("list parts", err)
	}
	defer rows.Close()

	var all []PartSummary
	for rows.Next() {
		var (
			p       PartSummary
			lastMod string
		)
		if err := rows.Scan(&p.PartNumber, &p.Size, &p.ETag, &lastMod); err != nil {
			return nil, false, coreerr.Internal("scan part", err)
		}
		p.LastModified, _ = time.Parse(timeLayout, lastMod)
		all = append(all, p)
	}
	if err := rows.Err(); err != nil {
		return nil, false, coreerr.Internal("list parts", err)
	}

	truncated := len(all) > maxParts
	if truncated {
		all = all[:maxParts]
	}
	return all, truncated, nil
}

// ListMultipartUploads paginates in-progress uploads for a bucket.
func (s *Store) ListMultipartUploads(ctx context.Context, bucket, prefix, keyMarker string, maxUploads int) ([]UploadSummary, bool, error) {
	if maxUploads <= 0 || maxUploads > 1000 {
		maxUploads = 1000
	}

	conn, err := s.registry.Acquire(ctx, bucket)
	if err != nil {
		return nil, false, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx,
		`SELECT upload_id, key, last_modified FROM multipart_upload
		 WHERE key > ? AND key LIKE ? || '%' ORDER BY key ASC, upload_id ASC`,
		keyMarker, prefix)
	if err != nil {
		return nil, false, coreerr.Internal("list multipart uploads", err)
	}
	defer rows.Close()

	var all []UploadSummary
	for rows.Next() {
		var (
			idBytes []byte
			u       UploadSummary
			lastMod string
		)
		if err := rows.Scan(&idBytes, &u.Key, &lastMod); err != nil {
			return nil, false, coreerr.Internal("scan upload", err)
		}
		id, parseErr := uuid.FromBytes(idBytes)
		if parseErr != nil {
			return nil, false, coreerr.Internal("decode upload id", parseErr)
		}
		u.UploadID = id.String()
		u.LastModified, _ = time.Parse(timeLayout, lastMod)
		all = append(all, u)
	}
	if err := rows.Err(); err != nil {
		return nil, false, coreerr.Internal("list multipart uploads", err)
	}

	truncated := len(all) > maxUploads
	if truncated {
		all = all[:maxUploads]
	}
	return all, truncated, nil
}

func stripQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

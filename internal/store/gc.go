package store

import (
	"context"
	"log/slog"
	"time"
)

// gcSweepAll deletes multipart uploads older than the configured TTL
// across every registered bucket, plus any orphaned part rows. Run once
// at startup and again on every tick of gcLoop, per §4.5.
func (s *Store) gcSweepAll(ctx context.Context) {
	cutoff := nowTruncated().Add(-s.gcTTL).Format(timeLayout)
	for bucket := range s.registry.List() {
		if err := s.gcSweepBucket(ctx, bucket, cutoff); err != nil {
			slog.Error("multipart GC sweep failed", "bucket", bucket, "err", err)
		}
	}
}

func (s *Store) gcSweepBucket(ctx context.Context, bucket, cutoff string) error {
	conn, err := s.registry.Acquire(ctx, bucket)
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, `DELETE FROM multipart_upload WHERE last_modified < ?`, cutoff)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("garbage collected expired multipart uploads", "bucket", bucket, "count", n)
	}

	_, err = conn.ExecContext(ctx,
		`DELETE FROM multipart_upload_part WHERE upload_id NOT IN (SELECT upload_id FROM multipart_upload)`)
	return err
}

func (s *Store) gcLoop() {
	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			s.gcSweepAll(context.Background())
		}
	}
}

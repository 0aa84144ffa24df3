package pgtracking

import (
	"context"
	"time"

	"github.com/BearBump/trackengine/internal/models"
	"github.com/BearBump/trackengine/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ClaimDue picks a batch of records due for a carrier re-check and leases them, so
// that concurrent workers do not pick the same records. Uses SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.TrackingRecord, error) {
	terminal := make([]string, 0, 3)
	for _, st := range models.TerminalStatuses() {
		terminal = append(terminal, string(st))
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, selectRecord+`
WHERE is_active
  AND next_sync_at <= $1
  AND status <> ALL($2)
ORDER BY next_sync_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`, now.UTC(), terminal, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due records")
	}
	picked, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}

	leaseUntil := now.UTC().Add(lease)
	for _, rec := range picked {
		if _, err := tx.Exec(ctx, `UPDATE tracking_records SET next_sync_at = $2 WHERE tracking_id = $1`, rec.TrackingID, leaseUntil); err != nil {
			return nil, errors.Wrap(err, "lease record")
		}
		rec.NextSyncAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

func (s *Storage) ScheduleSync(ctx context.Context, trackingID string, next time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE tracking_records SET next_sync_at = $2 WHERE tracking_id = $1`, trackingID, next.UTC())
	if err != nil {
		return errors.Wrap(err, "schedule sync")
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

package pgtracking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/trackengine/internal/models"
	"github.com/BearBump/trackengine/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const pgUniqueViolation = "23505"

const selectRecord = `
SELECT doc, version, next_sync_at
FROM tracking_records
`

func (s *Storage) Insert(ctx context.Context, rec *models.TrackingRecord) error {
	rec.Version = 1
	doc, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal record")
	}

	_, err = s.db.Exec(ctx, `
INSERT INTO tracking_records (
  tracking_id, carrier_name, tracking_number, order_id, status, estimated_delivery,
  is_active, next_sync_at, version, doc, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`, rec.TrackingID, string(rec.Carrier.Name), rec.Carrier.TrackingNumber, rec.Order.OrderID, string(rec.Status.Current),
		rec.Delivery.Estimated.Date, rec.IsActive, rec.NextSyncAt.UTC(), rec.Version, doc,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return storage.ErrDuplicate
		}
		return errors.Wrap(err, "insert record")
	}
	return nil
}

func (s *Storage) Get(ctx context.Context, trackingID string) (*models.TrackingRecord, error) {
	return scanRecord(s.db.QueryRow(ctx, selectRecord+`WHERE tracking_id = $1`, trackingID))
}

func (s *Storage) GetByCarrierNumber(ctx context.Context, name models.CarrierName, number string) (*models.TrackingRecord, error) {
	return scanRecord(s.db.QueryRow(ctx, selectRecord+`WHERE carrier_name = $1 AND tracking_number = $2`, string(name), number))
}

func (s *Storage) ListByOrder(ctx context.Context, orderID string) ([]*models.TrackingRecord, error) {
	rows, err := s.db.Query(ctx, selectRecord+`WHERE order_id = $1 ORDER BY created_at ASC`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select records by order")
	}
	return collectRecords(rows)
}

// Update writes rec only if the stored version still equals rec.Version.
func (s *Storage) Update(ctx context.Context, rec *models.TrackingRecord) error {
	next := *rec
	next.Version = rec.Version + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return errors.Wrap(err, "marshal record")
	}

	tag, err := s.db.Exec(ctx, `
UPDATE tracking_records
SET
  status = $3,
  estimated_delivery = $4,
  is_active = $5,
  doc = $6,
  version = version + 1,
  updated_at = $7
WHERE tracking_id = $1 AND version = $2
`, rec.TrackingID, rec.Version, string(rec.Status.Current), rec.Delivery.Estimated.Date, rec.IsActive, doc, rec.UpdatedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "update record")
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tracking_records WHERE tracking_id = $1)`, rec.TrackingID).Scan(&exists); err != nil {
			return errors.Wrap(err, "check record")
		}
		if !exists {
			return storage.ErrNotFound
		}
		return storage.ErrStaleRecord
	}
	rec.Version = next.Version
	return nil
}

func (s *Storage) ListDelayed(ctx context.Context, page storage.DelayedPage) ([]*models.TrackingRecord, error) {
	terminal := make([]string, 0, 3)
	for _, st := range models.TerminalStatuses() {
		terminal = append(terminal, string(st))
	}

	rows, err := s.db.Query(ctx, selectRecord+`
WHERE is_active
  AND estimated_delivery < $1
  AND status <> ALL($2)
  AND tracking_id > $3
ORDER BY tracking_id ASC
LIMIT $4
`, page.Now.UTC(), terminal, page.AfterID, page.PageSize())
	if err != nil {
		return nil, errors.Wrap(err, "select delayed records")
	}
	return collectRecords(rows)
}

func scanRecord(row pgx.Row) (*models.TrackingRecord, error) {
	var (
		doc        []byte
		version    int64
		nextSyncAt time.Time
	)
	if err := row.Scan(&doc, &version, &nextSyncAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan record")
	}

	var rec models.TrackingRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, errors.Wrap(err, "unmarshal record")
	}
	rec.Version = version
	rec.NextSyncAt = nextSyncAt.UTC()
	return &rec, nil
}

func collectRecords(rows pgx.Rows) ([]*models.TrackingRecord, error) {
	defer rows.Close()

	var out []*models.TrackingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

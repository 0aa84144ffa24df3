package pgtracking

import (
	"context"

	"github.com/pkg/errors"
)

// The record is kept as a JSONB document. Columns duplicate the fields that lookups,
// scans and the poller filter on.
func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS tracking_records (
  tracking_id TEXT PRIMARY KEY,
  carrier_name TEXT NOT NULL,
  tracking_number TEXT NOT NULL,
  order_id TEXT NOT NULL,
  status TEXT NOT NULL,
  estimated_delivery TIMESTAMPTZ NULL,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  next_sync_at TIMESTAMPTZ NOT NULL,
  version BIGINT NOT NULL DEFAULT 1,
  doc JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (carrier_name, tracking_number)
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_records_order_id ON tracking_records(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_records_next_sync_at ON tracking_records(next_sync_at) WHERE is_active`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_records_estimated_delivery ON tracking_records(estimated_delivery) WHERE is_active`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}

package scanner

import (
	"context"
	"iter"
	"time"

	"github.com/BearBump/trackengine/internal/models"
	"github.com/BearBump/trackengine/internal/storage"
	"github.com/pkg/errors"
)

type Store interface {
	ListDelayed(ctx context.Context, page storage.DelayedPage) ([]*models.TrackingRecord, error)
}

// Scanner finds active shipments whose estimated delivery has passed without a
// terminal status.
type Scanner struct {
	store    Store
	pageSize int
	now      func() time.Time
}

func New(store Store, pageSize int) *Scanner {
	// The store serves at most MaxPageSize rows, and a short page ends the scan.
	if pageSize <= 0 {
		pageSize = storage.DefaultPageSize
	}
	pageSize = min(pageSize, storage.MaxPageSize)
	return &Scanner{store: store, pageSize: pageSize, now: func() time.Time { return time.Now().UTC() }}
}

// FindDelayed returns a lazy sequence. Each range over it starts a fresh scan, reading
// the store a page at a time. An error ends the sequence after being yielded.
func (s *Scanner) FindDelayed(ctx context.Context) iter.Seq2[*models.TrackingRecord, error] {
	return func(yield func(*models.TrackingRecord, error) bool) {
		now := s.now()
		after := ""
		for {
			page, err := s.store.ListDelayed(ctx, storage.DelayedPage{Now: now, AfterID: after, Limit: s.pageSize})
			if err != nil {
				yield(nil, errors.Wrap(err, "list delayed"))
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			after = page[len(page)-1].TrackingID
		}
	}
}

// Collect drains FindDelayed, stopping at limit records when limit > 0.
func (s *Scanner) Collect(ctx context.Context, limit int) ([]*models.TrackingRecord, error) {
	var out []*models.TrackingRecord
	for rec, err := range s.FindDelayed(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

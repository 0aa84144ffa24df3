// Package memtracking is an in-process record store for local runs and tests.
package memtracking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/trackengine/internal/models"
	"github.com/BearBump/trackengine/internal/storage"
)

type carrierKey struct {
	name   models.CarrierName
	number string
}

type Storage struct {
	mu        sync.RWMutex
	byID      map[string]*models.TrackingRecord
	byCarrier map[carrierKey]string
}

func New() *Storage {
	return &Storage{
		byID:      map[string]*models.TrackingRecord{},
		byCarrier: map[carrierKey]string{},
	}
}

func (s *Storage) Insert(_ context.Context, rec *models.TrackingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := carrierKey{rec.Carrier.Name, rec.Carrier.TrackingNumber}
	if _, ok := s.byID[rec.TrackingID]; ok {
		return storage.ErrDuplicate
	}
	if _, ok := s.byCarrier[key]; ok {
		return storage.ErrDuplicate
	}
	rec.Version = 1
	s.byID[rec.TrackingID] = rec.Clone()
	s.byCarrier[key] = rec.TrackingID
	return nil
}

func (s *Storage) Get(_ context.Context, trackingID string) (*models.TrackingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[trackingID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Storage) GetByCarrierNumber(_ context.Context, name models.CarrierName, number string) (*models.TrackingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCarrier[carrierKey{name, number}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *Storage) ListByOrder(_ context.Context, orderID string) ([]*models.TrackingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.TrackingRecord
	for _, rec := range s.byID {
		if rec.Order.OrderID == orderID {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Update stores rec if its Version still matches, then bumps rec.Version. The sync
// schedule is owned by ClaimDue and ScheduleSync and is left untouched.
func (s *Storage) Update(_ context.Context, rec *models.TrackingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[rec.TrackingID]
	if !ok {
		return storage.ErrNotFound
	}
	if cur.Version != rec.Version {
		return storage.ErrStaleRecord
	}
	rec.Version++
	rec.NextSyncAt = cur.NextSyncAt
	s.byID[rec.TrackingID] = rec.Clone()
	return nil
}

func (s *Storage) ListDelayed(_ context.Context, page storage.DelayedPage) ([]*models.TrackingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.TrackingRecord
	for id, rec := range s.byID {
		if id <= page.AfterID || !isDelayed(rec, page.Now) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackingID < out[j].TrackingID })
	if len(out) > page.PageSize() {
		out = out[:page.PageSize()]
	}
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out, nil
}

// ClaimDue returns active, non-terminal records whose next sync time has come and
// pushes their next sync time forward by lease.
func (s *Storage) ClaimDue(_ context.Context, now time.Time, limit int, lease time.Duration) ([]*models.TrackingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.TrackingRecord
	for _, rec := range s.byID {
		if rec.IsActive && !rec.Status.Current.Terminal() && !rec.NextSyncAt.After(now) {
			due = append(due, rec)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextSyncAt.Before(due[j].NextSyncAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*models.TrackingRecord, 0, len(due))
	for _, rec := range due {
		rec.NextSyncAt = now.Add(lease)
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (s *Storage) ScheduleSync(_ context.Context, trackingID string, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[trackingID]
	if !ok {
		return storage.ErrNotFound
	}
	rec.NextSyncAt = next
	return nil
}

func isDelayed(rec *models.TrackingRecord, now time.Time) bool {
	eta := rec.Delivery.Estimated.Date
	return rec.IsActive && eta != nil && eta.Before(now) && !rec.Status.Current.Terminal()
}

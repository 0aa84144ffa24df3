package jobs

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/trackengine/internal/models"
	"github.com/BearBump/trackengine/internal/realtime"
	"github.com/BearBump/trackengine/internal/services/scanner"
	"github.com/BearBump/trackengine/internal/storage/memtracking"
	"github.com/stretchr/testify/require"
)

type capturingHub struct {
	mu       sync.Mutex
	topics   []string
	events   []realtime.EventType
	payloads []any
}

func (h *capturingHub) Publish(_ context.Context, topic string, event realtime.EventType, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.topics = append(h.topics, topic)
	h.events = append(h.events, event)
	h.payloads = append(h.payloads, payload)
}

func (h *capturingHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics)
}

func seed(t *testing.T, store *memtracking.Storage, id string, eta time.Time, status models.Status) {
	t.Helper()
	require.NoError(t, store.Insert(context.Background(), &models.TrackingRecord{
		TrackingID: id,
		Order:      models.OrderRef{OrderID: "ord-" + id},
		Carrier:    models.Carrier{Name: models.CarrierDHL, TrackingNumber: "N" + id},
		Status:     models.StatusState{Current: status},
		Delivery:   models.Delivery{Estimated: models.EstimatedDelivery{Date: &eta}},
		IsActive:   true,
	}))
}

func TestDelayedScanJob_RunOnce(t *testing.T) {
	store := memtracking.New()
	past := time.Now().UTC().Add(-24 * time.Hour)
	future := time.Now().UTC().Add(24 * time.Hour)
	seed(t, store, "a", past, models.StatusInTransit)
	seed(t, store, "b", past, models.StatusDelivered)
	seed(t, store, "c", future, models.StatusInTransit)
	seed(t, store, "d", past, models.StatusException)

	hub := &capturingHub{}
	job := NewDelayedScanJob(scanner.New(store, 1), hub, "", nil)

	rep, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, rep.DelayedCount)
	require.Len(t, rep.Shipments, 2)
	require.Equal(t, "a", rep.Shipments[0].TrackingID)
	require.Equal(t, "d", rep.Shipments[1].TrackingID)

	require.Equal(t, []string{realtime.AnalyticsTopic}, hub.topics)
	require.Equal(t, []realtime.EventType{realtime.EventAnalyticsUpdate}, hub.events)
	require.Equal(t, rep, hub.payloads[0])
}

func TestDelayedScanJob_RunOnce_CapsShipments(t *testing.T) {
	store := memtracking.New()
	past := time.Now().UTC().Add(-time.Hour)
	for _, id := range []string{"a", "b", "c"} {
		seed(t, store, id, past, models.StatusPickedUp)
	}
	job := NewDelayedScanJob(scanner.New(store, 10), &capturingHub{}, "", nil)
	job.limit = 2

	rep, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, rep.DelayedCount)
	require.Len(t, rep.Shipments, 2)
}

type failingFinder struct{}

func (failingFinder) FindDelayed(context.Context) iter.Seq2[*models.TrackingRecord, error] {
	return func(yield func(*models.TrackingRecord, error) bool) {
		yield(nil, errors.New("db down"))
	}
}

func TestDelayedScanJob_RunOnce_ErrorPublishesNothing(t *testing.T) {
	hub := &capturingHub{}
	job := NewDelayedScanJob(failingFinder{}, hub, "", nil)

	_, err := job.RunOnce(context.Background())
	require.EqualError(t, err, "db down")
	require.Zero(t, hub.count())
}

func TestDelayedScanJob_StartRejectsBadSchedule(t *testing.T) {
	job := NewDelayedScanJob(failingFinder{}, &capturingHub{}, "not a schedule", nil)
	require.Error(t, job.Start())
}

func TestDelayedScanJob_StartRunsOnSchedule(t *testing.T) {
	store := memtracking.New()
	hub := &capturingHub{}
	job := NewDelayedScanJob(scanner.New(store, 10), hub, "@every 1s", nil)

	require.NoError(t, job.Start())
	defer job.Stop()
	require.Eventually(t, func() bool { return hub.count() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

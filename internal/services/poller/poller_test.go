package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/trackengine/internal/broker/messages"
	"github.com/BearBump/trackengine/internal/integrations/carrier"
	"github.com/BearBump/trackengine/internal/models"
	"github.com/BearBump/trackengine/internal/storage/memtracking"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	mu    sync.Mutex
	topic string
	key   []byte
	value []byte
	calls int
	err   error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.topic, p.key, p.value = topic, key, value
	return p.err
}

type fakeRL struct {
	allowed bool
	keys    []string
	limits  []int64
	err     error
}

func (r *fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	r.keys = append(r.keys, key)
	r.limits = append(r.limits, limit)
	return r.allowed, 1, r.err
}

type fakeCarrier struct {
	payload string
	err     error
	calls   int
}

func (c *fakeCarrier) GetTracking(ctx context.Context, name models.CarrierName, number string) (carrier.RawUpdate, error) {
	c.calls++
	if c.err != nil {
		return carrier.RawUpdate{}, c.err
	}
	return carrier.RawUpdate{Carrier: name, Payload: json.RawMessage(c.payload)}, nil
}

var pollerNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func seedRecord(t *testing.T, store *memtracking.Storage, status models.Status) *models.TrackingRecord {
	t.Helper()
	rec := &models.TrackingRecord{
		TrackingID: "trk-1",
		Order:      models.OrderRef{OrderID: "ord-1"},
		Carrier:    models.Carrier{Name: models.CarrierUPS, TrackingNumber: "1Z999"},
		Status:     models.StatusState{Current: status, LastUpdated: pollerNow},
		IsActive:   true,
		NextSyncAt: pollerNow.Add(-time.Minute),
	}
	require.NoError(t, store.Insert(context.Background(), rec))
	return rec
}

func newTestPoller(store *memtracking.Storage, c carrier.Client, p Producer, rl RateLimiter) *Poller {
	pl := New(store, c, p, rl, carrier.NewNormalizer(nil), nil)
	pl.now = func() time.Time { return pollerNow }
	pl.planner = NewPlanner(PlannerConfig{MovingMinDelay: time.Hour, MovingMaxDelay: time.Hour}, nil)
	pl.publishAttempts = 1
	return pl
}

func TestPoller_processOne_publishesCarrierEvent(t *testing.T) {
	store := memtracking.New()
	rec := seedRecord(t, store, models.StatusPickedUp)
	fp := &fakeProducer{}
	fc := &fakeCarrier{payload: `{"trackingNumber":"1Z999","status":"I"}`}
	p := newTestPoller(store, fc, fp, &fakeRL{allowed: true})

	require.NoError(t, p.processOne(context.Background(), rec))
	require.Equal(t, 1, fp.calls)
	require.Equal(t, messages.TopicCarrierEvents, fp.topic)
	require.Equal(t, "ups|1Z999", string(fp.key))

	var ev messages.CarrierEvent
	require.NoError(t, json.Unmarshal(fp.value, &ev))
	require.Equal(t, "trk-1", ev.TrackingID)
	require.Equal(t, pollerNow, ev.FetchedAt)
	require.JSONEq(t, fc.payload, string(ev.Payload))

	got, err := store.Get(context.Background(), "trk-1")
	require.NoError(t, err)
	require.Equal(t, pollerNow.Add(time.Hour), got.NextSyncAt)
}

func TestPoller_processOne_terminalStatusParksRecord(t *testing.T) {
	store := memtracking.New()
	rec := seedRecord(t, store, models.StatusOutForDelivery)
	p := newTestPoller(store, &fakeCarrier{payload: `{"trackingNumber":"1Z999","status":"D"}`}, &fakeProducer{}, nil)

	require.NoError(t, p.processOne(context.Background(), rec))

	got, err := store.Get(context.Background(), "trk-1")
	require.NoError(t, err)
	require.Equal(t, pollerNow.Add(365*24*time.Hour), got.NextSyncAt)
}

func TestPoller_processOne_carrierErrorBacksOff(t *testing.T) {
	store := memtracking.New()
	rec := seedRecord(t, store, models.StatusInTransit)
	fp := &fakeProducer{}
	p := newTestPoller(store, &fakeCarrier{err: errors.New("boom")}, fp, nil)

	require.Error(t, p.processOne(context.Background(), rec))
	require.Error(t, p.processOne(context.Background(), rec))
	require.Equal(t, 0, fp.calls)

	got, err := store.Get(context.Background(), "trk-1")
	require.NoError(t, err)
	require.Equal(t, pollerNow.Add(15*time.Minute), got.NextSyncAt)
	require.Equal(t, 2, p.failures["trk-1"])
}

func TestPoller_processOne_successClearsFailures(t *testing.T) {
	store := memtracking.New()
	rec := seedRecord(t, store, models.StatusInTransit)
	fc := &fakeCarrier{err: errors.New("boom")}
	p := newTestPoller(store, fc, &fakeProducer{}, nil)

	require.Error(t, p.processOne(context.Background(), rec))
	fc.err = nil
	fc.payload = `{"trackingNumber":"1Z999","status":"I"}`
	require.NoError(t, p.processOne(context.Background(), rec))
	require.NotContains(t, p.failures, "trk-1")
}

func TestPoller_processOne_rateLimitedSkipsCarrier(t *testing.T) {
	store := memtracking.New()
	rec := seedRecord(t, store, models.StatusInTransit)
	fc := &fakeCarrier{}
	rl := &fakeRL{allowed: false}
	p := newTestPoller(store, fc, &fakeProducer{}, rl).
		WithCarrierRateLimits(map[models.CarrierName]int{models.CarrierUPS: 7})

	require.NoError(t, p.processOne(context.Background(), rec))
	require.Equal(t, 0, fc.calls)
	require.Equal(t, []string{"rl:carrier:ups:202403011000"}, rl.keys)
	require.Equal(t, []int64{7}, rl.limits)
	require.Equal(t, int64(1), p.Stats().TotalLimited)

	got, err := store.Get(context.Background(), "trk-1")
	require.NoError(t, err)
	require.Equal(t, pollerNow.Add(time.Minute), got.NextSyncAt)
}

func TestPoller_processOne_publishFailure(t *testing.T) {
	store := memtracking.New()
	rec := seedRecord(t, store, models.StatusInTransit)
	p := newTestPoller(store, &fakeCarrier{payload: `{"trackingNumber":"1Z999","status":"I"}`}, &fakeProducer{err: errors.New("kafka down")}, nil)

	require.EqualError(t, p.processOne(context.Background(), rec), "kafka down")
}

func TestPoller_runOnce_countsStats(t *testing.T) {
	store := memtracking.New()
	seedRecord(t, store, models.StatusInTransit)
	fp := &fakeProducer{}
	p := newTestPoller(store, &fakeCarrier{payload: `{"trackingNumber":"1Z999","status":"I"}`}, fp, nil)

	p.runOnce(context.Background())

	st := p.Stats()
	require.Equal(t, int64(1), st.TotalClaimed)
	require.Equal(t, int64(1), st.TotalProcessed)
	require.Zero(t, st.TotalErrors)
	require.Zero(t, st.InFlight)
	require.NotNil(t, st.LastCycleAt)
	require.Equal(t, 1, fp.calls)
}

func TestPoller_WithSettings(t *testing.T) {
	p := New(nil, &fakeCarrier{}, &fakeProducer{}, nil, nil, nil).
		WithSettings(5*time.Second, 7, 9, 11*time.Second, 13).
		WithTopic("custom")
	require.Equal(t, 5*time.Second, p.pollInterval)
	require.Equal(t, 7, p.batchSize)
	require.Equal(t, 9, p.concurrency)
	require.Equal(t, 11*time.Second, p.lease)
	require.Equal(t, int64(13), p.rateLimitPerMinute)
	require.Equal(t, "custom", p.topic)
}

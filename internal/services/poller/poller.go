package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/trackengine/internal/broker/messages"
	"github.com/BearBump/trackengine/internal/integrations/carrier"
	"github.com/BearBump/trackengine/internal/logger"
	"github.com/BearBump/trackengine/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.TrackingRecord, error)
	ScheduleSync(ctx context.Context, trackingID string, next time.Time) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// StatusReader reads the canonical status out of a raw carrier body. Only used for
// scheduling; the api side does the authoritative normalization.
type StatusReader interface {
	Normalize(carrierName string, raw []byte) (models.CanonicalEvent, error)
}

type Poller struct {
	repo     Repository
	carrier  carrier.Client
	producer Producer
	rl       RateLimiter
	reader   StatusReader
	log      *logger.Logger

	topic string

	planner *Planner

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	lease              time.Duration
	rateLimitPerMinute int64
	carrierLimits      map[models.CarrierName]int64
	limitedDelay       time.Duration
	publishAttempts    int

	failMu   sync.Mutex
	failures map[string]int

	triggerCh chan struct{}
	now       func() time.Time

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalErrors         atomic.Int64
	totalLimited        atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, client carrier.Client, producer Producer, rl RateLimiter, reader StatusReader, log *logger.Logger) *Poller {
	return &Poller{
		repo: repo, carrier: client, producer: producer, rl: rl, reader: reader,
		log:                logger.OrNop(log).With("component", "poller"),
		topic:              messages.TopicCarrierEvents,
		planner:            DefaultPlanner(),
		pollInterval:       2 * time.Second,
		batchSize:          100,
		concurrency:        10,
		lease:              120 * time.Second,
		rateLimitPerMinute: 120,
		carrierLimits:      map[models.CarrierName]int64{},
		limitedDelay:       time.Minute,
		publishAttempts:    10,
		failures:           map[string]int{},
		triggerCh:          make(chan struct{}, 1),
		now:                func() time.Time { return time.Now().UTC() },
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultPlannerConfig(), nil)
}

func (p *Poller) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration, rlPerMin int64) *Poller {
	if pollInterval > 0 {
		p.pollInterval = pollInterval
	}
	if batchSize > 0 {
		p.batchSize = batchSize
	}
	if concurrency > 0 {
		p.concurrency = concurrency
	}
	if lease > 0 {
		p.lease = lease
	}
	if rlPerMin > 0 {
		p.rateLimitPerMinute = rlPerMin
	}
	return p
}

func (p *Poller) WithPlanner(cfg PlannerConfig) *Poller {
	p.planner = NewPlanner(cfg, nil)
	return p
}

func (p *Poller) WithTopic(topic string) *Poller {
	if topic != "" {
		p.topic = topic
	}
	return p
}

// WithCarrierRateLimits overrides the per-minute limit for individual carriers.
func (p *Poller) WithCarrierRateLimits(limits map[models.CarrierName]int) *Poller {
	for name, n := range limits {
		if n > 0 {
			p.carrierLimits[name] = int64(n)
		}
	}
	return p
}

// Trigger forces an immediate poll cycle (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalErrors    int64      `json:"totalErrors"`
	TotalLimited   int64      `json:"totalLimited"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalClaimed:   p.totalClaimed.Load(),
		TotalProcessed: p.totalProcessed.Load(),
		TotalErrors:    p.totalErrors.Load(),
		TotalLimited:   p.totalLimited.Load(),
		InFlight:       p.inFlight.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.runOnce(ctx)
		case <-p.triggerCh:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	now := p.now()
	p.lastCycleUnixNano.Store(now.UnixNano())

	items, err := p.repo.ClaimDue(ctx, now, p.batchSize, p.lease)
	if err != nil {
		p.log.Error("claim due trackings", "error", err.Error())
		p.setLastError(err)
		return
	}
	p.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	for _, rec := range items {
		sem <- struct{}{}
		wg.Add(1)
		p.inFlight.Add(1)
		go func() {
			defer func() {
				p.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := p.processOne(ctx, rec); err != nil {
				p.totalErrors.Add(1)
				p.setLastError(err)
				p.log.Error("process tracking", "tracking_id", rec.TrackingID, "error", err.Error())
			}
			p.totalProcessed.Add(1)
		}()
	}
	wg.Wait()
}

func (p *Poller) processOne(ctx context.Context, rec *models.TrackingRecord) error {
	now := p.now()
	name := rec.Carrier.Name

	allowed, err := p.allow(ctx, name, now)
	if err != nil {
		return err
	}
	if !allowed {
		p.totalLimited.Add(1)
		p.log.Warn("carrier rate limit exceeded", "carrier", name, "tracking_id", rec.TrackingID)
		return p.repo.ScheduleSync(ctx, rec.TrackingID, now.Add(p.limitedDelay))
	}

	upd, err := p.carrier.GetTracking(ctx, name, rec.Carrier.TrackingNumber)
	if err != nil {
		next := now.Add(p.planner.BackoffDelay(p.recordFailure(rec.TrackingID)))
		if serr := p.repo.ScheduleSync(ctx, rec.TrackingID, next); serr != nil {
			p.log.Error("schedule after carrier failure", "tracking_id", rec.TrackingID, "error", serr.Error())
		}
		return errors.Wrapf(err, "fetch %s %s", name, rec.Carrier.TrackingNumber)
	}
	p.clearFailures(rec.TrackingID)

	ev := messages.CarrierEvent{
		Carrier:        string(name),
		TrackingNumber: rec.Carrier.TrackingNumber,
		TrackingID:     rec.TrackingID,
		FetchedAt:      now,
		Payload:        upd.Payload,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal carrier event")
	}
	if err := p.publish(ctx, ev.Key(), b); err != nil {
		return err
	}

	status := rec.Status.Current
	if p.reader != nil {
		if canon, err := p.reader.Normalize(string(name), upd.Payload); err == nil {
			status = canon.Status
		} else {
			p.log.Warn("unreadable carrier status", "tracking_id", rec.TrackingID, "error", err.Error())
		}
	}
	return p.repo.ScheduleSync(ctx, rec.TrackingID, now.Add(p.planner.NextCheckDelay(status)))
}

func (p *Poller) allow(ctx context.Context, name models.CarrierName, now time.Time) (bool, error) {
	if p.rl == nil || p.rateLimitPerMinute <= 0 {
		return true, nil
	}
	limit := p.rateLimitPerMinute
	if n, ok := p.carrierLimits[name]; ok {
		limit = n
	}
	minuteKey := fmt.Sprintf("rl:carrier:%s:%s", name, now.Format("200601021504"))
	allowed, _, err := p.rl.Allow(ctx, minuteKey, limit, 70*time.Second)
	if err != nil {
		return false, err
	}
	return allowed, nil
}

// publish retries because Kafka may still be electing leaders right after startup.
func (p *Poller) publish(ctx context.Context, key, value []byte) error {
	var pubErr error
	for i := 0; i < p.publishAttempts; i++ {
		if pubErr = p.producer.Publish(ctx, p.topic, key, value); pubErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(150*(i+1)) * time.Millisecond):
		}
	}
	return pubErr
}

func (p *Poller) recordFailure(trackingID string) int {
	p.failMu.Lock()
	defer p.failMu.Unlock()
	p.failures[trackingID]++
	return p.failures[trackingID]
}

func (p *Poller) clearFailures(trackingID string) {
	p.failMu.Lock()
	delete(p.failures, trackingID)
	p.failMu.Unlock()
}

func (p *Poller) setLastError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}

// Package jobs runs scheduled background tasks with github.com/robfig/cron/v3.
package jobs

import (
	"context"
	"iter"
	"time"

	"github.com/BearBump/trackengine/internal/logger"
	"github.com/BearBump/trackengine/internal/models"
	"github.com/BearBump/trackengine/internal/realtime"
	"github.com/robfig/cron/v3"
)

const (
	DefaultDelayedScanSchedule = "@every 5m"
	defaultReportLimit         = 100
)

type DelayedFinder interface {
	FindDelayed(ctx context.Context) iter.Seq2[*models.TrackingRecord, error]
}

type Publisher interface {
	Publish(ctx context.Context, topic string, event realtime.EventType, payload any)
}

type DelayedShipment struct {
	TrackingID        string             `json:"trackingId"`
	OrderID           string             `json:"orderId"`
	Carrier           models.CarrierName `json:"carrier"`
	TrackingNumber    string             `json:"trackingNumber"`
	Status            models.Status      `json:"status"`
	EstimatedDelivery *time.Time         `json:"estimatedDelivery,omitempty"`
}

// DelayedReport is the analytics_update payload. Shipments is capped; DelayedCount is not.
type DelayedReport struct {
	Kind         string            `json:"kind"`
	DelayedCount int               `json:"delayedCount"`
	Shipments    []DelayedShipment `json:"shipments"`
	ScannedAt    time.Time         `json:"scannedAt"`
}

// DelayedScanJob periodically looks for overdue shipments and reports them on the
// analytics topic.
type DelayedScanJob struct {
	finder   DelayedFinder
	hub      Publisher
	cron     *cron.Cron
	schedule string
	limit    int
	timeout  time.Duration
	log      *logger.Logger
	now      func() time.Time
}

func NewDelayedScanJob(finder DelayedFinder, hub Publisher, schedule string, log *logger.Logger) *DelayedScanJob {
	if schedule == "" {
		schedule = DefaultDelayedScanSchedule
	}
	return &DelayedScanJob{
		finder:   finder,
		hub:      hub,
		cron:     cron.New(),
		schedule: schedule,
		limit:    defaultReportLimit,
		timeout:  time.Minute,
		log:      logger.OrNop(log).With("component", "delayed_scan_job"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (j *DelayedScanJob) Start() error {
	_, err := j.cron.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()
		if _, err := j.RunOnce(ctx); err != nil {
			j.log.Error("delayed scan failed", "error", err.Error())
		}
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	j.log.Info("delayed scan job started", "schedule", j.schedule)
	return nil
}

// Stop waits for a running scan to finish.
func (j *DelayedScanJob) Stop() {
	<-j.cron.Stop().Done()
	j.log.Info("delayed scan job stopped")
}

// RunOnce scans and publishes one report. Nothing is published when the scan fails.
func (j *DelayedScanJob) RunOnce(ctx context.Context) (DelayedReport, error) {
	rep := DelayedReport{Kind: "delayed_shipments", Shipments: []DelayedShipment{}, ScannedAt: j.now()}
	for rec, err := range j.finder.FindDelayed(ctx) {
		if err != nil {
			return DelayedReport{}, err
		}
		rep.DelayedCount++
		if len(rep.Shipments) < j.limit {
			rep.Shipments = append(rep.Shipments, DelayedShipment{
				TrackingID:        rec.TrackingID,
				OrderID:           rec.Order.OrderID,
				Carrier:           rec.Carrier.Name,
				TrackingNumber:    rec.Carrier.TrackingNumber,
				Status:            rec.Status.Current,
				EstimatedDelivery: rec.Delivery.Estimated.Date,
			})
		}
	}

	j.hub.Publish(ctx, realtime.AnalyticsTopic, realtime.EventAnalyticsUpdate, rep)
	j.log.Info("delayed scan finished", "delayed", rep.DelayedCount)
	return rep, nil
}

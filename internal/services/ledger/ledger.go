// Package ledger owns the tracking record state machine: creation, timeline appends
// and archiving. Every mutation goes through Mutate, which serializes writers of one
// record in-process and retries on a stale version from another instance.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/trackengine/internal/apperr"
	"github.com/BearBump/trackengine/internal/logger"
	"github.com/BearBump/trackengine/internal/models"
	"github.com/BearBump/trackengine/internal/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Store interface {
	Insert(ctx context.Context, rec *models.TrackingRecord) error
	Get(ctx context.Context, trackingID string) (*models.TrackingRecord, error)
	Update(ctx context.Context, rec *models.TrackingRecord) error
}

const defaultMaxAttempts = 3

type Ledger struct {
	store Store
	locks *keyedMutex
	log   *logger.Logger

	now         func() time.Time
	newID       func() string
	maxAttempts int
}

func New(store Store, log *logger.Logger) *Ledger {
	return newLedgerWithClock(store, log, func() time.Time { return time.Now().UTC() }, uuid.NewString)
}

func newLedgerWithClock(store Store, log *logger.Logger, now func() time.Time, newID func() string) *Ledger {
	return &Ledger{
		store:       store,
		locks:       newKeyedMutex(),
		log:         logger.OrNop(log).With("component", "ledger"),
		now:         now,
		newID:       newID,
		maxAttempts: defaultMaxAttempts,
	}
}

func (l *Ledger) Create(ctx context.Context, in models.TrackingCreateInput) (*models.TrackingRecord, error) {
	in.OrderID = strings.TrimSpace(in.OrderID)
	in.TrackingNumber = strings.TrimSpace(in.TrackingNumber)
	in.CarrierName = models.CarrierName(strings.ToLower(string(in.CarrierName)))
	switch {
	case in.OrderID == "":
		return nil, apperr.MissingField("orderId")
	case in.TrackingNumber == "":
		return nil, apperr.MissingField("trackingNumber")
	case in.CarrierName == "":
		return nil, apperr.MissingField("carrier")
	case !in.CarrierName.Valid():
		return nil, apperr.Validation("unsupported carrier: " + string(in.CarrierName))
	}

	now := l.now()
	rec := &models.TrackingRecord{
		TrackingID: l.newID(),
		Order:      models.OrderRef{OrderID: in.OrderID, UserID: in.UserID},
		Carrier: models.Carrier{
			Name:           in.CarrierName,
			TrackingNumber: in.TrackingNumber,
			Service:        in.Service,
		},
		Status:        models.StatusState{Current: models.StatusPending, LastUpdated: now},
		Timeline:      []models.TimelineEvent{},
		Exceptions:    []models.Exception{},
		Notifications: []models.Notification{},
		IsActive:      true,
		NextSyncAt:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.EstimatedDelivery != nil {
		eta := in.EstimatedDelivery.UTC()
		rec.Delivery.Estimated.Date = &eta
	}

	if err := l.store.Insert(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperr.Conflict("duplicate_tracking",
				fmt.Sprintf("tracking already exists for %s %s", in.CarrierName, in.TrackingNumber))
		}
		return nil, errors.Wrap(err, "insert tracking record")
	}
	l.log.Info("tracking created", "trackingId", rec.TrackingID, "carrier", rec.Carrier.Name, "orderId", rec.Order.OrderID)
	return rec, nil
}

func (l *Ledger) Get(ctx context.Context, trackingID string) (*models.TrackingRecord, error) {
	rec, err := l.store.Get(ctx, trackingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound("tracking", trackingID)
		}
		return nil, errors.Wrap(err, "load tracking record")
	}
	return rec, nil
}

// Mutate loads the record, applies fn and saves it. fn may run more than once when a
// concurrent writer wins the version race, so it must only touch rec.
func (l *Ledger) Mutate(ctx context.Context, trackingID string, fn func(rec *models.TrackingRecord) error) (*models.TrackingRecord, error) {
	unlock := l.locks.Lock(trackingID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		rec, err := l.Get(ctx, trackingID)
		if err != nil {
			return nil, err
		}
		if err := fn(rec); err != nil {
			return nil, err
		}
		rec.UpdatedAt = l.now()

		err = l.store.Update(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, storage.ErrStaleRecord) {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, apperr.NotFound("tracking", trackingID)
			}
			return nil, errors.Wrap(err, "save tracking record")
		}
		if attempt >= l.maxAttempts {
			l.log.Warn("giving up on stale record", "trackingId", trackingID, "attempts", attempt)
			return nil, apperr.Conflict("concurrent_update", "tracking was modified concurrently: "+trackingID)
		}
		l.log.Debug("stale record, reloading", "trackingId", trackingID, "attempt", attempt)
	}
}

// AppendEvent records ev on the timeline and moves the status machine. The returned
// outbound list is for the caller to dispatch; the ledger itself never calls out.
func (l *Ledger) AppendEvent(ctx context.Context, trackingID string, ev models.CanonicalEvent, source models.Source) (*models.TrackingRecord, []models.Outbound, error) {
	if !ev.Status.Valid() {
		return nil, nil, apperr.Validation("invalid status: " + string(ev.Status))
	}
	if !source.Valid() {
		return nil, nil, apperr.Validation("invalid source: " + string(source))
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}
	ev.Timestamp = ev.Timestamp.UTC()

	var out []models.Outbound
	rec, err := l.Mutate(ctx, trackingID, func(rec *models.TrackingRecord) error {
		out = nil

		if !rec.IsActive {
			return apperr.Conflict("tracking_archived", "tracking is archived: "+trackingID)
		}
		if rec.Status.Current.Terminal() && source != models.SourceManual {
			return apperr.Conflict("terminal_status",
				fmt.Sprintf("tracking %s is %s; only manual corrections are accepted", trackingID, rec.Status.Current))
		}
		if last := rec.LastEvent(); last != nil && ev.Timestamp.Before(last.Timestamp) {
			return apperr.Conflict("out_of_order_event",
				fmt.Sprintf("event at %s is older than the last timeline event at %s",
					ev.Timestamp.Format(time.RFC3339), last.Timestamp.Format(time.RFC3339)))
		}

		out = l.apply(rec, ev, source)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	l.log.Info("event appended",
		"trackingId", trackingID,
		"status", rec.Status.Current,
		"source", source,
		"timeline", len(rec.Timeline))
	return rec, out, nil
}

func (l *Ledger) apply(rec *models.TrackingRecord, ev models.CanonicalEvent, source models.Source) []models.Outbound {
	te := models.TimelineEvent{
		Status:      ev.Status,
		RawStatus:   ev.RawStatus,
		Description: ev.Description,
		Location:    ev.Location,
		Timestamp:   ev.Timestamp,
		Source:      source,
		IsDelivered: ev.Status == models.StatusDelivered,
		IsException: ev.Status == models.StatusException,
	}
	rec.Timeline = append(rec.Timeline, te)

	prev := rec.Status.Current
	rec.Status.Previous = &prev
	rec.Status.Current = ev.Status
	rec.Status.LastUpdated = ev.Timestamp

	if ev.EstimatedDelivery != nil {
		eta := ev.EstimatedDelivery.UTC()
		rec.Delivery.Estimated.Date = &eta
	}
	if te.IsDelivered {
		ts := ev.Timestamp
		rec.Delivery.Actual = models.ActualDelivery{Date: &ts, Signature: ev.Signature, Recipient: ev.Recipient}
	}

	out := []models.Outbound{{
		Kind:          models.OutboundTrackingUpdate,
		TrackingID:    rec.TrackingID,
		OrderID:       rec.Order.OrderID,
		UserID:        rec.Order.UserID,
		Status:        rec.Status.Current,
		Event:         &te,
		HasExceptions: rec.HasExceptions(),
	}}
	if rec.Order.OrderID != "" {
		out = append(out, models.Outbound{
			Kind:       models.OutboundOrderSync,
			TrackingID: rec.TrackingID,
			OrderID:    rec.Order.OrderID,
			UserID:     rec.Order.UserID,
			Status:     rec.Status.Current,
		})
	}
	if n := l.notificationFor(rec, te); n != nil {
		rec.Notifications = append(rec.Notifications, *n)
		out = append(out, models.Outbound{
			Kind:         models.OutboundNotification,
			TrackingID:   rec.TrackingID,
			OrderID:      rec.Order.OrderID,
			UserID:       rec.Order.UserID,
			Status:       rec.Status.Current,
			Notification: n,
		})
	}
	return out
}

func (l *Ledger) notificationFor(rec *models.TrackingRecord, te models.TimelineEvent) *models.Notification {
	var typ, msg string
	switch {
	case te.IsDelivered:
		typ, msg = "delivered", fmt.Sprintf("Your %s shipment %s has been delivered", strings.ToUpper(string(rec.Carrier.Name)), rec.Carrier.TrackingNumber)
	case te.IsException:
		typ, msg = "exception", fmt.Sprintf("There is a problem with shipment %s: %s", rec.Carrier.TrackingNumber, te.Description)
	default:
		return nil
	}
	return &models.Notification{
		Type:    typ,
		Channel: "realtime",
		Message: msg,
		SentAt:  l.now(),
		Status:  "sent",
	}
}

// Archive retires the record. Archiving twice is allowed.
func (l *Ledger) Archive(ctx context.Context, trackingID string) (*models.TrackingRecord, error) {
	rec, err := l.Mutate(ctx, trackingID, func(rec *models.TrackingRecord) error {
		rec.IsActive = false
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("tracking archived", "trackingId", trackingID)
	return rec, nil
}

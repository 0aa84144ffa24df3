// Package dispatch executes the outbound side effects returned by record mutations.
// Failures are logged and never reach the ingestion caller.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/BearBump/trackengine/internal/logger"
	"github.com/BearBump/trackengine/internal/models"
	"github.com/BearBump/trackengine/internal/realtime"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, event realtime.EventType, payload any)
}

type OrderSyncer interface {
	SyncOrderStatus(ctx context.Context, trackingID, orderID string, status models.Status) (models.OrderStatus, bool, error)
}

type TrackingUpdate struct {
	TrackingID    string            `json:"trackingId"`
	Status        models.Status     `json:"status"`
	Description   string            `json:"description,omitempty"`
	Location      *models.Location  `json:"location,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	HasExceptions bool              `json:"hasExceptions"`
	Exception     *models.Exception `json:"exception,omitempty"`
}

type OrderUpdate struct {
	OrderID        string             `json:"orderId"`
	Status         models.OrderStatus `json:"status"`
	TrackingID     string             `json:"trackingId"`
	TrackingStatus models.Status      `json:"trackingStatus"`
}

type NotificationPayload struct {
	TrackingID string    `json:"trackingId"`
	Type       string    `json:"type"`
	Message    string    `json:"message"`
	SentAt     time.Time `json:"sentAt"`
}

type Dispatcher struct {
	hub     Publisher
	orders  OrderSyncer
	log     *logger.Logger
	timeout time.Duration
	now     func() time.Time

	wg sync.WaitGroup
}

func New(hub Publisher, orders OrderSyncer, log *logger.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		hub:     hub,
		orders:  orders,
		log:     logger.OrNop(log).With("component", "dispatch"),
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch runs out in the background, in order. It returns immediately.
func (d *Dispatcher) Dispatch(out []models.Outbound) {
	if len(out) == 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		for _, o := range out {
			d.run(ctx, o)
		}
	}()
}

// Wait blocks until every dispatched batch finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, o models.Outbound) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("outbound handler panicked", "kind", o.Kind, "trackingId", o.TrackingID, "panic", r)
		}
	}()

	switch o.Kind {
	case models.OutboundTrackingUpdate:
		d.hub.Publish(ctx, realtime.TrackingTopic(o.TrackingID), realtime.EventTrackingUpdate, d.trackingUpdate(o))

	case models.OutboundOrderSync:
		if d.orders == nil {
			return
		}
		to, moved, err := d.orders.SyncOrderStatus(ctx, o.TrackingID, o.OrderID, o.Status)
		if err != nil {
			d.log.Warn("order sync failed", "trackingId", o.TrackingID, "orderId", o.OrderID, "status", o.Status, "error", err)
			return
		}
		if !moved {
			return
		}
		upd := OrderUpdate{OrderID: o.OrderID, Status: to, TrackingID: o.TrackingID, TrackingStatus: o.Status}
		if o.UserID != "" {
			d.hub.Publish(ctx, realtime.OrdersTopic(o.UserID), realtime.EventOrderUpdate, upd)
		}
		d.hub.Publish(ctx, realtime.OrdersAllTopic, realtime.EventOrderUpdate, upd)

	case models.OutboundNotification:
		if o.Notification == nil {
			return
		}
		n := NotificationPayload{
			TrackingID: o.TrackingID,
			Type:       o.Notification.Type,
			Message:    o.Notification.Message,
			SentAt:     o.Notification.SentAt,
		}
		d.hub.Publish(ctx, realtime.TrackingTopic(o.TrackingID), realtime.EventNotification, n)
		if o.UserID != "" {
			d.hub.Publish(ctx, realtime.OrdersTopic(o.UserID), realtime.EventNotification, n)
		}

	default:
		d.log.Warn("unknown outbound kind", "kind", o.Kind)
	}
}

func (d *Dispatcher) trackingUpdate(o models.Outbound) TrackingUpdate {
	u := TrackingUpdate{
		TrackingID:    o.TrackingID,
		Status:        o.Status,
		HasExceptions: o.HasExceptions,
		Exception:     o.Exception,
	}
	switch {
	case o.Event != nil:
		u.Description = o.Event.Description
		u.Location = o.Event.Location
		u.Timestamp = o.Event.Timestamp
	case o.Exception != nil:
		u.Description = o.Exception.Description
		u.Timestamp = o.Exception.ReportedAt
		if o.Exception.ResolvedAt != nil {
			u.Timestamp = *o.Exception.ResolvedAt
		}
	default:
		u.Timestamp = d.now()
	}
	return u
}

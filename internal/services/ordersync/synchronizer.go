package ordersync

import (
	"context"
	"fmt"

	"github.com/BearBump/trackengine/internal/logger"
	"github.com/BearBump/trackengine/internal/models"
	"github.com/pkg/errors"
)

type Orders interface {
	GetOrder(ctx context.Context, orderID string) (models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus, reason string) error
}

// rule maps a tracking status to the order status it implies. An empty from list means
// the move is unconditional.
type rule struct {
	to   models.OrderStatus
	from []models.OrderStatus
}

var rules = map[models.Status]rule{
	models.StatusPickedUp:       {to: models.OrderProcessing, from: []models.OrderStatus{models.OrderConfirmed}},
	models.StatusInTransit:      {to: models.OrderShipped, from: []models.OrderStatus{models.OrderConfirmed, models.OrderProcessing}},
	models.StatusOutForDelivery: {to: models.OrderShipped, from: []models.OrderStatus{models.OrderConfirmed, models.OrderProcessing}},
	models.StatusDelivered:      {to: models.OrderDelivered},
	models.StatusException:      {to: models.OrderFailed},
	models.StatusReturned:       {to: models.OrderFailed},
}

// Target returns the order status implied by a tracking status for an order currently
// in current, and whether the order should move at all.
func Target(status models.Status, current models.OrderStatus) (models.OrderStatus, bool) {
	r, ok := rules[status]
	if !ok || r.to == current {
		return "", false
	}
	if len(r.from) == 0 {
		return r.to, true
	}
	for _, f := range r.from {
		if f == current {
			return r.to, true
		}
	}
	return "", false
}

type Synchronizer struct {
	orders Orders
	log    *logger.Logger
}

func New(orders Orders, log *logger.Logger) *Synchronizer {
	return &Synchronizer{orders: orders, log: logger.OrNop(log).With("component", "ordersync")}
}

// SyncOrderStatus projects status onto the order. It reports the new order status
// when the order moved.
func (s *Synchronizer) SyncOrderStatus(ctx context.Context, trackingID, orderID string, status models.Status) (models.OrderStatus, bool, error) {
	if _, ok := rules[status]; !ok || orderID == "" {
		return "", false, nil
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return "", false, errors.Wrap(err, "get order")
	}
	to, ok := Target(status, order.Status)
	if !ok {
		s.log.Debug("order sync skipped", "orderId", orderID, "orderStatus", order.Status, "trackingStatus", status)
		return "", false, nil
	}

	reason := fmt.Sprintf("tracking %s is %s", trackingID, status)
	if err := s.orders.UpdateOrderStatus(ctx, orderID, to, reason); err != nil {
		return "", false, errors.Wrap(err, "update order status")
	}
	s.log.Info("order status synced", "orderId", orderID, "from", order.Status, "to", to, "trackingId", trackingID)
	return to, true, nil
}

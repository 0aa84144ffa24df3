package models

import "time"

// CanonicalEvent is a carrier-agnostic status update produced by the normalizer.
type CanonicalEvent struct {
	Carrier           CarrierName `json:"carrier"`
	TrackingNumber    string      `json:"trackingNumber"`
	Status            Status      `json:"status"`
	RawStatus         string      `json:"rawStatus,omitempty"`
	Description       string      `json:"description"`
	Location          *Location   `json:"location,omitempty"`
	Timestamp         time.Time   `json:"timestamp"`
	EstimatedDelivery *time.Time  `json:"estimatedDelivery,omitempty"`
	Signature         string      `json:"signature,omitempty"`
	Recipient         string      `json:"recipient,omitempty"`
}

type OutboundKind string

const (
	OutboundTrackingUpdate OutboundKind = "tracking_update"
	OutboundOrderSync      OutboundKind = "order_sync"
	OutboundNotification   OutboundKind = "notification"
)

// Outbound is a side effect requested by a record mutation. The ledger and the
// exception tracker return them; the dispatcher executes them.
type Outbound struct {
	Kind          OutboundKind
	TrackingID    string
	OrderID       string
	UserID        string
	Status        Status
	Event         *TimelineEvent
	HasExceptions bool
	Exception     *Exception
	Notification  *Notification
}

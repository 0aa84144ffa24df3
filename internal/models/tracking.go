package models

import "time"

// Status is the canonical shipment status shared by every carrier.
type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPickedUp       Status = "picked_up"
	StatusInTransit      Status = "in_transit"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusException      Status = "exception"
	StatusReturned       Status = "returned"
	StatusCancelled      Status = "cancelled"
	StatusDelayed        Status = "delayed"
)

var allStatuses = map[Status]struct{}{
	StatusPending: {}, StatusConfirmed: {}, StatusPickedUp: {}, StatusInTransit: {},
	StatusOutForDelivery: {}, StatusDelivered: {}, StatusException: {}, StatusReturned: {},
	StatusCancelled: {}, StatusDelayed: {},
}

func (s Status) Valid() bool {
	_, ok := allStatuses[s]
	return ok
}

// Terminal statuses only accept manual correction events.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusReturned
}

// TerminalStatuses returns the statuses excluded from delay scans.
func TerminalStatuses() []Status {
	return []Status{StatusDelivered, StatusCancelled, StatusReturned}
}

type CarrierName string

const (
	CarrierUPS    CarrierName = "ups"
	CarrierFedEx  CarrierName = "fedex"
	CarrierDHL    CarrierName = "dhl"
	CarrierUSPS   CarrierName = "usps"
	CarrierLocal  CarrierName = "local"
	CarrierCustom CarrierName = "custom"
)

func (c CarrierName) Valid() bool {
	switch c {
	case CarrierUPS, CarrierFedEx, CarrierDHL, CarrierUSPS, CarrierLocal, CarrierCustom:
		return true
	}
	return false
}

// Source says where a timeline event came from.
type Source string

const (
	SourceCarrier Source = "carrier"
	SourceSystem  Source = "system"
	SourceManual  Source = "manual"
	SourceWebhook Source = "webhook"
)

func (s Source) Valid() bool {
	switch s {
	case SourceCarrier, SourceSystem, SourceManual, SourceWebhook:
		return true
	}
	return false
}

type Carrier struct {
	Name           CarrierName `json:"name"`
	TrackingNumber string      `json:"trackingNumber"`
	Service        string      `json:"service,omitempty"`
}

type OrderRef struct {
	OrderID string `json:"orderId"`
	UserID  string `json:"userId,omitempty"`
}

type StatusState struct {
	Current     Status    `json:"current"`
	Previous    *Status   `json:"previous,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
}

type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zipCode,omitempty"`
	Country string `json:"country,omitempty"`
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Location struct {
	Name        string       `json:"name"`
	Address     Address      `json:"address"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// TimelineEvent is immutable once appended.
type TimelineEvent struct {
	Status      Status    `json:"status"`
	RawStatus   string    `json:"rawStatus,omitempty"`
	Description string    `json:"description"`
	Location    *Location `json:"location,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Source      Source    `json:"source"`
	IsDelivered bool      `json:"isDelivered"`
	IsException bool      `json:"isException"`
}

type EstimatedDelivery struct {
	Date       *time.Time `json:"date,omitempty"`
	Confidence *int       `json:"confidence,omitempty"`
}

type ActualDelivery struct {
	Date      *time.Time `json:"date,omitempty"`
	Signature string     `json:"signature,omitempty"`
	Recipient string     `json:"recipient,omitempty"`
}

type Delivery struct {
	Estimated EstimatedDelivery `json:"estimated"`
	Actual    ActualDelivery    `json:"actual"`
}

type Predictions struct {
	DeliveryDate   *time.Time `json:"deliveryDate,omitempty"`
	Confidence     *int       `json:"confidence,omitempty"`
	LastCalculated *time.Time `json:"lastCalculated,omitempty"`
}

type Notification struct {
	Type    string    `json:"type"`
	Channel string    `json:"channel"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sentAt"`
	Status  string    `json:"status"`
}

type TrackingRecord struct {
	TrackingID    string          `json:"trackingId"`
	Order         OrderRef        `json:"order"`
	Carrier       Carrier         `json:"carrier"`
	Status        StatusState     `json:"status"`
	Timeline      []TimelineEvent `json:"timeline"`
	Exceptions    []Exception     `json:"exceptions"`
	Delivery      Delivery        `json:"delivery"`
	Predictions   Predictions     `json:"predictions"`
	Notifications []Notification  `json:"notifications"`
	IsActive      bool            `json:"isActive"`
	NextSyncAt    time.Time       `json:"nextSyncAt"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func (r *TrackingRecord) IsDelivered() bool {
	return r.Status.Current == StatusDelivered
}

// HasExceptions reports whether at least one exception is still open.
func (r *TrackingRecord) HasExceptions() bool {
	for _, e := range r.Exceptions {
		if !e.IsResolved {
			return true
		}
	}
	return false
}

func (r *TrackingRecord) OpenExceptions() int {
	n := 0
	for _, e := range r.Exceptions {
		if !e.IsResolved {
			n++
		}
	}
	return n
}

func (r *TrackingRecord) LastEvent() *TimelineEvent {
	if len(r.Timeline) == 0 {
		return nil
	}
	return &r.Timeline[len(r.Timeline)-1]
}

func (r *TrackingRecord) FindException(id string) *Exception {
	for i := range r.Exceptions {
		if r.Exceptions[i].ID == id {
			return &r.Exceptions[i]
		}
	}
	return nil
}

// Clone returns a deep copy so stores and caches never share slices with callers.
func (r *TrackingRecord) Clone() *TrackingRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Status.Previous != nil {
		p := *r.Status.Previous
		c.Status.Previous = &p
	}
	c.Timeline = append([]TimelineEvent(nil), r.Timeline...)
	c.Exceptions = append([]Exception(nil), r.Exceptions...)
	c.Notifications = append([]Notification(nil), r.Notifications...)
	return &c
}

type TrackingCreateInput struct {
	OrderID           string
	UserID            string
	CarrierName       CarrierName
	TrackingNumber    string
	Service           string
	EstimatedDelivery *time.Time
}

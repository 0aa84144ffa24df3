package messages

import (
	"encoding/json"
	"time"
)

const TopicCarrierEvents = "tracking.carrier-events"

// CarrierEvent carries one raw carrier status body pulled by the worker. Payload has
// the same shape as the carrier's webhook body and is normalized by the consumer.
type CarrierEvent struct {
	Carrier        string          `json:"carrier"`
	TrackingNumber string          `json:"tracking_number"`
	TrackingID     string          `json:"tracking_id,omitempty"`
	FetchedAt      time.Time       `json:"fetched_at"`
	Payload        json.RawMessage `json:"payload"`
}

// Key keeps every event of one shipment on the same partition, so they are consumed in order.
func (e CarrierEvent) Key() []byte {
	return []byte(e.Carrier + "|" + e.TrackingNumber)
}

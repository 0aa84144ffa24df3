package carrier

import (
	"context"
	"encoding/json"

	"github.com/BearBump/trackengine/internal/models"
)

// RawUpdate is an unnormalized carrier payload, shaped like the carrier's webhook body.
type RawUpdate struct {
	Carrier models.CarrierName
	Payload json.RawMessage
}

// Client pulls the latest status of a shipment from a carrier API.
type Client interface {
	GetTracking(ctx context.Context, carrierName models.CarrierName, trackingNumber string) (RawUpdate, error)
}

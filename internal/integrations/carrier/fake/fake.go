package fake

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"time"

	"github.com/BearBump/trackengine/internal/integrations/carrier"
	"github.com/BearBump/trackengine/internal/models"
	"github.com/pkg/errors"
)

// codes holds each carrier's own code for in-transit and delivered.
var codes = map[models.CarrierName][2]string{
	models.CarrierUPS:    {"I", "D"},
	models.CarrierFedEx:  {"IT", "DL"},
	models.CarrierDHL:    {"transit", "delivered"},
	models.CarrierUSPS:   {"In Transit", "Delivered"},
	models.CarrierLocal:  {"in_transit", "delivered"},
	models.CarrierCustom: {"in_transit", "delivered"},
}

// FakeClient stands in for a carrier API in local runs. The status is derived from
// (carrier, tracking number), so roughly a fifth of the shipments come back delivered.
type FakeClient struct {
	now func() time.Time
}

func New() *FakeClient { return &FakeClient{now: time.Now} }

func (f *FakeClient) GetTracking(ctx context.Context, carrierName models.CarrierName, trackingNumber string) (carrier.RawUpdate, error) {
	pair, ok := codes[carrierName]
	if !ok {
		return carrier.RawUpdate{}, errors.Errorf("fake carrier: unsupported carrier %q", carrierName)
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(carrierName))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(trackingNumber))

	code := pair[0]
	if h.Sum32()%5 == 0 {
		code = pair[1]
	}

	body, err := json.Marshal(map[string]any{
		"trackingNumber": trackingNumber,
		"status":         code,
		"description":    "fake carrier update",
		"timestamp":      f.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return carrier.RawUpdate{}, errors.Wrap(err, "marshal payload")
	}
	return carrier.RawUpdate{Carrier: carrierName, Payload: body}, nil
}

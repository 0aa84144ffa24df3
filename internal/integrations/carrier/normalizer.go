package carrier

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/BearBump/trackengine/internal/apperr"
	"github.com/BearBump/trackengine/internal/models"
)

// adapter holds the private translation rules of one carrier.
type adapter struct {
	name models.CarrierName

	// codes maps a normalized carrier status code to the canonical status.
	codes map[string]models.Status

	numberKeys []string
	statusKeys []string
	timeKeys   []string

	timeLayouts []string
}

var commonLayouts = []string{time.RFC3339Nano, time.RFC3339}

// Normalizer maps raw carrier callbacks to canonical events. It has no side effects.
type Normalizer struct {
	adapters map[models.CarrierName]*adapter
	now      func() time.Time
}

func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	n := &Normalizer{adapters: map[models.CarrierName]*adapter{}, now: now}
	for _, a := range []*adapter{
		upsAdapter(), fedexAdapter(), dhlAdapter(), uspsAdapter(),
		localAdapter(models.CarrierLocal), localAdapter(models.CarrierCustom),
	} {
		n.adapters[a.name] = a
	}
	return n
}

// Normalize decodes raw for the given carrier. carrierName may be empty when the
// payload carries a "carrier" field itself.
func (n *Normalizer) Normalize(carrierName string, raw []byte) (models.CanonicalEvent, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return models.CanonicalEvent{}, apperr.Validation("payload is not a JSON object")
	}

	name := strings.ToLower(strings.TrimSpace(carrierName))
	if name == "" {
		name = strings.ToLower(stringField(fields, "carrier"))
	}
	if name == "" {
		return models.CanonicalEvent{}, apperr.MissingField("carrier")
	}
	a, ok := n.adapters[models.CarrierName(name)]
	if !ok {
		return models.CanonicalEvent{}, apperr.Validation("unsupported carrier: " + name)
	}

	number := firstString(fields, a.numberKeys)
	if number == "" {
		return models.CanonicalEvent{}, apperr.MissingField("trackingNumber")
	}
	code := firstString(fields, a.statusKeys)
	if code == "" {
		return models.CanonicalEvent{}, apperr.MissingField("status")
	}

	ev := models.CanonicalEvent{
		Carrier:        a.name,
		TrackingNumber: number,
		Status:         a.status(code),
		RawStatus:      code,
		Description:    stringField(fields, "description"),
		Signature:      stringField(fields, "signature"),
		Recipient:      stringField(fields, "recipient"),
	}
	if ev.Description == "" {
		ev.Description = defaultDescription(ev.Status)
	}

	if rawTS := firstString(fields, a.timeKeys); rawTS != "" {
		ts, err := a.parseTime(rawTS)
		if err != nil {
			return models.CanonicalEvent{}, apperr.Validation("invalid timestamp: " + rawTS)
		}
		ev.Timestamp = ts
	} else {
		ev.Timestamp = n.now()
	}

	if rawETA := stringField(fields, "estimatedDelivery"); rawETA != "" {
		eta, err := a.parseTime(rawETA)
		if err != nil {
			return models.CanonicalEvent{}, apperr.Validation("invalid estimatedDelivery: " + rawETA)
		}
		ev.EstimatedDelivery = &eta
	}

	if locRaw, ok := fields["location"]; ok {
		loc, err := parseLocation(locRaw)
		if err != nil {
			return models.CanonicalEvent{}, apperr.Validation("invalid location")
		}
		ev.Location = loc
	}

	return ev, nil
}

// Recognizes reports whether code is in the carrier's table. Unrecognized codes
// still normalize, to pending.
func (n *Normalizer) Recognizes(carrierName models.CarrierName, code string) bool {
	a, ok := n.adapters[carrierName]
	if !ok {
		return false
	}
	_, ok = a.codes[normalizeCode(code)]
	return ok
}

func (a *adapter) status(code string) models.Status {
	if s, ok := a.codes[normalizeCode(code)]; ok {
		return s
	}
	return models.StatusPending
}

func (a *adapter) parseTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range append(commonLayouts, a.timeLayouts...) {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func normalizeCode(code string) string {
	c := strings.ToLower(strings.TrimSpace(code))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(c)
}

func defaultDescription(s models.Status) string {
	switch s {
	case models.StatusPending:
		return "Shipment information received"
	case models.StatusConfirmed:
		return "Shipment confirmed"
	case models.StatusPickedUp:
		return "Picked up by carrier"
	case models.StatusInTransit:
		return "In transit"
	case models.StatusOutForDelivery:
		return "Out for delivery"
	case models.StatusDelivered:
		return "Delivered"
	case models.StatusException:
		return "Delivery exception"
	case models.StatusReturned:
		return "Returned to sender"
	case models.StatusCancelled:
		return "Shipment cancelled"
	case models.StatusDelayed:
		return "Shipment delayed"
	}
	return string(s)
}

package carrier

import (
	"testing"
	"time"

	"github.com/BearBump/trackengine/internal/apperr"
	"github.com/BearBump/trackengine/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(func() time.Time { return fixedNow })
}

func TestNormalize_CarrierTables(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		carrier string
		body    string
		want    models.Status
	}{
		{"ups", `{"trackingNumber":"1Z1","status":"IN_TRANSIT"}`, models.StatusInTransit},
		{"ups", `{"inquiryNumber":"1Z1","statusCode":"D"}`, models.StatusDelivered},
		{"ups", `{"trackingNumber":"1Z1","status":"X"}`, models.StatusException},
		{"fedex", `{"trackingNumber":"7489","status":"OD"}`, models.StatusOutForDelivery},
		{"fedex", `{"trackingNumber":"7489","eventType":"PU"}`, models.StatusPickedUp},
		{"fedex", `{"trackingNumber":"7489","status":"DL"}`, models.StatusDelivered},
		{"dhl", `{"trackingNumber":"JD0","status":"pre-transit"}`, models.StatusConfirmed},
		{"dhl", `{"id":"JD0","statusCode":"transit"}`, models.StatusInTransit},
		{"dhl", `{"trackingNumber":"JD0","status":"failure"}`, models.StatusException},
		{"usps", `{"trackingNumber":"9400","status":"Out for Delivery"}`, models.StatusOutForDelivery},
		{"usps", `{"trackingNumber":"9400","statusCategory":"Return to Sender"}`, models.StatusReturned},
		{"local", `{"trackingNumber":"L1","status":"shipped"}`, models.StatusInTransit},
		{"custom", `{"trackingNumber":"C1","status":"cancelled"}`, models.StatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.carrier+"/"+tt.body, func(t *testing.T) {
			ev, err := n.Normalize(tt.carrier, []byte(tt.body))
			require.NoError(t, err)
			require.Equal(t, models.CarrierName(tt.carrier), ev.Carrier)
			require.Equal(t, tt.want, ev.Status)
			require.NotEmpty(t, ev.TrackingNumber)
			require.NotEmpty(t, ev.Description)
		})
	}
}

func TestNormalize_UPSInTransit(t *testing.T) {
	ev, err := newTestNormalizer().Normalize("ups", []byte(`{
		"trackingNumber": "1Z1",
		"status": "IN_TRANSIT",
		"description": "Departed facility",
		"timestamp": "2025-03-09T08:30:00Z",
		"location": {"city": "Louisville", "state": "KY", "country": "US"}
	}`))
	require.NoError(t, err)

	require.Equal(t, models.StatusInTransit, ev.Status)
	require.Equal(t, "IN_TRANSIT", ev.RawStatus)
	require.Equal(t, "Departed facility", ev.Description)
	require.Equal(t, time.Date(2025, 3, 9, 8, 30, 0, 0, time.UTC), ev.Timestamp)
	require.NotNil(t, ev.Location)
	require.Equal(t, "Louisville, KY, US", ev.Location.Name)
	require.Equal(t, "Louisville", ev.Location.Address.City)
}

func TestNormalize_CarrierFromPayload(t *testing.T) {
	ev, err := newTestNormalizer().Normalize("", []byte(`{"carrier":"FedEx","trackingNumber":"7489","status":"IT"}`))
	require.NoError(t, err)
	require.Equal(t, models.CarrierFedEx, ev.Carrier)
	require.Equal(t, models.StatusInTransit, ev.Status)
}

func TestNormalize_MissingFields(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		name    string
		carrier string
		body    string
		field   string
	}{
		{"no carrier", "", `{"trackingNumber":"1","status":"I"}`, "carrier"},
		{"no tracking number", "ups", `{"status":"I"}`, "trackingNumber"},
		{"no status", "ups", `{"trackingNumber":"1"}`, "status"},
		{"empty status", "dhl", `{"trackingNumber":"1","status":"  "}`, "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.carrier, []byte(tt.body))
			require.Error(t, err)
			require.True(t, errors.Is(err, apperr.ErrValidation))

			ae, ok := apperr.From(err)
			require.True(t, ok)
			require.Equal(t, "missing_required_field", ae.Code)
			require.Contains(t, ae.Message, tt.field)
		})
	}
}

func TestNormalize_Invalid(t *testing.T) {
	n := newTestNormalizer()

	_, err := n.Normalize("pigeon", []byte(`{"trackingNumber":"1","status":"I"}`))
	require.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = n.Normalize("ups", []byte(`[1,2]`))
	require.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = n.Normalize("ups", []byte(`{"trackingNumber":"1","status":"I","timestamp":"yesterday"}`))
	require.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestNormalize_UnknownCodeFallsBackToPending(t *testing.T) {
	n := newTestNormalizer()

	ev, err := n.Normalize("ups", []byte(`{"trackingNumber":"1Z1","status":"ZZ_NEW_CODE"}`))
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, ev.Status)
	require.Equal(t, "ZZ_NEW_CODE", ev.RawStatus)
	require.False(t, n.Recognizes(models.CarrierUPS, "ZZ_NEW_CODE"))
	require.True(t, n.Recognizes(models.CarrierUPS, "in transit"))
}

func TestNormalize_DefaultsAndExtras(t *testing.T) {
	n := newTestNormalizer()

	ev, err := n.Normalize("ups", []byte(`{"trackingNumber":1234,"status":"D","signature":"J. DOE","recipient":"John","estimatedDelivery":"20250312"}`))
	require.NoError(t, err)
	require.Equal(t, "1234", ev.TrackingNumber)
	require.Equal(t, fixedNow, ev.Timestamp)
	require.Equal(t, "Delivered", ev.Description)
	require.Equal(t, "J. DOE", ev.Signature)
	require.Equal(t, "John", ev.Recipient)
	require.NotNil(t, ev.EstimatedDelivery)
	require.Equal(t, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), *ev.EstimatedDelivery)
}

func TestNormalize_CarrierTimeLayouts(t *testing.T) {
	n := newTestNormalizer()

	ev, err := n.Normalize("usps", []byte(`{"trackingNumber":"9400","status":"Delivered","timestamp":"2025-03-09 14:05:00"}`))
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 3, 9, 14, 5, 0, 0, time.UTC), ev.Timestamp)

	ev, err = n.Normalize("fedex", []byte(`{"trackingNumber":"7489","status":"DL","scanDateTime":"2025-03-09T14:05:00"}`))
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 3, 9, 14, 5, 0, 0, time.UTC), ev.Timestamp)
}

func TestParseLocation(t *testing.T) {
	loc, err := parseLocation([]byte(`"Memphis Hub"`))
	require.NoError(t, err)
	require.Equal(t, "Memphis Hub", loc.Name)

	loc, err = parseLocation([]byte(`null`))
	require.NoError(t, err)
	require.Nil(t, loc)

	loc, err = parseLocation([]byte(`{
		"name": "Leipzig Hub",
		"address": {"addressLocality": "Leipzig", "postalCode": "04435", "countryCode": "DE"},
		"coordinates": {"latitude": 51.42, "longitude": "12.24"}
	}`))
	require.NoError(t, err)
	require.Equal(t, "Leipzig Hub", loc.Name)
	require.Equal(t, "Leipzig", loc.Address.City)
	require.Equal(t, "04435", loc.Address.ZipCode)
	require.Equal(t, "DE", loc.Address.Country)
	require.NotNil(t, loc.Coordinates)
	require.InDelta(t, 51.42, loc.Coordinates.Lat, 1e-9)
	require.InDelta(t, 12.24, loc.Coordinates.Lon, 1e-9)

	_, err = parseLocation([]byte(`[1]`))
	require.Error(t, err)
}

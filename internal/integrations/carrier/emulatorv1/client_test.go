package emulatorv1

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BearBump/trackengine/internal/apperr"
	"github.com/BearBump/trackengine/internal/integrations/carrier"
	"github.com/BearBump/trackengine/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestClient_GetTracking_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/tracking/ups/1Z1", r.URL.Path)
		require.Equal(t, "k", r.URL.Query().Get("apiKey"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"trackingNumber":"1Z1","status":"IN_TRANSIT","timestamp":"2025-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	res, err := c.GetTracking(context.Background(), models.CarrierUPS, "1Z1")
	require.NoError(t, err)
	require.Equal(t, models.CarrierUPS, res.Carrier)

	ev, err := carrier.NewNormalizer(nil).Normalize(string(res.Carrier), res.Payload)
	require.NoError(t, err)
	require.Equal(t, models.StatusInTransit, ev.Status)
	require.Equal(t, "1Z1", ev.TrackingNumber)
}

func TestClient_GetTracking_429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	_, err := c.GetTracking(context.Background(), models.CarrierUPS, "1Z1")
	require.Error(t, err)
	require.True(t, errors.Is(err, apperr.ErrRateLimited))
}

func TestClient_GetTracking_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").GetTracking(context.Background(), models.CarrierDHL, "JD1")
	require.Error(t, err)
	require.True(t, errors.Is(err, apperr.ErrExternalService))
}

func TestClient_GetTracking_NotJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html></html>`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").GetTracking(context.Background(), models.CarrierDHL, "JD1")
	require.Error(t, err)
}

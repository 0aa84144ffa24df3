package shop

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BearBump/trackengine/internal/apperr"
	"github.com/BearBump/trackengine/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestClient_GetOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/orders/o1", r.URL.Path)
		require.Equal(t, "Bearer svc", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":"o1","userId":"u1","status":"confirmed"}`))
	}))
	defer srv.Close()

	o, err := New(srv.URL, "svc").GetOrder(context.Background(), "o1")
	require.NoError(t, err)
	require.Equal(t, models.Order{ID: "o1", UserID: "u1", Status: models.OrderConfirmed}, o)
}

func TestClient_UpdateOrderStatus(t *testing.T) {
	var got struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/orders/o1/status", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := New(srv.URL, "").UpdateOrderStatus(context.Background(), "o1", models.OrderShipped, "tracking in_transit")
	require.NoError(t, err)
	require.Equal(t, "shipped", got.Status)
	require.Equal(t, "tracking in_transit", got.Reason)
}

func TestClient_GetAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users/u1", r.URL.Path)
		_, _ = w.Write([]byte(`{"role":"customer","isActive":false}`))
	}))
	defer srv.Close()

	a, err := New(srv.URL, "").GetAccount(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "u1", a.ID)
	require.False(t, a.IsActive)
}

func TestClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/orders/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.GetOrder(context.Background(), "missing")
	require.True(t, errors.Is(err, apperr.ErrNotFound))

	err = c.UpdateOrderStatus(context.Background(), "o1", models.OrderShipped, "")
	require.True(t, errors.Is(err, apperr.ErrExternalService))
}

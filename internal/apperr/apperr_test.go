package apperr_test

import (
	"net/http"
	"testing"

	"github.com/BearBump/trackengine/internal/apperr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindsMatchSentinels(t *testing.T) {
	cases := []struct {
		name   string
		err    *apperr.Error
		target error
		status int
		code   string
	}{
		{"validation", apperr.Validation("bad"), apperr.ErrValidation, http.StatusBadRequest, "validation_error"},
		{"not found", apperr.NotFound("tracking record", "T1"), apperr.ErrNotFound, http.StatusNotFound, "not_found"},
		{"conflict", apperr.Conflict("terminal_status", "no"), apperr.ErrConflict, http.StatusConflict, "terminal_status"},
		{"external", apperr.ExternalService("carrier down", errors.New("boom")), apperr.ErrExternalService, http.StatusBadGateway, "external_service_error"},
		{"unauthorized", apperr.Unauthorized("no token"), apperr.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"rate limited", apperr.RateLimited("slow down"), apperr.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"forbidden", apperr.Forbidden("admins only"), apperr.ErrForbidden, http.StatusForbidden, "forbidden"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := errors.Wrap(tc.err, "layer")
			assert.True(t, errors.Is(wrapped, tc.target))
			assert.Equal(t, tc.status, tc.err.HTTPStatus())
			assert.Equal(t, tc.code, tc.err.Code)

			got, ok := apperr.From(wrapped)
			require.True(t, ok)
			assert.Equal(t, tc.err, got)
		})
	}
}

func TestMissingField(t *testing.T) {
	err := apperr.MissingField("trackingNumber")
	assert.Equal(t, "missing_required_field", err.Code)
	assert.Equal(t, "missing required field: trackingNumber", err.Error())
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.False(t, errors.Is(err, apperr.ErrNotFound))
}

func TestErrorWithCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := apperr.ExternalService("order service", cause)
	assert.Equal(t, "order service (cause: connection refused)", err.Error())
	assert.Equal(t, cause, err.Unwrap())
}

func TestFrom_PlainError(t *testing.T) {
	_, ok := apperr.From(errors.New("plain"))
	assert.False(t, ok)
}

package exceptions

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/BearBump/trackengine/internal/apperr"
	"github.com/BearBump/trackengine/internal/models"
	"github.com/BearBump/trackengine/internal/services/ledger"
	"github.com/BearBump/trackengine/internal/storage/memtracking"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Tracker, *ledger.Ledger, string) {
	t.Helper()
	l := ledger.New(memtracking.New(), nil)
	rec, err := l.Create(context.Background(), models.TrackingCreateInput{
		OrderID: "o1", CarrierName: models.CarrierUPS, TrackingNumber: "1Z1",
	})
	require.NoError(t, err)

	tr := New(l, nil)
	n := 0
	tr.newID = func() string { n++; return fmt.Sprintf("ex-%d", n) }
	tr.now = func() time.Time { return time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC) }
	return tr, l, rec.TrackingID
}

func TestAddResolve_Scenario(t *testing.T) {
	tr, _, id := setup(t)
	ctx := context.Background()

	rec, out, err := tr.AddException(ctx, id, models.ExceptionInput{
		Type: models.ExceptionWeatherDelay, Description: "Snow storm", Severity: models.SeverityMedium,
	})
	require.NoError(t, err)
	require.True(t, rec.HasExceptions())
	require.Equal(t, models.StatusPending, rec.Status.Current)
	require.Len(t, out, 1)
	require.Equal(t, models.OutboundTrackingUpdate, out[0].Kind)
	require.True(t, out[0].HasExceptions)
	require.Equal(t, "ex-1", out[0].Exception.ID)

	rec, out, err = tr.ResolveException(ctx, id, "ex-1", "storm passed")
	require.NoError(t, err)
	require.False(t, rec.HasExceptions())
	require.Equal(t, "storm passed", rec.Exceptions[0].Resolution)
	require.NotNil(t, rec.Exceptions[0].ResolvedAt)
	require.Len(t, out, 1)
	require.False(t, out[0].HasExceptions)
}

func TestMultipleOpenExceptions(t *testing.T) {
	tr, _, id := setup(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, err := tr.AddException(ctx, id, models.ExceptionInput{Type: models.ExceptionDamaged, Severity: models.SeverityHigh})
		require.NoError(t, err)
	}
	rec, _, err := tr.ResolveException(ctx, id, "ex-1", "")
	require.NoError(t, err)
	require.True(t, rec.HasExceptions())
	require.Equal(t, 1, rec.OpenExceptions())
	require.Equal(t, "damaged", rec.Exceptions[1].Description)
}

func TestResolve_IdempotentAndNotFound(t *testing.T) {
	tr, l, id := setup(t)
	ctx := context.Background()

	_, _, err := tr.AddException(ctx, id, models.ExceptionInput{Type: models.ExceptionLost})
	require.NoError(t, err)
	first, _, err := tr.ResolveException(ctx, id, "ex-1", "found it")
	require.NoError(t, err)

	again, out, err := tr.ResolveException(ctx, id, "ex-1", "other text")
	require.NoError(t, err)
	require.Nil(t, out)
	require.Equal(t, "found it", again.Exceptions[0].Resolution)
	require.Equal(t, first.Version, again.Version)

	_, _, err = tr.ResolveException(ctx, id, "nope", "")
	require.True(t, errors.Is(err, apperr.ErrNotFound))

	_, _, err = tr.ResolveException(ctx, "missing", "ex-1", "")
	require.True(t, errors.Is(err, apperr.ErrNotFound))

	stored, err := l.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, stored.Exceptions, 1)
}

func TestAdd_Validation(t *testing.T) {
	tr, l, id := setup(t)
	ctx := context.Background()

	_, _, err := tr.AddException(ctx, id, models.ExceptionInput{})
	require.True(t, errors.Is(err, apperr.ErrValidation))
	_, _, err = tr.AddException(ctx, id, models.ExceptionInput{Type: "alien_abduction"})
	require.True(t, errors.Is(err, apperr.ErrValidation))
	_, _, err = tr.AddException(ctx, id, models.ExceptionInput{Type: models.ExceptionOther, Severity: "apocalyptic"})
	require.True(t, errors.Is(err, apperr.ErrValidation))

	rec, _, err := tr.AddException(ctx, id, models.ExceptionInput{Type: "Customs_Delay"})
	require.NoError(t, err)
	require.Equal(t, models.SeverityMedium, rec.Exceptions[0].Severity)
	require.Equal(t, models.ExceptionCustomsDelay, rec.Exceptions[0].Type)

	_, err = l.Archive(ctx, id)
	require.NoError(t, err)
	_, _, err = tr.AddException(ctx, id, models.ExceptionInput{Type: models.ExceptionOther})
	require.True(t, errors.Is(err, apperr.ErrConflict))
}

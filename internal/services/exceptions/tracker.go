package exceptions

import (
	"context"
	"strings"
	"time"

	"github.com/BearBump/trackengine/internal/apperr"
	"github.com/BearBump/trackengine/internal/logger"
	"github.com/BearBump/trackengine/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Records is implemented by the ledger.
type Records interface {
	Get(ctx context.Context, trackingID string) (*models.TrackingRecord, error)
	Mutate(ctx context.Context, trackingID string, fn func(rec *models.TrackingRecord) error) (*models.TrackingRecord, error)
}

var errAlreadyResolved = errors.New("exception already resolved")

// Tracker keeps the exception sub-ledger of a record. It never touches status.current.
type Tracker struct {
	records Records
	log     *logger.Logger
	now     func() time.Time
	newID   func() string
}

func New(records Records, log *logger.Logger) *Tracker {
	return &Tracker{
		records: records,
		log:     logger.OrNop(log).With("component", "exceptions"),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

func (t *Tracker) AddException(ctx context.Context, trackingID string, in models.ExceptionInput) (*models.TrackingRecord, []models.Outbound, error) {
	in.Type = models.ExceptionType(strings.ToLower(strings.TrimSpace(string(in.Type))))
	in.Severity = models.Severity(strings.ToLower(strings.TrimSpace(string(in.Severity))))
	if in.Type == "" {
		return nil, nil, apperr.MissingField("type")
	}
	if !in.Type.Valid() {
		return nil, nil, apperr.Validation("invalid exception type: " + string(in.Type))
	}
	if in.Severity == "" {
		in.Severity = models.SeverityMedium
	}
	if !in.Severity.Valid() {
		return nil, nil, apperr.Validation("invalid severity: " + string(in.Severity))
	}
	if strings.TrimSpace(in.Description) == "" {
		in.Description = strings.ReplaceAll(string(in.Type), "_", " ")
	}

	ex := models.Exception{
		ID:          t.newID(),
		Type:        in.Type,
		Description: in.Description,
		Severity:    in.Severity,
		ReportedAt:  t.now(),
	}
	rec, err := t.records.Mutate(ctx, trackingID, func(rec *models.TrackingRecord) error {
		if !rec.IsActive {
			return apperr.Conflict("tracking_archived", "tracking is archived: "+trackingID)
		}
		rec.Exceptions = append(rec.Exceptions, ex)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	t.log.Info("exception added", "trackingId", trackingID, "exceptionId", ex.ID, "type", ex.Type, "severity", ex.Severity)
	return rec, []models.Outbound{update(rec, rec.FindException(ex.ID))}, nil
}

// ResolveException is idempotent: resolving a resolved exception returns the record
// unchanged and no outbound events.
func (t *Tracker) ResolveException(ctx context.Context, trackingID, exceptionID, resolution string) (*models.TrackingRecord, []models.Outbound, error) {
	rec, err := t.records.Mutate(ctx, trackingID, func(rec *models.TrackingRecord) error {
		ex := rec.FindException(exceptionID)
		if ex == nil {
			return apperr.NotFound("exception", exceptionID)
		}
		if ex.IsResolved {
			return errAlreadyResolved
		}
		now := t.now()
		ex.IsResolved = true
		ex.ResolvedAt = &now
		ex.Resolution = resolution
		return nil
	})
	if errors.Is(err, errAlreadyResolved) {
		rec, err = t.records.Get(ctx, trackingID)
		return rec, nil, err
	}
	if err != nil {
		return nil, nil, err
	}

	t.log.Info("exception resolved", "trackingId", trackingID, "exceptionId", exceptionID, "open", rec.OpenExceptions())
	return rec, []models.Outbound{update(rec, rec.FindException(exceptionID))}, nil
}

func update(rec *models.TrackingRecord, ex *models.Exception) models.Outbound {
	var cp *models.Exception
	if ex != nil {
		c := *ex
		cp = &c
	}
	return models.Outbound{
		Kind:          models.OutboundTrackingUpdate,
		TrackingID:    rec.TrackingID,
		OrderID:       rec.Order.OrderID,
		UserID:        rec.Order.UserID,
		Status:        rec.Status.Current,
		HasExceptions: rec.HasExceptions(),
		Exception:     cp,
	}
}

package prediction

import (
	"context"
	"time"

	"github.com/BearBump/trackengine/internal/logger"
	"github.com/BearBump/trackengine/internal/models"
)

type Records interface {
	Mutate(ctx context.Context, trackingID string, fn func(rec *models.TrackingRecord) error) (*models.TrackingRecord, error)
}

const (
	confidenceSameDay = 90
	confidenceDefault = 70
)

// daysAhead is the rule table. Statuses missing from it get no prediction.
var daysAhead = map[models.Status]int{
	models.StatusPending:        3,
	models.StatusConfirmed:      3,
	models.StatusPickedUp:       2,
	models.StatusInTransit:      1,
	models.StatusOutForDelivery: 0,
}

type Prediction struct {
	DeliveryDate *time.Time `json:"deliveryDate"`
	Confidence   *int       `json:"confidence"`
}

type Engine struct {
	records Records
	log     *logger.Logger
	now     func() time.Time
}

func New(records Records, log *logger.Logger) *Engine {
	return &Engine{
		records: records,
		log:     logger.OrNop(log).With("component", "prediction"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Predict applies the rule table to status. The date is counted from the UTC day of now,
// so repeated calls on one day give the same answer.
func Predict(status models.Status, now time.Time) Prediction {
	days, ok := daysAhead[status]
	if !ok {
		return Prediction{}
	}
	day := now.UTC().Truncate(24 * time.Hour)
	date := day.AddDate(0, 0, days)

	conf := confidenceDefault
	if status == models.StatusOutForDelivery {
		conf = confidenceSameDay
	}
	return Prediction{DeliveryDate: &date, Confidence: &conf}
}

// CalculatePredictions stores a fresh prediction. lastCalculated is written even when
// the status has no prediction.
func (e *Engine) CalculatePredictions(ctx context.Context, trackingID string) (Prediction, error) {
	var p Prediction
	_, err := e.records.Mutate(ctx, trackingID, func(rec *models.TrackingRecord) error {
		now := e.now()
		p = Predict(rec.Status.Current, now)
		rec.Predictions = models.Predictions{
			DeliveryDate:   p.DeliveryDate,
			Confidence:     p.Confidence,
			LastCalculated: &now,
		}
		return nil
	})
	if err != nil {
		return Prediction{}, err
	}
	e.log.Debug("prediction calculated", "trackingId", trackingID, "hasDate", p.DeliveryDate != nil)
	return p, nil
}

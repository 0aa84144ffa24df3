// Package trackings is the entry point used by the HTTP API and the Kafka consumer. It
// routes callbacks through the normalizer and ledger, dispatches the resulting side
// effects and keeps the Redis copy of each record's current state fresh.
package trackings

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/trackengine/internal/apperr"
	"github.com/BearBump/trackengine/internal/broker/messages"
	"github.com/BearBump/trackengine/internal/cache"
	"github.com/BearBump/trackengine/internal/logger"
	"github.com/BearBump/trackengine/internal/models"
	"github.com/BearBump/trackengine/internal/services/prediction"
	"github.com/BearBump/trackengine/internal/storage"
	"github.com/pkg/errors"
)

type Ledger interface {
	Create(ctx context.Context, in models.TrackingCreateInput) (*models.TrackingRecord, error)
	Get(ctx context.Context, trackingID string) (*models.TrackingRecord, error)
	AppendEvent(ctx context.Context, trackingID string, ev models.CanonicalEvent, source models.Source) (*models.TrackingRecord, []models.Outbound, error)
	Archive(ctx context.Context, trackingID string) (*models.TrackingRecord, error)
}

type Repository interface {
	GetByCarrierNumber(ctx context.Context, name models.CarrierName, number string) (*models.TrackingRecord, error)
	ListByOrder(ctx context.Context, orderID string) ([]*models.TrackingRecord, error)
}

type Normalizer interface {
	Normalize(carrierName string, raw []byte) (models.CanonicalEvent, error)
	Recognizes(carrierName models.CarrierName, code string) bool
}

type ExceptionTracker interface {
	AddException(ctx context.Context, trackingID string, in models.ExceptionInput) (*models.TrackingRecord, []models.Outbound, error)
	ResolveException(ctx context.Context, trackingID, exceptionID, resolution string) (*models.TrackingRecord, []models.Outbound, error)
}

type Predictor interface {
	CalculatePredictions(ctx context.Context, trackingID string) (prediction.Prediction, error)
}

type DelayScanner interface {
	Collect(ctx context.Context, limit int) ([]*models.TrackingRecord, error)
}

type Dispatcher interface {
	Dispatch(out []models.Outbound)
}

type Deps struct {
	Ledger     Ledger
	Repo       Repository
	Normalizer Normalizer
	Exceptions ExceptionTracker
	Predictor  Predictor
	Scanner    DelayScanner
	Dispatcher Dispatcher
}

type Service struct {
	Deps

	cache      cache.BytesCache
	currentTTL time.Duration
	log        *logger.Logger
}

func New(d Deps, c cache.BytesCache, currentTTL time.Duration, log *logger.Logger) *Service {
	return &Service{
		Deps:       d,
		cache:      c,
		currentTTL: currentTTL,
		log:        logger.OrNop(log).With("component", "trackings"),
	}
}

// Summary is the condensed view of a record returned by the summary query.
type Summary struct {
	TrackingID        string                `json:"trackingId"`
	OrderID           string                `json:"orderId"`
	Carrier           models.CarrierName    `json:"carrier"`
	TrackingNumber    string                `json:"trackingNumber"`
	Status            models.Status         `json:"status"`
	PreviousStatus    *models.Status        `json:"previousStatus,omitempty"`
	LastUpdated       time.Time             `json:"lastUpdated"`
	LastEvent         *models.TimelineEvent `json:"lastEvent,omitempty"`
	Events            int                   `json:"events"`
	IsDelivered       bool                  `json:"isDelivered"`
	HasExceptions     bool                  `json:"hasExceptions"`
	OpenExceptions    int                   `json:"openExceptions"`
	EstimatedDelivery *time.Time            `json:"estimatedDelivery,omitempty"`
	PredictedDelivery *time.Time            `json:"predictedDelivery,omitempty"`
	IsActive          bool                  `json:"isActive"`
}

func (s *Service) Create(ctx context.Context, in models.TrackingCreateInput) (*models.TrackingRecord, error) {
	rec, err := s.Ledger.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.refresh(ctx, rec)
	return rec, nil
}

// Get serves the current state from the cache when possible. The cache is best-effort:
// any cache failure falls through to the store.
func (s *Service) Get(ctx context.Context, trackingID string) (*models.TrackingRecord, error) {
	if s.cacheEnabled() {
		b, ok, err := s.cache.Get(ctx, currentKey(trackingID))
		if err == nil && ok {
			var rec models.TrackingRecord
			if json.Unmarshal(b, &rec) == nil {
				return &rec, nil
			}
		}
	}

	rec, err := s.Ledger.Get(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, rec)
	return rec, nil
}

func (s *Service) GetByCarrierNumber(ctx context.Context, carrierName, number string) (*models.TrackingRecord, error) {
	name := models.CarrierName(strings.ToLower(strings.TrimSpace(carrierName)))
	number = strings.TrimSpace(number)
	if !name.Valid() {
		return nil, apperr.Validation("unsupported carrier: " + carrierName)
	}
	if number == "" {
		return nil, apperr.MissingField("trackingNumber")
	}
	rec, err := s.Repo.GetByCarrierNumber(ctx, name, number)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound("tracking", fmt.Sprintf("%s %s", name, number))
		}
		return nil, errors.Wrap(err, "lookup by carrier number")
	}
	return rec, nil
}

func (s *Service) Timeline(ctx context.Context, trackingID string) ([]models.TimelineEvent, error) {
	rec, err := s.Get(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	if rec.Timeline == nil {
		return []models.TimelineEvent{}, nil
	}
	return rec.Timeline, nil
}

func (s *Service) Summary(ctx context.Context, trackingID string) (Summary, error) {
	rec, err := s.Get(ctx, trackingID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(rec), nil
}

func Summarize(rec *models.TrackingRecord) Summary {
	return Summary{
		TrackingID:        rec.TrackingID,
		OrderID:           rec.Order.OrderID,
		Carrier:           rec.Carrier.Name,
		TrackingNumber:    rec.Carrier.TrackingNumber,
		Status:            rec.Status.Current,
		PreviousStatus:    rec.Status.Previous,
		LastUpdated:       rec.Status.LastUpdated,
		LastEvent:         rec.LastEvent(),
		Events:            len(rec.Timeline),
		IsDelivered:       rec.IsDelivered(),
		HasExceptions:     rec.HasExceptions(),
		OpenExceptions:    rec.OpenExceptions(),
		EstimatedDelivery: rec.Delivery.Estimated.Date,
		PredictedDelivery: rec.Predictions.DeliveryDate,
		IsActive:          rec.IsActive,
	}
}

func (s *Service) ListByOrder(ctx context.Context, orderID string) ([]*models.TrackingRecord, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, apperr.MissingField("orderId")
	}
	recs, err := s.Repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "list by order")
	}
	return recs, nil
}

func (s *Service) ListDelayed(ctx context.Context, limit int) ([]*models.TrackingRecord, error) {
	recs, err := s.Scanner.Collect(ctx, limit)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []*models.TrackingRecord{}
	}
	return recs, nil
}

// IngestWebhook handles a carrier callback posted to the webhook endpoint.
func (s *Service) IngestWebhook(ctx context.Context, carrierName string, raw []byte) (*models.TrackingRecord, error) {
	ev, err := s.Normalizer.Normalize(carrierName, raw)
	if err != nil {
		return nil, err
	}
	s.warnUnrecognized(ev)

	rec, err := s.GetByCarrierNumber(ctx, string(ev.Carrier), ev.TrackingNumber)
	if err != nil {
		return nil, err
	}
	return s.append(ctx, rec.TrackingID, ev, models.SourceWebhook)
}

// HandleCarrierEvent consumes one messages.CarrierEvent from Kafka. Messages that can
// never succeed (bad payload, unknown shipment, rejected transition) are logged and
// acknowledged; only infrastructure failures are returned so the message is redelivered.
func (s *Service) HandleCarrierEvent(ctx context.Context, key, value []byte) error {
	var msg messages.CarrierEvent
	if err := json.Unmarshal(value, &msg); err != nil {
		s.log.Warn("drop undecodable carrier event", "key", string(key), "error", err.Error())
		return nil
	}

	err := s.ingestCarrierEvent(ctx, msg)
	if err == nil {
		return nil
	}
	if _, ok := apperr.From(err); ok {
		s.log.Warn("carrier event rejected",
			"carrier", msg.Carrier,
			"trackingNumber", msg.TrackingNumber,
			"error", err.Error())
		return nil
	}
	return err
}

func (s *Service) ingestCarrierEvent(ctx context.Context, msg messages.CarrierEvent) error {
	ev, err := s.Normalizer.Normalize(msg.Carrier, msg.Payload)
	if err != nil {
		return err
	}
	s.warnUnrecognized(ev)

	trackingID := msg.TrackingID
	if trackingID == "" {
		rec, err := s.GetByCarrierNumber(ctx, string(ev.Carrier), ev.TrackingNumber)
		if err != nil {
			return err
		}
		trackingID = rec.TrackingID
	}
	rec, err := s.Ledger.Get(ctx, trackingID)
	if err != nil {
		return err
	}
	// A poll returns the latest carrier status again until it changes.
	if last := rec.LastEvent(); last != nil && last.Source == models.SourceCarrier &&
		last.Status == ev.Status && last.RawStatus == ev.RawStatus {
		return nil
	}
	_, err = s.append(ctx, trackingID, ev, models.SourceCarrier)
	return err
}

// ManualEvent records an operator correction. Manual events are the only ones accepted
// once a shipment reached a terminal status.
func (s *Service) ManualEvent(ctx context.Context, trackingID string, ev models.CanonicalEvent) (*models.TrackingRecord, error) {
	if ev.Description == "" {
		ev.Description = "Manual status update"
	}
	return s.append(ctx, trackingID, ev, models.SourceManual)
}

func (s *Service) AddException(ctx context.Context, trackingID string, in models.ExceptionInput) (*models.TrackingRecord, error) {
	rec, out, err := s.Exceptions.AddException(ctx, trackingID, in)
	if err != nil {
		return nil, err
	}
	s.refresh(ctx, rec)
	s.Dispatcher.Dispatch(out)
	return rec, nil
}

func (s *Service) ResolveException(ctx context.Context, trackingID, exceptionID, resolution string) (*models.TrackingRecord, error) {
	rec, out, err := s.Exceptions.ResolveException(ctx, trackingID, exceptionID, resolution)
	if err != nil {
		return nil, err
	}
	s.refresh(ctx, rec)
	s.Dispatcher.Dispatch(out)
	return rec, nil
}

func (s *Service) CalculatePredictions(ctx context.Context, trackingID string) (prediction.Prediction, error) {
	p, err := s.Predictor.CalculatePredictions(ctx, trackingID)
	if err != nil {
		return prediction.Prediction{}, err
	}
	s.forget(ctx, trackingID)
	return p, nil
}

func (s *Service) Archive(ctx context.Context, trackingID string) (*models.TrackingRecord, error) {
	rec, err := s.Ledger.Archive(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	s.refresh(ctx, rec)
	return rec, nil
}

func (s *Service) append(ctx context.Context, trackingID string, ev models.CanonicalEvent, source models.Source) (*models.TrackingRecord, error) {
	rec, out, err := s.Ledger.AppendEvent(ctx, trackingID, ev, source)
	if err != nil {
		return nil, err
	}
	s.refresh(ctx, rec)
	s.Dispatcher.Dispatch(out)
	return rec, nil
}

func (s *Service) warnUnrecognized(ev models.CanonicalEvent) {
	if !s.Normalizer.Recognizes(ev.Carrier, ev.RawStatus) {
		s.log.Warn("unrecognized carrier status code",
			"carrier", ev.Carrier,
			"code", ev.RawStatus,
			"trackingNumber", ev.TrackingNumber)
	}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.currentTTL > 0
}

// remember stores rec as the current state. A cache that tracks versions drops the
// write when it already holds a newer record; any other cache only gets reads
// filled, and mutations invalidate instead (see refresh).
func (s *Service) remember(ctx context.Context, rec *models.TrackingRecord) {
	if !s.cacheEnabled() || rec == nil {
		return
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if vc, ok := s.cache.(cache.VersionedCache); ok {
		if _, err := vc.SetIfNewer(ctx, currentKey(rec.TrackingID), b, rec.Version, s.currentTTL); err != nil {
			s.log.Warn("cache set", "trackingId", rec.TrackingID, "error", err.Error())
		}
		return
	}
	if err := s.cache.Set(ctx, currentKey(rec.TrackingID), b, s.currentTTL); err != nil {
		s.log.Warn("cache set", "trackingId", rec.TrackingID, "error", err.Error())
	}
}

// refresh runs after a mutation. Writes from concurrent mutations can reach the cache
// in any order, so only a versioned cache is written through.
func (s *Service) refresh(ctx context.Context, rec *models.TrackingRecord) {
	if _, ok := s.cache.(cache.VersionedCache); ok {
		s.remember(ctx, rec)
		return
	}
	if rec != nil {
		s.forget(ctx, rec.TrackingID)
	}
}

func (s *Service) forget(ctx context.Context, trackingID string) {
	if !s.cacheEnabled() {
		return
	}
	if err := s.cache.Delete(ctx, currentKey(trackingID)); err != nil {
		s.log.Warn("cache delete", "trackingId", trackingID, "error", err.Error())
	}
}

func currentKey(id string) string {
	return fmt.Sprintf("tracking:%s:current", id)
}

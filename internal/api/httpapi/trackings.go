package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/trackengine/internal/apperr"
	"github.com/BearBump/trackengine/internal/auth"
	"github.com/BearBump/trackengine/internal/models"
	"github.com/BearBump/trackengine/internal/services/prediction"
	"github.com/BearBump/trackengine/internal/services/trackings"
	"github.com/go-chi/chi/v5"
)

type TrackingService interface {
	Create(ctx context.Context, in models.TrackingCreateInput) (*models.TrackingRecord, error)
	Get(ctx context.Context, trackingID string) (*models.TrackingRecord, error)
	GetByCarrierNumber(ctx context.Context, carrierName, number string) (*models.TrackingRecord, error)
	Timeline(ctx context.Context, trackingID string) ([]models.TimelineEvent, error)
	Summary(ctx context.Context, trackingID string) (trackings.Summary, error)
	ListByOrder(ctx context.Context, orderID string) ([]*models.TrackingRecord, error)
	ListDelayed(ctx context.Context, limit int) ([]*models.TrackingRecord, error)
	IngestWebhook(ctx context.Context, carrierName string, raw []byte) (*models.TrackingRecord, error)
	ManualEvent(ctx context.Context, trackingID string, ev models.CanonicalEvent) (*models.TrackingRecord, error)
	AddException(ctx context.Context, trackingID string, in models.ExceptionInput) (*models.TrackingRecord, error)
	ResolveException(ctx context.Context, trackingID, exceptionID, resolution string) (*models.TrackingRecord, error)
	CalculatePredictions(ctx context.Context, trackingID string) (prediction.Prediction, error)
	Archive(ctx context.Context, trackingID string) (*models.TrackingRecord, error)
}

const maxDelayedLimit = 1000

type createTrackingRequest struct {
	OrderID           string     `json:"orderId"`
	UserID            string     `json:"userId"`
	Carrier           string     `json:"carrier"`
	TrackingNumber    string     `json:"trackingNumber"`
	Service           string     `json:"service"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery"`
}

type manualEventRequest struct {
	Status            models.Status    `json:"status"`
	Description       string           `json:"description"`
	Location          *models.Location `json:"location"`
	Timestamp         *time.Time       `json:"timestamp"`
	EstimatedDelivery *time.Time       `json:"estimatedDelivery"`
}

type addExceptionRequest struct {
	Type        models.ExceptionType `json:"type"`
	Description string               `json:"description"`
	Severity    models.Severity      `json:"severity"`
}

type resolveExceptionRequest struct {
	Resolution string `json:"resolution"`
}

type webhookResponse struct {
	TrackingID string `json:"trackingId"`
}

func (a *API) webhook(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	rec, err := a.svc.IngestWebhook(r.Context(), chi.URLParam(r, "carrier"), raw)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, a.log, http.StatusOK, webhookResponse{TrackingID: rec.TrackingID})
}

func (a *API) createTracking(w http.ResponseWriter, r *http.Request) {
	var req createTrackingRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, a.log, err)
		return
	}
	if req.UserID == "" {
		if p, ok := auth.FromContext(r.Context()); ok {
			req.UserID = p.UserID
		}
	}
	rec, err := a.svc.Create(r.Context(), models.TrackingCreateInput{
		OrderID:           req.OrderID,
		UserID:            req.UserID,
		CarrierName:       models.CarrierName(req.Carrier),
		TrackingNumber:    req.TrackingNumber,
		Service:           req.Service,
		EstimatedDelivery: req.EstimatedDelivery,
	})
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, a.log, http.StatusCreated, rec)
}

func (a *API) getTracking(w http.ResponseWriter, r *http.Request) {
	rec, err := a.svc.Get(r.Context(), chi.URLParam(r, "trackingId"))
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, a.log, http.StatusOK, rec)
}

func (a *API) getByCarrierNumber(w http.ResponseWriter, r *http.Request) {
	rec, err := a.svc.GetByCarrierNumber(r.Context(), chi.URLParam(r, "carrier"), chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, a.log, http.StatusOK, rec)
}

func (a *API) timeline(w http.ResponseWriter, r *http.Request) {
	events, err := a.svc.Timeline(r.Context(), chi.URLParam(r, "trackingId"))
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, a.log, http.StatusOK, events)
}

func (a *API) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := a.svc.Summary(r.Context(), chi.URLParam(r, "trackingId"))
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, a.log, http.StatusOK, sum)
}

func (a *API) listByOrder(w http.ResponseWriter, r *http.Request) {
	recs, err := a.svc.ListByOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	if recs == nil {
		recs = []*models.TrackingRecord{}
	}
	writeJSON(w, a.log, http.StatusOK, recs)
}

func (a *API) listDelayed(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, a.log, apperr.Validation("limit must be a non-negative integer"))
			return
		}
		limit = min(n, maxDelayedLimit)
	}
	recs, err := a.svc.ListDelayed(r.Context(), limit)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, a.log, http.StatusOK, recs)
}

func (a *API) manualEvent(w http.ResponseWriter, r *http.Request) {
	var req manualEventRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, a.log, err)
		return
	}
	if req.Status == "" {
		writeError(w, a.log, apperr.MissingField("status"))
		return
	}
	ev := models.CanonicalEvent{
		Status:            models.Status(strings.ToLower(string(req.Status))),
		Description:       req.Description,
		Location:          req.Location,
		EstimatedDelivery: req.EstimatedDelivery,
	}
	if req.Timestamp != nil {
		ev.Timestamp = *req.Timestamp
	}
	rec, err := a.svc.ManualEvent(r.Context(), chi.URLParam(r, "trackingId"), ev)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, a.log, http.StatusOK, rec)
}

func (a *API) predictions(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.CalculatePredictions(r.Context(), chi.URLParam(r, "trackingId"))
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, a.log, http.StatusOK, p)
}

func (a *API) archive(w http.ResponseWriter, r *http.Request) {
	rec, err := a.svc.Archive(r.Context(), chi.URLParam(r, "trackingId"))
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, a.log, http.StatusOK, rec)
}

func (a *API) addException(w http.ResponseWriter, r *http.Request) {
	var req addExceptionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, a.log, err)
		return
	}
	rec, err := a.svc.AddException(r.Context(), chi.URLParam(r, "trackingId"), models.ExceptionInput{
		Type:        req.Type,
		Description: req.Description,
		Severity:    req.Severity,
	})
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, a.log, http.StatusCreated, rec)
}

func (a *API) resolveException(w http.ResponseWriter, r *http.Request) {
	var req resolveExceptionRequest
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			writeError(w, a.log, err)
			return
		}
	}
	rec, err := a.svc.ResolveException(r.Context(), chi.URLParam(r, "trackingId"), chi.URLParam(r, "exceptionId"), req.Resolution)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, a.log, http.StatusOK, rec)
}

package mocks

import (
	"context"

	"github.com/BearBump/trackengine/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Create(ctx context.Context, in models.TrackingCreateInput) (*models.TrackingRecord, error) {
	args := m.Called(ctx, in)
	return record(args.Get(0)), args.Error(1)
}

func (m *MockLedger) Get(ctx context.Context, trackingID string) (*models.TrackingRecord, error) {
	args := m.Called(ctx, trackingID)
	return record(args.Get(0)), args.Error(1)
}

func (m *MockLedger) AppendEvent(ctx context.Context, trackingID string, ev models.CanonicalEvent, source models.Source) (*models.TrackingRecord, []models.Outbound, error) {
	args := m.Called(ctx, trackingID, ev, source)
	var out []models.Outbound
	if v := args.Get(1); v != nil {
		out = v.([]models.Outbound)
	}
	return record(args.Get(0)), out, args.Error(2)
}

func (m *MockLedger) Archive(ctx context.Context, trackingID string) (*models.TrackingRecord, error) {
	args := m.Called(ctx, trackingID)
	return record(args.Get(0)), args.Error(1)
}

func record(v any) *models.TrackingRecord {
	if v == nil {
		return nil
	}
	return v.(*models.TrackingRecord)
}

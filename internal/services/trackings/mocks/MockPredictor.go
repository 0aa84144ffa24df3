package mocks

import (
	"context"

	"github.com/BearBump/trackengine/internal/services/prediction"
	"github.com/stretchr/testify/mock"
)

type MockPredictor struct {
	mock.Mock
}

func (m *MockPredictor) CalculatePredictions(ctx context.Context, trackingID string) (prediction.Prediction, error) {
	args := m.Called(ctx, trackingID)
	return args.Get(0).(prediction.Prediction), args.Error(1)
}

package mocks

import (
	"github.com/BearBump/trackengine/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(out []models.Outbound) {
	m.Called(out)
}

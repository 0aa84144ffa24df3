package poller

import (
	"testing"
	"time"

	"github.com/BearBump/trackengine/internal/models"
	pollermocks "github.com/BearBump/trackengine/internal/services/poller/mocks"
	"github.com/stretchr/testify/suite"
)

type PlannerSuite struct {
	suite.Suite
}

func (s *PlannerSuite) TestBackoffDelay() {
	p := DefaultPlanner()
	s.Equal(5*time.Minute, p.BackoffDelay(1))
	s.Equal(15*time.Minute, p.BackoffDelay(2))
	s.Equal(30*time.Minute, p.BackoffDelay(3))
	s.Equal(60*time.Minute, p.BackoffDelay(4))
	s.Equal(60*time.Minute, p.BackoffDelay(100))
}

func (s *PlannerSuite) TestNextCheckDelay_Terminal() {
	m := &pollermocks.Rand{}
	p := NewPlanner(DefaultPlannerConfig(), m)
	for _, st := range models.TerminalStatuses() {
		s.Equal(365*24*time.Hour, p.NextCheckDelay(st))
	}
	m.AssertNotCalled(s.T(), "Intn")
}

func (s *PlannerSuite) TestNextCheckDelay_InTransit_UsesRand() {
	m := &pollermocks.Rand{}
	m.On("Intn", 5401).Return(600).Once()

	p := NewPlanner(DefaultPlannerConfig(), m)
	s.Equal(40*time.Minute, p.NextCheckDelay(models.StatusInTransit))
	m.AssertExpectations(s.T())
}

func (s *PlannerSuite) TestNextCheckDelay_FixedWindowSkipsRand() {
	m := &pollermocks.Rand{}
	p := NewPlanner(PlannerConfig{MovingMinDelay: time.Minute, MovingMaxDelay: time.Minute}, m)
	s.Equal(time.Minute, p.NextCheckDelay(models.StatusOutForDelivery))
	m.AssertNotCalled(s.T(), "Intn")
}

func (s *PlannerSuite) TestNextCheckDelay_Idle() {
	p := NewPlanner(DefaultPlannerConfig(), &pollermocks.Rand{})
	s.Equal(90*time.Minute, p.NextCheckDelay(models.StatusPending))
	s.Equal(90*time.Minute, p.NextCheckDelay(models.StatusException))
}

func (s *PlannerSuite) TestNewPlanner_MaxBelowMin() {
	p := NewPlanner(PlannerConfig{MovingMinDelay: 10 * time.Minute, MovingMaxDelay: time.Minute}, &pollermocks.Rand{})
	s.Equal(10*time.Minute, p.NextCheckDelay(models.StatusPickedUp))
}

func TestPlannerSuite(t *testing.T) {
	suite.Run(t, new(PlannerSuite))
}

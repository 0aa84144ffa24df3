package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/trackengine/internal/broker/messages"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type writerMock struct {
	mock.Mock
}

func (m *writerMock) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

type ProducerSuite struct {
	suite.Suite
	wm  *writerMock
	p   *Producer
	now time.Time
}

func (s *ProducerSuite) SetupTest() {
	s.wm = &writerMock{}
	s.now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s.p = newProducerWithWriter(s.wm)
	s.p.now = func() time.Time { return s.now }
}

func (s *ProducerSuite) TestNewProducer_Close() {
	p := NewProducer([]string{"localhost:0"})
	s.Require().NotNil(p)
	s.Require().NoError(p.Close())
}

func (s *ProducerSuite) TestPublish_CarrierEvent() {
	ev := messages.CarrierEvent{
		Carrier:        "ups",
		TrackingNumber: "1Z999",
		TrackingID:     "trk-1",
		FetchedAt:      s.now,
		Payload:        json.RawMessage(`{"trackingNumber":"1Z999","status":"I"}`),
	}
	value, err := json.Marshal(ev)
	s.Require().NoError(err)

	s.wm.
		On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 {
				return false
			}
			m := msgs[0]
			return m.Topic == messages.TopicCarrierEvents &&
				string(m.Key) == "ups|1Z999" &&
				string(m.Value) == string(value) &&
				m.Time.Equal(s.now) &&
				len(m.Headers) == 1 && string(m.Headers[0].Value) == contentTypeJSON
		})).
		Return(nil).
		Once()

	s.Require().NoError(s.p.Publish(context.Background(), messages.TopicCarrierEvents, ev.Key(), value))
	s.wm.AssertExpectations(s.T())
}

func (s *ProducerSuite) TestPublish_ErrorWrapped() {
	want := errors.New("leader not available")
	s.wm.On("WriteMessages", mock.Anything, mock.Anything).Return(want).Once()

	err := s.p.Publish(context.Background(), "t", []byte("k"), []byte("v"))
	s.Require().ErrorIs(err, want)
	s.Require().Contains(err.Error(), "kafka publish to t")
	s.wm.AssertExpectations(s.T())
}

func (s *ProducerSuite) TestPublish_EmptyTopic() {
	err := s.p.Publish(context.Background(), "", []byte("k"), []byte("v"))
	s.Require().Error(err)
	s.wm.AssertNotCalled(s.T(), "WriteMessages", mock.Anything, mock.Anything)
}

func TestProducerSuite(t *testing.T) {
	suite.Run(t, new(ProducerSuite))
}

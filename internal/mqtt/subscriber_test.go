package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/config"
	"github.com/CoolE88/agro-telemetry-service/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockIngester struct {
	mock.Mock
}

func (m *MockIngester) Ingest(ctx context.Context, req *domain.IngestRequest) (*domain.IngestResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IngestResponse), args.Error(1)
}

func TestParseTopic(t *testing.T) {
	tests := []struct {
		name       string
		topic      string
		wantType   domain.DeviceType
		wantDevice string
		wantErr    error
	}{
		{name: "temperature", topic: "agro/telemetry/temperature/t-01", wantType: domain.TemperatureSensor, wantDevice: "t-01"},
		{name: "weather station", topic: "agro/telemetry/weather/agri-sensor-node-042", wantType: domain.WeatherStationNode, wantDevice: "agri-sensor-node-042"},
		{name: "full type name", topic: "agro/telemetry/PrecipitationSensor/p-9", wantType: domain.PrecipitationSensor, wantDevice: "p-9"},
		{name: "other prefix", topic: "factory/temperature/t-01", wantErr: ErrInvalidTopic},
		{name: "missing device", topic: "agro/telemetry/humidity", wantErr: ErrInvalidTopic},
		{name: "empty device", topic: "agro/telemetry/humidity/", wantErr: ErrInvalidTopic},
		{name: "too deep", topic: "agro/telemetry/humidity/h-1/extra", wantErr: ErrInvalidTopic},
		{name: "unknown type", topic: "agro/telemetry/wind/w-1", wantErr: domain.ErrUnsupportedDeviceType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dt, device, err := ParseTopic("agro/telemetry", tt.topic)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, dt)
			assert.Equal(t, tt.wantDevice, device)
		})
	}
}

func TestSubscriber_Topic(t *testing.T) {
	s := NewSubscriber(config.MQTTConfig{TopicPrefix: "agro/telemetry/"}, nil, zap.NewNop())
	assert.Equal(t, "agro/telemetry/+/+", s.Topic())
}

func TestSubscriber_HandleMessage(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	ingester := new(MockIngester)
	s := NewSubscriber(config.MQTTConfig{TopicPrefix: "agro/telemetry"}, ingester, logger)
	payload := []byte(`{"value": 22.4}`)

	ingester.On("Ingest", mock.Anything, &domain.IngestRequest{
		DeviceID:   "agri-sensor-node-042",
		DeviceType: domain.HumiditySensor,
		RawData:    string(payload),
	}).Return(&domain.IngestResponse{ID: uuid.New(), ReceivedAt: time.Now()}, nil).Once()

	require.NoError(t, s.HandleMessage(context.Background(), "agro/telemetry/humidity/agri-sensor-node-042", payload))
	ingester.AssertExpectations(t)
}

func TestSubscriber_HandleMessageRejected(t *testing.T) {
	ingester := new(MockIngester)
	s := NewSubscriber(config.MQTTConfig{TopicPrefix: "agro/telemetry"}, ingester, zap.NewNop())

	ingester.On("Ingest", mock.Anything, mock.Anything).Return(nil, domain.ErrDeviceNotFound).Once()
	err := s.HandleMessage(context.Background(), "agro/telemetry/temperature/ghost", []byte(`{"value": 20}`))
	assert.ErrorIs(t, err, domain.ErrDeviceNotFound)

	err = s.HandleMessage(context.Background(), "elsewhere/temperature/t-1", []byte(`{"value": 20}`))
	assert.ErrorIs(t, err, ErrInvalidTopic)
	ingester.AssertNumberOfCalls(t, "Ingest", 1)
}

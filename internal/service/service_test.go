package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/domain"
	"github.com/CoolE88/agro-telemetry-service/internal/validation"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockReadingRepository struct {
	mock.Mock
}

func (m *MockReadingRepository) AddReading(ctx context.Context, r *domain.Reading) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockReadingRepository) GetReadingsByPlotAndRange(ctx context.Context, plotID uuid.UUID, from, to time.Time) ([]*domain.Reading, error) {
	args := m.Called(ctx, plotID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Reading), args.Error(1)
}

func (m *MockReadingRepository) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockAlertRepository struct {
	mock.Mock
}

func (m *MockAlertRepository) GetAlertsByPlot(ctx context.Context, plotID uuid.UUID) ([]*domain.Alert, error) {
	args := m.Called(ctx, plotID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Alert), args.Error(1)
}

type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) LookupPlot(ctx context.Context, deviceID string) (uuid.UUID, error) {
	args := m.Called(ctx, deviceID)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

const weatherPayload = `{"device_id":"agri-sensor-node-042","telemetry":{"temperature_air":28.5,"humidity_air":62.0,"soil_moisture_1":45.2}}`

func newTestService(t *testing.T) (*DataService, *MockReadingRepository, *MockAlertRepository, *MockDirectory) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	readings := new(MockReadingRepository)
	alerts := new(MockAlertRepository)
	directory := new(MockDirectory)
	return NewDataService(readings, alerts, directory, validation.DefaultRegistry(), logger), readings, alerts, directory
}

func TestDataService_Ingest_WithPlotID(t *testing.T) {
	svc, readings, _, directory := newTestService(t)
	plotID := uuid.New()
	deviceTime := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	readings.On("AddReading", mock.Anything, mock.MatchedBy(func(r *domain.Reading) bool {
		return r.PlotID == plotID &&
			r.ProcessingStatus == domain.StatusPending &&
			r.DeviceTimestamp.Equal(deviceTime) &&
			r.RawPayload == weatherPayload
	})).Return(nil)

	resp, err := svc.Ingest(context.Background(), &domain.IngestRequest{
		PlotID:          &plotID,
		DeviceID:        "agri-sensor-node-042",
		DeviceType:      domain.WeatherStationNode,
		RawData:         weatherPayload,
		DeviceTimestamp: &deviceTime,
	})

	require.NoError(t, err)
	assert.Equal(t, plotID, resp.PlotID)
	assert.Equal(t, domain.WeatherStationNode, resp.DeviceType)
	assert.Equal(t, domain.IngestStatusReceived, resp.Status)
	assert.NotEqual(t, uuid.Nil, resp.ID)
	readings.AssertExpectations(t)
	directory.AssertNotCalled(t, "LookupPlot", mock.Anything, mock.Anything)
}

func TestDataService_Ingest_ResolvesDeviceFromPayload(t *testing.T) {
	svc, readings, _, directory := newTestService(t)
	plotID := uuid.New()

	directory.On("LookupPlot", mock.Anything, "agri-sensor-node-042").Return(plotID, nil)
	readings.On("AddReading", mock.Anything, mock.Anything).Return(nil)

	before := time.Now().UTC()
	resp, err := svc.Ingest(context.Background(), &domain.IngestRequest{
		DeviceType: domain.WeatherStationNode,
		RawData:    weatherPayload,
	})

	require.NoError(t, err)
	assert.Equal(t, plotID, resp.PlotID)
	assert.False(t, resp.ReceivedAt.Before(before))

	stored := readings.Calls[0].Arguments.Get(1).(*domain.Reading)
	assert.Equal(t, stored.ReceivedAt, stored.DeviceTimestamp)
	directory.AssertExpectations(t)
}

func TestDataService_Ingest_RequestDeviceIDWins(t *testing.T) {
	svc, readings, _, directory := newTestService(t)
	plotID := uuid.New()

	directory.On("LookupPlot", mock.Anything, "humidity-7").Return(plotID, nil)
	readings.On("AddReading", mock.Anything, mock.Anything).Return(nil)

	_, err := svc.Ingest(context.Background(), &domain.IngestRequest{
		DeviceID:   "humidity-7",
		DeviceType: domain.HumiditySensor,
		RawData:    `{"value": 40, "deviceId": "other"}`,
	})

	require.NoError(t, err)
	directory.AssertExpectations(t)
}

func TestDataService_Ingest_Failures(t *testing.T) {
	plotID := uuid.New()

	tests := []struct {
		name     string
		req      *domain.IngestRequest
		setup    func(*MockReadingRepository, *MockDirectory)
		expected error
		contains string
	}{
		{
			name:     "nil request",
			req:      nil,
			expected: domain.ErrInvalidRequest,
		},
		{
			name:     "empty payload",
			req:      &domain.IngestRequest{PlotID: &plotID, DeviceType: domain.HumiditySensor, RawData: "  "},
			expected: domain.ErrEmptyPayload,
		},
		{
			name:     "unsupported device type",
			req:      &domain.IngestRequest{PlotID: &plotID, DeviceType: domain.DeviceType(42), RawData: `{"value":1}`},
			expected: domain.ErrUnsupportedDeviceType,
		},
		{
			name:     "humidity out of range",
			req:      &domain.IngestRequest{PlotID: &plotID, DeviceType: domain.HumiditySensor, RawData: `{"value":100.01}`},
			expected: domain.ErrInvalidPayload,
			contains: "HumiditySensor",
		},
		{
			name:     "weather humidity 150",
			req:      &domain.IngestRequest{PlotID: &plotID, DeviceType: domain.WeatherStationNode, RawData: `{"device_id":"n","telemetry":{"humidity_air":150}}`},
			expected: domain.ErrInvalidPayload,
		},
		{
			name:     "weather without telemetry",
			req:      &domain.IngestRequest{PlotID: &plotID, DeviceType: domain.WeatherStationNode, RawData: `{"device_id":"n"}`},
			expected: domain.ErrInvalidPayload,
		},
		{
			name:     "no plot and no device",
			req:      &domain.IngestRequest{DeviceType: domain.TemperatureSensor, RawData: `{"value":20}`},
			expected: domain.ErrPlotUnresolved,
		},
		{
			name: "unknown device",
			req:  &domain.IngestRequest{DeviceType: domain.WeatherStationNode, RawData: `{"device_id":"ghost","telemetry":{}}`},
			setup: func(_ *MockReadingRepository, d *MockDirectory) {
				d.On("LookupPlot", mock.Anything, "ghost").Return(uuid.Nil, domain.ErrDeviceNotFound)
			},
			expected: domain.ErrDeviceNotFound,
			contains: "device not found",
		},
		{
			name: "store failure",
			req:  &domain.IngestRequest{PlotID: &plotID, DeviceType: domain.PrecipitationSensor, RawData: `{"value":12}`},
			setup: func(r *MockReadingRepository, _ *MockDirectory) {
				r.On("AddReading", mock.Anything, mock.Anything).Return(errors.New("connection reset"))
			},
			expected: domain.ErrPersistence,
			contains: "connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, readings, _, directory := newTestService(t)
			if tt.setup != nil {
				tt.setup(readings, directory)
			}

			resp, err := svc.Ingest(context.Background(), tt.req)

			assert.Nil(t, resp)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.expected)
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
			if tt.setup == nil {
				readings.AssertNotCalled(t, "AddReading", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestDataService_GetReadingsByRange(t *testing.T) {
	svc, readings, _, _ := newTestService(t)
	plotID := uuid.New()
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)

	expected := []*domain.Reading{domain.NewReading(plotID, domain.HumiditySensor, `{"value":1}`, from, from)}
	readings.On("GetReadingsByPlotAndRange", mock.Anything, plotID, from, to).Return(expected, nil)

	got, err := svc.GetReadingsByRange(context.Background(), plotID, from, to)
	require.NoError(t, err)
	assert.Equal(t, expected, got)

	_, err = svc.GetReadingsByRange(context.Background(), plotID, to, from)
	assert.ErrorIs(t, err, domain.ErrInvalidRange)

	_, err = svc.GetReadingsByRange(context.Background(), plotID, to.Add(-91*24*time.Hour), to)
	assert.ErrorIs(t, err, domain.ErrInvalidRange)

	_, err = svc.GetReadingsByRange(context.Background(), uuid.Nil, from, to)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	readings.AssertNumberOfCalls(t, "GetReadingsByPlotAndRange", 1)
}

func TestDataService_GetAlertsByPlot(t *testing.T) {
	svc, _, alerts, _ := newTestService(t)
	plotID := uuid.New()

	alerts.On("GetAlertsByPlot", mock.Anything, plotID).Return(nil, errors.New("db down"))

	_, err := svc.GetAlertsByPlot(context.Background(), plotID)
	assert.EqualError(t, err, "db down")
	alerts.AssertExpectations(t)
}

func TestDataService_CheckDBConnection(t *testing.T) {
	svc, readings, _, _ := newTestService(t)
	readings.On("HealthCheck", mock.Anything).Return(nil)

	assert.NoError(t, svc.CheckDBConnection(context.Background()))
	readings.AssertExpectations(t)
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/broker"
	"github.com/CoolE88/agro-telemetry-service/internal/domain"
	"github.com/CoolE88/agro-telemetry-service/internal/stream"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Ingest(ctx context.Context, req *domain.IngestRequest) (*domain.IngestResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IngestResponse), args.Error(1)
}

func (m *MockService) GetReadingsByRange(ctx context.Context, plotID uuid.UUID, from, to time.Time) ([]*domain.Reading, error) {
	args := m.Called(ctx, plotID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Reading), args.Error(1)
}

func (m *MockService) GetAlertsByPlot(ctx context.Context, plotID uuid.UUID) ([]*domain.Alert, error) {
	args := m.Called(ctx, plotID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Alert), args.Error(1)
}

func (m *MockService) CheckDBConnection(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockQueueInspector struct {
	mock.Mock
}

func (m *MockQueueInspector) QueueStats(ctx context.Context) ([]broker.QueueStat, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]broker.QueueStat), args.Error(1)
}

func newTestServer(service DataService, queues QueueInspector) *HTTPServer {
	logger, _ := zap.NewDevelopment()
	return NewHTTPServer(":8080", service, queues, nil, logger)
}

func serve(server *HTTPServer, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	return w
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]
}

func TestHTTPServer_HealthCheck(t *testing.T) {
	mockService := new(MockService)
	server := newTestServer(mockService, nil)

	mockService.On("CheckDBConnection", mock.Anything).Return(nil).Once()
	w := serve(server, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	mockService.On("CheckDBConnection", mock.Anything).Return(errors.New("pool closed")).Once()
	w = serve(server, "GET", "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	mockService.AssertExpectations(t)
}

func TestHTTPServer_IngestReading(t *testing.T) {
	plotID := uuid.New()
	readingID := uuid.New()

	tests := []struct {
		name string
		body string
		want *domain.IngestRequest
	}{
		{
			name: "numeric type with string payload",
			body: `{"plotId":"` + plotID.String() + `","deviceType":1,"rawData":"{\"value\": 22.5}"}`,
			want: &domain.IngestRequest{PlotID: &plotID, DeviceType: domain.TemperatureSensor, RawData: `{"value": 22.5}`},
		},
		{
			name: "named type with embedded payload",
			body: `{"deviceId":"agri-sensor-node-042","deviceType":"weather","rawData":{"device_id":"agri-sensor-node-042","telemetry":{"humidity_air":40}}}`,
			want: &domain.IngestRequest{
				DeviceID:   "agri-sensor-node-042",
				DeviceType: domain.WeatherStationNode,
				RawData:    `{"device_id":"agri-sensor-node-042","telemetry":{"humidity_air":40}}`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			server := newTestServer(mockService, nil)

			mockService.On("Ingest", mock.Anything, tt.want).Return(&domain.IngestResponse{
				ID:         readingID,
				PlotID:     plotID,
				DeviceType: tt.want.DeviceType,
				ReceivedAt: time.Now().UTC(),
				Status:     domain.IngestStatusReceived,
			}, nil).Once()

			w := serve(server, "POST", "/api/v1/readings", tt.body)
			assert.Equal(t, http.StatusAccepted, w.Code)

			var resp domain.IngestResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, readingID, resp.ID)
			assert.Equal(t, domain.IngestStatusReceived, resp.Status)
			mockService.AssertExpectations(t)
		})
	}
}

func TestHTTPServer_IngestReadingErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		serviceErr error
		wantStatus int
	}{
		{name: "malformed body", body: `{"deviceType":`, wantStatus: http.StatusBadRequest},
		{name: "bad plot id", body: `{"plotId":"plot-7","deviceType":1,"rawData":"{}"}`, wantStatus: http.StatusBadRequest},
		{name: "missing device type", body: `{"rawData":"{}"}`, wantStatus: http.StatusBadRequest},
		{name: "unknown device name", body: `{"deviceType":"wind","rawData":"{}"}`, wantStatus: http.StatusBadRequest},
		{name: "invalid payload", body: `{"deviceType":2,"rawData":"{}"}`, serviceErr: domain.ErrInvalidPayload, wantStatus: http.StatusBadRequest},
		{name: "unresolved plot", body: `{"deviceType":2,"rawData":"{}"}`, serviceErr: domain.ErrPlotUnresolved, wantStatus: http.StatusBadRequest},
		{name: "unknown device", body: `{"deviceType":2,"rawData":"{}"}`, serviceErr: domain.ErrDeviceNotFound, wantStatus: http.StatusNotFound},
		{name: "persistence", body: `{"deviceType":2,"rawData":"{}"}`, serviceErr: domain.ErrPersistence, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			server := newTestServer(mockService, nil)
			if tt.serviceErr != nil {
				mockService.On("Ingest", mock.Anything, mock.Anything).Return(nil, tt.serviceErr).Once()
			}

			w := serve(server, "POST", "/api/v1/readings", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.NotEmpty(t, errorMessage(t, w))
			if tt.serviceErr == nil {
				mockService.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestHTTPServer_IngestPersistenceErrorIsNotLeaked(t *testing.T) {
	mockService := new(MockService)
	server := newTestServer(mockService, nil)
	mockService.On("Ingest", mock.Anything, mock.Anything).
		Return(nil, errors.Join(domain.ErrPersistence, errors.New("pq: password authentication failed"))).Once()

	w := serve(server, "POST", "/api/v1/readings", `{"deviceType":1,"rawData":"{\"value\":1}"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "failed to store reading", errorMessage(t, w))
}

func TestHTTPServer_GetReadingsByRange(t *testing.T) {
	mockService := new(MockService)
	server := newTestServer(mockService, nil)

	plotID := uuid.New()
	from := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	to := time.Now().UTC().Truncate(time.Second)
	expected := []*domain.Reading{
		domain.NewReading(plotID, domain.HumiditySensor, `{"value": 41}`, from, from.Add(time.Minute)),
	}

	mockService.On("GetReadingsByRange",
		mock.Anything,
		plotID,
		mock.MatchedBy(func(t time.Time) bool { return t.Equal(from) }),
		mock.MatchedBy(func(t time.Time) bool { return t.Equal(to) }),
	).Return(expected, nil)

	target := "/api/v1/plots/" + plotID.String() + "/readings?from=" + from.Format(time.RFC3339) + "&to=" + to.Format(time.RFC3339)
	w := serve(server, "GET", target, "")

	assert.Equal(t, http.StatusOK, w.Code)
	var response []*domain.Reading
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Len(t, response, 1)
	assert.Equal(t, expected[0].ID, response[0].ID)
	assert.Equal(t, domain.StatusPending, response[0].ProcessingStatus)
	mockService.AssertExpectations(t)
}

func TestHTTPServer_GetReadingsByRangeErrors(t *testing.T) {
	plotID := uuid.New().String()
	now := time.Now().UTC()

	tests := []struct {
		name       string
		target     string
		serviceErr error
		wantStatus int
	}{
		{name: "invalid plot", target: "/api/v1/plots/not-a-uuid/readings?from=a&to=b", wantStatus: http.StatusBadRequest},
		{name: "missing range", target: "/api/v1/plots/" + plotID + "/readings", wantStatus: http.StatusBadRequest},
		{name: "bad from", target: "/api/v1/plots/" + plotID + "/readings?from=yesterday&to=" + now.Format(time.RFC3339), wantStatus: http.StatusBadRequest},
		{
			name:       "inverted range",
			target:     "/api/v1/plots/" + plotID + "/readings?from=" + now.Format(time.RFC3339) + "&to=" + now.Add(-time.Hour).Format(time.RFC3339),
			serviceErr: domain.ErrInvalidRange,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "store failure",
			target:     "/api/v1/plots/" + plotID + "/readings?from=" + now.Add(-time.Hour).Format(time.RFC3339) + "&to=" + now.Format(time.RFC3339),
			serviceErr: errors.New("timeout"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			server := newTestServer(mockService, nil)
			if tt.serviceErr != nil {
				mockService.On("GetReadingsByRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.serviceErr)
			}

			w := serve(server, "GET", tt.target, "")
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestHTTPServer_GetAlertsByPlot(t *testing.T) {
	mockService := new(MockService)
	server := newTestServer(mockService, nil)

	plotID := uuid.New()
	alert := domain.NewAlert(plotID, domain.AlertDrought, "drought", time.Now().UTC())
	mockService.On("GetAlertsByPlot", mock.Anything, plotID).Return([]*domain.Alert{alert}, nil)

	w := serve(server, "GET", "/api/v1/plots/"+plotID.String()+"/alerts", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var response []*domain.Alert
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Len(t, response, 1)
	assert.True(t, response[0].IsActive)
	assert.Equal(t, domain.AlertDrought, response[0].Type)
}

func TestHTTPServer_GetAlertsByPlotEmpty(t *testing.T) {
	mockService := new(MockService)
	server := newTestServer(mockService, nil)

	plotID := uuid.New()
	mockService.On("GetAlertsByPlot", mock.Anything, plotID).Return(nil, nil)

	w := serve(server, "GET", "/api/v1/plots/"+plotID.String()+"/alerts", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestHTTPServer_QueueStats(t *testing.T) {
	queues := new(MockQueueInspector)
	server := newTestServer(new(MockService), queues)

	queues.On("QueueStats", mock.Anything).Return([]broker.QueueStat{{Name: "queue.humidity", Messages: 3, Consumers: 1}}, nil).Once()
	w := serve(server, "GET", "/api/v1/queues", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"name":"queue.humidity","messages":3,"consumers":1}]`, w.Body.String())

	queues.On("QueueStats", mock.Anything).Return(nil, errors.New("connection refused")).Once()
	w = serve(server, "GET", "/api/v1/queues", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHTTPServer_QueueStatsNotRoutedWithoutBroker(t *testing.T) {
	w := serve(newTestServer(new(MockService), nil), "GET", "/api/v1/queues", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHTTPServer_AlertStreamUpgradesThroughMiddleware(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	hub := stream.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := NewHTTPServer(":8080", new(MockService), nil, http.HandlerFunc(hub.ServeWS), logger)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/alerts", nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
}

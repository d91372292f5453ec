package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/broker"
	"github.com/CoolE88/agro-telemetry-service/internal/domain"
	"github.com/CoolE88/agro-telemetry-service/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxIngestBody = 1 << 20

type DataService interface {
	Ingest(ctx context.Context, req *domain.IngestRequest) (*domain.IngestResponse, error)
	GetReadingsByRange(ctx context.Context, plotID uuid.UUID, from, to time.Time) ([]*domain.Reading, error)
	GetAlertsByPlot(ctx context.Context, plotID uuid.UUID) ([]*domain.Alert, error)
	CheckDBConnection(ctx context.Context) error
}

type QueueInspector interface {
	QueueStats(ctx context.Context) ([]broker.QueueStat, error)
}

type HTTPServer struct {
	server  *http.Server
	service DataService
	queues  QueueInspector
	logger  *zap.Logger
}

// NewHTTPServer регистрирует REST маршруты. queues и alertStream необязательны: их маршруты
// добавляются, только если они заданы.
func NewHTTPServer(addr string, service DataService, queues QueueInspector, alertStream http.Handler, logger *zap.Logger) *HTTPServer {
	router := mux.NewRouter()

	s := &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		service: service,
		queues:  queues,
		logger:  logger,
	}

	router.Use(s.metricsMiddleware)
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/health", s.healthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/readings", s.ingestReading).Methods("POST")
	api.HandleFunc("/plots/{plotId}/readings", s.getReadingsByRange).Methods("GET")
	api.HandleFunc("/plots/{plotId}/alerts", s.getAlertsByPlot).Methods("GET")
	if queues != nil {
		api.HandleFunc("/queues", s.getQueueStats).Methods("GET")
	}

	if alertStream != nil {
		router.Handle("/ws/alerts", alertStream).Methods("GET")
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// responseWriter для отслеживания статус кода и размера
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// Hijack нужен для websocket upgrade через цепочку middleware
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// middleware для сбора метрик HTTP запросов с использованием шаблона пути
func (s *HTTPServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		method := r.Method
		status := strconv.Itoa(rw.statusCode)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}

		metrics.HTTPRequests.WithLabelValues(method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
		metrics.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(rw.size))
	})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("query", r.URL.RawQuery),
			zap.String("ip", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
			zap.Int("status", rw.statusCode),
			zap.Int("response_size", rw.size),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *HTTPServer) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CheckDBConnection(r.Context()); err != nil {
		s.logger.Error("Health check failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ingestBody: тело запроса на приём показания. deviceType может быть числом или именем,
// rawData может быть JSON строкой или вложенным JSON объектом.
type ingestBody struct {
	PlotID          string          `json:"plotId"`
	DeviceID        string          `json:"deviceId"`
	DeviceType      json.RawMessage `json:"deviceType"`
	RawData         json.RawMessage `json:"rawData"`
	DeviceTimestamp *time.Time      `json:"deviceTimestamp"`
}

func (b ingestBody) toRequest() (*domain.IngestRequest, error) {
	req := &domain.IngestRequest{
		DeviceID:        b.DeviceID,
		DeviceTimestamp: b.DeviceTimestamp,
	}

	if b.PlotID != "" {
		plotID, err := uuid.Parse(b.PlotID)
		if err != nil {
			return nil, fmt.Errorf("%w: plotId is not a valid UUID", domain.ErrInvalidRequest)
		}
		req.PlotID = &plotID
	}

	deviceType, err := parseDeviceType(b.DeviceType)
	if err != nil {
		return nil, err
	}
	req.DeviceType = deviceType

	raw := bytes.TrimSpace(b.RawData)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		if err := json.Unmarshal(raw, &req.RawData); err != nil {
			return nil, fmt.Errorf("%w: rawData: %v", domain.ErrInvalidRequest, err)
		}
	default:
		req.RawData = string(raw)
	}
	return req, nil
}

func parseDeviceType(raw json.RawMessage) (domain.DeviceType, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("%w: deviceType is required", domain.ErrInvalidRequest)
	}
	var code int
	if err := json.Unmarshal(raw, &code); err == nil {
		return domain.DeviceType(code), nil
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return 0, fmt.Errorf("%w: deviceType must be a number or a name", domain.ErrInvalidRequest)
	}
	return domain.ParseDeviceType(name)
}

func (s *HTTPServer) ingestReading(w http.ResponseWriter, r *http.Request) {
	var body ingestBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody)).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := body.toRequest()
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}

	resp, err := s.service.Ingest(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("Failed to ingest reading", zap.Error(err))
			s.writeError(w, status, "failed to store reading")
			return
		}
		s.writeError(w, status, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, resp)
}

func (s *HTTPServer) getReadingsByRange(w http.ResponseWriter, r *http.Request) {
	plotID, ok := s.plotID(w, r)
	if !ok {
		return
	}

	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")
	if fromStr == "" || toStr == "" {
		s.writeError(w, http.StatusBadRequest, "from and to parameters are required")
		return
	}

	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid from time format")
		return
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid to time format")
		return
	}

	data, err := s.service.GetReadingsByRange(r.Context(), plotID, from, to)
	if err != nil {
		if status := statusFor(err); status != http.StatusInternalServerError {
			s.writeError(w, status, err.Error())
			return
		}
		s.logger.Error("Failed to get readings by range", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if data == nil {
		data = []*domain.Reading{}
	}
	s.writeJSON(w, http.StatusOK, data)
}

func (s *HTTPServer) getAlertsByPlot(w http.ResponseWriter, r *http.Request) {
	plotID, ok := s.plotID(w, r)
	if !ok {
		return
	}

	alerts, err := s.service.GetAlertsByPlot(r.Context(), plotID)
	if err != nil {
		s.logger.Error("Failed to get alerts", zap.String("plot_id", plotID.String()), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if alerts == nil {
		alerts = []*domain.Alert{}
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

func (s *HTTPServer) getQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queues.QueueStats(r.Context())
	if err != nil {
		s.logger.Error("Failed to inspect queues", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "broker unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) plotID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	plotID, err := uuid.Parse(mux.Vars(r)["plotId"])
	if err != nil || plotID == uuid.Nil {
		s.writeError(w, http.StatusBadRequest, "invalid plot id")
		return uuid.Nil, false
	}
	return plotID, true
}

// statusFor сопоставляет доменные ошибки с HTTP статусами
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrEmptyPayload),
		errors.Is(err, domain.ErrUnsupportedDeviceType),
		errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrPlotUnresolved),
		errors.Is(err, domain.ErrInvalidRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

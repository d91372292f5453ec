package grpc

import (
	"context"
	"errors"
	"net"
	"time"

	pb "github.com/CoolE88/agro-telemetry-service/api/telemetry/v1"
	"github.com/CoolE88/agro-telemetry-service/internal/domain"
	"github.com/CoolE88/agro-telemetry-service/internal/metrics"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DataService описывает бизнес-логику, которую обслуживает gRPC адаптер
type DataService interface {
	Ingest(ctx context.Context, req *domain.IngestRequest) (*domain.IngestResponse, error)
	GetReadingsByRange(ctx context.Context, plotID uuid.UUID, from, to time.Time) ([]*domain.Reading, error)
	GetAlertsByPlot(ctx context.Context, plotID uuid.UUID) ([]*domain.Alert, error)
	CheckDBConnection(ctx context.Context) error
}

// GRPCServer реализует gRPC сервер с метриками и логированием
type GRPCServer struct {
	server  *grpc.Server
	service DataService
	logger  *zap.Logger
}

func NewGRPCServer(service DataService, logger *zap.Logger) *GRPCServer {
	loggingInterceptor := logging.UnaryServerInterceptor(interceptorLogger(logger))
	metricsInterceptor := grpc_prometheus.UnaryServerInterceptor
	customMetricsInterceptor := unaryMetricsInterceptor()

	chain := grpc.ChainUnaryInterceptor(
		loggingInterceptor,
		metricsInterceptor,
		customMetricsInterceptor,
	)

	s := &GRPCServer{
		server:  grpc.NewServer(chain),
		service: service,
		logger:  logger,
	}

	pb.RegisterTelemetryServiceServer(s.server, s)

	grpc_prometheus.Register(s.server)
	grpc_prometheus.EnableHandlingTimeHistogram()

	return s
}

func (s *GRPCServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.logger.Info("Starting gRPC server", zap.String("addr", addr))
	return s.Serve(lis)
}

// Serve обслуживает уже открытый listener (в тестах bufconn)
func (s *GRPCServer) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down gRPC server")

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return ctx.Err()
	}
}

// Custom metrics interceptor: счётчик и длительность запросов в разрезе метода и статуса
func unaryMetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		statusCode := status.Code(err).String()
		duration := time.Since(start).Seconds()

		metrics.GRPCRequests.WithLabelValues(info.FullMethod, statusCode).Inc()
		metrics.GRPCRequestDuration.WithLabelValues(info.FullMethod, statusCode).Observe(duration)

		return resp, err
	}
}

// Logger adapter для grpc middleware
func interceptorLogger(l *zap.Logger) logging.Logger {
	return logging.LoggerFunc(func(_ context.Context, lvl logging.Level, msg string, fields ...any) {
		f := make([]zap.Field, 0, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			key, ok := fields[i].(string)
			if !ok {
				continue
			}
			f = append(f, zap.Any(key, fields[i+1]))
		}
		logger := l.WithOptions(zap.AddCallerSkip(1)).With(f...)

		switch lvl {
		case logging.LevelDebug:
			logger.Debug(msg)
		case logging.LevelInfo:
			logger.Info(msg)
		case logging.LevelWarn:
			logger.Warn(msg)
		case logging.LevelError:
			logger.Error(msg)
		default:
			logger.Info(msg)
		}
	})
}

func (s *GRPCServer) IngestReading(ctx context.Context, req *pb.IngestReadingRequest) (*pb.IngestReadingResponse, error) {
	ingest := &domain.IngestRequest{
		DeviceID:   req.DeviceID,
		DeviceType: domain.DeviceType(req.DeviceType),
		RawData:    req.RawData,
	}

	if req.PlotID != "" {
		plotID, err := uuid.Parse(req.PlotID)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "plot_id is not a valid UUID")
		}
		ingest.PlotID = &plotID
	}

	if req.DeviceTimestamp != "" {
		ts, err := time.Parse(time.RFC3339, req.DeviceTimestamp)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "invalid device_timestamp format, expected RFC3339")
		}
		ingest.DeviceTimestamp = &ts
	}

	resp, err := s.service.Ingest(ctx, ingest)
	if err != nil {
		return nil, s.statusError("Failed to ingest reading", err)
	}

	return &pb.IngestReadingResponse{
		ID:         resp.ID.String(),
		PlotID:     resp.PlotID.String(),
		DeviceType: int32(resp.DeviceType),
		ReceivedAt: resp.ReceivedAt.Format(time.RFC3339Nano),
		Status:     resp.Status,
	}, nil
}

func (s *GRPCServer) GetReadingsByPeriod(ctx context.Context, req *pb.ReadingsRequest) (*pb.ReadingsResponse, error) {
	plotID, err := parsePlotID(req.PlotID)
	if err != nil {
		return nil, err
	}

	if req.StartTime == "" || req.EndTime == "" {
		return nil, status.Error(codes.InvalidArgument, "start_time and end_time are required")
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid start_time format, expected RFC3339")
	}

	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid end_time format, expected RFC3339")
	}

	data, err := s.service.GetReadingsByRange(ctx, plotID, startTime, endTime)
	if err != nil {
		return nil, s.statusError("Failed to get readings by period", err)
	}

	response := &pb.ReadingsResponse{
		Readings: make([]*pb.Reading, len(data)),
	}
	for i, r := range data {
		response.Readings[i] = &pb.Reading{
			ID:               r.ID.String(),
			PlotID:           r.PlotID.String(),
			DeviceType:       int32(r.DeviceType),
			RawData:          r.RawPayload,
			DeviceTimestamp:  r.DeviceTimestamp.Format(time.RFC3339Nano),
			ReceivedAt:       r.ReceivedAt.Format(time.RFC3339Nano),
			ProcessingStatus: r.ProcessingStatus.String(),
		}
	}

	return response, nil
}

func (s *GRPCServer) GetAlertsByPlot(ctx context.Context, req *pb.AlertsRequest) (*pb.AlertsResponse, error) {
	plotID, err := parsePlotID(req.PlotID)
	if err != nil {
		return nil, err
	}

	alerts, err := s.service.GetAlertsByPlot(ctx, plotID)
	if err != nil {
		return nil, s.statusError("Failed to get alerts", err)
	}

	response := &pb.AlertsResponse{
		Alerts: make([]*pb.Alert, len(alerts)),
	}
	for i, a := range alerts {
		alert := &pb.Alert{
			ID:          a.ID.String(),
			PlotID:      a.PlotID.String(),
			Type:        a.Type.String(),
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339Nano),
			IsActive:    a.IsActive,
		}
		if a.ResolvedAt != nil {
			alert.ResolvedAt = a.ResolvedAt.Format(time.RFC3339Nano)
		}
		response.Alerts[i] = alert
	}

	return response, nil
}

func (s *GRPCServer) Health(ctx context.Context, _ *pb.HealthRequest) (*pb.HealthResponse, error) {
	if err := s.service.CheckDBConnection(ctx); err != nil {
		s.logger.Error("Database health check failed", zap.Error(err))
		return nil, status.Error(codes.Unavailable, "database unavailable")
	}
	return &pb.HealthResponse{Status: "healthy"}, nil
}

func parsePlotID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, status.Error(codes.InvalidArgument, "plot_id is required")
	}
	plotID, err := uuid.Parse(raw)
	if err != nil || plotID == uuid.Nil {
		return uuid.Nil, status.Error(codes.InvalidArgument, "plot_id is not a valid UUID")
	}
	return plotID, nil
}

// statusError переводит доменные ошибки в gRPC статусы. Детали внутренних ошибок
// клиенту не отдаются.
func (s *GRPCServer) statusError(msg string, err error) error {
	code := codeFor(err)
	if code == codes.Internal {
		s.logger.Error(msg, zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrDeviceNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrEmptyPayload),
		errors.Is(err, domain.ErrUnsupportedDeviceType),
		errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrPlotUnresolved),
		errors.Is(err, domain.ErrInvalidRange):
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}

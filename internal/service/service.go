package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/domain"
	"github.com/CoolE88/agro-telemetry-service/internal/metrics"
	"github.com/CoolE88/agro-telemetry-service/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxQueryRange ограничивает интервал запроса GetReadingsByRange
const MaxQueryRange = 90 * 24 * time.Hour

type ReadingRepository interface {
	AddReading(ctx context.Context, r *domain.Reading) error
	GetReadingsByPlotAndRange(ctx context.Context, plotID uuid.UUID, from, to time.Time) ([]*domain.Reading, error)
	HealthCheck(ctx context.Context) error
}

type AlertRepository interface {
	GetAlertsByPlot(ctx context.Context, plotID uuid.UUID) ([]*domain.Alert, error)
}

type DeviceDirectory interface {
	LookupPlot(ctx context.Context, deviceID string) (uuid.UUID, error)
}

// DataService описывает бизнес-логику приёма показаний и запросов на чтение
type DataService struct {
	readings   ReadingRepository
	alerts     AlertRepository
	directory  DeviceDirectory
	validators *validation.Registry
	logger     *zap.Logger
	now        func() time.Time
}

func NewDataService(readings ReadingRepository, alerts AlertRepository, directory DeviceDirectory, validators *validation.Registry, logger *zap.Logger) *DataService {
	return &DataService{
		readings:   readings,
		alerts:     alerts,
		directory:  directory,
		validators: validators,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *DataService) CheckDBConnection(ctx context.Context) error {
	return s.readings.HealthCheck(ctx)
}

// Ingest проверяет показание, определяет участок и сохраняет запись в статусе Pending.
// Любая ошибка оборачивает одну из доменных ошибок.
func (s *DataService) Ingest(ctx context.Context, req *domain.IngestRequest) (*domain.IngestResponse, error) {
	resp, err := s.ingest(ctx, req)

	deviceType := "unknown"
	if req != nil {
		deviceType = req.DeviceType.String()
	}
	metrics.IngestRequests.WithLabelValues(deviceType, ingestResult(err)).Inc()

	return resp, err
}

func (s *DataService) ingest(ctx context.Context, req *domain.IngestRequest) (*domain.IngestResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is required", domain.ErrInvalidRequest)
	}
	if strings.TrimSpace(req.RawData) == "" {
		return nil, domain.ErrEmptyPayload
	}

	validator, err := s.validators.Get(req.DeviceType)
	if err != nil {
		return nil, err
	}
	if !validator.Validate(req.RawData) {
		s.logger.Debug("[DataService] Payload rejected",
			zap.String("device_type", req.DeviceType.String()))
		return nil, fmt.Errorf("%w: payload for %s violates field or type constraints", domain.ErrInvalidPayload, req.DeviceType)
	}

	plotID, err := s.resolvePlot(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	deviceTimestamp := now
	if req.DeviceTimestamp != nil && !req.DeviceTimestamp.IsZero() {
		deviceTimestamp = req.DeviceTimestamp.UTC()
	}

	reading := domain.NewReading(plotID, req.DeviceType, req.RawData, deviceTimestamp, now)
	if err := s.readings.AddReading(ctx, reading); err != nil {
		s.logger.Error("[DataService] Failed to save reading",
			zap.String("reading_id", reading.ID.String()),
			zap.String("plot_id", plotID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	s.logger.Info("[DataService] Reading received",
		zap.String("reading_id", reading.ID.String()),
		zap.String("plot_id", plotID.String()),
		zap.String("device_type", req.DeviceType.String()))

	return &domain.IngestResponse{
		ID:         reading.ID,
		PlotID:     reading.PlotID,
		DeviceType: reading.DeviceType,
		ReceivedAt: reading.ReceivedAt,
		Status:     domain.IngestStatusReceived,
	}, nil
}

// resolvePlot берёт явный plot id, а справочник устройств использует только без него
func (s *DataService) resolvePlot(ctx context.Context, req *domain.IngestRequest) (uuid.UUID, error) {
	if req.PlotID != nil && *req.PlotID != uuid.Nil {
		return *req.PlotID, nil
	}

	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		deviceID, _ = validation.DeviceIDFromPayload(req.RawData)
	}
	if deviceID == "" {
		return uuid.Nil, domain.ErrPlotUnresolved
	}

	plotID, err := s.directory.LookupPlot(ctx, deviceID)
	if err != nil {
		if errors.Is(err, domain.ErrDeviceNotFound) {
			return uuid.Nil, err
		}
		return uuid.Nil, fmt.Errorf("failed to resolve device %q: %w", deviceID, err)
	}
	return plotID, nil
}

func ingestResult(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence_error"
	case errors.Is(err, domain.ErrPlotUnresolved), errors.Is(err, domain.ErrDeviceNotFound):
		return "unresolved"
	case errors.Is(err, domain.ErrUnsupportedDeviceType):
		return "unsupported"
	default:
		return "invalid"
	}
}

// GetReadingsByRange возвращает показания участка за [from, to], от старых к новым
func (s *DataService) GetReadingsByRange(ctx context.Context, plotID uuid.UUID, from, to time.Time) ([]*domain.Reading, error) {
	if plotID == uuid.Nil {
		return nil, fmt.Errorf("%w: plot id is required", domain.ErrInvalidRequest)
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", domain.ErrInvalidRange)
	}
	if to.Sub(from) > MaxQueryRange {
		return nil, fmt.Errorf("%w: range exceeds %d days", domain.ErrInvalidRange, int(MaxQueryRange.Hours()/24))
	}

	data, err := s.readings.GetReadingsByPlotAndRange(ctx, plotID, from, to)
	if err != nil {
		s.logger.Error("[DataService] Failed to get readings by range",
			zap.String("plot_id", plotID.String()),
			zap.Time("from", from),
			zap.Time("to", to),
			zap.Error(err))
		return nil, err
	}
	return data, nil
}

// GetAlertsByPlot возвращает алерты участка, сначала самые свежие
func (s *DataService) GetAlertsByPlot(ctx context.Context, plotID uuid.UUID) ([]*domain.Alert, error) {
	if plotID == uuid.Nil {
		return nil, fmt.Errorf("%w: plot id is required", domain.ErrInvalidRequest)
	}

	alerts, err := s.alerts.GetAlertsByPlot(ctx, plotID)
	if err != nil {
		s.logger.Error("[DataService] Failed to get alerts",
			zap.String("plot_id", plotID.String()),
			zap.Error(err))
		return nil, err
	}
	return alerts, nil
}

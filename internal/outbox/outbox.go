package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/domain"
	"github.com/CoolE88/agro-telemetry-service/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ReadingRepository interface {
	GetPendingReadings(ctx context.Context, limit int) ([]*domain.Reading, error)
	UpdateReading(ctx context.Context, r *domain.Reading) error
}

type Publisher interface {
	Publish(ctx context.Context, routingKey, messageID, correlationID string, body []byte) error
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	RoutingKeys  map[domain.DeviceType]string
}

type CycleResult struct {
	Fetched   int
	Published int
	Failed    int
}

// Outbox отправляет Pending показания в брокер. Запись помечается Queued только после
// подтверждения публикации, поэтому при падении между ними она уйдёт повторно в следующем цикле.
type Outbox struct {
	repo      ReadingRepository
	publisher Publisher
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

func NewOutbox(repo ReadingRepository, publisher Publisher, cfg Config, logger *zap.Logger) *Outbox {
	return &Outbox{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start запускает цикл сразу и затем раз в poll interval до отмены ctx.
// Циклы не пересекаются.
func (o *Outbox) Start(ctx context.Context) {
	o.logger.Info("[Outbox] Started",
		zap.Duration("poll_interval", o.cfg.PollInterval),
		zap.Int("batch_size", o.cfg.BatchSize))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("[Outbox] Stopped")
			return
		case <-timer.C:
		}

		if _, err := o.RunOnce(ctx); err != nil && ctx.Err() == nil {
			o.logger.Error("[Outbox] Cycle failed", zap.Error(err))
		}
		timer.Reset(o.cfg.PollInterval)
	}
}

// RunOnce публикует до BatchSize ожидающих показаний, начиная со старых. Ошибка по одной
// записи логируется, остальная пачка всё равно обрабатывается.
func (o *Outbox) RunOnce(ctx context.Context) (CycleResult, error) {
	var result CycleResult

	start := time.Now()
	defer func() {
		metrics.OutboxCycleDuration.Observe(time.Since(start).Seconds())
	}()

	readings, err := o.repo.GetPendingReadings(ctx, o.cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("failed to fetch pending readings: %w", err)
	}
	result.Fetched = len(readings)
	metrics.OutboxBatchSize.Observe(float64(len(readings)))

	for _, reading := range readings {
		if ctx.Err() != nil {
			break
		}
		if err := o.publish(ctx, reading); err != nil {
			result.Failed++
			o.logger.Error("[Outbox] Failed to relay reading",
				zap.String("reading_id", reading.ID.String()),
				zap.String("device_type", reading.DeviceType.String()),
				zap.Error(err))
			continue
		}
		result.Published++
	}

	if result.Fetched > 0 {
		o.logger.Info("[Outbox] Cycle complete",
			zap.Int("fetched", result.Fetched),
			zap.Int("published", result.Published),
			zap.Int("failed", result.Failed))
	}
	return result, nil
}

func (o *Outbox) publish(ctx context.Context, reading *domain.Reading) error {
	routingKey, ok := o.cfg.RoutingKeys[reading.DeviceType]
	if !ok || routingKey == "" {
		metrics.OutboxFailures.WithLabelValues("route").Inc()
		return fmt.Errorf("%w: no routing key for %s", domain.ErrUnsupportedDeviceType, reading.DeviceType)
	}

	now := o.now()
	body, err := json.Marshal(domain.NewEnvelope(reading, now))
	if err != nil {
		metrics.OutboxFailures.WithLabelValues("encode").Inc()
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	token := uuid.NewString()
	if err := o.publisher.Publish(ctx, routingKey, reading.ID.String(), token, body); err != nil {
		metrics.OutboxFailures.WithLabelValues("publish").Inc()
		return fmt.Errorf("failed to publish: %w", err)
	}
	metrics.OutboxPublished.WithLabelValues(routingKey).Inc()

	if err := reading.MarkQueued(token, now); err != nil {
		metrics.OutboxFailures.WithLabelValues("mark").Inc()
		return err
	}
	if err := o.repo.UpdateReading(ctx, reading); err != nil {
		if errors.Is(err, domain.ErrReadingNotUpdated) {
			o.logger.Debug("[Outbox] Reading already completed by consumer",
				zap.String("reading_id", reading.ID.String()))
			return nil
		}
		metrics.OutboxFailures.WithLabelValues("mark").Inc()
		return fmt.Errorf("published but failed to mark queued: %w", err)
	}
	return nil
}

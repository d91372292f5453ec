package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/broker"
	"github.com/CoolE88/agro-telemetry-service/internal/domain"
	"github.com/CoolE88/agro-telemetry-service/internal/metrics"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type ReadingRepository interface {
	GetReadingByID(ctx context.Context, id uuid.UUID) (*domain.Reading, error)
	UpdateReading(ctx context.Context, r *domain.Reading) error
}

type Evaluator interface {
	Evaluate(ctx context.Context, plotID uuid.UUID, deviceType domain.DeviceType) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, queue string, prefetch int) (broker.Subscription, error)
}

type Config struct {
	Queues     []string
	Prefetch   int
	RetryDelay time.Duration
}

type Outcome string

const DefaultRetryDelay = 5 * time.Second

const (
	OutcomeProcessed    Outcome = "processed"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeDiscarded    Outcome = "discarded"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// Consumer держит по одной подписке на очередь. В обработке одновременно не больше Prefetch
// сообщений на очередь; дубликаты отсекаются проверкой статуса Processed, а не блокировками.
type Consumer struct {
	subscriber Subscriber
	repo       ReadingRepository
	evaluator  Evaluator
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

func NewConsumer(subscriber Subscriber, repo ReadingRepository, evaluator Evaluator, cfg Config, logger *zap.Logger) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Consumer{
		subscriber: subscriber,
		repo:       repo,
		evaluator:  evaluator,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start блокируется до отмены ctx и завершения всех обработчиков в каждой очереди
func (c *Consumer) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, queue := range c.cfg.Queues {
		wg.Add(1)
		go func(queue string) {
			defer wg.Done()
			c.consumeQueue(ctx, queue)
		}(queue)
	}

	c.logger.Info("[Consumer] Started",
		zap.Strings("queues", c.cfg.Queues),
		zap.Int("prefetch", c.cfg.Prefetch))

	wg.Wait()
	c.logger.Info("[Consumer] Stopped")
}

func (c *Consumer) consumeQueue(ctx context.Context, queue string) {
	for {
		sub, err := c.subscriber.Subscribe(ctx, queue, c.cfg.Prefetch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("[Consumer] Failed to subscribe", zap.String("queue", queue), zap.Error(err))
		} else {
			if !c.drain(ctx, queue, sub) {
				return
			}
			c.logger.Warn("[Consumer] Subscription closed by broker, resubscribing", zap.String("queue", queue))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.RetryDelay):
		}
	}
}

// drain раздаёт сообщения до отмены ctx (возвращает false) или до закрытия подписки брокером
// (возвращает true). Перед закрытием подписки дожидаемся активных обработчиков, чтобы их
// ack или nack дошёл до брокера.
func (c *Consumer) drain(ctx context.Context, queue string, sub broker.Subscription) bool {
	sem := make(chan struct{}, c.cfg.Prefetch)
	var inflight sync.WaitGroup

	defer func() {
		inflight.Wait()
		if err := sub.Close(); err != nil {
			c.logger.Debug("[Consumer] Subscription close", zap.String("queue", queue), zap.Error(err))
		}
	}()

	handleCtx := context.WithoutCancel(ctx)
	deliveries := sub.Deliveries()

	for {
		select {
		case <-ctx.Done():
			return false
		case d, ok := <-deliveries:
			if !ok {
				return ctx.Err() == nil
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				// не начали; брокер вернёт сообщение в очередь при закрытии канала
				return false
			}

			inflight.Add(1)
			metrics.ConsumerInFlight.WithLabelValues(queue).Inc()
			go func(d amqp.Delivery) {
				defer func() {
					metrics.ConsumerInFlight.WithLabelValues(queue).Dec()
					<-sem
					inflight.Done()
				}()
				c.HandleDelivery(handleCtx, queue, d)
			}(d)
		}
	}
}

// HandleDelivery обрабатывает одно сообщение и всегда его подтверждает: ack при успехе или
// если сообщение никогда не будет обработано, nack без requeue (в dead-letter) при прочих ошибках.
func (c *Consumer) HandleDelivery(ctx context.Context, queue string, d amqp.Delivery) Outcome {
	start := time.Now()

	outcome, env, err := c.process(ctx, queue, d.Body)
	if err != nil {
		outcome = OutcomeDeadLettered
		c.logger.Error("[Consumer] Failed to handle message, dead-lettering",
			zap.String("queue", queue),
			zap.String("message_id", d.MessageId),
			zap.Error(err))

		if env != nil {
			c.markFailed(ctx, env.ReadingID, err)
		}
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.logger.Error("[Consumer] Nack failed", zap.String("queue", queue), zap.Error(nackErr))
		}
	} else if ackErr := d.Ack(false); ackErr != nil {
		c.logger.Error("[Consumer] Ack failed", zap.String("queue", queue), zap.Error(ackErr))
	}

	metrics.ConsumerMessages.WithLabelValues(queue, string(outcome)).Inc()
	metrics.ConsumerHandleDuration.WithLabelValues(queue).Observe(time.Since(start).Seconds())
	return outcome
}

func (c *Consumer) process(ctx context.Context, queue string, body []byte) (Outcome, *domain.Envelope, error) {
	var env *domain.Envelope
	if err := json.Unmarshal(body, &env); err != nil || env == nil || env.ReadingID == uuid.Nil {
		c.logger.Warn("[Consumer] Discarding unreadable envelope",
			zap.String("queue", queue),
			zap.Int("size", len(body)),
			zap.Error(err))
		return OutcomeDiscarded, nil, nil
	}

	logger := c.logger.With(zap.String("queue", queue), zap.String("reading_id", env.ReadingID.String()))

	reading, err := c.repo.GetReadingByID(ctx, env.ReadingID)
	if err != nil {
		return "", env, fmt.Errorf("failed to load reading: %w", err)
	}
	if reading == nil {
		logger.Warn("[Consumer] Reading not found, discarding message")
		return OutcomeDiscarded, env, nil
	}

	switch reading.ProcessingStatus {
	case domain.StatusProcessed:
		logger.Info("[Consumer] Reading already processed, skipping duplicate")
		return OutcomeDuplicate, env, nil
	case domain.StatusFailed, domain.StatusDiscarded:
		logger.Warn("[Consumer] Reading in terminal status, skipping",
			zap.String("status", reading.ProcessingStatus.String()))
		return OutcomeSkipped, env, nil
	}

	if err := reading.MarkProcessed(c.now()); err != nil {
		return "", env, err
	}
	if err := c.repo.UpdateReading(ctx, reading); err != nil {
		if errors.Is(err, domain.ErrReadingNotUpdated) {
			logger.Info("[Consumer] Reading completed concurrently, skipping duplicate")
			return OutcomeDuplicate, env, nil
		}
		return "", env, fmt.Errorf("failed to mark reading processed: %w", err)
	}

	if err := c.evaluate(ctx, reading); err != nil {
		logger.Error("[Consumer] Alert evaluation failed",
			zap.String("plot_id", reading.PlotID.String()),
			zap.Error(err))
	}

	logger.Debug("[Consumer] Reading processed", zap.String("plot_id", reading.PlotID.String()))
	return OutcomeProcessed, env, nil
}

// evaluate изолирует движок алертов от доставки: ни ошибка, ни паника в нём
// не мешают ack.
func (c *Consumer) evaluate(ctx context.Context, reading *domain.Reading) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("alert evaluation panicked: %v", r)
		}
	}()
	return c.evaluator.Evaluate(ctx, reading.PlotID, reading.DeviceType)
}

func (c *Consumer) markFailed(ctx context.Context, id uuid.UUID, cause error) {
	reading, err := c.repo.GetReadingByID(ctx, id)
	if err != nil || reading == nil {
		c.logger.Warn("[Consumer] Could not load reading to mark failed",
			zap.String("reading_id", id.String()),
			zap.Error(err))
		return
	}
	if err := reading.MarkFailed(cause.Error(), c.now()); err != nil {
		c.logger.Debug("[Consumer] Reading not marked failed", zap.Error(err))
		return
	}
	if err := c.repo.UpdateReading(ctx, reading); err != nil {
		c.logger.Warn("[Consumer] Failed to mark reading failed",
			zap.String("reading_id", id.String()),
			zap.Error(err))
	}
}

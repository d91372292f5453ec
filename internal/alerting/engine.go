package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/domain"
	"github.com/CoolE88/agro-telemetry-service/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ReadingRepository interface {
	GetReadingsByPlotAndRange(ctx context.Context, plotID uuid.UUID, from, to time.Time) ([]*domain.Reading, error)
}

type AlertRepository interface {
	AddAlert(ctx context.Context, a *domain.Alert) error
	GetActiveAlert(ctx context.Context, plotID uuid.UUID, alertType domain.AlertType) (*domain.Alert, error)
	UpdateAlert(ctx context.Context, a *domain.Alert) error
}

// Notifier получает каждый открытый или закрытый алерт. Не должен блокировать.
type Notifier interface {
	NotifyAlert(ctx context.Context, event domain.AlertEvent)
}

// Engine открывает и закрывает алерты участка по его свежим обработанным показаниям.
// Активен не более одного алерта на участок и тип; при гонке двух вычислений это
// гарантирует хранилище алертов.
type Engine struct {
	readings ReadingRepository
	alerts   AlertRepository
	notifier Notifier
	rules    []rule
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine создаёт движок; notifier может быть nil
func NewEngine(readings ReadingRepository, alerts AlertRepository, cfg Config, notifier Notifier, logger *zap.Logger) *Engine {
	return &Engine{
		readings: readings,
		alerts:   alerts,
		notifier: notifier,
		rules:    newRules(cfg),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate запускает все правила, которые зависят от типа устройства. Ошибка одного правила
// не останавливает остальные; все ошибки возвращаются вместе.
func (e *Engine) Evaluate(ctx context.Context, plotID uuid.UUID, deviceType domain.DeviceType) error {
	var errs []error
	for _, r := range e.rules {
		if !r.appliesTo(deviceType) {
			continue
		}
		if err := e.evaluateRule(ctx, plotID, r); err != nil {
			metrics.AlertEvaluationErrors.WithLabelValues(r.alertType.String()).Inc()
			errs = append(errs, fmt.Errorf("%s rule: %w", r.alertType, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) evaluateRule(ctx context.Context, plotID uuid.UUID, r rule) error {
	now := e.now()

	readings, err := e.readings.GetReadingsByPlotAndRange(ctx, plotID, now.Add(-r.cfg.Window), now)
	if err != nil {
		return fmt.Errorf("failed to load readings: %w", err)
	}

	values := r.values(readings)
	if len(values) < r.cfg.MinReadings {
		e.logger.Debug("[Alerting] Not enough readings",
			zap.String("plot_id", plotID.String()),
			zap.String("type", r.alertType.String()),
			zap.Int("readings", len(values)),
			zap.Int("required", r.cfg.MinReadings))
		return nil
	}

	active, err := e.alerts.GetActiveAlert(ctx, plotID, r.alertType)
	if err != nil {
		return fmt.Errorf("failed to load active alert: %w", err)
	}

	holds := r.holds(values, r.cfg.Threshold)
	switch {
	case holds && active == nil:
		return e.open(ctx, domain.NewAlert(plotID, r.alertType, r.describe(values, r.cfg), now))
	case !holds && active != nil:
		active.Resolve(now)
		return e.resolve(ctx, active)
	}
	return nil
}

func (e *Engine) open(ctx context.Context, alert *domain.Alert) error {
	if err := e.alerts.AddAlert(ctx, alert); err != nil {
		if errors.Is(err, domain.ErrActiveAlertExists) {
			e.logger.Debug("[Alerting] Alert opened concurrently",
				zap.String("plot_id", alert.PlotID.String()),
				zap.String("type", alert.Type.String()))
			return nil
		}
		return fmt.Errorf("failed to add alert: %w", err)
	}

	metrics.AlertsOpened.WithLabelValues(alert.Type.String()).Inc()
	e.logger.Warn("[Alerting] Alert opened",
		zap.String("alert_id", alert.ID.String()),
		zap.String("plot_id", alert.PlotID.String()),
		zap.String("type", alert.Type.String()),
		zap.String("message", alert.Message))
	e.notify(ctx, domain.AlertOpened, alert)
	return nil
}

func (e *Engine) resolve(ctx context.Context, alert *domain.Alert) error {
	if err := e.alerts.UpdateAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to resolve alert %s: %w", alert.ID, err)
	}

	metrics.AlertsResolved.WithLabelValues(alert.Type.String()).Inc()
	e.logger.Info("[Alerting] Alert resolved",
		zap.String("alert_id", alert.ID.String()),
		zap.String("plot_id", alert.PlotID.String()),
		zap.String("type", alert.Type.String()))
	e.notify(ctx, domain.AlertResolved, alert)
	return nil
}

func (e *Engine) notify(ctx context.Context, action string, alert *domain.Alert) {
	if e.notifier == nil {
		return
	}
	snapshot := *alert
	e.notifier.NotifyAlert(ctx, domain.AlertEvent{Action: action, Alert: &snapshot})
}

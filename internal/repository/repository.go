package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/config"
	"github.com/CoolE88/agro-telemetry-service/internal/domain"
	"github.com/CoolE88/agro-telemetry-service/internal/repository/memory"
	"github.com/CoolE88/agro-telemetry-service/internal/repository/mongo"
	"github.com/CoolE88/agro-telemetry-service/internal/repository/postgres"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store описывает хранилище показаний и алертов, общее для всех бэкендов
type Store interface {
	AddReading(ctx context.Context, r *domain.Reading) error
	GetReadingByID(ctx context.Context, id uuid.UUID) (*domain.Reading, error)
	GetPendingReadings(ctx context.Context, limit int) ([]*domain.Reading, error)
	UpdateReading(ctx context.Context, r *domain.Reading) error
	GetReadingsByPlotAndRange(ctx context.Context, plotID uuid.UUID, from, to time.Time) ([]*domain.Reading, error)

	AddAlert(ctx context.Context, a *domain.Alert) error
	GetActiveAlert(ctx context.Context, plotID uuid.UUID, alertType domain.AlertType) (*domain.Alert, error)
	UpdateAlert(ctx context.Context, a *domain.Alert) error
	GetAlertsByPlot(ctx context.Context, plotID uuid.UUID) ([]*domain.Alert, error)

	HealthCheck(ctx context.Context) error
	Close()
}

var (
	_ Store = (*postgres.PostgresRepository)(nil)
	_ Store = (*mongo.Repository)(nil)
	_ Store = (*memory.Store)(nil)
)

// Open подключает бэкенд из cfg.DBDriver и подготавливает схему
func Open(ctx context.Context, cfg config.DBConfig, logger *zap.Logger) (Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		repo, err := postgres.NewPostgresRepository(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			repo.Close()
			return nil, err
		}
		return repo, nil
	case "mongo":
		return mongo.NewMongoRepository(ctx, cfg, logger)
	case "memory":
		logger.Warn("Using in-memory store; data is lost on restart")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DBDriver)
	}
}

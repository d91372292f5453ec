package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/config"
	"github.com/CoolE88/agro-telemetry-service/internal/metrics"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS iot_readings (
		id                      UUID PRIMARY KEY,
		plot_id                 UUID NOT NULL,
		device_type             SMALLINT NOT NULL,
		raw_data                TEXT NOT NULL,
		device_timestamp        TIMESTAMPTZ NOT NULL,
		received_at             TIMESTAMPTZ NOT NULL,
		processing_status       SMALLINT NOT NULL,
		processing_queue_id     TEXT,
		processing_started_at   TIMESTAMPTZ,
		processing_completed_at TIMESTAMPTZ,
		error_message           TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_iot_readings_pending ON iot_readings (received_at) WHERE processing_status = 1`,
	`CREATE INDEX IF NOT EXISTS idx_iot_readings_plot_received ON iot_readings (plot_id, received_at)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id           UUID PRIMARY KEY,
		plot_id      UUID NOT NULL,
		type         SMALLINT NOT NULL,
		message      TEXT NOT NULL,
		triggered_at TIMESTAMPTZ NOT NULL,
		resolved_at  TIMESTAMPTZ,
		is_active    BOOLEAN NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_alerts_active_plot_type ON alerts (plot_id, type) WHERE is_active`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_plot_triggered ON alerts (plot_id, triggered_at DESC)`,
}

// PostgresRepository хранит показания и алерты в PostgreSQL
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresRepository(ctx context.Context, dbConfig config.DBConfig, logger *zap.Logger) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(dbConfig.DBSource)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	poolConfig.MaxConns = int32(dbConfig.MaxDBConnections)
	poolConfig.MinConns = int32(dbConfig.MinDBConnections)
	poolConfig.MaxConnLifetime = dbConfig.MaxConnLifetime
	poolConfig.MaxConnIdleTime = dbConfig.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	go monitorConnections(ctx, pool, logger)

	return &PostgresRepository{
		pool:   pool,
		logger: logger,
	}, nil
}

// EnsureSchema создаёт таблицы и индексы, если их ещё нет
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("ensure_schema").Observe(time.Since(start).Seconds())
	}()

	for _, stmt := range schema {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	r.logger.Info("Database schema ensured", zap.Int("statements", len(schema)))
	return nil
}

// monitorConnections периодически обновляет метрики соединений и завершается при отмене ctx
func monitorConnections(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping monitorConnections goroutine due to context cancellation")
			return
		case <-ticker.C:
			stats := pool.Stat()
			metrics.DBActiveConnections.Set(float64(stats.AcquiredConns()))
			metrics.DBIdleConnections.Set(float64(stats.IdleConns()))

			logger.Debug("Database connection stats",
				zap.Int("acquired", int(stats.AcquiredConns())),
				zap.Int("idle", int(stats.IdleConns())),
				zap.Int("max", int(stats.MaxConns())),
			)
		}
	}
}

func observe(operation string, start time.Time) {
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (r *PostgresRepository) HealthCheck(ctx context.Context) error {
	defer observe("health_check", time.Now())
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

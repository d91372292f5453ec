package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const readingColumns = `id, plot_id, device_type, raw_data, device_timestamp, received_at,
	processing_status, processing_queue_id, processing_started_at, processing_completed_at, error_message`

func scanReading(row pgx.Row) (*domain.Reading, error) {
	var (
		r          domain.Reading
		deviceType int
		status     int
	)
	err := row.Scan(
		&r.ID,
		&r.PlotID,
		&deviceType,
		&r.RawPayload,
		&r.DeviceTimestamp,
		&r.ReceivedAt,
		&status,
		&r.QueueToken,
		&r.ProcessingStartedAt,
		&r.ProcessingCompletedAt,
		&r.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	r.DeviceType = domain.DeviceType(deviceType)
	r.ProcessingStatus = domain.ProcessingStatus(status)
	return &r, nil
}

func collectReadings(rows pgx.Rows) ([]*domain.Reading, error) {
	defer rows.Close()

	var results []*domain.Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return results, nil
}

func (r *PostgresRepository) AddReading(ctx context.Context, reading *domain.Reading) error {
	defer observe("add_reading", time.Now())

	query := `INSERT INTO iot_readings (` + readingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.pool.Exec(ctx, query,
		reading.ID,
		reading.PlotID,
		int(reading.DeviceType),
		reading.RawPayload,
		reading.DeviceTimestamp,
		reading.ReceivedAt,
		int(reading.ProcessingStatus),
		reading.QueueToken,
		reading.ProcessingStartedAt,
		reading.ProcessingCompletedAt,
		reading.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// GetReadingByID возвращает (nil, nil), если записи с таким id нет.
func (r *PostgresRepository) GetReadingByID(ctx context.Context, id uuid.UUID) (*domain.Reading, error) {
	defer observe("get_reading_by_id", time.Now())

	query := `SELECT ` + readingColumns + ` FROM iot_readings WHERE id = $1`

	reading, err := scanReading(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reading: %w", err)
	}
	return reading, nil
}

func (r *PostgresRepository) GetPendingReadings(ctx context.Context, limit int) ([]*domain.Reading, error) {
	defer observe("get_pending_readings", time.Now())

	query := `SELECT ` + readingColumns + ` FROM iot_readings
		WHERE processing_status = $1 ORDER BY received_at ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, int(domain.StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending readings: %w", err)
	}
	return collectReadings(rows)
}

const updateReadingQuery = `UPDATE iot_readings SET
		processing_status = $2,
		processing_queue_id = $3,
		processing_started_at = $4,
		processing_completed_at = $5,
		error_message = $6
	WHERE id = $1 AND processing_status NOT IN ($7, $8, $9)`

// updateReadingArgs: поля записи и терминальные статусы для защиты в $7..$9
func updateReadingArgs(reading *domain.Reading) []any {
	args := []any{
		reading.ID,
		int(reading.ProcessingStatus),
		reading.QueueToken,
		reading.ProcessingStartedAt,
		reading.ProcessingCompletedAt,
		reading.ErrorMessage,
	}
	for _, s := range domain.TerminalStatuses {
		args = append(args, int(s))
	}
	return args
}

// UpdateReading обновляет поля обработки. Строки в терминальном статусе не меняются,
// в этом случае возвращается domain.ErrReadingNotUpdated.
func (r *PostgresRepository) UpdateReading(ctx context.Context, reading *domain.Reading) error {
	defer observe("update_reading", time.Now())

	tag, err := r.pool.Exec(ctx, updateReadingQuery, updateReadingArgs(reading)...)
	if err != nil {
		return fmt.Errorf("failed to update reading: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReadingNotUpdated
	}
	return nil
}

// GetReadingsByPlotAndRange возвращает записи, полученные в интервале [from, to], от старых к новым.
func (r *PostgresRepository) GetReadingsByPlotAndRange(ctx context.Context, plotID uuid.UUID, from, to time.Time) ([]*domain.Reading, error) {
	defer observe("get_readings_by_plot_and_range", time.Now())

	query := `SELECT ` + readingColumns + ` FROM iot_readings
		WHERE plot_id = $1 AND received_at >= $2 AND received_at <= $3
		ORDER BY received_at ASC`

	rows, err := r.pool.Query(ctx, query, plotID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	return collectReadings(rows)
}

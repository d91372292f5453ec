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

const alertColumns = `id, plot_id, type, message, triggered_at, resolved_at, is_active`

func scanAlert(row pgx.Row) (*domain.Alert, error) {
	var (
		a         domain.Alert
		alertType int
	)
	if err := row.Scan(&a.ID, &a.PlotID, &alertType, &a.Message, &a.TriggeredAt, &a.ResolvedAt, &a.IsActive); err != nil {
		return nil, err
	}
	a.Type = domain.AlertType(alertType)
	return &a, nil
}

// AddAlert возвращает domain.ErrActiveAlertExists, если частичный уникальный индекс
// по активным алертам отклонил строку.
func (r *PostgresRepository) AddAlert(ctx context.Context, alert *domain.Alert) error {
	defer observe("add_alert", time.Now())

	query := `INSERT INTO alerts (` + alertColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		alert.ID,
		alert.PlotID,
		int(alert.Type),
		alert.Message,
		alert.TriggeredAt,
		alert.ResolvedAt,
		alert.IsActive,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrActiveAlertExists
		}
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetActiveAlert(ctx context.Context, plotID uuid.UUID, alertType domain.AlertType) (*domain.Alert, error) {
	defer observe("get_active_alert", time.Now())

	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE plot_id = $1 AND type = $2 AND is_active
		ORDER BY triggered_at DESC LIMIT 1`

	alert, err := scanAlert(r.pool.QueryRow(ctx, query, plotID, int(alertType)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active alert: %w", err)
	}
	return alert, nil
}

func (r *PostgresRepository) UpdateAlert(ctx context.Context, alert *domain.Alert) error {
	defer observe("update_alert", time.Now())

	query := `UPDATE alerts SET message = $2, is_active = $3, resolved_at = $4 WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, alert.ID, alert.Message, alert.IsActive, alert.ResolvedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrActiveAlertExists
		}
		return fmt.Errorf("failed to update alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlertNotFound
	}
	return nil
}

func (r *PostgresRepository) GetAlertsByPlot(ctx context.Context, plotID uuid.UUID) ([]*domain.Alert, error) {
	defer observe("get_alerts_by_plot", time.Now())

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE plot_id = $1 ORDER BY triggered_at DESC`

	rows, err := r.pool.Query(ctx, query, plotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var results []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return results, nil
}

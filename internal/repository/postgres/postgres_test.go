package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: uniqueViolation, ConstraintName: "ux_alerts_active_plot_type"}

	assert.True(t, isUniqueViolation(dup))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", dup)))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("connection refused")))
}

func TestSchema_ActiveAlertIndexIsPartialUnique(t *testing.T) {
	var found bool
	for _, stmt := range schema {
		assert.Contains(t, stmt, "IF NOT EXISTS")
		if strings.Contains(stmt, "ux_alerts_active_plot_type") {
			found = true
			assert.Contains(t, stmt, "UNIQUE")
			assert.Contains(t, stmt, "WHERE is_active")
		}
	}
	assert.True(t, found)
}

func TestUpdateReading_TerminalGuard(t *testing.T) {
	assert.Contains(t, updateReadingQuery, "WHERE id = $1 AND processing_status NOT IN ($7, $8, $9)")

	now := time.Now().UTC()
	reading := domain.NewReading(uuid.New(), domain.HumiditySensor, `{"value": 40}`, now, now)
	require.NoError(t, reading.MarkProcessed(now))

	args := updateReadingArgs(reading)
	require.Len(t, args, 9)
	assert.Equal(t, reading.ID, args[0])
	assert.Equal(t, int(domain.StatusProcessed), args[1])

	var guarded []domain.ProcessingStatus
	for _, arg := range args[6:] {
		guarded = append(guarded, domain.ProcessingStatus(arg.(int)))
	}
	assert.ElementsMatch(t, []domain.ProcessingStatus{domain.StatusProcessed, domain.StatusFailed, domain.StatusDiscarded}, guarded)
	for _, status := range guarded {
		assert.True(t, status.Terminal())
	}
	assert.NotContains(t, guarded, domain.StatusPending)
	assert.NotContains(t, guarded, domain.StatusQueued)
}

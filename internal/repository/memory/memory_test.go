package memory

import (
	"context"
	"testing"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PendingOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	plotID := uuid.New()
	base := time.Now().UTC()

	var ids []uuid.UUID
	for i := 3; i >= 0; i-- {
		r := domain.NewReading(plotID, domain.HumiditySensor, `{"value":1}`, base, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.AddReading(ctx, r))
		ids = append([]uuid.UUID{r.ID}, ids...)
	}

	queued, err := store.GetReadingByID(ctx, ids[1])
	require.NoError(t, err)
	require.NoError(t, queued.MarkQueued("tok", base))
	require.NoError(t, store.UpdateReading(ctx, queued))

	pending, err := store.GetPendingReadings(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, ids[0], pending[0].ID)
	assert.Equal(t, ids[2], pending[1].ID)
}

func TestStore_UpdateReadingTerminalGuard(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()

	r := domain.NewReading(uuid.New(), domain.TemperatureSensor, `{"value":20}`, now, now)
	require.NoError(t, store.AddReading(ctx, r))

	stale := *r
	require.NoError(t, r.MarkProcessed(now))
	require.NoError(t, store.UpdateReading(ctx, r))

	require.NoError(t, stale.MarkQueued("late", now))
	assert.ErrorIs(t, store.UpdateReading(ctx, &stale), domain.ErrReadingNotUpdated)

	got, err := store.GetReadingByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessed, got.ProcessingStatus)

	assert.ErrorIs(t, store.UpdateReading(ctx, domain.NewReading(uuid.New(), domain.TemperatureSensor, "{}", now, now)), domain.ErrReadingNotUpdated)
}

func TestStore_ReadingsByRange(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	plotID := uuid.New()
	now := time.Now().UTC()

	inside := domain.NewReading(plotID, domain.HumiditySensor, `{"value":1}`, now, now.Add(-time.Hour))
	edge := domain.NewReading(plotID, domain.HumiditySensor, `{"value":1}`, now, now.Add(-2*time.Hour))
	outside := domain.NewReading(plotID, domain.HumiditySensor, `{"value":1}`, now, now.Add(-3*time.Hour))
	otherPlot := domain.NewReading(uuid.New(), domain.HumiditySensor, `{"value":1}`, now, now)
	for _, r := range []*domain.Reading{inside, edge, outside, otherPlot} {
		require.NoError(t, store.AddReading(ctx, r))
	}

	got, err := store.GetReadingsByPlotAndRange(ctx, plotID, now.Add(-2*time.Hour), now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, edge.ID, got[0].ID)
	assert.Equal(t, inside.ID, got[1].ID)
}

func TestStore_SingleActiveAlert(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	plotID := uuid.New()
	now := time.Now().UTC()

	first := domain.NewAlert(plotID, domain.AlertDrought, "first", now)
	require.NoError(t, store.AddAlert(ctx, first))
	assert.ErrorIs(t, store.AddAlert(ctx, domain.NewAlert(plotID, domain.AlertDrought, "dup", now)), domain.ErrActiveAlertExists)
	require.NoError(t, store.AddAlert(ctx, domain.NewAlert(plotID, domain.AlertHeavyRain, "rain", now)))

	active, err := store.GetActiveAlert(ctx, plotID, domain.AlertDrought)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, first.ID, active.ID)

	active.Resolve(now.Add(time.Minute))
	require.NoError(t, store.UpdateAlert(ctx, active))

	active, err = store.GetActiveAlert(ctx, plotID, domain.AlertDrought)
	require.NoError(t, err)
	assert.Nil(t, active)

	second := domain.NewAlert(plotID, domain.AlertDrought, "second", now.Add(2*time.Minute))
	require.NoError(t, store.AddAlert(ctx, second))

	all, err := store.GetAlertsByPlot(ctx, plotID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, second.ID, all[0].ID)

	assert.ErrorIs(t, store.UpdateAlert(ctx, domain.NewAlert(plotID, domain.AlertDrought, "x", now)), domain.ErrAlertNotFound)
}

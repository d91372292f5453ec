package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReading_Transitions(t *testing.T) {
	now := time.Now().UTC()

	t.Run("pending to queued to processed", func(t *testing.T) {
		r := NewReading(uuid.New(), HumiditySensor, `{"value":10}`, now, now)
		assert.Equal(t, StatusPending, r.ProcessingStatus)

		require.NoError(t, r.MarkQueued("token-1", now))
		assert.Equal(t, StatusQueued, r.ProcessingStatus)
		require.NotNil(t, r.QueueToken)
		assert.Equal(t, "token-1", *r.QueueToken)
		assert.NotNil(t, r.ProcessingStartedAt)

		require.NoError(t, r.MarkProcessed(now))
		assert.Equal(t, StatusProcessed, r.ProcessingStatus)
		assert.NotNil(t, r.ProcessingCompletedAt)
		assert.Nil(t, r.ErrorMessage)
	})

	t.Run("pending straight to processed", func(t *testing.T) {
		r := NewReading(uuid.New(), HumiditySensor, `{"value":10}`, now, now)
		require.NoError(t, r.MarkProcessed(now))
		assert.Equal(t, StatusProcessed, r.ProcessingStatus)
	})

	t.Run("processed never reverts", func(t *testing.T) {
		r := NewReading(uuid.New(), HumiditySensor, `{"value":10}`, now, now)
		require.NoError(t, r.MarkProcessed(now))

		assert.ErrorIs(t, r.MarkQueued("late", now), ErrInvalidTransition)
		assert.ErrorIs(t, r.MarkFailed("boom", now), ErrInvalidTransition)
		assert.ErrorIs(t, r.MarkProcessed(now), ErrInvalidTransition)
		assert.Equal(t, StatusProcessed, r.ProcessingStatus)
	})

	t.Run("failed from queued keeps message", func(t *testing.T) {
		r := NewReading(uuid.New(), TemperatureSensor, `{"value":10}`, now, now)
		require.NoError(t, r.MarkQueued("t", now))
		require.NoError(t, r.MarkFailed("store unavailable", now))
		assert.Equal(t, StatusFailed, r.ProcessingStatus)
		require.NotNil(t, r.ErrorMessage)
		assert.Equal(t, "store unavailable", *r.ErrorMessage)
		assert.ErrorIs(t, r.MarkProcessed(now), ErrInvalidTransition)
	})
}

func TestAlert_Resolve(t *testing.T) {
	now := time.Now().UTC()
	a := NewAlert(uuid.New(), AlertDrought, "drought", now)
	assert.True(t, a.IsActive)
	assert.Nil(t, a.ResolvedAt)

	later := now.Add(time.Hour)
	a.Resolve(later)
	assert.False(t, a.IsActive)
	require.NotNil(t, a.ResolvedAt)
	assert.Equal(t, later, *a.ResolvedAt)
}

func TestParseDeviceType(t *testing.T) {
	tests := []struct {
		in       string
		expected DeviceType
		wantErr  bool
	}{
		{"temperature", TemperatureSensor, false},
		{"Humidity", HumiditySensor, false},
		{"precipitation", PrecipitationSensor, false},
		{"weather", WeatherStationNode, false},
		{"WeatherStationNode", WeatherStationNode, false},
		{"wind", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDeviceType(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedDeviceType)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

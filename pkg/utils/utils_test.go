package utils

import (
	"testing"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/domain"
	"github.com/CoolE88/agro-telemetry-service/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeGenerator_Generate(t *testing.T) {
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)

	generator := NewTimeGenerator(start, end)

	for i := 0; i < 100; i++ {
		result := generator.Generate()
		assert.True(t, !result.Before(start) && !result.After(end))
	}
}

func TestTimeGenerator_EmptyRange(t *testing.T) {
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, at, NewTimeGenerator(at, at).Generate())
}

func TestPayloadGenerator_ProducesValidPayloads(t *testing.T) {
	generator := NewPayloadGenerator(42)
	registry := validation.DefaultRegistry()

	for _, dt := range domain.DeviceTypes {
		validator, err := registry.Get(dt)
		require.NoError(t, err)

		for i := 0; i < 50; i++ {
			payload, err := generator.Generate(dt, "agri-sensor-node-042")
			require.NoError(t, err)
			assert.True(t, validator.Validate(payload), "%s: %s", dt, payload)
		}
	}
}

func TestPayloadGenerator_UnknownType(t *testing.T) {
	_, err := NewPayloadGenerator(1).Generate(domain.DeviceType(9), "x")
	assert.ErrorIs(t, err, domain.ErrUnsupportedDeviceType)
}

func TestIsValidUUID(t *testing.T) {
	assert.True(t, IsValidUUID("550e8400-e29b-41d4-a716-446655440000"))
	assert.False(t, IsValidUUID("plot-7"))
}

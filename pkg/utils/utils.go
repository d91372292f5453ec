package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/domain"
	"github.com/CoolE88/agro-telemetry-service/internal/validation"

	"github.com/google/uuid"
)

func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// PayloadGenerator генерирует сырую телеметрию, проходящую валидацию своего типа
type PayloadGenerator struct {
	rng *rand.Rand
}

func NewPayloadGenerator(seed int64) *PayloadGenerator {
	return &PayloadGenerator{rng: rand.New(rand.NewSource(seed))}
}

// Generate возвращает payload для dt. deviceID добавляется только для метеостанций.
func (g *PayloadGenerator) Generate(dt domain.DeviceType, deviceID string) (string, error) {
	var payload any
	switch dt {
	case domain.TemperatureSensor:
		payload = map[string]float64{"value": g.between(validation.Bounds{Min: -10, Max: 45})}
	case domain.HumiditySensor:
		payload = map[string]float64{"value": g.between(validation.HumidityBounds)}
	case domain.PrecipitationSensor:
		payload = map[string]float64{"value": g.between(validation.Bounds{Min: 0, Max: 30})}
	case domain.WeatherStationNode:
		payload = map[string]any{
			"device_id": deviceID,
			"telemetry": map[string]float64{
				"temperature_air":  g.between(validation.Bounds{Min: -10, Max: 45}),
				"humidity_air":     g.between(validation.HumidityBounds),
				"pressure":         g.between(validation.Bounds{Min: 950, Max: 1050}),
				"precipitation_mm": g.between(validation.Bounds{Min: 0, Max: 30}),
				"wind_speed_kmh":   g.between(validation.Bounds{Min: 0, Max: 90}),
				"soil_moisture":    g.between(validation.SoilMoistureBounds),
			},
		}
	default:
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedDeviceType, dt)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// between возвращает значение из b, округлённое до десятых
func (g *PayloadGenerator) between(b validation.Bounds) float64 {
	v := b.Min + g.rng.Float64()*(b.Max-b.Min)
	return math.Round(v*10) / 10
}

type TimeGenerator struct {
	minTime time.Time
	maxTime time.Time
}

func NewTimeGenerator(min, max time.Time) *TimeGenerator {
	return &TimeGenerator{
		minTime: min,
		maxTime: max,
	}
}

func (tg *TimeGenerator) Generate() time.Time {
	delta := tg.maxTime.Sub(tg.minTime)
	if delta <= 0 {
		return tg.minTime
	}
	randomDuration := time.Duration(rand.Int63n(int64(delta)))
	return tg.minTime.Add(randomDuration)
}

// RecentTimeGenerator генерирует метки времени в пределах последнего window
func RecentTimeGenerator(window time.Duration) *TimeGenerator {
	now := time.Now().UTC()
	return NewTimeGenerator(now.Add(-window), now)
}

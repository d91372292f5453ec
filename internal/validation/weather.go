package validation

import (
	"fmt"
	"strings"

	"github.com/CoolE88/agro-telemetry-service/internal/domain"
)

const (
	telemetryField    = "telemetry"
	soilMoistureField = "soil_moisture"
)

var weatherFieldBounds = map[string]Bounds{
	"temperature_air":  TemperatureBounds,
	"humidity_air":     HumidityBounds,
	"pressure":         PressureBounds,
	"precipitation_mm": PrecipitationBounds,
	"wind_speed_kmh":   WindSpeedBounds,
	soilMoistureField:  SoilMoistureBounds,
}

// weatherFieldBound возвращает границы для ключа телеметрии. Датчики влажности почвы
// могут быть пронумерованы по глубине (soil_moisture_1, soil_moisture_2, ...).
func weatherFieldBound(key string) (Bounds, bool) {
	if b, ok := weatherFieldBounds[key]; ok {
		return b, true
	}
	if strings.HasPrefix(key, soilMoistureField+"_") {
		return SoilMoistureBounds, true
	}
	return Bounds{}, false
}

// weatherStationValidator проверяет составной payload метеостанции:
//
//	{"device_id": "...", "telemetry": {"temperature_air": 28.5, "humidity_air": 62, ...}}
//
// Каждое присутствующее поле проверяется отдельно; отсутствующие поля допустимы.
type weatherStationValidator struct{}

func NewWeatherStationValidator() Validator {
	return weatherStationValidator{}
}

func (weatherStationValidator) DeviceType() domain.DeviceType {
	return domain.WeatherStationNode
}

func (v weatherStationValidator) Validate(raw string) bool {
	_, _, err := v.read(raw)
	return err == nil
}

func (v weatherStationValidator) Extract(raw string) (map[string]any, error) {
	id, telemetry, err := v.read(raw)
	if err != nil {
		return nil, err
	}

	out := map[string]any{"deviceId": id}
	for key, field := range telemetry {
		if _, known := weatherFieldBound(key); !known {
			continue
		}
		value, _ := number(field)
		out[key] = value
	}
	return out, nil
}

func (weatherStationValidator) read(raw string) (string, map[string]any, error) {
	obj, err := parseObject(raw)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	id, ok := deviceID(obj)
	if !ok {
		return "", nil, fmt.Errorf("%w: missing device_id", domain.ErrInvalidPayload)
	}

	group, ok := obj[telemetryField]
	if !ok {
		return "", nil, fmt.Errorf("%w: missing %q group", domain.ErrInvalidPayload, telemetryField)
	}
	telemetry, ok := group.(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q is not an object", domain.ErrInvalidPayload, telemetryField)
	}

	for key, field := range telemetry {
		bounds, known := weatherFieldBound(key)
		if !known {
			continue
		}
		value, ok := number(field)
		if !ok {
			return "", nil, fmt.Errorf("%w: telemetry.%s is not numeric", domain.ErrInvalidPayload, key)
		}
		if !bounds.Contains(value) {
			return "", nil, fmt.Errorf("%w: telemetry.%s %g outside [%g, %g]", domain.ErrInvalidPayload, key, value, bounds.Min, bounds.Max)
		}
	}
	return id, telemetry, nil
}

package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/CoolE88/agro-telemetry-service/internal/domain"
)

// Validator проверяет и разбирает сырой payload одного типа устройства
type Validator interface {
	DeviceType() domain.DeviceType
	Validate(raw string) bool
	Extract(raw string) (map[string]any, error)
}

// Bounds: числовой диапазон, границы включаются
type Bounds struct {
	Min float64
	Max float64
}

func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

var (
	TemperatureBounds   = Bounds{Min: -60, Max: 60}
	HumidityBounds      = Bounds{Min: 0, Max: 100}
	PrecipitationBounds = Bounds{Min: 0, Max: 500}
	PressureBounds      = Bounds{Min: 300, Max: 1100}
	WindSpeedBounds     = Bounds{Min: 0, Max: 400}
	SoilMoistureBounds  = Bounds{Min: 0, Max: 100}
)

const valueField = "value"

var errNotObject = errors.New("payload is not a JSON object")

// parseObject разбирает raw в объект, числа остаются json.Number
func parseObject(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errNotObject
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after JSON object")
	}
	return obj, nil
}

func number(v any) (float64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil {
		return 0, false
	}
	return f, true
}

// DeviceIDFromPayload возвращает строку device_id (или deviceId) из payload
func DeviceIDFromPayload(raw string) (string, bool) {
	obj, err := parseObject(raw)
	if err != nil {
		return "", false
	}
	return deviceID(obj)
}

func deviceID(obj map[string]any) (string, bool) {
	for _, key := range []string{"device_id", "deviceId"} {
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

// sensorValidator проверяет payload одиночного датчика вида {"value": <number>, "unit": "..."}
type sensorValidator struct {
	deviceType domain.DeviceType
	metric     Metric
	bounds     Bounds
}

func NewTemperatureValidator() Validator {
	return &sensorValidator{deviceType: domain.TemperatureSensor, metric: MetricTemperature, bounds: TemperatureBounds}
}

func NewHumidityValidator() Validator {
	return &sensorValidator{deviceType: domain.HumiditySensor, metric: MetricHumidity, bounds: HumidityBounds}
}

func NewPrecipitationValidator() Validator {
	return &sensorValidator{deviceType: domain.PrecipitationSensor, metric: MetricPrecipitation, bounds: PrecipitationBounds}
}

func (v *sensorValidator) DeviceType() domain.DeviceType {
	return v.deviceType
}

func (v *sensorValidator) Validate(raw string) bool {
	_, _, err := v.read(raw)
	return err == nil
}

func (v *sensorValidator) Extract(raw string) (map[string]any, error) {
	obj, value, err := v.read(raw)
	if err != nil {
		return nil, err
	}

	out := map[string]any{string(v.metric): value}
	if unit, ok := obj["unit"].(string); ok {
		out["unit"] = unit
	}
	if id, ok := deviceID(obj); ok {
		out["deviceId"] = id
	}
	return out, nil
}

func (v *sensorValidator) read(raw string) (map[string]any, float64, error) {
	obj, err := parseObject(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	field, ok := obj[valueField]
	if !ok {
		return nil, 0, fmt.Errorf("%w: missing %q field", domain.ErrInvalidPayload, valueField)
	}
	value, ok := number(field)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q is not numeric", domain.ErrInvalidPayload, valueField)
	}
	if !v.bounds.Contains(value) {
		return nil, 0, fmt.Errorf("%w: %s %g outside [%g, %g]", domain.ErrInvalidPayload, v.metric, value, v.bounds.Min, v.bounds.Max)
	}
	return obj, value, nil
}

package validation

import (
	"github.com/CoolE88/agro-telemetry-service/internal/domain"
)

type Metric string

const (
	MetricTemperature   Metric = "temperature"
	MetricHumidity      Metric = "humidity"
	MetricPrecipitation Metric = "precipitation"
)

var weatherMetricFields = map[Metric]string{
	MetricTemperature:   "temperature_air",
	MetricHumidity:      "humidity_air",
	MetricPrecipitation: "precipitation_mm",
}

// ExtractMetric читает числовую метрику из сохранённого payload: поле "value" у одиночных
// датчиков, соответствующее поле telemetry у метеостанций. Границы здесь не проверяются.
func ExtractMetric(t domain.DeviceType, raw string, m Metric) (float64, bool) {
	obj, err := parseObject(raw)
	if err != nil {
		return 0, false
	}

	if t != domain.WeatherStationNode {
		return number(obj[valueField])
	}

	field, ok := weatherMetricFields[m]
	if !ok {
		return 0, false
	}
	telemetry, ok := obj[telemetryField].(map[string]any)
	if !ok {
		return 0, false
	}
	return number(telemetry[field])
}

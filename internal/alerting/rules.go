package alerting

import (
	"fmt"
	"slices"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/domain"
	"github.com/CoolE88/agro-telemetry-service/internal/validation"
)

type RuleConfig struct {
	Window      time.Duration
	MinReadings int
	Threshold   float64
}

type Config struct {
	Drought     RuleConfig
	ExtremeHeat RuleConfig
	HeavyRain   RuleConfig
}

func DefaultConfig() Config {
	return Config{
		Drought:     RuleConfig{Window: 24 * time.Hour, MinReadings: 2, Threshold: 30},
		ExtremeHeat: RuleConfig{Window: 6 * time.Hour, MinReadings: 3, Threshold: 38},
		HeavyRain:   RuleConfig{Window: 6 * time.Hour, MinReadings: 1, Threshold: 50},
	}
}

// rule: одно пороговое условие по скользящему окну обработанных показаний.
type rule struct {
	alertType   domain.AlertType
	metric      validation.Metric
	deviceTypes []domain.DeviceType
	cfg         RuleConfig
	holds       func(values []float64, threshold float64) bool
	describe    func(values []float64, cfg RuleConfig) string
}

func newRules(cfg Config) []rule {
	return []rule{
		{
			alertType:   domain.AlertDrought,
			metric:      validation.MetricHumidity,
			deviceTypes: []domain.DeviceType{domain.HumiditySensor, domain.WeatherStationNode},
			cfg:         cfg.Drought,
			holds:       allBelow,
			describe: func(values []float64, cfg RuleConfig) string {
				return fmt.Sprintf("drought: avg humidity %.1f%% over %s (threshold %g%%), %d readings",
					mean(values), formatWindow(cfg.Window), cfg.Threshold, len(values))
			},
		},
		{
			alertType:   domain.AlertExtremeHeat,
			metric:      validation.MetricTemperature,
			deviceTypes: []domain.DeviceType{domain.TemperatureSensor, domain.WeatherStationNode},
			cfg:         cfg.ExtremeHeat,
			holds:       allAbove,
			describe: func(values []float64, cfg RuleConfig) string {
				return fmt.Sprintf("extreme heat: avg temp %.1f°C over %s (threshold %g°C), %d readings",
					mean(values), formatWindow(cfg.Window), cfg.Threshold, len(values))
			},
		},
		{
			alertType:   domain.AlertHeavyRain,
			metric:      validation.MetricPrecipitation,
			deviceTypes: []domain.DeviceType{domain.PrecipitationSensor, domain.WeatherStationNode},
			cfg:         cfg.HeavyRain,
			holds:       sumAtLeast,
			describe: func(values []float64, cfg RuleConfig) string {
				return fmt.Sprintf("heavy rain: cumulative %.1f mm over %s (threshold %gmm), %d readings",
					sum(values), formatWindow(cfg.Window), cfg.Threshold, len(values))
			},
		},
	}
}

func (r rule) appliesTo(dt domain.DeviceType) bool {
	return slices.Contains(r.deviceTypes, dt)
}

// values извлекает метрику правила из обработанных показаний нужных типов устройств.
// Показания без этой метрики пропускаются.
func (r rule) values(readings []*domain.Reading) []float64 {
	var out []float64
	for _, reading := range readings {
		if reading.ProcessingStatus != domain.StatusProcessed || !r.appliesTo(reading.DeviceType) {
			continue
		}
		v, ok := validation.ExtractMetric(reading.DeviceType, reading.RawPayload, r.metric)
		if !ok {
			continue
		}
		out = append(out, v)
	}
	return out
}

func allBelow(values []float64, threshold float64) bool {
	for _, v := range values {
		if v >= threshold {
			return false
		}
	}
	return true
}

func allAbove(values []float64, threshold float64) bool {
	for _, v := range values {
		if v <= threshold {
			return false
		}
	}
	return true
}

func sumAtLeast(values []float64, threshold float64) bool {
	return sum(values) >= threshold
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sum(values) / float64(len(values))
}

func formatWindow(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return d.String()
}

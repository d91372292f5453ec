package validation

import (
	"fmt"

	"github.com/CoolE88/agro-telemetry-service/internal/domain"
)

// Registry выбирает валидатор по типу устройства. После создания только для чтения.
type Registry struct {
	validators map[domain.DeviceType]Validator
}

func NewRegistry(validators ...Validator) *Registry {
	r := &Registry{validators: make(map[domain.DeviceType]Validator, len(validators))}
	for _, v := range validators {
		r.validators[v.DeviceType()] = v
	}
	return r
}

// DefaultRegistry содержит валидаторы для всех поддерживаемых типов
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewTemperatureValidator(),
		NewHumidityValidator(),
		NewPrecipitationValidator(),
		NewWeatherStationValidator(),
	)
}

// Get возвращает domain.ErrUnsupportedDeviceType, если для t нет валидатора
func (r *Registry) Get(t domain.DeviceType) (Validator, error) {
	v, ok := r.validators[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedDeviceType, t)
	}
	return v, nil
}

func (r *Registry) Supports(t domain.DeviceType) bool {
	_, ok := r.validators[t]
	return ok
}

package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/CoolE88/agro-telemetry-service/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DemoDeviceID: полевой узел, который есть в каждом новом справочнике
const DemoDeviceID = "agri-sensor-node-042"

var DemoPlotID = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

// File: формат файла справочника устройств
//
//	devices:
//	  agri-sensor-node-042: 550e8400-e29b-41d4-a716-446655440000
type File struct {
	Devices map[string]string `yaml:"devices"`
}

// Directory сопоставляет идентификатор устройства с участком, на котором оно стоит
type Directory struct {
	mu      sync.RWMutex
	devices map[string]uuid.UUID
	logger  *zap.Logger
}

func NewDirectory(logger *zap.Logger) *Directory {
	d := &Directory{
		devices: make(map[string]uuid.UUID),
		logger:  logger,
	}
	d.Register(DemoDeviceID, DemoPlotID)
	return d
}

func (d *Directory) Register(deviceID string, plotID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[strings.TrimSpace(deviceID)] = plotID
}

// LookupPlot возвращает domain.ErrDeviceNotFound для неизвестных устройств
func (d *Directory) LookupPlot(ctx context.Context, deviceID string) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}

	d.mu.RLock()
	plotID, ok := d.devices[strings.TrimSpace(deviceID)]
	d.mu.RUnlock()

	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", domain.ErrDeviceNotFound, deviceID)
	}
	return plotID, nil
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.devices)
}

// LoadFile регистрирует все устройства из YAML файла. Запись с невалидным plot id
// проваливает всю загрузку, и ничего не регистрируется.
func (d *Directory) LoadFile(path string) error {
	if path == "" {
		return errors.New("no device directory file provided")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read device directory: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("failed to parse device directory: %w", err)
	}

	parsed := make(map[string]uuid.UUID, len(f.Devices))
	for deviceID, plot := range f.Devices {
		plotID, err := uuid.Parse(plot)
		if err != nil {
			return fmt.Errorf("invalid plot id for device %q: %w", deviceID, err)
		}
		parsed[deviceID] = plotID
	}

	for deviceID, plotID := range parsed {
		d.Register(deviceID, plotID)
	}

	d.logger.Info("[Directory] Device directory loaded",
		zap.String("path", path),
		zap.Int("devices", len(parsed)))
	return nil
}

package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type DeviceType int

const (
	TemperatureSensor   DeviceType = 1
	HumiditySensor      DeviceType = 2
	PrecipitationSensor DeviceType = 3
	WeatherStationNode  DeviceType = 4
)

// DeviceTypes: все поддерживаемые типы устройств в порядке объявления
var DeviceTypes = []DeviceType{TemperatureSensor, HumiditySensor, PrecipitationSensor, WeatherStationNode}

func (t DeviceType) String() string {
	switch t {
	case TemperatureSensor:
		return "TemperatureSensor"
	case HumiditySensor:
		return "HumiditySensor"
	case PrecipitationSensor:
		return "PrecipitationSensor"
	case WeatherStationNode:
		return "WeatherStationNode"
	default:
		return fmt.Sprintf("DeviceType(%d)", int(t))
	}
}

// ParseDeviceType принимает короткие имена категорий из топиков и routing key
// ("temperature", "humidity", "precipitation", "weather"), а также полные имена типов.
func ParseDeviceType(s string) (DeviceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "temperature", "temperaturesensor":
		return TemperatureSensor, nil
	case "humidity", "humiditysensor":
		return HumiditySensor, nil
	case "precipitation", "precipitationsensor":
		return PrecipitationSensor, nil
	case "weather", "weatherstation", "weatherstationnode":
		return WeatherStationNode, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedDeviceType, s)
}

type ProcessingStatus int

const (
	StatusPending   ProcessingStatus = 1
	StatusQueued    ProcessingStatus = 2
	StatusProcessed ProcessingStatus = 3
	StatusFailed    ProcessingStatus = 4
	StatusDiscarded ProcessingStatus = 5
)

// TerminalStatuses: из этих статусов переходов нет
var TerminalStatuses = []ProcessingStatus{StatusProcessed, StatusFailed, StatusDiscarded}

func (s ProcessingStatus) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed || s == StatusDiscarded
}

func (s ProcessingStatus) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusQueued:
		return "Queued"
	case StatusProcessed:
		return "Processed"
	case StatusFailed:
		return "Failed"
	case StatusDiscarded:
		return "Discarded"
	default:
		return fmt.Sprintf("ProcessingStatus(%d)", int(s))
	}
}

type AlertType int

const (
	AlertDrought     AlertType = 1
	AlertExtremeHeat AlertType = 2
	AlertHeavyRain   AlertType = 3
)

func (t AlertType) String() string {
	switch t {
	case AlertDrought:
		return "Drought"
	case AlertExtremeHeat:
		return "ExtremeHeat"
	case AlertHeavyRain:
		return "HeavyRain"
	default:
		return fmt.Sprintf("AlertType(%d)", int(t))
	}
}

// Reading: одно показание телеметрии. После создания меняются только поля обработки.
type Reading struct {
	ID                    uuid.UUID        `json:"id" db:"id"`
	PlotID                uuid.UUID        `json:"plotId" db:"plot_id"`
	DeviceType            DeviceType       `json:"deviceType" db:"device_type"`
	RawPayload            string           `json:"rawData" db:"raw_data"`
	DeviceTimestamp       time.Time        `json:"deviceTimestamp" db:"device_timestamp"`
	ReceivedAt            time.Time        `json:"receivedAt" db:"received_at"`
	ProcessingStatus      ProcessingStatus `json:"processingStatus" db:"processing_status"`
	QueueToken            *string          `json:"queueToken,omitempty" db:"processing_queue_id"`
	ProcessingStartedAt   *time.Time       `json:"processingStartedAt,omitempty" db:"processing_started_at"`
	ProcessingCompletedAt *time.Time       `json:"processingCompletedAt,omitempty" db:"processing_completed_at"`
	ErrorMessage          *string          `json:"errorMessage,omitempty" db:"error_message"`
}

func NewReading(plotID uuid.UUID, deviceType DeviceType, raw string, deviceTimestamp, now time.Time) *Reading {
	return &Reading{
		ID:               uuid.New(),
		PlotID:           plotID,
		DeviceType:       deviceType,
		RawPayload:       raw,
		DeviceTimestamp:  deviceTimestamp,
		ReceivedAt:       now,
		ProcessingStatus: StatusPending,
	}
}

func (r *Reading) MarkQueued(token string, now time.Time) error {
	if r.ProcessingStatus != StatusPending {
		return r.transitionError(StatusQueued)
	}
	r.ProcessingStatus = StatusQueued
	r.QueueToken = &token
	r.ProcessingStartedAt = &now
	return nil
}

// MarkProcessed принимает и Pending, и Queued: сообщение может прийти раньше, чем
// публикатор сохранит отметку Queued.
func (r *Reading) MarkProcessed(now time.Time) error {
	if r.ProcessingStatus != StatusPending && r.ProcessingStatus != StatusQueued {
		return r.transitionError(StatusProcessed)
	}
	r.ProcessingStatus = StatusProcessed
	r.ProcessingCompletedAt = &now
	r.ErrorMessage = nil
	return nil
}

func (r *Reading) MarkFailed(message string, now time.Time) error {
	if r.ProcessingStatus.Terminal() {
		return r.transitionError(StatusFailed)
	}
	r.ProcessingStatus = StatusFailed
	r.ProcessingCompletedAt = &now
	r.ErrorMessage = &message
	return nil
}

func (r *Reading) transitionError(to ProcessingStatus) error {
	return fmt.Errorf("%w: reading %s %s -> %s", ErrInvalidTransition, r.ID, r.ProcessingStatus, to)
}

// Alert: действующее агрономическое состояние участка
type Alert struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	PlotID      uuid.UUID  `json:"plotId" db:"plot_id"`
	Type        AlertType  `json:"type" db:"type"`
	Message     string     `json:"message" db:"message"`
	TriggeredAt time.Time  `json:"triggeredAt" db:"triggered_at"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty" db:"resolved_at"`
	IsActive    bool       `json:"isActive" db:"is_active"`
}

func NewAlert(plotID uuid.UUID, alertType AlertType, message string, now time.Time) *Alert {
	return &Alert{
		ID:          uuid.New(),
		PlotID:      plotID,
		Type:        alertType,
		Message:     message,
		TriggeredAt: now,
		IsActive:    true,
	}
}

func (a *Alert) Resolve(now time.Time) {
	a.IsActive = false
	a.ResolvedAt = &now
}

const (
	AlertOpened   = "opened"
	AlertResolved = "resolved"
)

// AlertEvent отправляется подписчикам при открытии или закрытии алерта
type AlertEvent struct {
	Action string `json:"action"`
	Alert  *Alert `json:"alert"`
}

// Envelope: формат сообщения в брокере для одного показания
type Envelope struct {
	ReadingID       uuid.UUID  `json:"readingId"`
	PlotID          uuid.UUID  `json:"plotId"`
	DeviceType      DeviceType `json:"deviceType"`
	RawData         string     `json:"rawData"`
	DeviceTimestamp time.Time  `json:"deviceTimestamp"`
	PublishedAt     time.Time  `json:"publishedAt"`
}

func NewEnvelope(r *Reading, publishedAt time.Time) Envelope {
	return Envelope{
		ReadingID:       r.ID,
		PlotID:          r.PlotID,
		DeviceType:      r.DeviceType,
		RawData:         r.RawPayload,
		DeviceTimestamp: r.DeviceTimestamp,
		PublishedAt:     publishedAt,
	}
}

const IngestStatusReceived = "received, awaiting processing"

type IngestRequest struct {
	PlotID          *uuid.UUID `json:"plotId,omitempty"`
	DeviceID        string     `json:"deviceId,omitempty"`
	DeviceType      DeviceType `json:"deviceType"`
	RawData         string     `json:"rawData"`
	DeviceTimestamp *time.Time `json:"deviceTimestamp,omitempty"`
}

type IngestResponse struct {
	ID         uuid.UUID  `json:"id"`
	PlotID     uuid.UUID  `json:"plotId"`
	DeviceType DeviceType `json:"deviceType"`
	ReceivedAt time.Time  `json:"receivedAt"`
	Status     string     `json:"status"`
}

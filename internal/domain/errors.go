package domain

import "errors"

var (
	ErrInvalidRequest        = errors.New("invalid request")
	ErrEmptyPayload          = errors.New("raw payload is empty")
	ErrUnsupportedDeviceType = errors.New("unsupported device type")
	ErrInvalidPayload        = errors.New("invalid payload")
	ErrPlotUnresolved        = errors.New("plot could not be resolved: neither plotId nor deviceId provided")
	ErrDeviceNotFound        = errors.New("device not found")
	ErrPersistence           = errors.New("persistence failed")
	ErrInvalidRange          = errors.New("invalid time range")

	ErrInvalidTransition = errors.New("invalid processing status transition")
	// ErrReadingNotUpdated: сохранённая запись уже в терминальном статусе
	ErrReadingNotUpdated = errors.New("reading not updated")
	ErrAlertNotFound     = errors.New("alert not found")
	// ErrActiveAlertExists: у участка уже есть активный алерт этого типа
	ErrActiveAlertExists = errors.New("active alert already exists")
)

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/domain"

	"github.com/google/uuid"
)

// Store хранит показания и алерты в памяти процесса. Контракт тот же, что у хранилищ
// на базе данных; безопасен для конкурентного использования.
type Store struct {
	mu       sync.RWMutex
	readings map[uuid.UUID]domain.Reading
	alerts   map[uuid.UUID]domain.Alert
}

func NewStore() *Store {
	return &Store{
		readings: make(map[uuid.UUID]domain.Reading),
		alerts:   make(map[uuid.UUID]domain.Alert),
	}
}

func (s *Store) AddReading(ctx context.Context, r *domain.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.readings[r.ID]; ok {
		return fmt.Errorf("reading %s already exists", r.ID)
	}
	s.readings[r.ID] = *r
	return nil
}

// GetReadingByID возвращает (nil, nil), если записи нет.
func (s *Store) GetReadingByID(ctx context.Context, id uuid.UUID) (*domain.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.readings[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *Store) GetPendingReadings(ctx context.Context, limit int) ([]*domain.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var result []*domain.Reading
	for _, r := range s.readings {
		if r.ProcessingStatus == domain.StatusPending {
			r := r
			result = append(result, &r)
		}
	}
	s.mu.RUnlock()

	sortByReceivedAt(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// UpdateReading сохраняет поля обработки r. Запись в терминальном статусе не перезаписывается,
// вместо этого возвращается domain.ErrReadingNotUpdated.
func (s *Store) UpdateReading(ctx context.Context, r *domain.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.readings[r.ID]
	if !ok || stored.ProcessingStatus.Terminal() {
		return domain.ErrReadingNotUpdated
	}

	stored.ProcessingStatus = r.ProcessingStatus
	stored.QueueToken = r.QueueToken
	stored.ProcessingStartedAt = r.ProcessingStartedAt
	stored.ProcessingCompletedAt = r.ProcessingCompletedAt
	stored.ErrorMessage = r.ErrorMessage
	s.readings[r.ID] = stored
	return nil
}

// GetReadingsByPlotAndRange возвращает записи, полученные в интервале [from, to], от старых к новым.
func (s *Store) GetReadingsByPlotAndRange(ctx context.Context, plotID uuid.UUID, from, to time.Time) ([]*domain.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var result []*domain.Reading
	for _, r := range s.readings {
		if r.PlotID != plotID || r.ReceivedAt.Before(from) || r.ReceivedAt.After(to) {
			continue
		}
		r := r
		result = append(result, &r)
	}
	s.mu.RUnlock()

	sortByReceivedAt(result)
	return result, nil
}

func (s *Store) AddAlert(ctx context.Context, a *domain.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if a.IsActive && s.activeAlertLocked(a.PlotID, a.Type, uuid.Nil) != nil {
		return domain.ErrActiveAlertExists
	}
	s.alerts[a.ID] = *a
	return nil
}

// GetActiveAlert возвращает (nil, nil), если активного алерта этого типа у участка нет.
func (s *Store) GetActiveAlert(ctx context.Context, plotID uuid.UUID, alertType domain.AlertType) (*domain.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.activeAlertLocked(plotID, alertType, uuid.Nil), nil
}

func (s *Store) UpdateAlert(ctx context.Context, a *domain.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.alerts[a.ID]
	if !ok {
		return domain.ErrAlertNotFound
	}
	if a.IsActive && s.activeAlertLocked(a.PlotID, a.Type, a.ID) != nil {
		return domain.ErrActiveAlertExists
	}

	stored.Message = a.Message
	stored.IsActive = a.IsActive
	stored.ResolvedAt = a.ResolvedAt
	s.alerts[a.ID] = stored
	return nil
}

// GetAlertsByPlot возвращает все алерты участка, сначала самые свежие.
func (s *Store) GetAlertsByPlot(ctx context.Context, plotID uuid.UUID) ([]*domain.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var result []*domain.Alert
	for _, a := range s.alerts {
		if a.PlotID == plotID {
			a := a
			result = append(result, &a)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TriggeredAt.After(result[j].TriggeredAt)
	})
	return result, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() {}

func (s *Store) activeAlertLocked(plotID uuid.UUID, alertType domain.AlertType, except uuid.UUID) *domain.Alert {
	var found *domain.Alert
	for id, a := range s.alerts {
		if id == except || !a.IsActive || a.PlotID != plotID || a.Type != alertType {
			continue
		}
		if found == nil || a.TriggeredAt.After(found.TriggeredAt) {
			a := a
			found = &a
		}
	}
	return found
}

func sortByReceivedAt(readings []*domain.Reading) {
	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].ReceivedAt.Before(readings[j].ReceivedAt)
	})
}

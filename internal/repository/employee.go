package repository

import (
	"context"

	"github.com/benvon/learning-stats/internal/models"
	"github.com/benvon/learning-stats/internal/recordstore"
	"go.uber.org/zap"
)

// EmployeeRepository stores per-employee stats keyed by employee id
type EmployeeRepository struct {
	*levelStore
}

// NewEmployeeRepository creates a new employee stats repository
func NewEmployeeRepository(store recordstore.Store, logger *zap.Logger, opts ...Option) *EmployeeRepository {
	return &EmployeeRepository{levelStore: newLevelStore(store, CollectionEmployee, models.LevelEmployee, logger, opts)}
}

// GetOrCreate returns the employee's stats, creating a zero-valued record on first use
func (r *EmployeeRepository) GetOrCreate(ctx context.Context, employeeID string) (*models.EmployeeStats, error) {
	rec, err := r.getOrCreateRecord(ctx, employeeID, employeeID, r.initialFields(employeeID))
	if rec == nil {
		return nil, err
	}
	return r.parse(rec), err
}

// GetParsed returns the employee's stats, or nil if none have been recorded
func (r *EmployeeRepository) GetParsed(ctx context.Context, employeeID string) (*models.EmployeeStats, error) {
	rec, err := r.find(ctx, employeeID, employeeID)
	if err != nil || rec == nil {
		return nil, err
	}
	return r.parse(rec), nil
}

// Mutate applies fn to the current stats and writes the result with a version
// precondition, retrying on conflicting writers. On ErrPropagationTimeout the
// locally computed stats are returned alongside the error.
func (r *EmployeeRepository) Mutate(ctx context.Context, employeeID string, fn func(*models.EmployeeStats) error) (*models.EmployeeStats, error) {
	var view *models.EmployeeStats
	saved, err := r.mutate(ctx, employeeID, employeeID, r.initialFields(employeeID), func(rec *recordstore.Record) (recordstore.Fields, error) {
		view = r.parse(rec)
		if err := fn(view); err != nil {
			return nil, err
		}
		return encodeEmployee(view)
	})
	if saved == nil {
		return nil, err
	}
	view.Version = saved.Version
	view.ComputedAt = saved.UpdatedAt
	return view, err
}

func (r *EmployeeRepository) initialFields(employeeID string) recordstore.Fields {
	view := &models.EmployeeStats{EmployeeID: employeeID, Aggregate: models.NewAggregate()}
	fields, _ := encodeEmployee(view)
	return fields
}

func (r *EmployeeRepository) parse(rec *recordstore.Record) *models.EmployeeStats {
	d := &fieldDecoder{rec: rec, logger: r.logger}
	return &models.EmployeeStats{
		RecordID:       rec.ID,
		EmployeeID:     decodeField(d, fieldSubjectID, rec.ID),
		Aggregate:      d.aggregate(),
		CurrentStreak:  max(decodeField(d, fieldCurrentStreak, 0), 0),
		LongestStreak:  max(decodeField(d, fieldLongestStreak, 0), 0),
		LastActiveDate: decodeField(d, fieldLastActiveDate, ""),
		ComputedAt:     d.computedAt(),
		Version:        rec.Version,
	}
}

func encodeEmployee(view *models.EmployeeStats) (recordstore.Fields, error) {
	e := newFieldEncoder()
	e.set(fieldSubjectID, view.EmployeeID)
	e.aggregate(view.Aggregate)
	e.set(fieldCurrentStreak, view.CurrentStreak)
	e.set(fieldLongestStreak, view.LongestStreak)
	e.set(fieldLastActiveDate, view.LastActiveDate)
	return e.result()
}

package repository

import (
	"context"

	"github.com/benvon/learning-stats/internal/models"
	"github.com/benvon/learning-stats/internal/recordstore"
	"go.uber.org/zap"
)

// TeamRepository stores per-team stats keyed by team id
type TeamRepository struct {
	*levelStore
}

// NewTeamRepository creates a new team stats repository
func NewTeamRepository(store recordstore.Store, logger *zap.Logger, opts ...Option) *TeamRepository {
	return &TeamRepository{levelStore: newLevelStore(store, CollectionTeam, models.LevelTeam, logger, opts)}
}

// GetOrCreate returns the team's stats, creating a zero-valued record on first use
func (r *TeamRepository) GetOrCreate(ctx context.Context, teamID string) (*models.TeamStats, error) {
	rec, err := r.getOrCreateRecord(ctx, teamID, teamID, r.initialFields(teamID))
	if rec == nil {
		return nil, err
	}
	return r.parse(rec), err
}

// GetParsed returns the team's stats, or nil if none have been recorded
func (r *TeamRepository) GetParsed(ctx context.Context, teamID string) (*models.TeamStats, error) {
	rec, err := r.find(ctx, teamID, teamID)
	if err != nil || rec == nil {
		return nil, err
	}
	return r.parse(rec), nil
}

// Mutate applies fn under the compare-and-set loop, see EmployeeRepository.Mutate
func (r *TeamRepository) Mutate(ctx context.Context, teamID string, fn func(*models.TeamStats) error) (*models.TeamStats, error) {
	var view *models.TeamStats
	saved, err := r.mutate(ctx, teamID, teamID, r.initialFields(teamID), func(rec *recordstore.Record) (recordstore.Fields, error) {
		view = r.parse(rec)
		if err := fn(view); err != nil {
			return nil, err
		}
		return encodeTeam(view)
	})
	if saved == nil {
		return nil, err
	}
	view.Version = saved.Version
	view.ComputedAt = saved.UpdatedAt
	return view, err
}

func (r *TeamRepository) initialFields(teamID string) recordstore.Fields {
	view := &models.TeamStats{
		TeamID:      teamID,
		Aggregate:   models.NewAggregate(),
		Leaderboard: []models.LeaderboardEntry{},
	}
	fields, _ := encodeTeam(view)
	return fields
}

func (r *TeamRepository) parse(rec *recordstore.Record) *models.TeamStats {
	d := &fieldDecoder{rec: rec, logger: r.logger}
	return &models.TeamStats{
		RecordID:           rec.ID,
		TeamID:             decodeField(d, fieldSubjectID, rec.ID),
		Aggregate:          d.aggregate(),
		Leaderboard:        d.leaderboard(fieldLeaderboard),
		ActiveSubjectCount: max(decodeField(d, fieldActiveSubjectCount, 0), 0),
		ComputedAt:         d.computedAt(),
		Version:            rec.Version,
	}
}

func encodeTeam(view *models.TeamStats) (recordstore.Fields, error) {
	e := newFieldEncoder()
	e.set(fieldSubjectID, view.TeamID)
	e.aggregate(view.Aggregate)
	e.set(fieldLeaderboard, view.Leaderboard)
	e.set(fieldActiveSubjectCount, view.ActiveSubjectCount)
	return e.result()
}

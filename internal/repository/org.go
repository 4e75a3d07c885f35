package repository

import (
	"context"

	"github.com/benvon/learning-stats/internal/models"
	"github.com/benvon/learning-stats/internal/recordstore"
	"go.uber.org/zap"
)

// OrgRepository stores the organization-wide singleton under models.OrgSubjectID
type OrgRepository struct {
	*levelStore
}

// NewOrgRepository creates a new org stats repository
func NewOrgRepository(store recordstore.Store, logger *zap.Logger, opts ...Option) *OrgRepository {
	return &OrgRepository{levelStore: newLevelStore(store, CollectionOrg, models.LevelOrg, logger, opts)}
}

// GetOrCreate returns the org stats, creating the singleton on first use
func (r *OrgRepository) GetOrCreate(ctx context.Context) (*models.OrgStats, error) {
	rec, err := r.getOrCreateRecord(ctx, models.OrgSubjectID, "", r.initialFields())
	if rec == nil {
		return nil, err
	}
	return r.parse(rec), err
}

// GetParsed returns the org stats, or nil if the singleton does not exist yet
func (r *OrgRepository) GetParsed(ctx context.Context) (*models.OrgStats, error) {
	rec, err := r.find(ctx, models.OrgSubjectID, "")
	if err != nil || rec == nil {
		return nil, err
	}
	return r.parse(rec), nil
}

// Mutate applies fn under the compare-and-set loop, see EmployeeRepository.Mutate
func (r *OrgRepository) Mutate(ctx context.Context, fn func(*models.OrgStats) error) (*models.OrgStats, error) {
	var view *models.OrgStats
	saved, err := r.mutate(ctx, models.OrgSubjectID, "", r.initialFields(), func(rec *recordstore.Record) (recordstore.Fields, error) {
		view = r.parse(rec)
		if err := fn(view); err != nil {
			return nil, err
		}
		return encodeOrg(view)
	})
	if saved == nil {
		return nil, err
	}
	view.Version = saved.Version
	view.ComputedAt = saved.UpdatedAt
	return view, err
}

func (r *OrgRepository) initialFields() recordstore.Fields {
	view := &models.OrgStats{
		Aggregate:          models.NewAggregate(),
		TeamLeaderboard:    []models.LeaderboardEntry{},
		LearnerLeaderboard: []models.LeaderboardEntry{},
	}
	fields, _ := encodeOrg(view)
	return fields
}

func (r *OrgRepository) parse(rec *recordstore.Record) *models.OrgStats {
	d := &fieldDecoder{rec: rec, logger: r.logger}
	return &models.OrgStats{
		RecordID:           rec.ID,
		Aggregate:          d.aggregate(),
		TeamLeaderboard:    d.leaderboard(fieldTeamLeaderboard),
		LearnerLeaderboard: d.leaderboard(fieldLearnerLeaderboard),
		ActiveTeamCount:    max(decodeField(d, fieldActiveTeamCount, 0), 0),
		ActiveLearnerCount: max(decodeField(d, fieldActiveLearnerCount, 0), 0),
		ComputedAt:         d.computedAt(),
		Version:            rec.Version,
	}
}

func encodeOrg(view *models.OrgStats) (recordstore.Fields, error) {
	e := newFieldEncoder()
	e.aggregate(view.Aggregate)
	e.set(fieldTeamLeaderboard, view.TeamLeaderboard)
	e.set(fieldLearnerLeaderboard, view.LearnerLeaderboard)
	e.set(fieldActiveTeamCount, view.ActiveTeamCount)
	e.set(fieldActiveLearnerCount, view.ActiveLearnerCount)
	return e.result()
}

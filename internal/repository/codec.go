package repository

import (
	"fmt"
	"time"

	"github.com/benvon/learning-stats/internal/models"
	"github.com/benvon/learning-stats/internal/recordstore"
	"go.uber.org/zap"
)

// Stored field names
const (
	fieldSubjectID          = "subject_id"
	fieldTotalCount         = "total_count"
	fieldTotalMinutes       = "total_minutes"
	fieldByCategory         = "by_category"
	fieldHoursByCategory    = "hours_by_category"
	fieldActivityWindow     = "activity_window"
	fieldCurrentStreak      = "current_streak"
	fieldLongestStreak      = "longest_streak"
	fieldLastActiveDate     = "last_active_date"
	fieldComputedAt         = "computed_at"
	fieldLeaderboard        = "leaderboard"
	fieldActiveSubjectCount = "active_subject_count"
	fieldTeamLeaderboard    = "team_leaderboard"
	fieldLearnerLeaderboard = "learner_leaderboard"
	fieldActiveTeamCount    = "active_team_count"
	fieldActiveLearnerCount = "active_learner_count"
)

// fieldDecoder decodes stored fields, substituting defaults for malformed values
type fieldDecoder struct {
	rec    *recordstore.Record
	logger *zap.Logger
}

func decodeField[T any](d *fieldDecoder, key string, def T) T {
	var v T
	found, err := d.rec.Fields.Decode(key, &v)
	if err != nil {
		d.logger.Warn("malformed_stored_data",
			zap.String("record_id", d.rec.ID),
			zap.String("field", key),
			zap.Error(fmt.Errorf("%w: %w", ErrMalformedStoredData, err)),
		)
		return def
	}
	if !found {
		return def
	}
	return v
}

func (d *fieldDecoder) aggregate() models.Aggregate {
	agg := models.NewAggregate()
	agg.TotalCount = max(decodeField(d, fieldTotalCount, 0), 0)
	agg.TotalMinutes = max(decodeField(d, fieldTotalMinutes, 0), 0)
	if m := decodeField[map[models.Category]int](d, fieldByCategory, nil); m != nil {
		agg.ByCategory = m
	}
	if m := decodeField[map[models.Category]float64](d, fieldHoursByCategory, nil); m != nil {
		agg.HoursByCategory = m
	}
	if w := decodeField[[]models.ActivityDay](d, fieldActivityWindow, nil); w != nil {
		agg.ActivityWindow = w
	}
	return agg
}

func (d *fieldDecoder) leaderboard(key string) []models.LeaderboardEntry {
	if list := decodeField[[]models.LeaderboardEntry](d, key, nil); list != nil {
		return list
	}
	return []models.LeaderboardEntry{}
}

func (d *fieldDecoder) computedAt() time.Time {
	return decodeField(d, fieldComputedAt, time.Time{})
}

// fieldEncoder accumulates fields and the first encoding error
type fieldEncoder struct {
	fields recordstore.Fields
	err    error
}

func newFieldEncoder() *fieldEncoder {
	return &fieldEncoder{fields: recordstore.Fields{}}
}

func (e *fieldEncoder) set(key string, value any) {
	if e.err != nil {
		return
	}
	e.err = e.fields.Set(key, value)
}

func (e *fieldEncoder) aggregate(agg models.Aggregate) {
	e.set(fieldTotalCount, agg.TotalCount)
	e.set(fieldTotalMinutes, agg.TotalMinutes)
	e.set(fieldByCategory, agg.ByCategory)
	e.set(fieldHoursByCategory, agg.HoursByCategory)
	e.set(fieldActivityWindow, agg.ActivityWindow)
}

func (e *fieldEncoder) result() (recordstore.Fields, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.fields, nil
}

package stats

import (
	"time"

	"github.com/benvon/learning-stats/internal/models"
)

// Contribution is what a single learning record adds to (or removes from) an aggregate
type Contribution struct {
	Category models.Category
	Minutes  int
	Date     string
}

// ContributionOf extracts the contribution of a learning record, normalizing its date
func ContributionOf(record *models.LearningRecord) (Contribution, error) {
	day, err := record.Day()
	if err != nil {
		return Contribution{}, err
	}
	return Contribution{
		Category: record.Category,
		Minutes:  max(record.Minutes, 0),
		Date:     day,
	}, nil
}

// ApplyAggregateDelta applies c to every counter shared by the three stats levels
func ApplyAggregateDelta(agg models.Aggregate, c Contribution, action models.Action, now time.Time) models.Aggregate {
	agg.TotalCount = ApplyCounterDelta(agg.TotalCount, action)
	agg.TotalMinutes = ApplyAmountDelta(agg.TotalMinutes, c.Minutes, action)
	agg.ByCategory = ApplyCategoryDelta(agg.ByCategory, c.Category, 1, action)
	agg.HoursByCategory = ApplyCategoryHoursDelta(agg.HoursByCategory, c.Category, c.Minutes, action)
	agg.ActivityWindow = ApplyActivityWindowDelta(agg.ActivityWindow, c.Date, c.Minutes, action, now)
	return agg
}

package stats

import (
	"sort"
	"time"

	"github.com/benvon/learning-stats/internal/models"
)

// WindowDays is the length of the rolling activity window in calendar days
const WindowDays = 90

// ApplyActivityWindowDelta applies a learning contribution to the entry for date.
// An existing entry is adjusted and dropped once its count reaches zero; a missing
// entry is appended only on add. The result is always re-trimmed to the trailing
// WindowDays relative to now and sorted most recent first, so every write goes
// through the same trimming gate.
func ApplyActivityWindowDelta(window []models.ActivityDay, date string, minutes int, action models.Action, now time.Time) []models.ActivityDay {
	day, err := models.NormalizeDate(date)
	if err != nil {
		return TrimActivityWindow(window, now)
	}

	out := make([]models.ActivityDay, 0, len(window)+1)
	found := false
	for _, entry := range window {
		if entryDay, err := models.NormalizeDate(entry.Date); err == nil && entryDay == day && !found {
			found = true
			entry.Date = entryDay
			entry.Count = ApplyCounterDelta(entry.Count, action)
			entry.Minutes = ApplyAmountDelta(entry.Minutes, minutes, action)
			if entry.Count == 0 {
				continue
			}
		}
		out = append(out, entry)
	}

	if !found && action == models.ActionAdd {
		out = append(out, models.ActivityDay{Date: day, Count: 1, Minutes: max(minutes, 0)})
	}

	return TrimActivityWindow(out, now)
}

// TrimActivityWindow drops zero-count, unparseable and out-of-window entries and
// returns the remainder sorted most recent first
func TrimActivityWindow(window []models.ActivityDay, now time.Time) []models.ActivityDay {
	cutoff := startOfDay(now).AddDate(0, 0, -WindowDays)

	out := make([]models.ActivityDay, 0, len(window))
	for _, entry := range window {
		if entry.Count <= 0 {
			continue
		}
		t, err := time.Parse(models.DateLayout, entry.Date)
		if err != nil || t.Before(cutoff) {
			continue
		}
		out = append(out, entry)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date > out[j].Date
	})
	return out
}

// LastActiveDate returns the most recent date with a positive count, or ""
func LastActiveDate(window []models.ActivityDay) string {
	latest := ""
	for _, entry := range window {
		if entry.Count > 0 && entry.Date > latest {
			latest = entry.Date
		}
	}
	return latest
}

// startOfDay returns midnight UTC of now's calendar date
func startOfDay(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

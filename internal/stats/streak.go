package stats

import (
	"sort"
	"time"

	"github.com/benvon/learning-stats/internal/models"
)

// Streak is the result of a streak computation over an activity window
type Streak struct {
	Current int `json:"current"`
	Longest int `json:"longest"`
}

// CalculateStreak computes consecutive-day runs over the active dates in window.
// The streak is current only while the latest active date is today or yesterday
// relative to now. Longest covers only what the window still holds; callers must
// fold it into the stored high-water mark with MergeLongest.
func CalculateStreak(window []models.ActivityDay, now time.Time) Streak {
	days := make([]time.Time, 0, len(window))
	seen := make(map[string]struct{}, len(window))
	for _, entry := range window {
		if entry.Count <= 0 {
			continue
		}
		if _, dup := seen[entry.Date]; dup {
			continue
		}
		t, err := time.Parse(models.DateLayout, entry.Date)
		if err != nil {
			continue
		}
		seen[entry.Date] = struct{}{}
		days = append(days, t)
	}
	if len(days) == 0 {
		return Streak{}
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	longest, run := 1, 1
	for i := 1; i < len(days); i++ {
		if daysBetween(days[i-1], days[i]) == 1 {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}

	yesterday := startOfDay(now).AddDate(0, 0, -1)
	latest := days[len(days)-1]
	current := 0
	// Dates ahead of now (client clock skew) still count as active
	if !latest.Before(yesterday) {
		current = run
	}

	return Streak{Current: current, Longest: longest}
}

// MergeLongest returns the durable longest streak: never lower than what was stored
func MergeLongest(stored, computed int) int {
	if computed > stored {
		return computed
	}
	return stored
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Round(time.Hour).Hours() / 24)
}

package stats

import (
	"sort"

	"github.com/benvon/learning-stats/internal/models"
)

// LeaderboardSize is the maximum number of entries kept on a leaderboard
const LeaderboardSize = 20

// ApplyLeaderboardDelta adjusts the entry for subjectID by one record of minutes.
// Entries reaching a zero count are dropped, a missing entry is appended only on
// add, and the list is stable-sorted by count descending and truncated to
// LeaderboardSize. The input slice is not modified.
func ApplyLeaderboardDelta(list []models.LeaderboardEntry, subjectID, displayName string, minutes int, action models.Action) []models.LeaderboardEntry {
	out := make([]models.LeaderboardEntry, 0, len(list)+1)
	found := false
	hours := hoursDecimal(minutes)

	for _, entry := range list {
		if entry.SubjectID == subjectID && !found {
			found = true
			entry.Count = ApplyCounterDelta(entry.Count, action)
			entry.Hours = applyHours(entry.Hours, hours, action)
			if displayName != "" {
				entry.Name = displayName
			}
			if entry.Count == 0 {
				continue
			}
		}
		out = append(out, entry)
	}

	if !found && action == models.ActionAdd {
		name := displayName
		if name == "" {
			name = subjectID
		}
		out = append(out, models.LeaderboardEntry{
			SubjectID: subjectID,
			Name:      name,
			Count:     1,
			Hours:     hours.InexactFloat64(),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	if len(out) > LeaderboardSize {
		out = out[:LeaderboardSize]
	}
	return out
}

// ActiveCount returns the number of leaderboard entries with a positive count
func ActiveCount(list []models.LeaderboardEntry) int {
	n := 0
	for _, entry := range list {
		if entry.Count > 0 {
			n++
		}
	}
	return n
}

package stats

import (
	"testing"

	"github.com/benvon/learning-stats/internal/models"
)

func TestCalculateStreak(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		window []models.ActivityDay
		now    string
		want   Streak
	}{
		{
			name:   "empty window",
			window: nil,
			now:    "2024-01-09",
			want:   Streak{},
		},
		{
			name:   "single day today",
			window: []models.ActivityDay{{Date: "2024-01-09", Count: 1}},
			now:    "2024-01-09",
			want:   Streak{Current: 1, Longest: 1},
		},
		{
			name: "run ending yesterday is still current",
			window: []models.ActivityDay{
				{Date: "2024-01-08", Count: 1},
				{Date: "2024-01-07", Count: 2},
			},
			now:  "2024-01-09",
			want: Streak{Current: 2, Longest: 2},
		},
		{
			name: "run ending two days ago resets current",
			window: []models.ActivityDay{
				{Date: "2024-01-07", Count: 1},
				{Date: "2024-01-06", Count: 1},
			},
			now:  "2024-01-09",
			want: Streak{Current: 0, Longest: 2},
		},
		{
			name: "gap breaks the run",
			window: []models.ActivityDay{
				{Date: "2024-01-09", Count: 1},
				{Date: "2024-01-03", Count: 1},
				{Date: "2024-01-02", Count: 1},
				{Date: "2024-01-01", Count: 1},
			},
			now:  "2024-01-09",
			want: Streak{Current: 1, Longest: 3},
		},
		{
			name: "zero count days are ignored",
			window: []models.ActivityDay{
				{Date: "2024-01-09", Count: 1},
				{Date: "2024-01-08", Count: 0},
				{Date: "2024-01-07", Count: 1},
			},
			now:  "2024-01-09",
			want: Streak{Current: 1, Longest: 1},
		},
		{
			name: "unsorted input",
			window: []models.ActivityDay{
				{Date: "2024-01-07", Count: 1},
				{Date: "2024-01-09", Count: 1},
				{Date: "2024-01-08", Count: 1},
			},
			now:  "2024-01-09",
			want: Streak{Current: 3, Longest: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := CalculateStreak(tt.window, day(tt.now))
			if got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestLongestStreak_SurvivesWindowRollOff(t *testing.T) {
	t.Parallel()

	now := day("2024-01-05")
	var window []models.ActivityDay
	for _, d := range []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"} {
		window = ApplyActivityWindowDelta(window, d, 30, models.ActionAdd, now)
	}

	first := CalculateStreak(window, now)
	stored := MergeLongest(0, first.Longest)
	if stored != 5 {
		t.Fatalf("Expected longest streak 5, got %d", stored)
	}

	// 91 days later a single new entry rolls the old run out of the window
	later := now.AddDate(0, 0, 91)
	window = ApplyActivityWindowDelta(window, later.Format(models.DateLayout), 30, models.ActionAdd, later)
	second := CalculateStreak(window, later)
	if second.Longest != 1 {
		t.Fatalf("Expected recomputed window streak 1, got %d", second.Longest)
	}

	merged := MergeLongest(stored, second.Longest)
	if merged < stored {
		t.Errorf("Longest streak decreased from %d to %d", stored, merged)
	}
	if second.Current != 1 {
		t.Errorf("Expected current streak 1, got %d", second.Current)
	}
}

func TestMergeLongest(t *testing.T) {
	t.Parallel()

	if MergeLongest(7, 3) != 7 {
		t.Error("Expected stored value to win when larger")
	}
	if MergeLongest(3, 7) != 7 {
		t.Error("Expected computed value to win when larger")
	}
}

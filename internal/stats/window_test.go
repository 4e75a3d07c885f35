package stats

import (
	"testing"
	"time"

	"github.com/benvon/learning-stats/internal/models"
)

func day(s string) time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t.Add(12 * time.Hour)
}

func TestApplyActivityWindowDelta(t *testing.T) {
	t.Parallel()

	now := day("2024-03-10")

	tests := []struct {
		name    string
		window  []models.ActivityDay
		date    string
		minutes int
		action  models.Action
		want    []models.ActivityDay
	}{
		{
			name:    "add to empty window",
			window:  nil,
			date:    "2024-03-10",
			minutes: 60,
			action:  models.ActionAdd,
			want:    []models.ActivityDay{{Date: "2024-03-10", Count: 1, Minutes: 60}},
		},
		{
			name:    "add to existing day",
			window:  []models.ActivityDay{{Date: "2024-03-10", Count: 1, Minutes: 60}},
			date:    "2024-03-10",
			minutes: 30,
			action:  models.ActionAdd,
			want:    []models.ActivityDay{{Date: "2024-03-10", Count: 2, Minutes: 90}},
		},
		{
			name:    "timestamp is truncated to its date",
			window:  []models.ActivityDay{{Date: "2024-03-10", Count: 1, Minutes: 60}},
			date:    "2024-03-10T18:30:00Z",
			minutes: 15,
			action:  models.ActionAdd,
			want:    []models.ActivityDay{{Date: "2024-03-10", Count: 2, Minutes: 75}},
		},
		{
			name: "remove to zero drops the entry",
			window: []models.ActivityDay{
				{Date: "2024-03-10", Count: 1, Minutes: 60},
				{Date: "2024-03-09", Count: 2, Minutes: 20},
			},
			date:    "2024-03-10",
			minutes: 60,
			action:  models.ActionRemove,
			want:    []models.ActivityDay{{Date: "2024-03-09", Count: 2, Minutes: 20}},
		},
		{
			name:    "remove on missing date is a no-op",
			window:  []models.ActivityDay{{Date: "2024-03-09", Count: 2, Minutes: 20}},
			date:    "2024-03-08",
			minutes: 10,
			action:  models.ActionRemove,
			want:    []models.ActivityDay{{Date: "2024-03-09", Count: 2, Minutes: 20}},
		},
		{
			name: "result is sorted most recent first",
			window: []models.ActivityDay{
				{Date: "2024-03-01", Count: 1, Minutes: 5},
				{Date: "2024-03-05", Count: 1, Minutes: 5},
			},
			date:    "2024-03-03",
			minutes: 5,
			action:  models.ActionAdd,
			want: []models.ActivityDay{
				{Date: "2024-03-05", Count: 1, Minutes: 5},
				{Date: "2024-03-03", Count: 1, Minutes: 5},
				{Date: "2024-03-01", Count: 1, Minutes: 5},
			},
		},
		{
			name: "entries older than the window are trimmed on every write",
			window: []models.ActivityDay{
				{Date: "2023-11-01", Count: 4, Minutes: 100},
				{Date: "2024-03-09", Count: 1, Minutes: 5},
			},
			date:    "2024-03-10",
			minutes: 5,
			action:  models.ActionAdd,
			want: []models.ActivityDay{
				{Date: "2024-03-10", Count: 1, Minutes: 5},
				{Date: "2024-03-09", Count: 1, Minutes: 5},
			},
		},
		{
			name:    "adding a date already outside the window stores nothing",
			window:  nil,
			date:    "2023-01-01",
			minutes: 5,
			action:  models.ActionAdd,
			want:    []models.ActivityDay{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ApplyActivityWindowDelta(tt.window, tt.date, tt.minutes, tt.action, now)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d entries, got %d: %+v", len(tt.want), len(got), got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("Entry %d: expected %+v, got %+v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestTrimActivityWindow_Boundary(t *testing.T) {
	t.Parallel()

	now := day("2024-04-30")
	window := []models.ActivityDay{
		{Date: "2024-01-31", Count: 1, Minutes: 1}, // exactly 90 days before
		{Date: "2024-01-30", Count: 1, Minutes: 1}, // 91 days before
		{Date: "2024-04-01", Count: 0, Minutes: 0}, // zero count
		{Date: "garbage", Count: 3, Minutes: 3},
	}

	got := TrimActivityWindow(window, now)
	if len(got) != 1 || got[0].Date != "2024-01-31" {
		t.Errorf("Expected only the 90-day boundary entry to survive, got %+v", got)
	}
}

func TestLastActiveDate(t *testing.T) {
	t.Parallel()

	window := []models.ActivityDay{
		{Date: "2024-03-01", Count: 1},
		{Date: "2024-03-07", Count: 2},
		{Date: "2024-03-04", Count: 1},
	}
	if got := LastActiveDate(window); got != "2024-03-07" {
		t.Errorf("Expected 2024-03-07, got %q", got)
	}
	if got := LastActiveDate(nil); got != "" {
		t.Errorf("Expected empty last active date, got %q", got)
	}
}

package models

import "time"

// Level identifies which aggregation level a stats record belongs to
type Level string

const (
	LevelEmployee Level = "employee"
	LevelTeam     Level = "team"
	LevelOrg      Level = "org"
)

// OrgSubjectID is the well-known identifier of the organization-wide stats record
const OrgSubjectID = "global"

// ActivityDay is one entry of the rolling activity window
type ActivityDay struct {
	Date    string `json:"date"`
	Count   int    `json:"count"`
	Minutes int    `json:"minutes"`
}

// LeaderboardEntry is one ranked subject on a team or org leaderboard
type LeaderboardEntry struct {
	SubjectID string  `json:"subject_id"`
	Name      string  `json:"name"`
	Count     int     `json:"count"`
	Hours     float64 `json:"hours"`
}

// Aggregate holds the counters shared by every stats level
type Aggregate struct {
	TotalCount      int                  `json:"total_count"`
	TotalMinutes    int                  `json:"total_minutes"`
	ByCategory      map[Category]int     `json:"by_category"`
	HoursByCategory map[Category]float64 `json:"hours_by_category"`
	ActivityWindow  []ActivityDay        `json:"activity_window"`
}

// NewAggregate returns a zero-valued aggregate with empty, non-nil collections
func NewAggregate() Aggregate {
	return Aggregate{
		ByCategory:      make(map[Category]int),
		HoursByCategory: make(map[Category]float64),
		ActivityWindow:  []ActivityDay{},
	}
}

// EmployeeStats is the parsed stats view for a single employee
type EmployeeStats struct {
	RecordID   string `json:"record_id"`
	EmployeeID string `json:"employee_id"`
	Aggregate
	CurrentStreak  int       `json:"current_streak"`
	LongestStreak  int       `json:"longest_streak"`
	LastActiveDate string    `json:"last_active_date"`
	ComputedAt     time.Time `json:"computed_at"`
	Version        int64     `json:"version"`
}

// TeamStats is the parsed stats view for a team
type TeamStats struct {
	RecordID string `json:"record_id"`
	TeamID   string `json:"team_id"`
	Aggregate
	Leaderboard        []LeaderboardEntry `json:"leaderboard"`
	ActiveSubjectCount int                `json:"active_subject_count"`
	ComputedAt         time.Time          `json:"computed_at"`
	Version            int64              `json:"version"`
}

// OrgStats is the parsed stats view for the organization singleton
type OrgStats struct {
	RecordID string `json:"record_id"`
	Aggregate
	TeamLeaderboard    []LeaderboardEntry `json:"team_leaderboard"`
	LearnerLeaderboard []LeaderboardEntry `json:"learner_leaderboard"`
	ActiveTeamCount    int                `json:"active_team_count"`
	ActiveLearnerCount int                `json:"active_learner_count"`
	ComputedAt         time.Time          `json:"computed_at"`
	Version            int64              `json:"version"`
}

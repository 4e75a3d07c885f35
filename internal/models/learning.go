package models

import (
	"fmt"
	"strings"
	"time"
)

// Category is the kind of learning activity
type Category string

const (
	CategoryCourse  Category = "course"
	CategoryArticle Category = "article"
	CategoryVideo   Category = "video"
	CategoryProject Category = "project"
	CategoryOther   Category = "other"
)

// Categories lists every valid category
var Categories = []Category{CategoryCourse, CategoryArticle, CategoryVideo, CategoryProject, CategoryOther}

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Action is the sign of a delta applied to an aggregate
type Action string

const (
	// ActionAdd applies a learning record's contribution
	ActionAdd Action = "add"
	// ActionRemove withdraws a previously applied contribution
	ActionRemove Action = "remove"
)

// DateLayout is the calendar date format used for learning dates and activity windows
const DateLayout = "2006-01-02"

// LearningRecord is a single unit of learning activity owned by the surrounding application.
// It is consumed read-only by the aggregation engine.
type LearningRecord struct {
	ID         string   `json:"id" validate:"required"`
	EmployeeID string   `json:"employee_id" validate:"required"`
	TeamID     string   `json:"team_id,omitempty"`
	Category   Category `json:"category" validate:"required,learning_category"`
	Minutes    int      `json:"minutes" validate:"min=0"`
	Date       string   `json:"date" validate:"required,learning_date"`
}

// HasTeam reports whether the record belongs to a team
func (r *LearningRecord) HasTeam() bool {
	return strings.TrimSpace(r.TeamID) != ""
}

// Day returns the record's date truncated to day granularity
func (r *LearningRecord) Day() (string, error) {
	return NormalizeDate(r.Date)
}

// NormalizeDate truncates an ISO date or RFC 3339 timestamp to its YYYY-MM-DD date component
func NormalizeDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("date is required")
	}
	if t, err := time.Parse(DateLayout, value); err == nil {
		return t.Format(DateLayout), nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.Format(DateLayout), nil
	}
	// Lenient fallback for timestamps without a zone
	if len(value) >= len(DateLayout) {
		if t, err := time.Parse(DateLayout, value[:len(DateLayout)]); err == nil {
			return t.Format(DateLayout), nil
		}
	}
	return "", fmt.Errorf("invalid date: %s", value)
}

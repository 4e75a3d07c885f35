package queue

import (
	"time"

	"github.com/benvon/learning-stats/internal/models"
	"github.com/google/uuid"
)

// JobType identifies what the stats worker does with a job
type JobType string

const (
	// JobTypeLearningDelta applies a learning delta to every stats level
	JobTypeLearningDelta JobType = "learning_delta"
	// JobTypeCascadeLevels applies a learning delta to the levels listed on the job
	JobTypeCascadeLevels JobType = "cascade_levels"
)

const defaultMaxRetries = 3

// Job is one learning delta queued for the stats worker
type Job struct {
	ID           uuid.UUID             `json:"id"`
	Type         JobType               `json:"type"`
	Record       models.LearningRecord `json:"record"`
	Action       models.Action         `json:"action"`
	EmployeeName string                `json:"employee_name,omitempty"`
	TeamName     string                `json:"team_name,omitempty"`
	Levels       []models.Level        `json:"levels,omitempty"`
	Source       string                `json:"source,omitempty"`
	NotBefore    *time.Time            `json:"not_before,omitempty"`
	NotAfter     *time.Time            `json:"not_after,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	RetryCount   int                   `json:"retry_count"`
	MaxRetries   int                   `json:"max_retries"`
}

// NewJob creates a job that applies action for record
func NewJob(jobType JobType, record models.LearningRecord, action models.Action) *Job {
	return &Job{
		ID:         uuid.New(),
		Type:       jobType,
		Record:     record,
		Action:     action,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: defaultMaxRetries,
	}
}

// IsExpired reports whether the job's NotAfter deadline passed before now
func (j *Job) IsExpired(now time.Time) bool {
	return j.NotAfter != nil && now.After(*j.NotAfter)
}

// CanRetry reports whether another delayed attempt is allowed
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// Delayed returns a copy of the job scheduled no earlier than notBefore with
// the retry counter advanced
func (j *Job) Delayed(notBefore time.Time) *Job {
	delayed := *j
	delayed.NotBefore = &notBefore
	delayed.RetryCount = j.RetryCount + 1
	delayed.Levels = append([]models.Level(nil), j.Levels...)
	return &delayed
}

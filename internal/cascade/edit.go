package cascade

import (
	"context"
	"fmt"

	"github.com/benvon/learning-stats/internal/models"
	"github.com/benvon/learning-stats/internal/stats"
	"go.uber.org/zap"
)

// EditResult holds the two cascades issued for an edit
type EditResult struct {
	Removed *Result
	Added   *Result
}

// ApplyEdit replaces the contribution of previous with that of current by
// issuing a remove followed by an add. The caller must supply the values the
// record had before the edit; without them the stats drift silently, so a
// nil previous is rejected. Edits that change nothing the stats depend on
// are skipped.
func (c *Coordinator) ApplyEdit(ctx context.Context, previous, current *models.LearningRecord, employeeName, teamName string) (*EditResult, error) {
	if previous == nil {
		return nil, ErrMissingPrevious
	}
	if current == nil {
		return nil, fmt.Errorf("%w: missing record", ErrInvalidDelta)
	}

	if unchanged(previous, current) {
		c.logger.Debug("cascade_edit_skipped",
			zap.String("learning_record_id", current.ID),
		)
		return &EditResult{}, nil
	}

	removed, err := c.ApplyLearningDelta(ctx, previous, models.ActionRemove, employeeName, teamName)
	if err != nil {
		return nil, fmt.Errorf("failed to remove previous contribution: %w", err)
	}
	added, err := c.ApplyLearningDelta(ctx, current, models.ActionAdd, employeeName, teamName)
	if err != nil {
		return &EditResult{Removed: removed}, fmt.Errorf("failed to add edited contribution: %w", err)
	}
	return &EditResult{Removed: removed, Added: added}, nil
}

func unchanged(previous, current *models.LearningRecord) bool {
	if previous.EmployeeID != current.EmployeeID || previous.TeamID != current.TeamID {
		return false
	}
	before, err := stats.ContributionOf(previous)
	if err != nil {
		return false
	}
	after, err := stats.ContributionOf(current)
	if err != nil {
		return false
	}
	return before == after
}

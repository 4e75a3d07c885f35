package cascade

import (
	"context"
	"fmt"

	"github.com/benvon/learning-stats/internal/models"
	"go.uber.org/zap"
)

var backgroundLevels = []models.Level{models.LevelTeam, models.LevelOrg}

// ApplyEmployeeFirst updates the employee level synchronously and hands the
// team and org levels to the background. Background failures are logged,
// never returned.
func (c *Coordinator) ApplyEmployeeFirst(ctx context.Context, record *models.LearningRecord, action models.Action, employeeName, teamName string) (*models.EmployeeStats, error) {
	if record == nil {
		return nil, fmt.Errorf("%w: missing record", ErrInvalidDelta)
	}
	req := Request{Record: *record, Action: action, EmployeeName: employeeName, TeamName: teamName}

	result, err := c.ApplyLevels(ctx, req, models.LevelEmployee)
	if err != nil {
		return nil, err
	}

	c.dispatchBackground(ctx, req)

	if levelErr := result.Errors[models.LevelEmployee]; levelErr != nil {
		return nil, levelErr
	}
	return result.Employee, nil
}

func (c *Coordinator) dispatchBackground(ctx context.Context, req Request) {
	if c.dispatcher != nil {
		err := c.dispatcher.Dispatch(context.WithoutCancel(ctx), req, backgroundLevels)
		if err == nil {
			c.metrics.observeBackground("dispatcher")
			return
		}
		c.logger.Warn("cascade_dispatch_failed",
			zap.String("learning_record_id", req.Record.ID),
			zap.Error(err),
		)
	}

	c.metrics.observeBackground("local")
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.backgroundTimeout)
		defer cancel()

		result, err := c.ApplyLevels(bgCtx, req, backgroundLevels...)
		if err == nil {
			err = result.Err()
		}
		if err != nil {
			c.logger.Error("cascade_background_failed",
				zap.String("learning_record_id", req.Record.ID),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until locally backgrounded cascades finish
func (c *Coordinator) Wait() {
	c.background.Wait()
}

// Package cascade fans a single learning-record delta out to the employee,
// team and org stats levels.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benvon/learning-stats/internal/models"
	"github.com/benvon/learning-stats/internal/repository"
	"github.com/benvon/learning-stats/internal/stats"
	"github.com/coder/quartz"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/benvon/learning-stats/internal/cascade")

var (
	// ErrInvalidDelta is returned for requests that cannot be applied at all
	ErrInvalidDelta = errors.New("invalid learning delta")
	// ErrMissingPrevious is returned by ApplyEdit when the prior record values are not supplied
	ErrMissingPrevious = errors.New("edit requires the previous record values")
)

const defaultBackgroundTimeout = 2 * time.Minute

// EmployeeStore is the employee-level repository used by the coordinator
type EmployeeStore interface {
	Mutate(ctx context.Context, employeeID string, fn func(*models.EmployeeStats) error) (*models.EmployeeStats, error)
	GetParsed(ctx context.Context, employeeID string) (*models.EmployeeStats, error)
}

// TeamStore is the team-level repository used by the coordinator
type TeamStore interface {
	Mutate(ctx context.Context, teamID string, fn func(*models.TeamStats) error) (*models.TeamStats, error)
	GetParsed(ctx context.Context, teamID string) (*models.TeamStats, error)
}

// OrgStore is the org-level repository used by the coordinator
type OrgStore interface {
	Mutate(ctx context.Context, fn func(*models.OrgStats) error) (*models.OrgStats, error)
	GetParsed(ctx context.Context) (*models.OrgStats, error)
}

// Request is one learning-record delta together with the display names
// used on leaderboards
type Request struct {
	Record       models.LearningRecord `json:"record"`
	Action       models.Action         `json:"action"`
	EmployeeName string                `json:"employee_name,omitempty"`
	TeamName     string                `json:"team_name,omitempty"`
}

// Result holds the views of the levels that were updated. A level that was
// skipped or failed has a nil view; failures are recorded in Errors.
type Result struct {
	Employee *models.EmployeeStats
	Team     *models.TeamStats
	Org      *models.OrgStats
	Errors   map[models.Level]error
}

// Err joins the per-level failures, or returns nil when every attempted level succeeded
func (r *Result) Err() error {
	if r == nil || len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for _, level := range []models.Level{models.LevelEmployee, models.LevelTeam, models.LevelOrg} {
		if err, ok := r.Errors[level]; ok {
			errs = append(errs, fmt.Errorf("%s: %w", level, err))
		}
	}
	return errors.Join(errs...)
}

// Dispatcher runs the given levels of a request outside the caller's path
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request, levels []models.Level) error
}

// Coordinator applies learning deltas to the three stats levels
type Coordinator struct {
	employees  EmployeeStore
	teams      TeamStore
	orgs       OrgStore
	clock      quartz.Clock
	logger     *zap.Logger
	metrics    *Metrics
	dispatcher Dispatcher

	backgroundTimeout time.Duration
	background        sync.WaitGroup
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithClock sets the clock that defines "today" for windows and streaks
func WithClock(clock quartz.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithDispatcher hands backgrounded levels to d instead of a local goroutine
func WithDispatcher(d Dispatcher) Option {
	return func(c *Coordinator) {
		c.dispatcher = d
	}
}

// WithBackgroundTimeout bounds locally backgrounded cascades
func WithBackgroundTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.backgroundTimeout = d
		}
	}
}

// NewCoordinator creates a new cascade coordinator
func NewCoordinator(employees EmployeeStore, teams TeamStore, orgs OrgStore, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		employees:         employees,
		teams:             teams,
		orgs:              orgs,
		clock:             quartz.NewReal(),
		logger:            logger,
		backgroundTimeout: defaultBackgroundTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ApplyLearningDelta updates the employee, team (when the record has one) and
// org stats concurrently. Level failures do not cancel the other levels and
// are reported in the Result; the returned error is reserved for requests
// that could not be applied at all.
func (c *Coordinator) ApplyLearningDelta(ctx context.Context, record *models.LearningRecord, action models.Action, employeeName, teamName string) (*Result, error) {
	if record == nil {
		return nil, fmt.Errorf("%w: missing record", ErrInvalidDelta)
	}
	req := Request{Record: *record, Action: action, EmployeeName: employeeName, TeamName: teamName}
	return c.ApplyLevels(ctx, req, models.LevelEmployee, models.LevelTeam, models.LevelOrg)
}

// ApplyLevels applies req to the listed levels only. The team level is
// skipped for records without a team.
func (c *Coordinator) ApplyLevels(ctx context.Context, req Request, levels ...models.Level) (*Result, error) {
	contribution, err := validate(req)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "cascade.ApplyLevels",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("learning.record_id", req.Record.ID),
			attribute.String("learning.action", string(req.Action)),
			attribute.Bool("learning.has_team", req.Record.HasTeam()),
		),
	)
	defer span.End()

	result := &Result{Errors: make(map[models.Level]error)}
	var mu sync.Mutex
	fail := func(level models.Level, err error) {
		mu.Lock()
		result.Errors[level] = err
		mu.Unlock()
	}

	var g errgroup.Group
	for _, level := range levels {
		switch level {
		case models.LevelEmployee:
			g.Go(func() error {
				view, err := runLevel(c, level, req, func() (*models.EmployeeStats, error) {
					return c.applyEmployee(ctx, req, contribution)
				})
				if err != nil {
					fail(level, err)
					return nil
				}
				result.Employee = view
				return nil
			})
		case models.LevelTeam:
			if !req.Record.HasTeam() {
				continue
			}
			g.Go(func() error {
				view, err := runLevel(c, level, req, func() (*models.TeamStats, error) {
					return c.applyTeam(ctx, req, contribution)
				})
				if err != nil {
					fail(level, err)
					return nil
				}
				result.Team = view
				return nil
			})
		case models.LevelOrg:
			g.Go(func() error {
				view, err := runLevel(c, level, req, func() (*models.OrgStats, error) {
					return c.applyOrg(ctx, req, contribution)
				})
				if err != nil {
					fail(level, err)
					return nil
				}
				result.Org = view
				return nil
			})
		}
	}
	_ = g.Wait()

	if err := result.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return result, nil
}

// runLevel times and logs one level update. A propagation timeout is soft:
// the locally computed view is kept.
func runLevel[T any](c *Coordinator, level models.Level, req Request, apply func() (*T, error)) (*T, error) {
	start := time.Now()
	view, err := apply()
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
		c.metrics.observeLevel(string(level), string(req.Action), outcomeSuccess, elapsed)
		return view, nil
	case errors.Is(err, repository.ErrPropagationTimeout) && view != nil:
		c.metrics.observeLevel(string(level), string(req.Action), outcomePropagationTimeout, elapsed)
		c.logger.Warn("cascade_propagation_timeout",
			zap.String("level", string(level)),
			zap.String("learning_record_id", req.Record.ID),
			zap.Error(err),
		)
		return view, nil
	default:
		c.metrics.observeLevel(string(level), string(req.Action), outcomeFailure, elapsed)
		c.logger.Error("cascade_level_failed",
			zap.String("level", string(level)),
			zap.String("learning_record_id", req.Record.ID),
			zap.String("action", string(req.Action)),
			zap.Error(err),
		)
		return nil, err
	}
}

func validate(req Request) (stats.Contribution, error) {
	if req.Action != models.ActionAdd && req.Action != models.ActionRemove {
		return stats.Contribution{}, fmt.Errorf("%w: unknown action %q", ErrInvalidDelta, req.Action)
	}
	if req.Record.EmployeeID == "" {
		return stats.Contribution{}, fmt.Errorf("%w: record %s has no employee", ErrInvalidDelta, req.Record.ID)
	}
	contribution, err := stats.ContributionOf(&req.Record)
	if err != nil {
		return stats.Contribution{}, fmt.Errorf("%w: %w", ErrInvalidDelta, err)
	}
	return contribution, nil
}

func (c *Coordinator) applyEmployee(ctx context.Context, req Request, contribution stats.Contribution) (*models.EmployeeStats, error) {
	return c.employees.Mutate(ctx, req.Record.EmployeeID, func(s *models.EmployeeStats) error {
		now := c.clock.Now()
		s.Aggregate = stats.ApplyAggregateDelta(s.Aggregate, contribution, req.Action, now)
		streak := stats.CalculateStreak(s.ActivityWindow, now)
		s.CurrentStreak = streak.Current
		s.LongestStreak = stats.MergeLongest(s.LongestStreak, streak.Longest)
		s.LastActiveDate = stats.LastActiveDate(s.ActivityWindow)
		return nil
	})
}

func (c *Coordinator) applyTeam(ctx context.Context, req Request, contribution stats.Contribution) (*models.TeamStats, error) {
	return c.teams.Mutate(ctx, req.Record.TeamID, func(s *models.TeamStats) error {
		s.Aggregate = stats.ApplyAggregateDelta(s.Aggregate, contribution, req.Action, c.clock.Now())
		s.Leaderboard = stats.ApplyLeaderboardDelta(s.Leaderboard, req.Record.EmployeeID, req.EmployeeName, contribution.Minutes, req.Action)
		s.ActiveSubjectCount = stats.ActiveCount(s.Leaderboard)
		return nil
	})
}

func (c *Coordinator) applyOrg(ctx context.Context, req Request, contribution stats.Contribution) (*models.OrgStats, error) {
	return c.orgs.Mutate(ctx, func(s *models.OrgStats) error {
		s.Aggregate = stats.ApplyAggregateDelta(s.Aggregate, contribution, req.Action, c.clock.Now())
		if req.Record.HasTeam() {
			s.TeamLeaderboard = stats.ApplyLeaderboardDelta(s.TeamLeaderboard, req.Record.TeamID, req.TeamName, contribution.Minutes, req.Action)
		}
		s.LearnerLeaderboard = stats.ApplyLeaderboardDelta(s.LearnerLeaderboard, req.Record.EmployeeID, req.EmployeeName, contribution.Minutes, req.Action)
		s.ActiveTeamCount = stats.ActiveCount(s.TeamLeaderboard)
		s.ActiveLearnerCount = stats.ActiveCount(s.LearnerLeaderboard)
		return nil
	})
}

// GetEmployeeStats returns the employee's stats or nil if none exist yet
func (c *Coordinator) GetEmployeeStats(ctx context.Context, employeeID string) (*models.EmployeeStats, error) {
	return c.employees.GetParsed(ctx, employeeID)
}

// GetTeamStats returns the team's stats or nil if none exist yet
func (c *Coordinator) GetTeamStats(ctx context.Context, teamID string) (*models.TeamStats, error) {
	return c.teams.GetParsed(ctx, teamID)
}

// GetOrgStats returns the org stats or nil if none exist yet
func (c *Coordinator) GetOrgStats(ctx context.Context) (*models.OrgStats, error) {
	return c.orgs.GetParsed(ctx)
}

package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/benvon/learning-stats/internal/models"
	"github.com/spf13/cobra"
)

// StatsReader reads parsed stats views
type StatsReader interface {
	GetEmployeeStats(ctx context.Context, employeeID string) (*models.EmployeeStats, error)
	GetTeamStats(ctx context.Context, teamID string) (*models.TeamStats, error)
	GetOrgStats(ctx context.Context) (*models.OrgStats, error)
}

// NewShowCmd creates the show command
func NewShowCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a stats record",
		Long:  "Print the parsed employee, team or organization stats record",
	}
	cmd.PersistentFlags().StringVarP(&output, "output", "o", formatJSON, "Output format (json or yaml)")

	newLevelCmd := func(level models.Level, use string, args cobra.PositionalArgs) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: fmt.Sprintf("Show %s stats", level),
			Args:  args,
			RunE: func(cmd *cobra.Command, args []string) error {
				env, err := openEnvironment(false)
				if err != nil {
					return err
				}
				defer env.close()

				id := ""
				if len(args) > 0 {
					id = args[0]
				}
				return showStats(cmd.Context(), env.coordinator, level, id, output, cmd.OutOrStdout())
			},
		}
	}

	cmd.AddCommand(newLevelCmd(models.LevelEmployee, "employee <employee-id>", cobra.ExactArgs(1)))
	cmd.AddCommand(newLevelCmd(models.LevelTeam, "team <team-id>", cobra.ExactArgs(1)))
	cmd.AddCommand(newLevelCmd(models.LevelOrg, "org", cobra.NoArgs))

	return cmd
}

func showStats(ctx context.Context, reader StatsReader, level models.Level, id, format string, w io.Writer) error {
	var (
		view  any
		found bool
	)
	switch level {
	case models.LevelEmployee:
		stats, err := reader.GetEmployeeStats(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to read employee stats: %w", err)
		}
		view, found = stats, stats != nil
	case models.LevelTeam:
		stats, err := reader.GetTeamStats(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to read team stats: %w", err)
		}
		view, found = stats, stats != nil
	case models.LevelOrg:
		stats, err := reader.GetOrgStats(ctx)
		if err != nil {
			return fmt.Errorf("failed to read org stats: %w", err)
		}
		view, found = stats, stats != nil
	default:
		return fmt.Errorf("unknown level: %s", level)
	}

	if !found {
		if id == "" {
			return fmt.Errorf("no %s stats found", level)
		}
		return fmt.Errorf("no %s stats found for %s", level, id)
	}
	return render(w, format, view)
}

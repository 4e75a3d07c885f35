package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/benvon/learning-stats/internal/cascade"
	"github.com/benvon/learning-stats/internal/models"
	"github.com/benvon/learning-stats/internal/validation"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// ReplayEntry is one learning record in a replay file, with the display
// names used on leaderboards
type ReplayEntry struct {
	models.LearningRecord
	EmployeeName string `json:"employee_name,omitempty"`
	TeamName     string `json:"team_name,omitempty"`
}

// DeltaApplier applies one learning delta across all stats levels
type DeltaApplier interface {
	ApplyLearningDelta(ctx context.Context, record *models.LearningRecord, action models.Action, employeeName, teamName string) (*cascade.Result, error)
}

// ReplaySummary counts the outcome of a replay
type ReplaySummary struct {
	Applied int `json:"applied"`
	Partial int `json:"partial"`
	Failed  int `json:"failed"`
}

// NewReplayCmd creates the replay command
func NewReplayCmd() *cobra.Command {
	var (
		action string
		debug  bool
	)

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Apply learning records from a file",
		Long:  "Apply every learning record in a JSON or YAML file as an add or remove delta. Use it to rebuild stats after a restore.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if action != string(models.ActionAdd) && action != string(models.ActionRemove) {
				return fmt.Errorf("--action must be %s or %s", models.ActionAdd, models.ActionRemove)
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open replay file: %w", err)
			}
			defer func() {
				_ = f.Close()
			}()

			entries, err := loadReplayEntries(f)
			if err != nil {
				return err
			}

			env, err := openEnvironment(debug)
			if err != nil {
				return err
			}
			defer env.close()

			summary := replay(cmd.Context(), env.coordinator, entries, models.Action(action), cmd.ErrOrStderr())
			if err := render(cmd.OutOrStdout(), formatJSON, summary); err != nil {
				return err
			}
			if summary.Failed > 0 || summary.Partial > 0 {
				return fmt.Errorf("%d of %d records did not fully apply", summary.Failed+summary.Partial, len(entries))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&action, "action", string(models.ActionAdd), "Delta action to apply (add or remove)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}

// loadReplayEntries parses a JSON or YAML list of learning records and
// validates each one
func loadReplayEntries(r io.Reader) ([]ReplayEntry, error) {
	var generic any
	if err := yaml.NewDecoder(r).Decode(&generic); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse replay file: %w", err)
	}

	raw, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to parse replay file: %w", err)
	}
	var entries []ReplayEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("replay file must contain a list of learning records: %w", err)
	}

	for i := range entries {
		if err := validation.Validate.Struct(&entries[i].LearningRecord); err != nil {
			return nil, fmt.Errorf("invalid record at index %d: %w", i, err)
		}
	}
	return entries, nil
}

func replay(ctx context.Context, applier DeltaApplier, entries []ReplayEntry, action models.Action, errOut io.Writer) ReplaySummary {
	var summary ReplaySummary
	for i := range entries {
		entry := &entries[i]
		result, err := applier.ApplyLearningDelta(ctx, &entry.LearningRecord, action, entry.EmployeeName, entry.TeamName)
		switch {
		case err != nil:
			summary.Failed++
			fmt.Fprintf(errOut, "record %s: %v\n", entry.ID, err)
		case result.Err() != nil:
			summary.Partial++
			fmt.Fprintf(errOut, "record %s: %v\n", entry.ID, result.Err())
		default:
			summary.Applied++
		}
	}
	return summary
}

package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sjkd23/console-sub003/internal/domain"
	"github.com/sjkd23/console-sub003/internal/repo"
	"github.com/sjkd23/console-sub003/internal/service/runs"
)

func newRunsCmd(deps *cliDeps, output *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and transition runs",
	}
	cmd.AddCommand(
		newRunsGetCmd(deps, output),
		newRunsListCmd(deps, output),
		newRunsTransitionCmd(deps, output),
	)
	return cmd
}

func parseRunID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q", raw)
	}
	return id, nil
}

func newRunsGetCmd(deps *cliDeps, output *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get GUILD_ID RUN_ID",
		Short: "Show one run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[1])
			if err != nil {
				return err
			}
			store, closeFn, err := deps.openRuns(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			run, err := store.GetRun(cmd.Context(), args[0], runID)
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("run %d not found in guild %s", runID, args[0])
			}
			if err != nil {
				return err
			}
			return writeRun(cmd.OutOrStdout(), *output, deps.view(run))
		},
	}
}

func newRunsListCmd(deps *cliDeps, output *string) *cobra.Command {
	var (
		statuses  []string
		organizer string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "list GUILD_ID",
		Short: "List runs in a guild, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := repo.RunFilter{GuildID: args[0], OrganizerID: organizer, Limit: limit}
			for _, raw := range statuses {
				status, ok := domain.NormalizeRunStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				filter.Statuses = append(filter.Statuses, status)
			}

			store, closeFn, err := deps.openRuns(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			list, err := store.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}
			views := make([]runs.RunView, 0, len(list))
			for _, run := range list {
				views = append(views, deps.view(run))
			}
			return writeRuns(cmd.OutOrStdout(), *output, views)
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only runs in these statuses (open, live, ended, cancelled)")
	cmd.Flags().StringVar(&organizer, "organizer", "", "Only runs organized by this Discord user ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of runs")
	return cmd
}

func newRunsTransitionCmd(deps *cliDeps, output *string) *cobra.Command {
	var (
		actorID string
		label   string
		roles   []string
	)
	cmd := &cobra.Command{
		Use:   "transition GUILD_ID RUN_ID STATUS",
		Short: "Move a run to a new status as a Discord member",
		Long: "Applies a status change through the same lock, authorization and side effects as a button press.\n" +
			"The acting member must be the organizer or hold the guild's organizer role.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[1])
			if err != nil {
				return err
			}
			to, ok := domain.NormalizeRunStatus(args[2])
			if !ok {
				return fmt.Errorf("unknown status %q", args[2])
			}
			if strings.TrimSpace(actorID) == "" {
				return errors.New("--as is required")
			}
			if label == "" {
				label = "raidctl:" + actorID
			}

			svc, closeFn, err := deps.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			view, err := svc.Transition(cmd.Context(), runs.TransitionRequest{
				GuildID:   args[0],
				RunID:     runID,
				To:        to,
				Actor:     runs.Actor{ID: actorID, Label: label, Roles: roles},
				RequestID: "raidctl-" + strconv.FormatInt(time.Now().UnixNano(), 36),
			})
			if err != nil {
				return describeTransitionError(err)
			}
			return writeRun(cmd.OutOrStdout(), *output, view)
		},
	}
	cmd.Flags().StringVar(&actorID, "as", "", "Discord user ID to act as")
	cmd.Flags().StringVar(&label, "label", "", "Display label recorded as the lock holder")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "Guild role IDs the acting member holds")
	return cmd
}

func describeTransitionError(err error) error {
	var inProgress *runs.InProgressError
	if errors.As(err, &inProgress) {
		return fmt.Errorf("another transition is in progress (held by %s); retry shortly", dash(inProgress.HolderLabel))
	}
	var te *runs.TransitionError
	if errors.As(err, &te) {
		if te.Detail.Missing != nil {
			return fmt.Errorf("%s: party missing=%t, location missing=%t", te.Code, te.Detail.Missing.Party, te.Detail.Missing.Location)
		}
		return err
	}
	return err
}

func (d *cliDeps) view(run domain.Run) runs.RunView {
	requires := false
	if d.requiresScreenshot != nil {
		requires = d.requiresScreenshot(run.DungeonKey)
	}
	return runs.ViewOf(run, requires, time.Now())
}

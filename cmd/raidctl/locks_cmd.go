package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sjkd23/console-sub003/internal/domain"
	"github.com/sjkd23/console-sub003/internal/lock"
	"github.com/sjkd23/console-sub003/internal/service/runs"
)

func newLocksCmd(deps *cliDeps, output *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Inspect transition locks",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List held transition locks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			locks, err := deps.openLocks(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = locks.Close() }()

			lister, ok := locks.Manager.(lock.Lister)
			if !ok {
				return errors.New("lock backend cannot list keys")
			}
			entries, err := lister.List(cmd.Context())
			if err != nil {
				return err
			}
			return writeLocks(cmd.OutOrStdout(), *output, entries)
		},
	}

	check := &cobra.Command{
		Use:   "check RUN_ID STATUS",
		Short: "Report whether the transition of a run to STATUS is locked",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			to, ok := domain.NormalizeRunStatus(args[1])
			if !ok {
				return fmt.Errorf("unknown status %q", args[1])
			}
			locks, err := deps.openLocks(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = locks.Close() }()

			key := runs.TransitionLockKey(runID, to)
			held, err := locks.Manager.IsLocked(cmd.Context(), key)
			if err != nil {
				return err
			}
			if *output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"key": key.String(), "locked": held})
			}
			state := "free"
			if held {
				state = "locked"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", key, state)
			return nil
		},
	}

	cmd.AddCommand(list, check)
	return cmd
}

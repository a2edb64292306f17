// Command raidctl is the operator CLI for the raid run backend.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sjkd23/console-sub003/internal/app"
	"github.com/sjkd23/console-sub003/internal/repo"
	"github.com/sjkd23/console-sub003/internal/service/runs"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

type transitioner interface {
	Transition(ctx context.Context, req runs.TransitionRequest) (runs.RunView, error)
}

// cliDeps opens the backends commands operate on. Each opener returns a
// close func the command calls when done.
type cliDeps struct {
	migrate     func(ctx context.Context) ([]string, error)
	openRuns    func(ctx context.Context) (repo.RunRepository, func(), error)
	openLocks   func(ctx context.Context) (app.Locks, error)
	openService func(ctx context.Context) (transitioner, func(), error)

	// requiresScreenshot feeds RunView rendering.
	requiresScreenshot func(dungeonKey string) bool
}

func newRootCmd(deps *cliDeps) *cobra.Command {
	var output string

	root := &cobra.Command{
		Use:           "raidctl",
		Short:         "Operate the raid run backend",
		Long:          "raidctl migrates the schema, inspects runs and locks, and applies manual status transitions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if output != outputTable && output != outputJSON {
				return fmt.Errorf("--output must be %q or %q (got %q)", outputTable, outputJSON, output)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&output, "output", "o", outputTable, "Output format (table, json)")

	root.AddCommand(
		newMigrateCmd(deps),
		newRunsCmd(deps, &output),
		newLocksCmd(deps, &output),
	)
	return root
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(defaultDeps(logger))
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "raidctl:", err)
		stop()
		os.Exit(1)
	}
}

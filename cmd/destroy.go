package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/record"
	"github.com/firefly-engineering/sandboxd/internal/sandbox"
)

var destroyAsync bool

var destroyCmd = &cobra.Command{
	Use:   "destroy <id>",
	Short: "Tear down a sandbox",
	Long: `Tears down a sandbox regardless of its owner.

The record is marked deleting, the container is removed, cached state and
the workspace are cleared and the record is marked deleted. A step that
fails does not stop the others; the command then exits with a partial
teardown error and the reaper retries later.

With --async the command returns once the record is marked deleting.`,
	Args: cobra.ExactArgs(1),
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAsync, "async", false, "Return once the record is marked deleting")
	rootCmd.AddCommand(destroyCmd)
}

func runDestroy(cmd *cobra.Command, args []string) error {
	id := args[0]
	if err := record.ValidateID(id); err != nil {
		return errors.ValidationError(err.Error())
	}

	ctx := cmd.Context()
	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	rec, err := a.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == record.StatusDeleted {
		logInfo("Sandbox %s is already deleted", id)
		return nil
	}

	if destroyAsync {
		begun, err := a.Teardown.Begin(ctx, id)
		if err != nil {
			return err
		}
		// App.Close waits for the background teardown before the process
		// exits.
		a.Teardown.FinishAsync(ctx, begun, sandbox.ReasonForced)
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", id, begun.Status)
		return nil
	}

	report := a.Teardown.Run(ctx, rec, sandbox.ReasonForced)
	for _, step := range report.Failed() {
		logWarning("Step %s failed", step)
	}
	if err := report.Err(); err != nil {
		return err
	}
	logSuccess("Sandbox %s torn down", id)
	return nil
}

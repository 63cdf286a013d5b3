package cmd

import (
	"github.com/spf13/cobra"

	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/record"
)

var stopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Stop a running sandbox",
	Long: `Stops the container of a running sandbox regardless of its owner.

The record and the workspace are kept. The owner's next open starts the
same container again. Stopping a stopped sandbox does nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	id := args[0]
	if err := record.ValidateID(id); err != nil {
		return errors.ValidationError(err.Error())
	}

	ctx := cmd.Context()
	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	rec, err := a.Provisioner.Stop(ctx, id)
	if err != nil {
		return err
	}
	logSuccess("Sandbox %s %s", rec.ID, rec.Status)
	return nil
}

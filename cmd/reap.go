package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/sandboxd/internal/errors"
)

var reapOutput string

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Run one reaper sweep",
	Long: `Runs a single pass of the background reaper:

  - tears down visitor sandboxes past their expiry
  - finishes teardowns that were interrupted while deleting
  - tears down records stuck provisioning whose container is gone

With reaper.reclaim_orphans set, orphaned containers and workspaces are
removed too.`,
	RunE: runReap,
}

func init() {
	reapCmd.Flags().StringVarP(&reapOutput, "output", "o", formatTable, "Output format: table, json or yaml")
	rootCmd.AddCommand(reapCmd)
}

func runReap(cmd *cobra.Command, args []string) error {
	if err := validateFormat(reapOutput); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	res := a.Reaper.Sweep(ctx)

	out := cmd.OutOrStdout()
	if reapOutput != formatTable {
		if err := writeStructured(out, reapOutput, res); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "Expired:   %d\n", res.Expired)
		fmt.Fprintf(out, "Retried:   %d\n", res.Retried)
		fmt.Fprintf(out, "Stale:     %d\n", res.Stale)
		fmt.Fprintf(out, "Orphans:   %d\n", res.Orphans)
		fmt.Fprintf(out, "Failures:  %d\n", res.Failures)
	}

	if res.Failures > 0 {
		return errors.New(errors.ExitTeardownPartial, fmt.Sprintf("%d teardown(s) did not complete", res.Failures))
	}
	return nil
}

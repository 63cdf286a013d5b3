package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/sandbox"
)

var (
	gcForce  bool
	gcOutput string
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage collect orphaned sandbox resources",
	Long: `Reconciles the record store with the container runtime and removes orphaned resources.

Without --force, prints what would be cleaned (dry run).
With --force, actually removes orphaned containers and workspaces and tears
down stale records.

Detects:
  - Orphaned containers: containers with no live record
  - Orphaned workspaces: workspace directories with no live record
  - Stale records: live records whose container no longer exists
  - Unfinished teardowns: records left in the deleting status`,
	RunE: runGC,
}

func init() {
	gcCmd.Flags().BoolVar(&gcForce, "force", false, "Actually remove orphaned resources (default is dry run)")
	gcCmd.Flags().StringVarP(&gcOutput, "output", "o", formatTable, "Output format: table, json or yaml")
	rootCmd.AddCommand(gcCmd)
}

func runGC(cmd *cobra.Command, args []string) error {
	if err := validateFormat(gcOutput); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	g, err := a.Collector.Collect(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if gcOutput != formatTable {
		if err := writeStructured(out, gcOutput, g); err != nil {
			return err
		}
	} else if g.Empty() {
		fmt.Fprintln(out, "No orphaned resources found")
		return nil
	} else {
		printGarbage(out, g, gcForce)
	}

	if !gcForce || g.Empty() {
		if !g.Empty() && gcOutput == formatTable {
			fmt.Fprintln(out, "\nRun with --force to remove these resources.")
		}
		return nil
	}

	if err := a.Collector.Execute(ctx, g); err != nil {
		return errors.Wrap(errors.ExitTeardownPartial, "garbage collection incomplete", err)
	}
	if gcOutput == formatTable {
		logSuccess("Garbage collection complete")
	}
	return nil
}

func printGarbage(w io.Writer, g *sandbox.Garbage, force bool) {
	verb := "Would remove"
	if force {
		verb = "Removing"
	}

	if len(g.OrphanedContainers) > 0 {
		fmt.Fprintf(w, "%s %d orphaned container(s):\n", verb, len(g.OrphanedContainers))
		for _, c := range g.OrphanedContainers {
			fmt.Fprintf(w, "  - %s (%s)\n", c.Name, c.Status)
		}
	}
	if len(g.OrphanedWorkspaces) > 0 {
		fmt.Fprintf(w, "%s %d orphaned workspace(s):\n", verb, len(g.OrphanedWorkspaces))
		for _, id := range g.OrphanedWorkspaces {
			fmt.Fprintf(w, "  - %s\n", id)
		}
	}
	if len(g.StaleRecords) > 0 {
		fmt.Fprintf(w, "%s %d stale record(s):\n", verb, len(g.StaleRecords))
		for _, rec := range g.StaleRecords {
			fmt.Fprintf(w, "  - %s (%s %s, %s)\n", rec.ID, rec.OwnerKind, ownerLabel(rec), rec.Status)
		}
	}
	if len(g.Unfinished) > 0 {
		fmt.Fprintf(w, "%s %d unfinished teardown(s):\n", verb, len(g.Unfinished))
		for _, rec := range g.Unfinished {
			fmt.Fprintf(w, "  - %s\n", rec.ID)
		}
	}
}

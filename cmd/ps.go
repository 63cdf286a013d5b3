package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/sandboxd/internal/record"
)

var (
	psStatus string
	psAll    bool
	psOutput string
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List sandbox records",
	Long: `Lists sandbox records from the record store.

By default deleted records are hidden; use --all to include them or
--status to pick statuses explicitly (comma separated).`,
	RunE: runPs,
}

func init() {
	psCmd.Flags().StringVar(&psStatus, "status", "", "Only show these statuses (e.g. running,stopped)")
	psCmd.Flags().BoolVarP(&psAll, "all", "a", false, "Include deleted records")
	psCmd.Flags().StringVarP(&psOutput, "output", "o", formatTable, "Output format: table, json or yaml")
	rootCmd.AddCommand(psCmd)
}

func runPs(cmd *cobra.Command, args []string) error {
	if err := validateFormat(psOutput); err != nil {
		return err
	}
	statuses, err := parseStatuses(psStatus)
	if err != nil {
		return err
	}
	if len(statuses) == 0 && !psAll {
		statuses = liveStatuses()
	}

	ctx := cmd.Context()
	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	recs, err := a.Store.List(ctx, statuses...)
	if err != nil {
		return fmt.Errorf("failed to list sandboxes: %w", err)
	}

	out := cmd.OutOrStdout()
	if psOutput != formatTable {
		if recs == nil {
			recs = []*record.Record{}
		}
		return writeStructured(out, psOutput, recs)
	}

	if len(recs) == 0 {
		fmt.Fprintln(out, "No sandboxes found.")
		return nil
	}
	return writeRecordTable(out, recs, time.Now().UTC())
}

func liveStatuses() []record.Status {
	var out []record.Status
	for _, s := range record.AllStatuses {
		if s != record.StatusDeleted {
			out = append(out, s)
		}
	}
	return out
}

func writeRecordTable(out io.Writer, recs []*record.Record, now time.Time) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOWNER\tKIND\tSTATUS\tAGE\tEXPIRES")
	fmt.Fprintln(w, "--\t-----\t----\t------\t---\t-------")

	for _, rec := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID, ownerLabel(rec), rec.OwnerKind, formatStatus(rec.Status),
			formatAge(rec.CreatedAt, now), formatExpiry(rec, now))
	}

	return w.Flush()
}

// ownerLabel shortens visitor session ids, which are not meaningful to
// operators.
func ownerLabel(rec *record.Record) string {
	if rec.OwnerKind == record.OwnerVisitor && len(rec.OwnerRef) > 8 {
		return rec.OwnerRef[:8] + "…"
	}
	return rec.OwnerRef
}

func formatStatus(status record.Status) string {
	switch status {
	case record.StatusRunning:
		return "✓ running"
	case record.StatusStopped:
		return "● stopped"
	case record.StatusProvisioning:
		return "○ provisioning"
	case record.StatusDeleting:
		return "⚠ deleting"
	case record.StatusDeleted:
		return "✗ deleted"
	default:
		return string(status)
	}
}

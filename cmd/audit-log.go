package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/sandboxd/internal/app"
	"github.com/firefly-engineering/sandboxd/internal/audit"
	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/record"
)

var auditLogCmd = &cobra.Command{
	Use:   "audit-log [id]",
	Short: "Display the audit trail for a sandbox",
	Long: `Prints the runtime and lifecycle events recorded for a sandbox.

Without an id, lists the sandboxes that have an audit trail. With --prune,
removes the trails of sandboxes whose record is deleted or gone.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuditLog,
}

var (
	auditLogOutput string
	auditLogPrune  bool
)

func init() {
	auditLogCmd.Flags().StringVarP(&auditLogOutput, "output", "o", formatTable, "Output format: table, json (one event per line) or yaml")
	auditLogCmd.Flags().BoolVar(&auditLogPrune, "prune", false, "Remove trails of deleted sandboxes")
	rootCmd.AddCommand(auditLogCmd)
}

func runAuditLog(cmd *cobra.Command, args []string) error {
	if err := validateFormat(auditLogOutput); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := getApp(ctx)
	if err != nil {
		return err
	}
	if a.Audit == nil {
		return errors.ConfigError("audit logging is disabled (audit.dir is empty)", nil)
	}
	out := cmd.OutOrStdout()

	if auditLogPrune {
		return pruneAuditLogs(cmd, a)
	}

	if len(args) == 0 {
		ids, err := a.Audit.Sandboxes()
		if err != nil {
			return fmt.Errorf("failed to list audit logs: %w", err)
		}
		if len(ids) == 0 {
			fmt.Fprintln(out, "No audit logs found.")
			return nil
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	id := args[0]
	events, err := a.Audit.Events(id)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	if len(events) == 0 {
		fmt.Fprintf(out, "No events found for sandbox %s\n", id)
		return nil
	}

	if auditLogOutput == formatYAML {
		return writeStructured(out, formatYAML, events)
	}

	for _, e := range events {
		if auditLogOutput == formatJSON {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to marshal event: %w", err)
			}
			fmt.Fprintln(out, string(data))
			continue
		}

		ts := e.Timestamp.Local().Format("2006-01-02 15:04:05")
		line := fmt.Sprintf("[%s] %-14s %s", ts, e.Type, e.Sandbox)
		if e.Outcome != "" && e.Outcome != audit.OutcomeOK {
			line += " " + e.Outcome
		}
		if e.Duration > 0 {
			line += fmt.Sprintf(" %s", e.Duration.Round(time.Millisecond))
		}
		if e.Details != "" {
			line += fmt.Sprintf(" (%s)", e.Details)
		}
		fmt.Fprintln(out, line)
	}

	return nil
}

func pruneAuditLogs(cmd *cobra.Command, a *app.App) error {
	ctx := cmd.Context()
	ids, err := a.Audit.Sandboxes()
	if err != nil {
		return fmt.Errorf("failed to list audit logs: %w", err)
	}

	pruned := 0
	for _, id := range ids {
		rec, err := a.Store.Get(ctx, id)
		switch {
		case errors.Is(err, errors.ErrNotFound):
		case err != nil:
			return err
		case rec.Status != record.StatusDeleted:
			continue
		}
		if err := a.Audit.Remove(id); err != nil {
			logWarning("Failed to remove audit log for %s: %v", id, err)
			continue
		}
		pruned++
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d audit log(s)\n", pruned)
	return nil
}

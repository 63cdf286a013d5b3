package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/sandboxd/internal/app"
	"github.com/firefly-engineering/sandboxd/internal/logging"
	"github.com/firefly-engineering/sandboxd/internal/record"
	"github.com/firefly-engineering/sandboxd/internal/sandbox"
	"github.com/firefly-engineering/sandboxd/internal/tui"
)

var pickList bool

var pickCmd = &cobra.Command{
	Use:   "pick",
	Short: "Interactive sandbox picker",
	Long: `Opens an interactive TUI over the live sandbox records.

Use arrow keys or j/k to navigate, / to filter.

Actions:
  Enter  - Show the record and its audit trail
  d      - Force a teardown (confirm with y)
  n      - Open a sandbox for a caller
  q/Esc  - Quit`,
	RunE: runPick,
}

func init() {
	pickCmd.Flags().BoolVar(&pickList, "list", false, "Print the records without the interactive picker")
	rootCmd.AddCommand(pickCmd)
}

func runPick(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	recs, err := a.Store.List(ctx, liveStatuses()...)
	if err != nil {
		return fmt.Errorf("failed to list sandboxes: %w", err)
	}

	out := cmd.OutOrStdout()
	if pickList {
		fmt.Fprint(out, tui.SimplePicker(recs, time.Now().UTC()))
		return nil
	}

	logging.Debug("picker mode started", "records", len(recs))

	result, err := tui.RunPicker(recs, tui.PickerOptions{AllowOpen: true})
	if err != nil {
		return fmt.Errorf("picker error: %w", err)
	}

	logging.Debug("picker result", "action", result.Action)

	switch result.Action {
	case tui.ActionInspect:
		return inspectRecord(out, a, result.Record)

	case tui.ActionTeardown:
		report := a.Teardown.Run(ctx, result.Record, sandbox.ReasonForced)
		if err := report.Err(); err != nil {
			return err
		}
		logSuccess("Sandbox %s torn down", result.Record.ID)

	case tui.ActionOpen:
		callerKind = string(result.Open.Kind)
		callerRef = result.Open.Ref
		useSandbox = result.Open.Kind == record.OwnerAdmin
		openOutput = formatTable
		caller, err := buildCaller(ctx, a)
		if err != nil {
			return err
		}
		res, err := a.Binder.Open(ctx, caller, true)
		if err != nil {
			return err
		}
		return printOpenResult(out, caller, res)

	case tui.ActionNone:
		logInfo("No sandboxes found. Open one with: sandboxd open --as user --ref <account>")

	case tui.ActionQuit:
		// Just exit cleanly
	}

	return nil
}

// inspectRecord prints a record and its audit trail.
func inspectRecord(w io.Writer, a *app.App, rec *record.Record) error {
	now := time.Now().UTC()
	fmt.Fprintf(w, "Sandbox:  %s\n", rec.ID)
	fmt.Fprintf(w, "Owner:    %s %s\n", rec.OwnerKind, rec.OwnerRef)
	fmt.Fprintf(w, "Status:   %s\n", formatStatus(rec.Status))
	fmt.Fprintf(w, "Created:  %s (%s ago)\n", rec.CreatedAt.Format(time.RFC3339), formatAge(rec.CreatedAt, now))
	fmt.Fprintf(w, "Expires:  %s\n", formatExpiry(rec, now))

	if a.Audit == nil {
		return nil
	}
	events, err := a.Audit.Events(rec.ID)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}
	if len(events) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nEvents:")
	for _, e := range events {
		fmt.Fprintf(w, "  [%s] %s %s\n", e.Timestamp.Local().Format("15:04:05"), e.Type, e.Outcome)
	}
	return nil
}

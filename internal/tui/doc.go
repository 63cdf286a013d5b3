// Package tui provides the operator's interactive sandbox picker.
//
// The picker lists sandbox records grouped by owner kind and returns what
// the operator chose; it never changes anything itself:
//
//	result, err := tui.RunPicker(records, tui.PickerOptions{AllowOpen: true})
//	switch result.Action {
//	case tui.ActionInspect:
//	    // Show result.Record and its audit trail
//	case tui.ActionTeardown:
//	    // Force teardown of result.Record (already confirmed with y)
//	case tui.ActionOpen:
//	    // Open a sandbox for result.Open.Kind / result.Open.Ref
//	case tui.ActionQuit:
//	    // Exit
//	}
//
// Keys: Enter (inspect), d (teardown, then y to confirm), n (open for a
// caller, when AllowOpen is set), / (filter), q (quit). Group headers are
// skipped by the cursor.
//
// Uses the Charm libraries:
//   - github.com/charmbracelet/bubbletea - TUI framework
//   - github.com/charmbracelet/bubbles - UI components
//   - github.com/charmbracelet/lipgloss - Styling
package tui

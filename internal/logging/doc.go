// Package logging provides logging utilities for sandboxd.
//
// This package provides two categories of output:
//   - Debug logging: Structured logs for debugging (via slog)
//   - User output: Formatted messages for end users
//
// # Debug Logging
//
// Debug logs are written using slog and controlled by verbosity settings:
//
//	logging.Debug("provisioning sandbox", "owner", ref, "kind", kind)
//	logging.Warn("teardown step failed", "sandbox", id, "step", step)
//
// # User Output
//
// User-facing messages are formatted with status indicators:
//
//	logging.UserInfo("Sweeping %d expired sandboxes...", n)
//	logging.UserSuccess("Sandbox %s torn down", id)
//	logging.UserWarning("Runtime %s unreachable", name)
//	logging.UserError("Failed to open sandbox: %v", err)
//
// Output destinations default to the process streams and are redirected
// with SetUserOutput:
//   - UserInfo, UserSuccess: stdout
//   - UserWarning, UserError: stderr
//
// # Status Indicators
//
// User functions prepend status indicators:
//   - ℹ (info)
//   - ✓ (success)
//   - ⚠ (warning)
//   - ✗ (error)
package logging

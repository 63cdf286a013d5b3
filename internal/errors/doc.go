// Package errors provides typed errors with exit codes for sandboxd.
//
// # Error Types
//
// SandboxError is the base error type that wraps an error with an exit code
// and a kind:
//
//	type SandboxError struct {
//	    Code      int    // Exit code
//	    Kind      error  // ErrNotFound, ErrConflict, ...
//	    Message   string // User-facing message
//	    SandboxID string // Sandbox the error is about, if any
//	    Cause     error  // Wrapped error
//	}
//
// Kinds are matched with errors.Is:
//
//	if errors.Is(err, errors.ErrConflict) {
//	    // re-read the winner
//	}
//
// # Exit Codes
//
//	ExitSuccess            = 0  // Success
//	ExitGeneralError       = 1  // General/unknown errors
//	ExitSandboxNotFound    = 2  // Sandbox record does not exist
//	ExitConflict           = 3  // Owner already has a live sandbox
//	ExitProvisionFailed    = 4  // Container did not reach running
//	ExitRuntimeUnreachable = 5  // Container engine unreachable
//	ExitConfigError        = 6  // Configuration error
//	ExitTeardownPartial    = 7  // One or more teardown steps failed
//	ExitForbidden          = 8  // Caller does not own the sandbox
//
// # Extracting Exit Codes
//
//	if err != nil {
//	    os.Exit(errors.GetExitCode(err))
//	}
package errors

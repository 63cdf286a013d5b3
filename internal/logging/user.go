package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Status glyphs prefixed to user-facing lines.
const (
	glyphInfo    = "ℹ"
	glyphSuccess = "✓"
	glyphWarning = "⚠"
	glyphError   = "✗"
)

var (
	userMu  sync.Mutex
	userOut io.Writer = os.Stdout
	userErr io.Writer = os.Stderr
)

// SetUserOutput routes operator messages. Info and success lines go to out,
// warnings and errors to errOut. A nil writer restores the process default.
func SetUserOutput(out, errOut io.Writer) {
	userMu.Lock()
	defer userMu.Unlock()
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	userOut, userErr = out, errOut
}

func userf(toErr bool, glyph, format string, args []any) {
	userMu.Lock()
	defer userMu.Unlock()
	w := userOut
	if toErr {
		w = userErr
	}
	fmt.Fprintf(w, glyph+" "+format+"\n", args...)
}

// UserInfo prints an informational line for the operator.
func UserInfo(format string, args ...any) {
	userf(false, glyphInfo, format, args)
}

// UserSuccess reports a completed operation.
func UserSuccess(format string, args ...any) {
	userf(false, glyphSuccess, format, args)
}

// UserWarning reports a problem the command recovered from.
func UserWarning(format string, args ...any) {
	userf(true, glyphWarning, format, args)
}

// UserError reports a failure.
func UserError(format string, args ...any) {
	userf(true, glyphError, format, args)
}

// Package vm - runtime error reporting with stack traces.
package vm

import (
	"fmt"
	"strings"
)

// TraceFrame records one call frame of a runtime error's stack trace.
type TraceFrame struct {
	Line     int    // Source line of the faulting instruction
	Function string // Function name, or "" for the top-level script
}

// RuntimeError is a runtime failure with the call stack at the time of the
// error, innermost frame first.
type RuntimeError struct {
	Message string
	Trace   []TraceFrame
}

// Error formats the message followed by one line per frame.
func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	for _, frame := range e.Trace {
		if frame.Function == "" {
			b.WriteString(fmt.Sprintf("\n[line %d] in script", frame.Line))
		} else {
			b.WriteString(fmt.Sprintf("\n[line %d] in %s()", frame.Line, frame.Function))
		}
	}
	return b.String()
}

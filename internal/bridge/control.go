package bridge

import "github.com/nugget/dbus-ws-bridge/internal/protocol"

// Control is the three-way return of a handler invocation: continue
// with no output, continue with an output message, or break the
// connection loop with an optional final output message.
type Control struct {
	Break  bool
	Output protocol.OutputMessage // nil means no output
}

// ContinueSilent produces no output and keeps the loop running.
func ContinueSilent() Control { return Control{} }

// ContinueWith produces one output message and keeps the loop running.
func ContinueWith(out protocol.OutputMessage) Control {
	return Control{Output: out}
}

// BreakWith transitions the loop to closing, optionally with one
// final output message (pass nil for none).
func BreakWith(out protocol.OutputMessage) Control {
	return Control{Break: true, Output: out}
}

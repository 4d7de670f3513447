package logging

import "log/slog"

// EnableTrace is set by Init when the configured level is TRACE.
var EnableTrace = false

// Trace logs at DEBUG on the default logger, only when tracing is on.
// Used for per-tick messages that would drown a normal debug log.
func Trace(msg string, args ...any) {
	if EnableTrace {
		slog.Debug(msg, args...)
	}
}

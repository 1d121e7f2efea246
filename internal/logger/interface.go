package logger

import "codeberg.org/mutker/eegpipe/internal/errors"

// Logger defines the interface for logging operations.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	ErrorWithCode(err errors.Error) *LogEvent
}

// Component returns a Logger whose events carry the component name.
func Component(name string) Logger {
	return &componentLogger{log: log.With().Str("component", name).Logger()}
}

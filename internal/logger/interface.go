package logger

import "codeberg.org/mutker/batterywidget/internal/errors"

// Logger defines the interface for logging operations.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	ErrorWithCode(err errors.Error) *LogEvent
	ErrorWithContext(err error, component, operation string) *LogEvent
	With(component string) Logger
}

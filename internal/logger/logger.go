package logger

import (
	"io"
	"os"
	"syscall"
	"time"

	"codeberg.org/mutker/batterywidget/internal/errors"
	"github.com/rs/zerolog"
)

var log = zerolog.New(os.Stdout).With().Timestamp().Logger()

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Init initializes the logger based on the given configuration
func Init(level string, isService bool) {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	log = zerolog.New(output).With().Timestamp().Logger()

	SetLogLevel(ParseLevel(level))
}

// ParseLevel maps a configured level name to a LogLevel. Unknown names
// fall back to WarnLevel.
func ParseLevel(level string) LogLevel {
	switch level {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "error":
		return ErrorLevel
	default:
		return WarnLevel
	}
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}

// Default returns a Logger backed by the global logger configured by Init.
func Default() Logger {
	return &zlogger{global: true}
}

// New returns a Logger writing JSON lines to w.
func New(w io.Writer) Logger {
	l := zerolog.New(w).With().Timestamp().Logger()
	return &zlogger{log: &l}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	l := zerolog.Nop()
	return &zlogger{log: &l}
}

type zlogger struct {
	log    *zerolog.Logger
	global bool
}

func (z *zlogger) base() *zerolog.Logger {
	if z.global {
		return &log
	}
	return z.log
}

func (z *zlogger) Debug() *LogEvent {
	return &LogEvent{z.base().Debug()}
}

func (z *zlogger) Info() *LogEvent {
	return &LogEvent{z.base().Info()}
}

func (z *zlogger) Warn() *LogEvent {
	return &LogEvent{z.base().Warn()}
}

func (z *zlogger) Error() *LogEvent {
	return &LogEvent{z.base().Error()}
}

// ErrorWithCode logs an error message with a specific error code
func (z *zlogger) ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{z.base().Error().
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}

// ErrorWithContext logs err together with the component and operation
// that produced it. Coded errors also carry their code.
func (z *zlogger) ErrorWithContext(err error, component, operation string) *LogEvent {
	event := z.base().Error().
		Str("component", component).
		Str("operation", operation).
		Err(err)
	if code, ok := errors.CodeOf(err); ok {
		event = event.Str("error_code", string(code))
	}

	return &LogEvent{event}
}

func (z *zlogger) With(component string) Logger {
	l := z.base().With().Str("component", component).Logger()
	return &zlogger{log: &l}
}

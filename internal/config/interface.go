package config

import (
	"context"
	"time"

	"github.com/spf13/pflag"
)

// Provider defines the interface for accessing configuration values.
// A Provider is immutable; Watch delivers a fresh one on every change.
type Provider interface {
	// GetRetention returns the maximum snapshot age. Zero keeps everything.
	GetRetention() time.Duration

	// GetInterval returns the periodic capture interval
	GetInterval() time.Duration

	// GetPollInterval returns how often the power state is polled for plug events
	GetPollInterval() time.Duration

	GetHistoryDBPath() string
	GetWidgetsDBPath() string
	GetOutputDir() string

	// GetSupply returns the power_supply name to read. Empty selects the first battery.
	GetSupply() string
	GetSysfsRoot() string

	GetRenderWorkers() int

	// GetLogLevel returns the effective logging level after debug/verbose overrides
	GetLogLevel() string

	// GetWidgets returns the declared widget instances in file order
	GetWidgets() []WidgetDecl
}

// Watcher enables live configuration updates
type Watcher interface {
	// Watch starts watching the config file. The callback receives a
	// validated Provider after each change until ctx is done.
	Watch(ctx context.Context, callback func(Provider)) error
}

// Option defines a configuration option that can be passed to Load
type Option func(*options) error

type options struct {
	configPath string
	envPrefix  string
	dotenv     []string
	flags      *pflag.FlagSet
}

// WithConfigFile specifies an explicit configuration file path
func WithConfigFile(path string) Option {
	return func(o *options) error {
		o.configPath = path
		return nil
	}
}

// WithEnvPrefix specifies a custom environment variable prefix
// Default is "BATTERYWIDGET"
func WithEnvPrefix(prefix string) Option {
	return func(o *options) error {
		o.envPrefix = prefix
		return nil
	}
}

// WithDotEnv seeds the process environment from the given .env files
// before environment variables are read. Missing files are skipped.
func WithDotEnv(paths ...string) Option {
	return func(o *options) error {
		o.dotenv = append(o.dotenv, paths...)
		return nil
	}
}

// WithFlags binds parsed command line flags over file and environment values.
func WithFlags(fs *pflag.FlagSet) Option {
	return func(o *options) error {
		o.flags = fs
		return nil
	}
}

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

// String implements the Stringer interface
func (l LogLevel) String() string {
	return string(l)
}

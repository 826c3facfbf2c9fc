package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/batterywidget/internal/errors"
	"codeberg.org/mutker/batterywidget/internal/logger"
	"codeberg.org/mutker/batterywidget/internal/widget"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix     = "BATTERYWIDGET"
	DefaultConfigName    = "batterywidget"
	DefaultConfigDir     = "/etc"
	DefaultRetention     = 168 * time.Hour
	DefaultInterval      = 15 * time.Minute
	MinInterval          = time.Minute
	DefaultPollInterval  = 5 * time.Second
	DefaultHistoryDB     = "/var/lib/batterywidget/history.db"
	DefaultWidgetsDB     = "/var/lib/batterywidget/widgets"
	DefaultOutputDir     = "/run/batterywidget"
	DefaultSysfsRoot     = "/sys/class/power_supply"
	DefaultRenderWorkers = 4
	DefaultLogLevel      = LogLevelWarning
)

// WidgetDecl declares a widget instance in the config file.
type WidgetDecl struct {
	ID      string         `mapstructure:"id" yaml:"id"`
	Kind    string         `mapstructure:"kind" yaml:"kind"`
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

type Config struct {
	Retention     time.Duration `mapstructure:"retention"`
	Interval      time.Duration `mapstructure:"interval"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	HistoryDB     string        `mapstructure:"history_db"`
	WidgetsDB     string        `mapstructure:"widgets_db"`
	OutputDir     string        `mapstructure:"output_dir"`
	Supply        string        `mapstructure:"supply"`
	SysfsRoot     string        `mapstructure:"sysfs_root"`
	RenderWorkers int           `mapstructure:"render_workers"`
	LogLevel      string        `mapstructure:"log_level"`
	Debug         bool          `mapstructure:"debug"`
	Verbose       bool          `mapstructure:"verbose"`
	Widgets       []WidgetDecl  `mapstructure:"widgets"`

	v *viper.Viper
}

var (
	_ Provider = (*Config)(nil)
	_ Watcher  = (*Config)(nil)
)

// flagKeys maps command line flag names to config keys.
var flagKeys = map[string]string{
	"retention":      "retention",
	"interval":       "interval",
	"poll-interval":  "poll_interval",
	"history-db":     "history_db",
	"widgets-db":     "widgets_db",
	"output-dir":     "output_dir",
	"supply":         "supply",
	"sysfs-root":     "sysfs_root",
	"render-workers": "render_workers",
	"log-level":      "log_level",
	"debug":          "debug",
	"verbose":        "verbose",
}

// NewFlagSet defines the daemon flags. Values given on the command line
// take precedence over the environment and the config file.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "Path to the TOML config file")
	fs.Duration("retention", DefaultRetention, "Maximum snapshot age, 0 keeps everything")
	fs.Duration("interval", DefaultInterval, "Periodic capture interval")
	fs.Duration("poll-interval", DefaultPollInterval, "Power state poll interval")
	fs.String("history-db", DefaultHistoryDB, "Snapshot history database")
	fs.String("widgets-db", DefaultWidgetsDB, "Widget registry directory")
	fs.String("output-dir", DefaultOutputDir, "Directory rendered widgets are published to")
	fs.String("supply", "", "power_supply name, empty selects the first battery")
	fs.String("sysfs-root", DefaultSysfsRoot, "power_supply class directory")
	fs.Int("render-workers", DefaultRenderWorkers, "Concurrent widget renders")
	fs.String("log-level", DefaultLogLevel.String(), "Log level (debug, info, warning, error)")
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")

	return fs
}

// Load reads configuration from defaults, the config file, the environment
// and flags, in increasing order of precedence, and validates the result.
func Load(ctx context.Context, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, errFactory.Wrap(errors.ErrCancelled, err)
	}

	if err := loadDotEnv(o.dotenv); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := bindFlags(v, o.flags); err != nil {
		return nil, err
	}

	configPath := o.configPath
	if configPath == "" && o.flags != nil {
		configPath, _ = o.flags.GetString("config")
	}
	if configPath == "" {
		configPath = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("toml")
		v.AddConfigPath(DefaultConfigDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	return decode(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("retention", DefaultRetention)
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("history_db", DefaultHistoryDB)
	v.SetDefault("widgets_db", DefaultWidgetsDB)
	v.SetDefault("output_dir", DefaultOutputDir)
	v.SetDefault("supply", "")
	v.SetDefault("sysfs_root", DefaultSysfsRoot)
	v.SetDefault("render_workers", DefaultRenderWorkers)
	v.SetDefault("log_level", DefaultLogLevel.String())
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}

	errFactory := errors.New()
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	return nil
}

func loadDotEnv(paths []string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return err
		}
	}

	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.New().Wrap(errors.ErrInvalidConfig, err).
			WithMessage("failed to unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every value and the declared widget list.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, fmt.Sprintf("%q", c.LogLevel))
	}

	if c.Interval < MinInterval {
		return errFactory.WithMessage(errors.ErrInvalidInterval,
			fmt.Sprintf("interval %s is below the minimum of %s", c.Interval, MinInterval))
	}

	if c.PollInterval <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidInterval,
			fmt.Sprintf("poll_interval must be positive, got %s", c.PollInterval))
	}

	if c.Retention < 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig,
			fmt.Sprintf("retention must not be negative, got %s", c.Retention))
	}

	if c.RenderWorkers < 1 {
		return errFactory.WithMessage(errors.ErrInvalidConfig,
			fmt.Sprintf("render_workers must be at least 1, got %d", c.RenderWorkers))
	}

	for _, path := range []string{c.HistoryDB, c.WidgetsDB, c.OutputDir} {
		if strings.TrimSpace(path) == "" {
			return errFactory.WithMessage(errors.ErrMissingConfig, "history_db, widgets_db and output_dir are required")
		}
	}

	seen := make(map[string]struct{}, len(c.Widgets))
	for i, w := range c.Widgets {
		if w.ID == "" {
			return errFactory.WithMessage(errors.ErrInvalidWidget, fmt.Sprintf("widgets[%d]: missing id", i))
		}
		if _, dup := seen[w.ID]; dup {
			return errFactory.WithMessage(errors.ErrInvalidWidget, fmt.Sprintf("widgets[%d]: duplicate id %q", i, w.ID))
		}
		seen[w.ID] = struct{}{}

		if w.Kind == "" {
			continue
		}
		if _, err := widget.ParseKind(w.Kind); err != nil {
			return errFactory.Wrap(errors.ErrInvalidWidget, err).
				WithMessage(fmt.Sprintf("widgets[%d] %q", i, w.ID))
		}
	}

	return nil
}

// Watch calls callback with a freshly decoded Provider whenever the config
// file changes. Invalid revisions are logged and skipped.
func (c *Config) Watch(ctx context.Context, callback func(Provider)) error {
	errFactory := errors.New()
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return errFactory.WithMessage(errors.ErrMissingConfig, "no config file to watch")
	}

	log := logger.Default().With("config")

	var mu sync.Mutex
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}

		mu.Lock()
		defer mu.Unlock()

		fresh, err := decode(c.v)
		if err != nil {
			log.ErrorWithContext(err, "config", "reload").
				Str("file", e.Name).
				Msg("ignoring invalid config revision")
			return
		}

		log.Info().Str("file", e.Name).Str("op", e.Op.String()).Msg("config reloaded")
		callback(fresh)
	})
	c.v.WatchConfig()

	return nil
}

func (c *Config) GetRetention() time.Duration    { return c.Retention }
func (c *Config) GetInterval() time.Duration     { return c.Interval }
func (c *Config) GetPollInterval() time.Duration { return c.PollInterval }
func (c *Config) GetHistoryDBPath() string       { return c.HistoryDB }
func (c *Config) GetWidgetsDBPath() string       { return c.WidgetsDB }
func (c *Config) GetOutputDir() string           { return c.OutputDir }
func (c *Config) GetSupply() string              { return c.Supply }
func (c *Config) GetSysfsRoot() string           { return c.SysfsRoot }
func (c *Config) GetRenderWorkers() int          { return c.RenderWorkers }

// GetLogLevel applies the debug and verbose switches over log_level.
func (c *Config) GetLogLevel() string {
	switch {
	case c.Debug:
		return LogLevelDebug.String()
	case c.Verbose:
		return LogLevelInfo.String()
	default:
		return c.LogLevel
	}
}

func (c *Config) GetWidgets() []WidgetDecl {
	out := make([]WidgetDecl, len(c.Widgets))
	copy(out, c.Widgets)
	return out
}

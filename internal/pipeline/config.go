package pipeline

import (
	"time"

	"codeberg.org/mutker/batterywidget/internal/retention"
)

const defaultWorkers = 4

type Config struct {
	// Workers bounds how many instances render in parallel.
	Workers int
	// Retention is consulted on every run so a reloaded window applies at
	// once. Nil keeps everything.
	Retention func() retention.Window
	// Now defaults to time.Now.
	Now func() time.Time
	// OnStage, when set, observes every stage transition.
	OnStage func(t Trigger, s Stage)
}

func DefaultConfig() Config {
	return Config{
		Workers: defaultWorkers,
	}
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Retention == nil {
		c.Retention = func() retention.Window { return retention.Window{} }
	}
	return c
}

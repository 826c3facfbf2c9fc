package main

import (
	"context"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/batterywidget/internal/battery"
	"codeberg.org/mutker/batterywidget/internal/config"
	"codeberg.org/mutker/batterywidget/internal/errors"
	"codeberg.org/mutker/batterywidget/internal/history"
	"codeberg.org/mutker/batterywidget/internal/logger"
	"codeberg.org/mutker/batterywidget/internal/pid"
	"codeberg.org/mutker/batterywidget/internal/pipeline"
	"codeberg.org/mutker/batterywidget/internal/publish"
	"codeberg.org/mutker/batterywidget/internal/retention"
	"codeberg.org/mutker/batterywidget/internal/widget"
)

// daemon owns the long-lived components of "batterywidget run".
type daemon struct {
	cfg         config.Provider
	log         logger.Logger
	source      battery.Source
	store       *history.SQLiteStore
	registry    *widget.Registry
	sink        *publish.DirSink
	coordinator *pipeline.Coordinator

	retention atomic.Int64
	reloads   chan config.Provider
	lastPower *battery.PowerState
}

func runCommand(ctx context.Context, args []string) error {
	cfg, err := loadConfig(ctx, config.NewFlagSet("run"), args)
	if err != nil {
		return err
	}

	if err := pid.Write(""); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(""); err != nil {
			logger.Error().Err(err).Msg("failed to remove pid file")
		}
	}()

	d, err := newDaemon(cfg, logger.Default())
	if err != nil {
		return err
	}
	defer d.cleanup()

	if err := cfg.Watch(ctx, d.onReload); err != nil {
		d.log.Debug().Err(err).Msg("config watch disabled")
	}

	return d.loop(ctx)
}

func newDaemon(cfg config.Provider, log logger.Logger) (*daemon, error) {
	d := &daemon{
		cfg:     cfg,
		log:     log.With("daemon"),
		reloads: make(chan config.Provider, 1),
	}
	d.retention.Store(int64(cfg.GetRetention()))

	d.source = battery.NewSysfsSource(battery.SourceConfig{
		Root:   cfg.GetSysfsRoot(),
		Supply: cfg.GetSupply(),
	})

	var err error
	d.store, err = history.Open(history.Config{DBPath: cfg.GetHistoryDBPath()}, log)
	if err != nil {
		return nil, err
	}

	d.registry, err = widget.Open(widget.Config{Path: cfg.GetWidgetsDBPath()}, log)
	if err != nil {
		d.cleanup()
		return nil, err
	}

	d.sink, err = publish.NewDirSink(cfg.GetOutputDir(), log)
	if err != nil {
		d.cleanup()
		return nil, err
	}

	d.coordinator = pipeline.New(pipeline.Deps{
		Source:    d.source,
		Store:     d.store,
		Registry:  d.registry,
		Publisher: d.sink,
	}, pipeline.Config{
		Workers:   cfg.GetRenderWorkers(),
		Retention: d.window,
	}, log)

	return d, nil
}

func (d *daemon) window() retention.Window {
	return retention.Window{MaxAge: time.Duration(d.retention.Load())}
}

// onReload runs on the config watcher goroutine; only the newest pending
// revision is kept.
func (d *daemon) onReload(p config.Provider) {
	for {
		select {
		case d.reloads <- p:
			return
		default:
		}
		select {
		case <-d.reloads:
		default:
		}
	}
}

func (d *daemon) loop(ctx context.Context) error {
	if err := syncWidgets(ctx, d.cfg.GetWidgets(), d.registry, d.coordinator, d.sink, d.log); err != nil {
		return err
	}

	d.report(d.coordinator.OnBootCompleted(ctx))

	interval := d.cfg.GetInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	poll := time.NewTicker(d.cfg.GetPollInterval())
	defer poll.Stop()

	d.log.Info().
		Dur("interval", interval).
		Dur("poll_interval", d.cfg.GetPollInterval()).
		Dur("retention", d.cfg.GetRetention()).
		Msg("batterywidget running")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.report(d.coordinator.OnPeriodicTick(ctx))
		case <-poll.C:
			if d.powerChanged(ctx) {
				d.report(d.coordinator.OnPowerEvent(ctx))
			}
		case next := <-d.reloads:
			d.apply(ctx, next, ticker, poll)
		}
	}
}

// powerChanged polls the source and reports whether the charge status or
// plug source moved since the previous poll. The first poll only records.
func (d *daemon) powerChanged(ctx context.Context) bool {
	raw, err := d.source.Read(ctx)
	if err != nil {
		d.log.Debug().Err(err).Msg("power poll failed")
		return false
	}

	state := raw.PowerState()
	prev := d.lastPower
	d.lastPower = &state

	return prev != nil && *prev != state
}

func (d *daemon) apply(ctx context.Context, next config.Provider, ticker, poll *time.Ticker) {
	prev := d.cfg
	d.cfg = next

	logger.SetLogLevel(logger.ParseLevel(next.GetLogLevel()))
	d.retention.Store(int64(next.GetRetention()))

	if next.GetInterval() != prev.GetInterval() {
		ticker.Reset(next.GetInterval())
	}
	if next.GetPollInterval() != prev.GetPollInterval() {
		poll.Reset(next.GetPollInterval())
	}

	for _, key := range restartOnly(prev, next) {
		d.log.Warn().Str("key", key).Msg("change takes effect after restart")
	}

	if err := syncWidgets(ctx, next.GetWidgets(), d.registry, d.coordinator, d.sink, d.log); err != nil {
		d.log.ErrorWithContext(err, "daemon", "sync_widgets").Msg("widget sync failed")
	}

	// A shorter window prunes now rather than at the next tick.
	if next.GetRetention() != prev.GetRetention() {
		d.report(d.coordinator.OnPeriodicTick(ctx))
	}
}

// restartOnly lists changed keys that are bound at startup.
func restartOnly(prev, next config.Provider) []string {
	var keys []string
	if prev.GetHistoryDBPath() != next.GetHistoryDBPath() {
		keys = append(keys, "history_db")
	}
	if prev.GetWidgetsDBPath() != next.GetWidgetsDBPath() {
		keys = append(keys, "widgets_db")
	}
	if prev.GetOutputDir() != next.GetOutputDir() {
		keys = append(keys, "output_dir")
	}
	if prev.GetSupply() != next.GetSupply() || prev.GetSysfsRoot() != next.GetSysfsRoot() {
		keys = append(keys, "supply")
	}
	if prev.GetRenderWorkers() != next.GetRenderWorkers() {
		keys = append(keys, "render_workers")
	}

	return keys
}

func (d *daemon) report(r pipeline.Report, err error) {
	if err != nil {
		if errors.HasCode(err, errors.ErrCancelled) {
			return
		}
		d.log.ErrorWithContext(err, "daemon", r.Trigger.String()).
			Str("stage", r.Stage.String()).
			Msg("pipeline run failed")
		return
	}

	event := d.log.Debug()
	if len(r.Failed) > 0 || r.StoreReset {
		event = d.log.Warn()
	}

	event.
		Str("trigger", r.Trigger.String()).
		Bool("coalesced", r.Coalesced).
		Bool("store_reset", r.StoreReset).
		Int("pruned", r.Pruned).
		Strs("published", r.Published).
		Strs("failed", r.Failed).
		Msg("pipeline run finished")

	if r.Captured {
		d.log.Info().
			Uint8("level", r.Snapshot.LevelPercent).
			Str("charge", r.Snapshot.ChargeState.String()).
			Str("plug", r.Snapshot.PlugSource.String()).
			Msg("")
	}
}

func (d *daemon) cleanup() {
	if d.registry != nil {
		if err := d.registry.Close(); err != nil {
			d.log.Error().Err(err).Msg("failed to close widget registry")
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.log.Error().Err(err).Msg("failed to close history store")
		}
	}
	if d.sink != nil {
		writes, skips := d.sink.Stats()
		d.log.Info().Uint64("writes", writes).Uint64("unchanged", skips).Msg("Exiting...")
	}
}

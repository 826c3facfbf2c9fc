// Package pipeline runs capture, persistence, retention and rendering as
// one serialized unit per trigger.
package pipeline

import (
	"context"
	"sort"
	"sync"

	"codeberg.org/mutker/batterywidget/internal/battery"
	"codeberg.org/mutker/batterywidget/internal/errors"
	"codeberg.org/mutker/batterywidget/internal/history"
	"codeberg.org/mutker/batterywidget/internal/logger"
	"codeberg.org/mutker/batterywidget/internal/render"
	"codeberg.org/mutker/batterywidget/internal/retention"
	"codeberg.org/mutker/batterywidget/internal/widget"
	"golang.org/x/sync/errgroup"
)

// Deps are the collaborators a Coordinator owns references to.
type Deps struct {
	Source    battery.Source
	Store     history.Store
	Registry  Registry
	Publisher Publisher
	// Renderers defaults to render.NewSet().
	Renderers *render.Set
}

// Coordinator serializes pipeline runs. At most one run holds the slot
// from Capturing until it returns to Idle.
type Coordinator struct {
	source    battery.Source
	reader    *battery.Reader
	store     history.Store
	registry  Registry
	publisher Publisher
	renderers *render.Set
	cfg       Config
	log       logger.Logger

	slot chan struct{}
}

func New(deps Deps, cfg Config, log logger.Logger) *Coordinator {
	renderers := deps.Renderers
	if renderers == nil {
		renderers = render.NewSet()
	}

	return &Coordinator{
		source:    deps.Source,
		reader:    battery.NewReader(),
		store:     deps.Store,
		registry:  deps.Registry,
		publisher: deps.Publisher,
		renderers: renderers,
		cfg:       cfg.withDefaults(),
		log:       log.With("pipeline"),
		slot:      make(chan struct{}, 1),
	}
}

func (c *Coordinator) OnPowerEvent(ctx context.Context) (Report, error) {
	return c.runFull(ctx, TriggerPowerEvent)
}

func (c *Coordinator) OnPeriodicTick(ctx context.Context) (Report, error) {
	return c.runFull(ctx, TriggerPeriodicTick)
}

func (c *Coordinator) OnBootCompleted(ctx context.Context) (Report, error) {
	return c.runFull(ctx, TriggerBootCompleted)
}

// OnWidgetInstanceAdded registers id with the default kind unless it is
// already known, then renders it alone.
func (c *Coordinator) OnWidgetInstanceAdded(ctx context.Context, id string) (Report, error) {
	report := Report{Trigger: TriggerWidgetAdded}

	if err := c.acquire(ctx); err != nil {
		return report, err
	}
	defer c.release(&report)
	ctx = context.WithoutCancel(ctx)

	if _, created, err := c.registry.Ensure(ctx, id); err != nil {
		return report, c.abort(&report, err)
	} else if created {
		c.log.Info().Str("id", id).Str("kind", widget.DefaultKind.String()).Msg("Widget instance registered")
	}

	c.render(ctx, &report, []string{id})

	return report, nil
}

// OnWidgetInstanceRemoved forgets id.
func (c *Coordinator) OnWidgetInstanceRemoved(ctx context.Context, id string) (Report, error) {
	report := Report{Trigger: TriggerWidgetRemoved}

	if err := c.acquire(ctx); err != nil {
		return report, err
	}
	defer c.release(&report)
	ctx = context.WithoutCancel(ctx)

	if err := c.registry.Remove(ctx, id); err != nil {
		return report, c.abort(&report, err)
	}

	c.log.Info().Str("id", id).Msg("Widget instance removed")

	return report, nil
}

// OnWidgetKindChanged stores the new kind and options for id and renders it
// alone.
func (c *Coordinator) OnWidgetKindChanged(ctx context.Context, id string, kind widget.Kind, opts widget.Options) (Report, error) {
	report := Report{Trigger: TriggerWidgetKindChanged}

	if err := c.acquire(ctx); err != nil {
		return report, err
	}
	defer c.release(&report)
	ctx = context.WithoutCancel(ctx)

	if err := c.registry.SetKind(ctx, id, kind, opts); err != nil {
		return report, c.abort(&report, err)
	}

	c.render(ctx, &report, []string{id})

	return report, nil
}

func (c *Coordinator) runFull(ctx context.Context, trigger Trigger) (Report, error) {
	report := Report{Trigger: trigger}

	if err := c.acquire(ctx); err != nil {
		return report, err
	}
	defer c.release(&report)

	// Past this point the run is not interruptible.
	ctx = context.WithoutCancel(ctx)
	now := c.cfg.Now()

	c.enter(&report, StageCapturing)
	raw, err := c.source.Read(ctx)
	if err != nil {
		return report, c.abort(&report, err)
	}
	snap, err := c.reader.Read(raw, now)
	if err != nil {
		return report, c.abort(&report, err)
	}
	report.Captured = true
	report.Snapshot = snap

	c.enter(&report, StagePersisting)
	if err := c.persist(ctx, &report, snap); err != nil {
		return report, c.abort(&report, err)
	}

	c.enter(&report, StagePruning)
	if cutoff, ok := retention.Cutoff(now, c.cfg.Retention()); ok {
		n, err := c.store.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return report, c.abort(&report, err)
		}
		report.Pruned = n
	}

	ids, err := c.registry.AllIDs(ctx)
	if err != nil {
		return report, c.abort(&report, err)
	}
	c.render(ctx, &report, ids)

	c.log.Debug().
		Str("trigger", trigger.String()).
		Uint8("level", snap.LevelPercent).
		Bool("coalesced", report.Coalesced).
		Int("pruned", report.Pruned).
		Int("published", len(report.Published)).
		Int("failed", len(report.Failed)).
		Msg("Pipeline run complete")

	return report, nil
}

// persist appends snap unless the newest stored snapshot already has its
// timestamp.
func (c *Coordinator) persist(ctx context.Context, report *Report, snap battery.Snapshot) error {
	latest, err := c.store.Latest(ctx)
	if errors.HasCode(err, history.ErrCorrupt) {
		if err := c.resetStore(ctx, report, err); err != nil {
			return err
		}
		latest, err = nil, nil
	}
	if err != nil {
		return err
	}

	if latest != nil && latest.CapturedAtMillis == snap.CapturedAtMillis {
		report.Coalesced = true
		return nil
	}

	return c.store.Append(ctx, snap)
}

func (c *Coordinator) resetStore(ctx context.Context, report *Report, cause error) error {
	c.log.ErrorWithContext(cause, "history", "read").Msg("History store is corrupt, starting over")

	if err := c.store.Reset(ctx); err != nil {
		return err
	}
	report.StoreReset = true

	return nil
}

// render draws and publishes every id. Failures stay with their instance,
// including an instance whose registry record cannot be read.
func (c *Coordinator) render(ctx context.Context, report *Report, ids []string) {
	c.enter(report, StageRendering)

	if len(ids) == 0 {
		return
	}

	instances := make([]widget.Instance, 0, len(ids))
	unreadable := make(map[string]bool)
	seriesLimit := 0
	for _, id := range ids {
		inst, err := c.registry.Get(ctx, id)
		if err != nil {
			c.log.ErrorWithContext(err, "widget", "get").Str("id", id).Msg("Widget instance unreadable")
			unreadable[id] = true
			instances = append(instances, widget.Instance{ID: id, Kind: widget.DefaultKind})
			continue
		}
		if inst == nil {
			inst = &widget.Instance{ID: id, Kind: widget.DefaultKind}
		}
		if render.NeedsSeries(inst.Kind) {
			seriesLimit = max(seriesLimit, render.SeriesLimit(inst.Options))
		}
		instances = append(instances, *inst)
	}

	in := c.readInput(ctx, report, seriesLimit)

	var (
		mu    sync.Mutex
		group errgroup.Group
	)
	group.SetLimit(c.cfg.Workers)

	for _, inst := range instances {
		inst := inst
		group.Go(func() error {
			var ok bool
			if unreadable[inst.ID] {
				c.publishEmpty(ctx, inst.ID, in)
			} else {
				ok = c.renderOne(ctx, inst, in)
			}

			mu.Lock()
			defer mu.Unlock()
			if ok {
				report.Published = append(report.Published, inst.ID)
			} else {
				report.Failed = append(report.Failed, inst.ID)
			}
			return nil
		})
	}
	_ = group.Wait()

	sort.Strings(report.Published)
	sort.Strings(report.Failed)
}

// publishEmpty publishes a no-data details table for id.
func (c *Coordinator) publishEmpty(ctx context.Context, id string, in render.Input) {
	surface := c.renderers.Empty(widget.DefaultKind, nil, in.Now)
	if err := c.publisher.Publish(ctx, id, surface); err != nil {
		c.log.ErrorWithContext(errors.New().Wrap(ErrPublish, err), "publish", "publish").
			Str("id", id).
			Msg("Publish failed")
	}
}

// readInput loads the data every renderer in this run shares. Read failures
// degrade to an empty input so each instance still gets a no-data surface.
func (c *Coordinator) readInput(ctx context.Context, report *Report, seriesLimit int) render.Input {
	in := render.Input{Now: c.cfg.Now()}

	latest, err := c.store.Latest(ctx)
	if err == nil && seriesLimit > 0 {
		var recent []battery.Snapshot
		recent, err = c.store.Recent(ctx, seriesLimit)
		in.Series = ascending(recent)
	}

	switch {
	case err == nil:
		in.Latest = latest
		return in
	case errors.HasCode(err, history.ErrCorrupt):
		if resetErr := c.resetStore(ctx, report, err); resetErr != nil {
			c.log.ErrorWithContext(resetErr, "history", "reset").Msg("Failed to reset history store")
		}
	default:
		c.log.ErrorWithContext(err, "history", "read").Msg("Rendering without history")
	}

	return render.Input{Now: in.Now}
}

// renderOne renders and publishes one instance, substituting a no-data
// surface when rendering fails. It reports whether the intended surface
// was published.
func (c *Coordinator) renderOne(ctx context.Context, inst widget.Instance, in render.Input) bool {
	ok := true

	surface, err := c.renderers.Render(inst.Kind, in, inst.Options)
	if errors.HasCode(err, render.ErrUnsupported) {
		c.log.Warn().
			Str("id", inst.ID).
			Str("kind", inst.Kind.String()).
			Msg("Unsupported widget kind, rendering details table")
		surface, err = c.renderers.Render(widget.KindDetailsTable, in, inst.Options)
	}
	if err != nil {
		c.log.ErrorWithContext(err, "render", inst.Kind.String()).Str("id", inst.ID).Msg("Render failed")
		surface = c.renderers.Empty(inst.Kind, inst.Options, in.Now)
		ok = false
	}

	if err := c.publisher.Publish(ctx, inst.ID, surface); err != nil {
		c.log.ErrorWithContext(errors.New().Wrap(ErrPublish, err), "publish", "publish").
			Str("id", inst.ID).
			Msg("Publish failed")
		return false
	}

	return ok
}

func (c *Coordinator) acquire(ctx context.Context) error {
	errFactory := errors.New()

	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return errFactory.Wrap(ErrCancelled, ctx.Err())
	}

	// Both cases may be ready at once; a cancelled caller never starts.
	if err := ctx.Err(); err != nil {
		<-c.slot
		return errFactory.Wrap(ErrCancelled, err)
	}

	return nil
}

func (c *Coordinator) release(report *Report) {
	if c.cfg.OnStage != nil {
		c.cfg.OnStage(report.Trigger, StageIdle)
	}
	<-c.slot
}

func (c *Coordinator) enter(report *Report, stage Stage) {
	report.Stage = stage
	if c.cfg.OnStage != nil {
		c.cfg.OnStage(report.Trigger, stage)
	}
}

func (c *Coordinator) abort(report *Report, err error) error {
	c.log.ErrorWithContext(err, "pipeline", report.Stage.String()).
		Str("trigger", report.Trigger.String()).
		Msg("Pipeline run aborted")

	return errors.New().Wrap(ErrRunFailed, err)
}

func ascending(recent []battery.Snapshot) []battery.Snapshot {
	out := make([]battery.Snapshot, len(recent))
	for i, s := range recent {
		out[len(recent)-1-i] = s
	}
	return out
}

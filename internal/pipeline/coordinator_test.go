package pipeline_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/batterywidget/internal/battery"
	"codeberg.org/mutker/batterywidget/internal/errors"
	"codeberg.org/mutker/batterywidget/internal/history"
	"codeberg.org/mutker/batterywidget/internal/logger"
	"codeberg.org/mutker/batterywidget/internal/pipeline"
	"codeberg.org/mutker/batterywidget/internal/render"
	"codeberg.org/mutker/batterywidget/internal/retention"
	"codeberg.org/mutker/batterywidget/internal/widget"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	source    *fakeSource
	store     *memStore
	registry  *widget.Registry
	publisher *recordingPublisher
	coord     *pipeline.Coordinator
}

func newHarness(t *testing.T, cfg pipeline.Config) *harness {
	t.Helper()

	h := &harness{
		source:    newFakeSource(85),
		store:     newMemStore(),
		registry:  newRegistry(t),
		publisher: &recordingPublisher{},
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.UnixMilli(200) }
	}
	h.coord = pipeline.New(pipeline.Deps{
		Source:    h.source,
		Store:     h.store,
		Registry:  h.registry,
		Publisher: h.publisher,
	}, cfg, logger.Nop())

	return h
}

func TestKindChangedOnEmptyStorePublishesGraphPlaceholder(t *testing.T) {
	h := newHarness(t, pipeline.Config{})

	report, err := h.coord.OnWidgetKindChanged(context.Background(), "w1", widget.KindGraph, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"w1"}, report.Published)
	assert.False(t, report.Captured)
	assert.Zero(t, h.source.reads)

	surface, ok := h.publisher.last("w1")
	require.True(t, ok)
	assert.Equal(t, widget.KindGraph, surface.Kind)
	assert.True(t, surface.NoData)
	require.NotNil(t, surface.Image)
	assert.Equal(t, 500, surface.Image.Width)
	assert.Equal(t, 200, surface.Image.Height)

	inst, err := h.registry.Get(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, widget.KindGraph, inst.Kind)
}

func TestInstanceAddedUsesDefaultKind(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	ctx := context.Background()

	require.NoError(t, h.store.Append(ctx, battery.Snapshot{
		CapturedAtMillis:  100,
		LevelPercent:      70,
		TemperatureDeciC:  305,
		VoltageMillivolts: 4120,
	}))

	report, err := h.coord.OnWidgetInstanceAdded(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageRendering, report.Stage)

	surface, ok := h.publisher.last("fresh")
	require.True(t, ok)
	assert.Equal(t, widget.KindDetailsTable, surface.Kind)
	temp, _ := surface.Field("temp_c")
	volts, _ := surface.Field("voltage_v")
	assert.Equal(t, "30.5", temp)
	assert.Equal(t, "4.12", volts)

	// A second add keeps an explicitly chosen kind.
	require.NoError(t, h.registry.SetKind(ctx, "fresh", widget.KindTextOnly, nil))
	_, err = h.coord.OnWidgetInstanceAdded(ctx, "fresh")
	require.NoError(t, err)
	surface, _ = h.publisher.last("fresh")
	assert.Equal(t, widget.KindTextOnly, surface.Kind)
}

func TestFullRunAppendsPrunesAndRenders(t *testing.T) {
	h := newHarness(t, pipeline.Config{
		Retention: func() retention.Window { return retention.Window{MaxAge: 150 * time.Millisecond} },
	})
	ctx := context.Background()

	require.NoError(t, h.store.Append(ctx, battery.Snapshot{CapturedAtMillis: 0, LevelPercent: 85, ChargeState: battery.ChargeDischarging}))
	require.NoError(t, h.store.Append(ctx, battery.Snapshot{CapturedAtMillis: 100, LevelPercent: 70, ChargeState: battery.ChargeDischarging}))
	require.NoError(t, h.registry.SetKind(ctx, "graph", widget.KindGraph, nil))
	require.NoError(t, h.registry.SetKind(ctx, "icon", widget.KindIconDetail, nil))

	h.source.raw = battery.RawReading{
		Level:   60,
		Scale:   100,
		Status:  battery.StatusCharging,
		Plugged: battery.PluggedAC,
		Present: battery.FieldLevel | battery.FieldScale | battery.FieldStatus | battery.FieldPlugged,
	}

	report, err := h.coord.OnPowerEvent(ctx)
	require.NoError(t, err)
	assert.True(t, report.Captured)
	assert.False(t, report.Coalesced)
	assert.Equal(t, 1, report.Pruned)
	assert.Equal(t, []string{"graph", "icon"}, report.Published)
	assert.Empty(t, report.Failed)

	series, err := h.store.Range(ctx, 0)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, int64(100), series[0].CapturedAtMillis)
	assert.Equal(t, int64(200), series[1].CapturedAtMillis)
	assert.Equal(t, battery.PlugAC, series[1].PlugSource)

	graph, _ := h.publisher.last("graph")
	samples, _ := graph.Field("samples")
	assert.Equal(t, "2", samples)

	icon, _ := h.publisher.last("icon")
	state, _ := icon.Field("charge_icon_state")
	assert.Equal(t, render.IconCharging, state)
}

func TestUnboundedRetentionKeepsEverything(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	ctx := context.Background()

	require.NoError(t, h.store.Append(ctx, battery.Snapshot{CapturedAtMillis: 1, LevelPercent: 10}))

	report, err := h.coord.OnPeriodicTick(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Pruned)

	n, _ := h.store.Count(ctx)
	assert.Equal(t, 2, n)
}

func TestSameTimestampIsCoalesced(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	ctx := context.Background()

	_, err := h.coord.OnBootCompleted(ctx)
	require.NoError(t, err)

	h.source.raw.Level = 84
	report, err := h.coord.OnPeriodicTick(ctx)
	require.NoError(t, err)
	assert.True(t, report.Coalesced)

	n, _ := h.store.Count(ctx)
	assert.Equal(t, 1, n)
	latest, _ := h.store.Latest(ctx)
	assert.Equal(t, uint8(85), latest.LevelPercent)
}

func TestInvalidReadingAbortsRun(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	ctx := context.Background()
	require.NoError(t, h.registry.SetKind(ctx, "w", widget.KindTextOnly, nil))

	h.source.raw.Scale = 0

	report, err := h.coord.OnPowerEvent(ctx)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, pipeline.ErrRunFailed))
	assert.True(t, errors.HasCode(err, battery.ErrInvalidReading))
	assert.Equal(t, pipeline.StageCapturing, report.Stage)
	assert.False(t, report.Captured)

	n, _ := h.store.Count(ctx)
	assert.Zero(t, n)
	_, published := h.publisher.last("w")
	assert.False(t, published)
}

func TestAppendFailureAbortsRun(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	ctx := context.Background()
	require.NoError(t, h.registry.SetKind(ctx, "w", widget.KindTextOnly, nil))

	h.store.appendErr = coded(history.ErrIOFailure)

	report, err := h.coord.OnPeriodicTick(ctx)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, history.ErrIOFailure))
	assert.Equal(t, pipeline.StagePersisting, report.Stage)
	assert.Empty(t, report.Published)

	// The next trigger starts from scratch.
	h.store.appendErr = nil
	_, err = h.coord.OnPeriodicTick(ctx)
	require.NoError(t, err)
	_, published := h.publisher.last("w")
	assert.True(t, published)
}

func TestCorruptStoreIsReset(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	ctx := context.Background()
	require.NoError(t, h.registry.SetKind(ctx, "w", widget.KindDetailsTable, nil))

	require.NoError(t, h.store.Append(ctx, battery.Snapshot{CapturedAtMillis: 5, LevelPercent: 99}))
	h.store.latestErr = coded(history.ErrCorrupt)

	report, err := h.coord.OnPowerEvent(ctx)
	require.NoError(t, err)
	assert.True(t, report.StoreReset)
	assert.Equal(t, 1, h.store.resets)

	series, _ := h.store.Range(ctx, 0)
	require.Len(t, series, 1)
	assert.Equal(t, uint8(85), series[0].LevelPercent)

	surface, _ := h.publisher.last("w")
	level, _ := surface.Field("level")
	assert.Equal(t, "85%", level)
}

func TestRenderReadFailureDegradesToNoData(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	ctx := context.Background()
	require.NoError(t, h.store.Append(ctx, battery.Snapshot{CapturedAtMillis: 5, LevelPercent: 50}))
	h.store.latestErr = coded(history.ErrIOFailure)

	report, err := h.coord.OnWidgetInstanceAdded(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, []string{"w"}, report.Published)

	surface, _ := h.publisher.last("w")
	assert.True(t, surface.NoData)
}

func TestPerInstanceFailuresAreIsolated(t *testing.T) {
	set := render.NewSet()
	set.Register(widget.KindGraph, render.RenderFunc(func(render.Input, widget.Options) (render.Surface, error) {
		return render.Surface{}, coded(render.ErrEncode)
	}))

	h := newHarness(t, pipeline.Config{})
	h.coord = pipeline.New(pipeline.Deps{
		Source:    h.source,
		Store:     h.store,
		Registry:  h.registry,
		Publisher: h.publisher,
		Renderers: set,
	}, pipeline.Config{Now: func() time.Time { return time.UnixMilli(200) }}, logger.Nop())

	ctx := context.Background()
	require.NoError(t, h.registry.SetKind(ctx, "broken-graph", widget.KindGraph, nil))
	require.NoError(t, h.registry.SetKind(ctx, "no-publish", widget.KindTextOnly, nil))
	require.NoError(t, h.registry.SetKind(ctx, "table", widget.KindDetailsTable, nil))
	h.publisher.fail = map[string]error{"no-publish": assert.AnError}

	report, err := h.coord.OnPeriodicTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"table"}, report.Published)
	assert.Equal(t, []string{"broken-graph", "no-publish"}, report.Failed)

	fallback, ok := h.publisher.last("broken-graph")
	require.True(t, ok)
	assert.True(t, fallback.NoData)
}

type legacyRegistry struct {
	*widget.Registry
}

func (r legacyRegistry) Get(ctx context.Context, id string) (*widget.Instance, error) {
	if id == "legacy" {
		return &widget.Instance{ID: id, Kind: widget.KindUnknown}, nil
	}
	return r.Registry.Get(ctx, id)
}

func TestUnsupportedKindFallsBackToDetailsTable(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	coord := pipeline.New(pipeline.Deps{
		Source:    h.source,
		Store:     h.store,
		Registry:  legacyRegistry{h.registry},
		Publisher: h.publisher,
	}, pipeline.Config{Now: func() time.Time { return time.UnixMilli(200) }}, logger.Nop())

	ctx := context.Background()
	require.NoError(t, h.registry.SetKind(ctx, "legacy", widget.KindGraph, nil))

	report, err := coord.OnPowerEvent(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"legacy"}, report.Published)

	surface, _ := h.publisher.last("legacy")
	assert.Equal(t, widget.KindDetailsTable, surface.Kind)
	level, _ := surface.Field("level")
	assert.Equal(t, "85%", level)
}

// undecodableRegistry fails to read the record stored for "bad".
type undecodableRegistry struct {
	*widget.Registry
}

func (r undecodableRegistry) Get(ctx context.Context, id string) (*widget.Instance, error) {
	if id == "bad" {
		return nil, coded(widget.ErrRegistryCodec)
	}
	return r.Registry.Get(ctx, id)
}

func TestUnreadableInstanceDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	coord := pipeline.New(pipeline.Deps{
		Source:    h.source,
		Store:     h.store,
		Registry:  undecodableRegistry{h.registry},
		Publisher: h.publisher,
	}, pipeline.Config{Now: func() time.Time { return time.UnixMilli(200) }}, logger.Nop())

	ctx := context.Background()
	require.NoError(t, h.registry.SetKind(ctx, "bad", widget.KindGraph, nil))
	require.NoError(t, h.registry.SetKind(ctx, "good", widget.KindDetailsTable, nil))

	report, err := coord.OnPeriodicTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageRendering, report.Stage)
	assert.Equal(t, []string{"good"}, report.Published)
	assert.Equal(t, []string{"bad"}, report.Failed)

	good, ok := h.publisher.last("good")
	require.True(t, ok)
	level, _ := good.Field("level")
	assert.Equal(t, "85%", level)

	bad, ok := h.publisher.last("bad")
	require.True(t, ok)
	assert.True(t, bad.NoData)
	assert.Equal(t, widget.KindDetailsTable, bad.Kind)
}

func TestInstanceRemoved(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	ctx := context.Background()
	require.NoError(t, h.registry.SetKind(ctx, "gone", widget.KindTextOnly, nil))

	report, err := h.coord.OnWidgetInstanceRemoved(ctx, "gone")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageIdle, report.Stage)

	ids, err := h.registry.AllIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = h.coord.OnWidgetInstanceRemoved(ctx, "")
	assert.True(t, errors.HasCode(err, widget.ErrInvalidID))
}

func TestCancelledBeforeCaptureNeverStarts(t *testing.T) {
	h := newHarness(t, pipeline.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.coord.OnPowerEvent(ctx)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, pipeline.ErrCancelled))
	assert.Equal(t, pipeline.StageIdle, report.Stage)
	assert.Zero(t, h.source.reads)
}

func TestWaitingForSlotHonoursCancellation(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	h.source.delay = 200 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		_, err := h.coord.OnPeriodicTick(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool {
		h.source.mu.Lock()
		defer h.source.mu.Unlock()
		return h.source.reads == 1
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h.coord.OnPowerEvent(ctx)
	assert.True(t, errors.HasCode(err, pipeline.ErrCancelled))

	// The run in flight is unaffected.
	require.NoError(t, <-done)
}

func TestConcurrentTriggersAreSerialized(t *testing.T) {
	var (
		mu        sync.Mutex
		events    []pipeline.Trigger
		active    int32
		maxActive int32
		clock     atomic.Int64
	)

	h := newHarness(t, pipeline.Config{
		Now: func() time.Time { return time.UnixMilli(clock.Add(1000)) },
		OnStage: func(tr pipeline.Trigger, s pipeline.Stage) {
			switch s {
			case pipeline.StageCapturing:
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
			case pipeline.StageIdle:
				atomic.AddInt32(&active, -1)
			}
			mu.Lock()
			events = append(events, tr)
			mu.Unlock()
		},
	})
	h.source.delay = 20 * time.Millisecond
	require.NoError(t, h.registry.SetKind(context.Background(), "g", widget.KindGraph, nil))

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, fire := range []func(context.Context) (pipeline.Report, error){h.coord.OnPowerEvent, h.coord.OnPeriodicTick} {
		fire := fire
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fire(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))

	// Each run's five transitions are contiguous.
	require.Len(t, events, 10)
	for i := 0; i < 5; i++ {
		assert.Equal(t, events[0], events[i])
		assert.Equal(t, events[5], events[5+i])
	}
	assert.NotEqual(t, events[0], events[5])

	n, _ := h.store.Count(context.Background())
	assert.Equal(t, 2, n)
}

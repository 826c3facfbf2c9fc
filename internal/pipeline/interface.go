package pipeline

import (
	"context"

	"codeberg.org/mutker/batterywidget/internal/battery"
	"codeberg.org/mutker/batterywidget/internal/render"
	"codeberg.org/mutker/batterywidget/internal/widget"
)

// Publisher makes a rendered surface visible for one widget instance.
type Publisher interface {
	Publish(ctx context.Context, id string, surface render.Surface) error
}

// Registry is the widget instance storage the Coordinator depends on.
type Registry interface {
	Get(ctx context.Context, id string) (*widget.Instance, error)
	Ensure(ctx context.Context, id string) (*widget.Instance, bool, error)
	SetKind(ctx context.Context, id string, kind widget.Kind, opts widget.Options) error
	Remove(ctx context.Context, id string) error
	AllIDs(ctx context.Context) ([]string, error)
}

type Stage int

const (
	StageIdle Stage = iota
	StageCapturing
	StagePersisting
	StagePruning
	StageRendering
)

func (s Stage) String() string {
	switch s {
	case StageCapturing:
		return "capturing"
	case StagePersisting:
		return "persisting"
	case StagePruning:
		return "pruning"
	case StageRendering:
		return "rendering"
	default:
		return "idle"
	}
}

type Trigger int

const (
	TriggerPowerEvent Trigger = iota
	TriggerPeriodicTick
	TriggerBootCompleted
	TriggerWidgetAdded
	TriggerWidgetRemoved
	TriggerWidgetKindChanged
)

func (t Trigger) String() string {
	switch t {
	case TriggerPowerEvent:
		return "power_event"
	case TriggerPeriodicTick:
		return "periodic_tick"
	case TriggerBootCompleted:
		return "boot_completed"
	case TriggerWidgetAdded:
		return "widget_added"
	case TriggerWidgetRemoved:
		return "widget_removed"
	case TriggerWidgetKindChanged:
		return "widget_kind_changed"
	default:
		return "unknown"
	}
}

// Report describes one finished or aborted run.
type Report struct {
	Trigger Trigger
	// Stage is the last stage the run entered.
	Stage Stage
	// Captured is set once a snapshot was read; Snapshot holds it.
	Captured bool
	Snapshot battery.Snapshot
	// Coalesced is set when the capture matched the newest stored timestamp
	// and was not appended again.
	Coalesced bool
	// StoreReset is set when corruption forced the store to start over.
	StoreReset bool
	Pruned     int
	Published  []string
	Failed     []string
}

package main

import (
	"bytes"
	"context"

	"codeberg.org/mutker/batterywidget/internal/config"
	"codeberg.org/mutker/batterywidget/internal/errors"
	"codeberg.org/mutker/batterywidget/internal/logger"
	"codeberg.org/mutker/batterywidget/internal/pipeline"
	"codeberg.org/mutker/batterywidget/internal/widget"
	jsoniter "github.com/json-iterator/go"
)

// defaultWidgetID is registered when the config declares no widgets.
const defaultWidgetID = "default"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type widgetTriggers interface {
	OnWidgetInstanceAdded(ctx context.Context, id string) (pipeline.Report, error)
	OnWidgetInstanceRemoved(ctx context.Context, id string) (pipeline.Report, error)
	OnWidgetKindChanged(ctx context.Context, id string, kind widget.Kind, opts widget.Options) (pipeline.Report, error)
}

type outputRemover interface {
	Remove(id string) error
}

// syncWidgets makes the registry match the declared widgets by raising the
// matching widget triggers. Registered ids that are no longer declared are
// removed along with their published output.
func syncWidgets(
	ctx context.Context,
	decls []config.WidgetDecl,
	reg pipeline.Registry,
	triggers widgetTriggers,
	out outputRemover,
	log logger.Logger,
) error {
	if len(decls) == 0 {
		decls = []config.WidgetDecl{{ID: defaultWidgetID}}
	}

	declared := make(map[string]struct{}, len(decls))
	for _, decl := range decls {
		declared[decl.ID] = struct{}{}

		if err := syncWidget(ctx, decl, reg, triggers, log); err != nil {
			return err
		}
	}

	ids, err := reg.AllIDs(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if _, ok := declared[id]; ok {
			continue
		}

		if _, err := triggers.OnWidgetInstanceRemoved(ctx, id); err != nil {
			return err
		}
		if err := out.Remove(id); err != nil {
			log.Warn().Err(err).Str("id", id).Msg("failed to remove published output")
		}
		log.Info().Str("id", id).Msg("widget removed")
	}

	return nil
}

func syncWidget(ctx context.Context, decl config.WidgetDecl, reg pipeline.Registry, triggers widgetTriggers, log logger.Logger) error {
	existing, err := reg.Get(ctx, decl.ID)
	if err != nil {
		return err
	}

	if decl.Kind == "" && len(decl.Options) == 0 {
		if existing != nil {
			return nil
		}
		if _, err := triggers.OnWidgetInstanceAdded(ctx, decl.ID); err != nil {
			return err
		}
		log.Info().Str("id", decl.ID).Msg("widget added")
		return nil
	}

	kind := widget.DefaultKind
	if decl.Kind != "" {
		kind, err = widget.ParseKind(decl.Kind)
		if err != nil {
			return errors.New().Wrap(errors.ErrInvalidWidget, err)
		}
	}
	opts := widget.Options(decl.Options)

	if existing != nil && existing.Kind == kind && sameOptions(existing.Options, opts) {
		return nil
	}

	if _, err := triggers.OnWidgetKindChanged(ctx, decl.ID, kind, opts); err != nil {
		return err
	}
	log.Info().Str("id", decl.ID).Str("kind", kind.String()).Msg("widget configured")

	return nil
}

// sameOptions compares options by their JSON encoding so that numbers
// decoded from TOML and from the registry compare equal.
func sameOptions(a, b widget.Options) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}

	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}

	return bytes.Equal(ja, jb)
}

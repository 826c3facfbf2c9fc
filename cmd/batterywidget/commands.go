package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"codeberg.org/mutker/batterywidget/internal/battery"
	"codeberg.org/mutker/batterywidget/internal/config"
	"codeberg.org/mutker/batterywidget/internal/history"
	"codeberg.org/mutker/batterywidget/internal/logger"
	"codeberg.org/mutker/batterywidget/internal/retention"
	"codeberg.org/mutker/batterywidget/internal/widget"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

const defaultHistoryLimit = 20

func historyCommand(ctx context.Context, args []string, w io.Writer) error {
	fs := config.NewFlagSet("history")
	since := fs.Duration("since", 0, "Only show snapshots newer than this age, 0 shows the newest")
	limit := fs.Int("limit", defaultHistoryLimit, "Maximum number of snapshots to print")

	cfg, err := loadConfig(ctx, fs, args)
	if err != nil {
		return err
	}

	store, err := history.Open(history.Config{DBPath: cfg.GetHistoryDBPath()}, logger.Default())
	if err != nil {
		return err
	}
	defer store.Close()

	now := time.Now()
	snaps, err := querySnapshots(ctx, store, now, *since, *limit)
	if err != nil {
		return err
	}

	total, err := store.Count(ctx)
	if err != nil {
		return err
	}

	return printSnapshots(w, snaps, total, now)
}

// querySnapshots returns up to limit snapshots, newest first.
func querySnapshots(ctx context.Context, store history.Store, now time.Time, since time.Duration, limit int) ([]battery.Snapshot, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	if since <= 0 {
		return store.Recent(ctx, limit)
	}

	asc, err := store.Range(ctx, now.Add(-since).UnixMilli())
	if err != nil {
		return nil, err
	}

	out := make([]battery.Snapshot, 0, min(limit, len(asc)))
	for i := len(asc) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, asc[i])
	}

	return out, nil
}

func printSnapshots(w io.Writer, snaps []battery.Snapshot, total int, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CAPTURED\tLEVEL\tSTATUS\tPLUG\tHEALTH\tTEMP\tVOLTAGE\tAGE")
	for _, s := range snaps {
		fmt.Fprintf(tw, "%s\t%d%%\t%s\t%s\t%s\t%.1f°C\t%.2fV\t%s\n",
			s.CapturedAt().Format(time.RFC3339),
			s.LevelPercent,
			s.ChargeState,
			s.PlugSource,
			s.HealthState,
			s.TemperatureCelsius(),
			s.VoltageVolts(),
			humanize.RelTime(s.CapturedAt(), now, "ago", "from now"),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\n%s of %s snapshots\n",
		humanize.Comma(int64(len(snaps))), humanize.Comma(int64(total)))

	return err
}

func pruneCommand(ctx context.Context, args []string, w io.Writer) error {
	cfg, err := loadConfig(ctx, config.NewFlagSet("prune"), args)
	if err != nil {
		return err
	}

	store, err := history.Open(history.Config{DBPath: cfg.GetHistoryDBPath()}, logger.Default())
	if err != nil {
		return err
	}
	defer store.Close()

	window := retention.Window{MaxAge: cfg.GetRetention()}
	removed, kept, err := prune(ctx, store, window, time.Now())
	if err != nil {
		return err
	}

	if window.Unbounded() {
		_, err = fmt.Fprintf(w, "retention disabled, %s snapshots kept\n", humanize.Comma(int64(kept)))
		return err
	}

	_, err = fmt.Fprintf(w, "removed %s snapshots older than %s, %s kept\n",
		humanize.Comma(int64(removed)), cfg.GetRetention(), humanize.Comma(int64(kept)))

	return err
}

// prune applies window once. removed is -1 when the window is unbounded.
func prune(ctx context.Context, store history.Store, window retention.Window, now time.Time) (removed, kept int, err error) {
	removed = -1
	if cutoff, ok := retention.Cutoff(now, window); ok {
		if removed, err = store.DeleteOlderThan(ctx, cutoff); err != nil {
			return 0, 0, err
		}
	}

	kept, err = store.Count(ctx)
	if err != nil {
		return 0, 0, err
	}

	return removed, kept, nil
}

func clearCommand(ctx context.Context, args []string, w io.Writer) error {
	cfg, err := loadConfig(ctx, config.NewFlagSet("clear"), args)
	if err != nil {
		return err
	}

	store, err := history.Open(history.Config{DBPath: cfg.GetHistoryDBPath()}, logger.Default())
	if err != nil {
		return err
	}
	defer store.Close()

	removed, err := clearHistory(ctx, store)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "cleared %s snapshots\n", humanize.Comma(int64(removed)))

	return err
}

// clearHistory empties the store and returns how many snapshots it held.
func clearHistory(ctx context.Context, store history.Store) (int, error) {
	count, err := store.Count(ctx)
	if err != nil {
		return 0, err
	}

	if err := store.Reset(ctx); err != nil {
		return 0, err
	}

	return count, nil
}

type widgetListing struct {
	Declared   []config.WidgetDecl `yaml:"declared"`
	Registered []registeredWidget  `yaml:"registered"`
}

type registeredWidget struct {
	ID      string         `yaml:"id"`
	Kind    string         `yaml:"kind"`
	Options widget.Options `yaml:"options,omitempty"`
	Updated string         `yaml:"updated"`
}

func widgetsCommand(ctx context.Context, args []string, w io.Writer) error {
	cfg, err := loadConfig(ctx, config.NewFlagSet("widgets"), args)
	if err != nil {
		return err
	}

	reg, err := widget.Open(widget.Config{Path: cfg.GetWidgetsDBPath()}, logger.Default())
	if err != nil {
		return err
	}
	defer reg.Close()

	instances, err := reg.All(ctx)
	if err != nil {
		return err
	}

	return writeWidgetListing(w, cfg.GetWidgets(), instances, time.Now())
}

func writeWidgetListing(w io.Writer, decls []config.WidgetDecl, instances []widget.Instance, now time.Time) error {
	listing := widgetListing{
		Declared:   decls,
		Registered: make([]registeredWidget, 0, len(instances)),
	}
	for _, inst := range instances {
		listing.Registered = append(listing.Registered, registeredWidget{
			ID:      inst.ID,
			Kind:    inst.Kind.String(),
			Options: inst.Options,
			Updated: humanize.RelTime(inst.UpdatedAt, now, "ago", "from now"),
		})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(listing); err != nil {
		return err
	}

	return enc.Close()
}

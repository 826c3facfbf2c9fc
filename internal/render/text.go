package render

import (
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/batterywidget/internal/battery"
	"codeberg.org/mutker/batterywidget/internal/widget"
	"github.com/dustin/go-humanize"
)

// Charge icon states reported by IconDetail.
const (
	IconCharging        = "charging"
	IconFull            = "full"
	IconPluggedAC       = "plugged_ac"
	IconPluggedUSB      = "plugged_usb"
	IconPluggedWireless = "plugged_wireless"
	IconPlugged         = "plugged"
	IconNone            = "none"
)

// IconDetail renders the level, a charge icon state and a 0..100 progress
// value for a bar.
func IconDetail(in Input, _ widget.Options) (Surface, error) {
	if in.Latest == nil {
		return Surface{
			Fields: []Field{
				{Key: "level_text", Value: NoData},
				{Key: "charge_icon_state", Value: IconNone},
				{Key: "percent_bar", Value: NoData},
			},
			NoData: true,
		}, nil
	}

	s := in.Latest
	return Surface{
		Fields: []Field{
			{Key: "level_text", Value: levelText(s)},
			{Key: "charge_icon_state", Value: chargeIconState(s)},
			{Key: "percent_bar", Value: strconv.Itoa(int(s.LevelPercent))},
		},
	}, nil
}

// TextOnly renders the level and whether the charging glyph shows. With
// show_details it adds a one-line summary.
func TextOnly(in Input, opts widget.Options) (Surface, error) {
	if in.Latest == nil {
		surface := Surface{
			Fields: []Field{
				{Key: "level_text", Value: NoData},
				{Key: "charge_glyph_visible", Value: "false"},
			},
			NoData: true,
		}
		if opts.Bool("show_details", false) {
			surface.Fields = append(surface.Fields, Field{Key: "details", Value: NoData})
		}
		return surface, nil
	}

	s := in.Latest
	surface := Surface{
		Fields: []Field{
			{Key: "level_text", Value: levelText(s)},
			{Key: "charge_glyph_visible", Value: strconv.FormatBool(s.ChargeState == battery.ChargeCharging)},
		},
	}
	if opts.Bool("show_details", false) {
		surface.Fields = append(surface.Fields, Field{Key: "details", Value: detailsLine(s, opts)})
	}

	return surface, nil
}

// DetailsTable renders every snapshot field. Without a snapshot each value
// is NoData.
func DetailsTable(in Input, _ widget.Options) (Surface, error) {
	keys := []string{"level", "status", "health", "temp_c", "voltage_v", "plug_source", "technology", "updated"}

	if in.Latest == nil {
		fields := make([]Field, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, Field{Key: k, Value: NoData})
		}
		return Surface{Fields: fields, NoData: true}, nil
	}

	s := in.Latest
	technology := s.Technology
	if technology == "" {
		technology = NoData
	}

	values := []string{
		levelText(s),
		s.ChargeState.String(),
		s.HealthState.String(),
		formatScaled(int64(s.TemperatureDeciC), 10),
		formatScaled(int64(s.VoltageMillivolts), 1000),
		s.PlugSource.String(),
		technology,
		updatedText(s.CapturedAt(), in.Now),
	}

	fields := make([]Field, len(keys))
	for i, k := range keys {
		fields[i] = Field{Key: k, Value: values[i]}
	}

	return Surface{Fields: fields}, nil
}

func levelText(s *battery.Snapshot) string {
	return strconv.Itoa(int(s.LevelPercent)) + "%"
}

func chargeIconState(s *battery.Snapshot) string {
	switch s.ChargeState {
	case battery.ChargeFull:
		return IconFull
	case battery.ChargeCharging:
		return IconCharging
	}

	switch s.PlugSource {
	case battery.PlugAC:
		return IconPluggedAC
	case battery.PlugUSB:
		return IconPluggedUSB
	case battery.PlugWireless:
		return IconPluggedWireless
	case battery.PlugOther:
		return IconPlugged
	default:
		return IconNone
	}
}

// statusText is the charge state, naming the plug source while charging.
func statusText(s *battery.Snapshot) string {
	if s.ChargeState == battery.ChargeCharging && s.PlugSource != battery.PlugNone {
		return s.ChargeState.String() + " (" + s.PlugSource.String() + ")"
	}
	return s.ChargeState.String()
}

func detailsLine(s *battery.Snapshot, opts widget.Options) string {
	parts := []string{statusText(s)}

	if opts.Bool("show_voltage", true) && s.VoltageMillivolts > 0 {
		parts = append(parts, formatScaled(int64(s.VoltageMillivolts), 1000)+" V")
	}
	if opts.Bool("show_temperature", true) && s.TemperatureDeciC != 0 {
		parts = append(parts, strconv.FormatFloat(s.TemperatureCelsius(), 'f', 1, 64)+" °C")
	}
	if opts.Bool("show_health", false) {
		parts = append(parts, s.HealthState.String())
	}
	if opts.Bool("show_technology", false) && s.Technology != "" && !strings.EqualFold(s.Technology, "unknown") {
		parts = append(parts, s.Technology)
	}

	return strings.Join(parts, " | ")
}

// formatScaled prints v/div with the shortest exact decimal form.
func formatScaled(v, div int64) string {
	return strconv.FormatFloat(float64(v)/float64(div), 'f', -1, 64)
}

func updatedText(captured, now time.Time) string {
	if now.IsZero() {
		return captured.UTC().Format(time.RFC3339)
	}
	return humanize.RelTime(captured, now, "ago", "from now")
}

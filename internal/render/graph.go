package render

import (
	"bytes"
	"encoding/hex"
	"image/color"
	"sort"
	"strconv"
	"strings"

	"codeberg.org/mutker/batterywidget/internal/battery"
	"codeberg.org/mutker/batterywidget/internal/errors"
	"codeberg.org/mutker/batterywidget/internal/widget"
	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

const (
	defaultGraphWidth  = 500
	defaultGraphHeight = 200
	defaultLineColor   = "#4CAF50"
	defaultLineWidth   = 2.0
	defaultGraphLimit  = 100

	maxGraphSide  = 4096
	maxGraphLimit = 10000

	graphPadding = 4.0
	fillAlpha    = 50
	noDataLabel  = "No data"
)

var gridColor = color.NRGBA{R: 0x80, G: 0x80, B: 0x80, A: 0x60}

type graphOptions struct {
	Width     int
	Height    int
	LineColor color.NRGBA
	LineWidth float64
	Fill      bool
	Grid      bool
	Limit     int
}

func graphOptionsFrom(opts widget.Options) graphOptions {
	lineColor, ok := parseHexColor(opts.String("line_color", defaultLineColor))
	if !ok {
		lineColor, _ = parseHexColor(defaultLineColor)
	}

	lineWidth := opts.Float("line_width", defaultLineWidth)
	if lineWidth <= 0 {
		lineWidth = defaultLineWidth
	}

	return graphOptions{
		Width:     graphSide(opts.Int("width", defaultGraphWidth), defaultGraphWidth),
		Height:    graphSide(opts.Int("height", defaultGraphHeight), defaultGraphHeight),
		LineColor: lineColor,
		LineWidth: lineWidth,
		Fill:      opts.Bool("fill", true),
		Grid:      opts.Bool("grid", true),
		Limit:     clamp(opts.Int("limit", defaultGraphLimit), 1, maxGraphLimit),
	}
}

// Graph draws the level series as a polyline. Points are spaced evenly by
// sample index and the y axis always spans 0..100. An empty series yields a
// "No data" placeholder and a single sample a lone dot, both at the
// requested size.
func Graph(in Input, opts widget.Options) (Surface, error) {
	o := graphOptionsFrom(opts)
	series := prepareSeries(in.Series, o.Limit)

	dc := gg.NewContext(o.Width, o.Height)
	dc.SetFontFace(basicfont.Face7x13)

	pad := min(graphPadding, float64(min(o.Width, o.Height))/4)
	left, top := pad, pad
	plotW := float64(o.Width) - 2*pad
	plotH := float64(o.Height) - 2*pad
	yOf := func(level uint8) float64 {
		return top + (1-float64(level)/100)*plotH
	}

	if o.Grid {
		dc.SetColor(gridColor)
		dc.SetLineWidth(1)
		for pct := 0; pct <= 100; pct += 25 {
			y := yOf(uint8(pct))
			dc.DrawLine(left, y, left+plotW, y)
			dc.Stroke()
		}
	}

	switch len(series) {
	case 0:
		dc.SetColor(color.White)
		dc.DrawStringAnchored(noDataLabel, float64(o.Width)/2, float64(o.Height)/2, 0.5, 0.5)
	case 1:
		dc.SetColor(o.LineColor)
		dc.DrawCircle(left+plotW/2, yOf(series[0].LevelPercent), max(o.LineWidth*1.5, 2))
		dc.Fill()
	default:
		step := plotW / float64(len(series)-1)
		xOf := func(i int) float64 { return left + float64(i)*step }

		if o.Fill {
			fill := o.LineColor
			fill.A = fillAlpha
			dc.SetColor(fill)
			dc.MoveTo(xOf(0), top+plotH)
			for i, s := range series {
				dc.LineTo(xOf(i), yOf(s.LevelPercent))
			}
			dc.LineTo(xOf(len(series)-1), top+plotH)
			dc.ClosePath()
			dc.Fill()
		}

		dc.SetColor(o.LineColor)
		dc.SetLineWidth(o.LineWidth)
		dc.SetLineJoinRound()
		dc.MoveTo(xOf(0), yOf(series[0].LevelPercent))
		for i := 1; i < len(series); i++ {
			dc.LineTo(xOf(i), yOf(series[i].LevelPercent))
		}
		dc.Stroke()
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return Surface{}, errors.New().Wrap(ErrEncode, err)
	}

	surface := Surface{
		Fields: []Field{{Key: "samples", Value: strconv.Itoa(len(series))}},
		Image:  &Image{Width: o.Width, Height: o.Height, PNG: buf.Bytes()},
		NoData: len(series) == 0,
	}
	if len(series) == 0 {
		surface.Fields = append(surface.Fields, Field{Key: "title", Value: noDataLabel})
	}

	return surface, nil
}

// prepareSeries orders samples oldest first, keeps the later of any two
// that share a timestamp and trims to the newest limit samples.
func prepareSeries(in []battery.Snapshot, limit int) []battery.Snapshot {
	if len(in) == 0 {
		return nil
	}

	sorted := make([]battery.Snapshot, len(in))
	copy(sorted, in)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CapturedAtMillis < sorted[j].CapturedAtMillis
	})

	out := sorted[:0]
	for _, s := range sorted {
		if n := len(out); n > 0 && out[n-1].CapturedAtMillis == s.CapturedAtMillis {
			out[n-1] = s
			continue
		}
		out = append(out, s)
	}

	if len(out) > limit {
		out = out[len(out)-limit:]
	}

	return out
}

func parseHexColor(s string) (color.NRGBA, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 && len(s) != 8 {
		return color.NRGBA{}, false
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return color.NRGBA{}, false
	}

	c := color.NRGBA{R: b[0], G: b[1], B: b[2], A: 0xff}
	if len(b) == 4 {
		c.A = b[3]
	}
	return c, true
}

// graphSide keeps a positive requested side as is, capped at maxGraphSide.
// Zero or negative values fall back to def.
func graphSide(v, def int) int {
	if v <= 0 {
		return def
	}
	return min(v, maxGraphSide)
}

func clamp(v, lo, hi int) int {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

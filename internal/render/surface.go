// Package render turns battery data into widget surfaces. Renderers are
// pure: they read their Input and options and touch nothing else, so one
// Set can serve many instances in parallel.
package render

import (
	"time"

	"codeberg.org/mutker/batterywidget/internal/battery"
	"codeberg.org/mutker/batterywidget/internal/errors"
	"codeberg.org/mutker/batterywidget/internal/widget"
)

// NoData replaces any field value that cannot be derived.
const NoData = "N/A"

type Field struct {
	Key   string
	Value string
}

// Image is an encoded PNG raster.
type Image struct {
	Width  int
	Height int
	PNG    []byte
}

// Surface is what a widget instance displays.
type Surface struct {
	Kind   widget.Kind
	Fields []Field
	Image  *Image
	// NoData is set when the surface was rendered without any snapshot.
	NoData bool
}

// Field returns the value stored under key.
func (s Surface) Field(key string) (string, bool) {
	for _, f := range s.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Input is the data a renderer may look at.
type Input struct {
	Latest *battery.Snapshot
	// Series is ordered oldest first.
	Series []battery.Snapshot
	Now    time.Time
}

type Renderer interface {
	Render(in Input, opts widget.Options) (Surface, error)
}

// RenderFunc adapts a plain function to Renderer.
type RenderFunc func(in Input, opts widget.Options) (Surface, error)

func (f RenderFunc) Render(in Input, opts widget.Options) (Surface, error) {
	return f(in, opts)
}

// Set maps each kind to its renderer.
type Set struct {
	renderers map[widget.Kind]Renderer
}

// NewSet returns a Set with the built-in renderers for every kind.
func NewSet() *Set {
	return &Set{
		renderers: map[widget.Kind]Renderer{
			widget.KindIconDetail:   RenderFunc(IconDetail),
			widget.KindTextOnly:     RenderFunc(TextOnly),
			widget.KindDetailsTable: RenderFunc(DetailsTable),
			widget.KindGraph:        RenderFunc(Graph),
		},
	}
}

// Register replaces the renderer for kind.
func (s *Set) Register(kind widget.Kind, r Renderer) {
	s.renderers[kind] = r
}

// Render runs the renderer for kind. A kind without a renderer fails with
// ErrUnsupported.
func (s *Set) Render(kind widget.Kind, in Input, opts widget.Options) (Surface, error) {
	r, ok := s.renderers[kind]
	if !ok {
		return Surface{}, errors.New().WithData(ErrUnsupported, struct {
			Kind string
		}{kind.String()})
	}

	surface, err := r.Render(in, opts)
	if err != nil {
		return Surface{}, err
	}
	surface.Kind = kind

	return surface, nil
}

// Empty renders kind with no data at all. It is what an instance shows
// when its own render failed; it never returns an unusable surface.
func (s *Set) Empty(kind widget.Kind, opts widget.Options, now time.Time) Surface {
	surface, err := s.Render(kind, Input{Now: now}, opts)
	if err == nil {
		return surface
	}

	surface, err = s.Render(widget.DefaultKind, Input{Now: now}, nil)
	if err == nil {
		return surface
	}

	return Surface{
		Kind:   kind,
		Fields: []Field{{Key: "status", Value: NoData}},
		NoData: true,
	}
}

// NeedsSeries reports whether kind draws from the snapshot series rather
// than only the latest snapshot.
func NeedsSeries(kind widget.Kind) bool {
	return kind == widget.KindGraph
}

// SeriesLimit is the number of recent samples a series renderer wants.
func SeriesLimit(opts widget.Options) int {
	return graphOptionsFrom(opts).Limit
}

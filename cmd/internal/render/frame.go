// Package render turns the cursor table into pixel-space frames for an
// external Renderer.
package render

import (
	"log/slog"
	"time"

	"github.com/psryland/three-blind-mice/cmd/internal/region"
)

// Drawable is one cursor ready to draw, in overlay-local pixels.
type Drawable struct {
	Identity string
	Label    string
	Colour   string
	Pos      region.Point
	// Trail is oldest first; empty unless Laser is set.
	Trail []region.Point
	// Laser is set while the primary button is held.
	Laser bool
}

// Frame is one render pass's output. Receivers must not modify it.
type Frame struct {
	At     time.Time
	Region region.Region
	Items  []Drawable
}

// Renderer draws frames. Draw is called from the producer goroutine and should return promptly.
type Renderer interface {
	Draw(Frame)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(Frame)

// Draw calls f.
func (f RendererFunc) Draw(fr Frame) { f(fr) }

// LogRenderer is the headless Renderer: it logs a summary whenever the set
// of visible cursors changes.
type LogRenderer struct {
	log  *slog.Logger
	last int
}

// NewLogRenderer returns a LogRenderer writing to log.
func NewLogRenderer(log *slog.Logger) *LogRenderer {
	if log == nil {
		log = slog.Default()
	}
	return &LogRenderer{log: log, last: -1}
}

// Draw implements Renderer.
func (r *LogRenderer) Draw(f Frame) {
	if len(f.Items) == r.last {
		return
	}
	r.last = len(f.Items)

	ids := make([]string, 0, len(f.Items))
	for _, d := range f.Items {
		ids = append(ids, d.Identity)
	}
	r.log.Debug("render.frame", "cursors", len(f.Items), "ids", ids, "region", f.Region.Source.String())
}

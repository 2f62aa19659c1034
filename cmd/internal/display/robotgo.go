// Package display enumerates local monitors through robotgo. It needs cgo
// and is imported only by the binary.
package display

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/psryland/three-blind-mice/cmd/internal/region"
	v1 "github.com/psryland/three-blind-mice/shared/contracts/overlay/v1"

	"github.com/go-vgo/robotgo"
)

// ErrNoDisplays reports that the platform returned no usable monitor.
var ErrNoDisplays = errors.New("display: no displays")

// Robotgo implements host.MonitorSource.
type Robotgo struct {
	log *slog.Logger
}

// NewRobotgo returns a monitor source backed by robotgo.
func NewRobotgo(log *slog.Logger) *Robotgo {
	if log == nil {
		log = slog.Default()
	}
	return &Robotgo{log: log}
}

// Monitors lists the displays in platform order; index 0 is the primary display.
func (r *Robotgo) Monitors() ([]v1.MonitorInfo, error) {
	n := robotgo.DisplaysNum()
	out := make([]v1.MonitorInfo, 0, n)
	for i := 0; i < n; i++ {
		x, y, w, h := robotgo.GetDisplayBounds(i)
		if w <= 0 || h <= 0 {
			r.log.Debug("display.skip", "index", i, "width", w, "height", h)
			continue
		}
		out = append(out, v1.MonitorInfo{
			Index:  i,
			Name:   fmt.Sprintf("Display %d", i+1),
			Left:   x,
			Top:    y,
			Width:  w,
			Height: h,
		})
	}
	if len(out) == 0 {
		return nil, ErrNoDisplays
	}
	return out, nil
}

// Primary returns the primary display bounds, or region.Fallback() when
// enumeration fails.
func (r *Robotgo) Primary() region.Region {
	list, err := r.Monitors()
	if err != nil {
		r.log.Info("display.primary.fallback", "err", err)
		return region.Fallback()
	}
	m := list[0]
	return region.Region{Left: m.Left, Top: m.Top, Width: m.Width, Height: m.Height}
}

// Package region maps normalised cursor positions into overlay pixels
// through the currently selected source rectangle.
package region

import (
	"errors"
	"fmt"
)

// Default bounds used when no display information is available.
const (
	DefaultWidth  = 1920
	DefaultHeight = 1080
)

// ErrInvalidRegion reports a rectangle with a non-positive size.
var ErrInvalidRegion = errors.New("region: invalid bounds")

// Source identifies what selected the active region.
type Source uint8

const (
	SourceDefault Source = iota
	SourceMonitor
	SourceWindow
	SourceRect
)

func (s Source) String() string {
	switch s {
	case SourceMonitor:
		return "monitor"
	case SourceWindow:
		return "window"
	case SourceRect:
		return "rect"
	default:
		return "default"
	}
}

// Point is a position: normalised in [0,1] on input, pixels on output.
type Point struct {
	X float64
	Y float64
}

// Region is a rectangle in virtual-desktop pixels.
type Region struct {
	Left   int
	Top    int
	Width  int
	Height int

	// Window is the tracked window handle when Source is SourceWindow.
	Window string
	Source Source
}

// Valid reports whether the rectangle has a positive size.
func (r Region) Valid() bool { return r.Width > 0 && r.Height > 0 }

func (r Region) validate() error {
	if !r.Valid() {
		return fmt.Errorf("%w: %dx%d", ErrInvalidRegion, r.Width, r.Height)
	}
	return nil
}

// Fallback is the region used when nothing better is known.
func Fallback() Region {
	return Region{Width: DefaultWidth, Height: DefaultHeight, Source: SourceDefault}
}

// Map converts a normalised point to overlay-local pixels:
// region origin + p*region size - overlay origin.
func Map(p Point, r Region, overlayOrigin Point) Point {
	return Point{
		X: float64(r.Left) + p.X*float64(r.Width) - overlayOrigin.X,
		Y: float64(r.Top) + p.Y*float64(r.Height) - overlayOrigin.Y,
	}
}

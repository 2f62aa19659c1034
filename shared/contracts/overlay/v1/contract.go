// Package v1 defines the Three Blind Mice overlay protocol v1 contract.
//
// Every application payload is a flat JSON object carrying a "type"
// discriminant. This package is pure: decoding never touches shared state
// and never panics on hostile input.
package v1

import "encoding/json"

// Limits enforced by Decode and Encode (wire-stable).
const (
	// MaxPayloadBytes is the hard cap on a single application payload.
	MaxPayloadBytes = 4096
	// MaxDepth is the deepest allowed object/array nesting (top-level object = 1).
	MaxDepth = 5
)

// Type constants (wire-stable).
const (
	// TypeCursor carries one pointer position (remote input -> overlay).
	TypeCursor = "cursor"
	// TypeJoin announces a remote identity.
	TypeJoin = "join"
	// TypeLeave removes a remote identity.
	TypeLeave = "leave"
	// TypeHostConfig describes the overlay host to the remote-input side.
	TypeHostConfig = "host_config"

	// Host orchestration set: passed through unchanged.
	TypeRegionByMonitor   = "region_by_monitor"
	TypeRegionByWindow    = "region_by_window"
	TypeRegionByRect      = "region_by_rect"
	TypePickWindowRequest = "pick_window_request"
	TypePickRectRequest   = "pick_rect_request"
	TypeWindowPicked      = "window_picked"
	TypeRectPicked        = "rect_picked"
	TypeMonitorList       = "monitor_list"
	TypeWindowList        = "window_list"
	TypeThumbnail         = "thumbnail"
)

// Button is the pointer button state. Values outside the enum are clamped by
// the cursor store, not rejected here.
type Button int

const (
	ButtonNone      Button = 0
	ButtonPrimary   Button = 1 // laser
	ButtonSecondary Button = 2 // reserved
)

// IsHostType reports whether typ belongs to the host orchestration set.
func IsHostType(typ string) bool {
	switch typ {
	case TypeRegionByMonitor,
		TypeRegionByWindow,
		TypeRegionByRect,
		TypePickWindowRequest,
		TypePickRectRequest,
		TypeWindowPicked,
		TypeRectPicked,
		TypeMonitorList,
		TypeWindowList,
		TypeThumbnail:
		return true
	default:
		return false
	}
}

// Event is the decoded form of one application payload.
// The set of implementations is closed; switch on the concrete type.
type Event interface {
	EventType() string
	event()
}

// CursorUpdate moves one remote pointer. X and Y are normalised but not yet clamped.
type CursorUpdate struct {
	Identity string
	Name     string
	Colour   string
	X        float64
	Y        float64
	Button   Button
}

// Join announces an identity before (or instead of) its first cursor update.
type Join struct {
	Identity string
	Name     string
	Colour   string
}

// Leave removes an identity.
type Leave struct {
	Identity string
}

// HostConfig is informational; the overlay publishes it, remote inputs consume it.
type HostConfig struct {
	AspectRatio float64
	MonitorName string
}

// HostEvent is an orchestration payload forwarded verbatim.
type HostEvent struct {
	Type string
	Raw  json.RawMessage
}

// Unrecognized is returned (alongside a rejection) for an unknown type discriminant.
type Unrecognized struct {
	Type string
}

func (CursorUpdate) EventType() string   { return TypeCursor }
func (Join) EventType() string           { return TypeJoin }
func (Leave) EventType() string          { return TypeLeave }
func (HostConfig) EventType() string     { return TypeHostConfig }
func (e HostEvent) EventType() string    { return e.Type }
func (e Unrecognized) EventType() string { return e.Type }

func (CursorUpdate) event() {}
func (Join) event()         {}
func (Leave) event()        {}
func (HostConfig) event()   {}
func (HostEvent) event()    {}
func (Unrecognized) event() {}

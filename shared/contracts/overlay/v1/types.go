package v1

// ---- Wire payloads ----
//
// These mirror the JSON objects on the wire. Decode does not unmarshal into
// them directly (it checks field types one by one); they are used by Encode
// and by collaborators that build outbound payloads.

// CursorPayload is the wire form of TypeCursor.
type CursorPayload struct {
	Type   string  `json:"type"`
	UserID string  `json:"user_id"`
	Name   string  `json:"name,omitempty"`
	Colour string  `json:"colour"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Button int     `json:"button"`
}

// JoinPayload is the wire form of TypeJoin.
type JoinPayload struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Colour string `json:"colour"`
}

// LeavePayload is the wire form of TypeLeave.
type LeavePayload struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// HostConfigPayload is the wire form of TypeHostConfig.
type HostConfigPayload struct {
	Type        string  `json:"type"`
	AspectRatio float64 `json:"aspect_ratio"`
	MonitorName string  `json:"monitor_name,omitempty"`
}

// ---- Host orchestration payloads ----

// RegionByMonitorPayload selects a monitor by index.
type RegionByMonitorPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// RegionByWindowPayload selects a window to track by its opaque handle.
type RegionByWindowPayload struct {
	Type   string `json:"type"`
	Handle string `json:"handle"`
}

// RegionByRectPayload selects an explicit virtual-desktop rectangle.
type RegionByRectPayload struct {
	Type   string `json:"type"`
	Left   int    `json:"left"`
	Top    int    `json:"top"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// WindowPickedPayload is the reply to a pick_window_request.
type WindowPickedPayload struct {
	Type   string `json:"type"`
	Handle string `json:"handle"`
	Title  string `json:"title,omitempty"`
}

// RectPickedPayload is the reply to a pick_rect_request.
type RectPickedPayload struct {
	Type   string `json:"type"`
	Left   int    `json:"left"`
	Top    int    `json:"top"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// MonitorInfo is one entry of a monitor_list payload.
type MonitorInfo struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Left   int    `json:"left"`
	Top    int    `json:"top"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// MonitorListPayload advertises the host's monitors.
type MonitorListPayload struct {
	Type     string        `json:"type"`
	Monitors []MonitorInfo `json:"monitors"`
}

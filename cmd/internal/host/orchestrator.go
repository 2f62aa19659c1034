// Package host applies region selection events from the session owner and
// advertises this overlay's display layout back to the channel.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/psryland/three-blind-mice/cmd/internal/region"
	v1 "github.com/psryland/three-blind-mice/shared/contracts/overlay/v1"
)

const maxHandleLen = 64

var (
	// ErrNoMonitor reports a monitor index outside the enumerated set.
	ErrNoMonitor = errors.New("host: no such monitor")
	// ErrNoTracker reports a window selection with no tracker configured.
	ErrNoTracker = errors.New("host: window tracking unavailable")
)

// MonitorSource enumerates the displays of this machine.
type MonitorSource interface {
	Monitors() ([]v1.MonitorInfo, error)
}

// WindowTracker follows a window's bounds. Track returns the current bounds
// and calls onChange for every later move/resize until another window is
// tracked. Tracking a new window stops the previous one.
type WindowTracker interface {
	Track(ctx context.Context, handle string, onChange func(handle string, bounds region.Region)) (region.Region, error)
}

// Picker handles interactive pick requests and their replies.
type Picker interface {
	HandlePick(ctx context.Context, ev v1.HostEvent)
}

// Publisher sends events to the channel. *realtime.ChannelClient implements it.
type Publisher interface {
	Send(ctx context.Context, ev v1.Event) bool
}

// RegionTarget is the active-region holder. *region.Mapper implements it.
type RegionTarget interface {
	Current() region.Region
	SetMonitor(bounds region.Region) error
	SetRect(r region.Region) error
	TrackWindow(window string, bounds region.Region) error
	BoundsChanged(window string, bounds region.Region) bool
}

// Config lists the optional collaborators. Nil entries disable the feature.
type Config struct {
	Monitors MonitorSource
	Windows  WindowTracker
	Picker   Picker
}

// Orchestrator routes host events. It is safe for use from the channel client goroutine.
type Orchestrator struct {
	log     *slog.Logger
	regions RegionTarget

	monitors MonitorSource
	windows  WindowTracker
	picker   Picker

	lastConfig atomic.Pointer[v1.HostConfig]
}

// NewOrchestrator wires an orchestrator around the active-region holder.
func NewOrchestrator(log *slog.Logger, regions RegionTarget, cfg Config) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		log:      log,
		regions:  regions,
		monitors: cfg.Monitors,
		windows:  cfg.Windows,
		picker:   cfg.Picker,
	}
}

// HostConfig returns the last host_config seen on the channel.
func (o *Orchestrator) HostConfig() (v1.HostConfig, bool) {
	c := o.lastConfig.Load()
	if c == nil {
		return v1.HostConfig{}, false
	}
	return *c, true
}

// HandleHost applies one host event. Invalid events are logged and dropped.
func (o *Orchestrator) HandleHost(ctx context.Context, ev v1.Event) {
	switch e := ev.(type) {
	case v1.HostConfig:
		o.lastConfig.Store(&e)
		o.log.Info("host.config", "aspect_ratio", e.AspectRatio, "monitor", e.MonitorName)
	case v1.HostEvent:
		if err := o.handleEvent(ctx, e); err != nil {
			o.log.Info("host.event.drop", "type", e.Type, "reason", v1.RejectReason(err), "err", err)
		}
	default:
		o.log.Debug("host.event.ignored", "type", ev.EventType())
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, e v1.HostEvent) error {
	switch e.Type {
	case v1.TypeRegionByRect:
		var p v1.RegionByRectPayload
		if err := v1.DecodeHostPayload(e.Raw, &p); err != nil {
			return err
		}
		return o.regions.SetRect(region.Region{Left: p.Left, Top: p.Top, Width: p.Width, Height: p.Height})

	case v1.TypeRegionByMonitor:
		var p v1.RegionByMonitorPayload
		if err := v1.DecodeHostPayload(e.Raw, &p); err != nil {
			return err
		}
		bounds, err := o.monitorBounds(p.Index)
		if err != nil {
			return err
		}
		return o.regions.SetMonitor(bounds)

	case v1.TypeRegionByWindow:
		var p v1.RegionByWindowPayload
		if err := v1.DecodeHostPayload(e.Raw, &p); err != nil {
			return err
		}
		if p.Handle == "" || len(p.Handle) > maxHandleLen {
			return fmt.Errorf("host: bad window handle (len=%d)", len(p.Handle))
		}
		if o.windows == nil {
			return ErrNoTracker
		}
		bounds, err := o.windows.Track(ctx, p.Handle, func(handle string, b region.Region) {
			o.regions.BoundsChanged(handle, b)
		})
		if err != nil {
			return fmt.Errorf("host: track window: %w", err)
		}
		return o.regions.TrackWindow(p.Handle, bounds)

	default:
		if o.picker == nil {
			o.log.Debug("host.event.unhandled", "type", e.Type)
			return nil
		}
		o.picker.HandlePick(ctx, e)
		return nil
	}
}

func (o *Orchestrator) monitorBounds(index int) (region.Region, error) {
	if o.monitors == nil {
		return region.Region{}, ErrNoMonitor
	}
	list, err := o.monitors.Monitors()
	if err != nil {
		return region.Region{}, fmt.Errorf("host: enumerate monitors: %w", err)
	}
	for _, m := range list {
		if m.Index == index {
			return region.Region{Left: m.Left, Top: m.Top, Width: m.Width, Height: m.Height}, nil
		}
	}
	return region.Region{}, fmt.Errorf("%w: %d", ErrNoMonitor, index)
}

// Announce publishes this overlay's host_config and, when monitors are
// known, a monitor_list. Called after every (re)connect.
func (o *Orchestrator) Announce(ctx context.Context, pub Publisher) {
	cur := o.regions.Current()

	cfg := v1.HostConfig{AspectRatio: float64(cur.Width) / float64(cur.Height)}
	var list []v1.MonitorInfo
	if o.monitors != nil {
		var err error
		if list, err = o.monitors.Monitors(); err != nil {
			o.log.Info("host.monitors.fail", "err", err)
		}
	}
	for _, m := range list {
		if m.Left == cur.Left && m.Top == cur.Top && m.Width == cur.Width && m.Height == cur.Height {
			cfg.MonitorName = m.Name
			break
		}
	}

	if !pub.Send(ctx, cfg) {
		o.log.Debug("host.announce.skip", "type", v1.TypeHostConfig)
	}
	if len(list) == 0 {
		return
	}

	raw, err := json.Marshal(v1.MonitorListPayload{Type: v1.TypeMonitorList, Monitors: list})
	if err != nil {
		o.log.Info("host.monitors.encode_fail", "err", err)
		return
	}
	if !pub.Send(ctx, v1.HostEvent{Type: v1.TypeMonitorList, Raw: raw}) {
		o.log.Debug("host.announce.skip", "type", v1.TypeMonitorList)
	}
}

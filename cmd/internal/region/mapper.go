package region

import (
	"log/slog"
	"sync/atomic"
)

// Mapper holds the active Region. Writers replace the whole value; readers
// always observe a complete rectangle.
type Mapper struct {
	log *slog.Logger
	def Region
	cur atomic.Pointer[Region]
}

// NewMapper starts from def, or Fallback() when def is not a valid rectangle.
func NewMapper(log *slog.Logger, def Region) *Mapper {
	if log == nil {
		log = slog.Default()
	}
	if !def.Valid() {
		def = Fallback()
	}
	def.Source = SourceDefault
	def.Window = ""

	m := &Mapper{log: log, def: def}
	m.store(def)
	return m
}

// Current returns the active region.
func (m *Mapper) Current() Region { return *m.cur.Load() }

// Map maps p through the active region.
func (m *Mapper) Map(p, overlayOrigin Point) Point {
	return Map(p, m.Current(), overlayOrigin)
}

// SetMonitor selects a monitor's bounds and stops following any window.
func (m *Mapper) SetMonitor(bounds Region) error {
	bounds.Source = SourceMonitor
	bounds.Window = ""
	return m.set(bounds)
}

// SetRect selects an explicit rectangle and stops following any window.
func (m *Mapper) SetRect(r Region) error {
	r.Source = SourceRect
	r.Window = ""
	return m.set(r)
}

// TrackWindow follows window, starting from its current bounds.
func (m *Mapper) TrackWindow(window string, bounds Region) error {
	bounds.Source = SourceWindow
	bounds.Window = window
	return m.set(bounds)
}

// BoundsChanged applies a tracker notification. It is ignored unless window
// is the one currently tracked; the compare and swap keeps a late
// notification from overwriting a newer selection.
func (m *Mapper) BoundsChanged(window string, bounds Region) bool {
	if !bounds.Valid() {
		return false
	}
	bounds.Source = SourceWindow
	bounds.Window = window

	for {
		cur := m.cur.Load()
		if cur.Source != SourceWindow || cur.Window != window {
			return false
		}
		next := bounds
		if m.cur.CompareAndSwap(cur, &next) {
			return true
		}
	}
}

// Reset restores the default region.
func (m *Mapper) Reset() { m.store(m.def) }

func (m *Mapper) set(r Region) error {
	if err := r.validate(); err != nil {
		m.log.Debug("region.reject", "source", r.Source.String(), "width", r.Width, "height", r.Height)
		return err
	}
	m.store(r)
	m.log.Info("region.set", "source", r.Source.String(), "left", r.Left, "top", r.Top, "width", r.Width, "height", r.Height)
	return nil
}

func (m *Mapper) store(r Region) {
	m.cur.Store(&r)
}

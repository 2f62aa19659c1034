// Package cursor holds the live remote-cursor table shared by the network
// and render contexts.
//
// Writers serialize on a mutex and publish a fresh immutable table through an
// atomic pointer. Readers (Snapshot) never take the lock: a slow render pass
// cannot stall ingestion, and a record is only ever observed whole.
package cursor

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	v1 "github.com/psryland/three-blind-mice/shared/contracts/overlay/v1"
)

// Point is a normalised (x, y) sample in [0,1]x[0,1].
type Point struct {
	X float64
	Y float64
}

// Record is one remote cursor. Published records are never mutated.
type Record struct {
	Identity    string
	Name        string
	Colour      string
	X           float64
	Y           float64
	Button      v1.Button
	LastUpdated time.Time
	Trail       []Point

	// Seq is the join order; snapshots are sorted by it.
	Seq uint64
}

type table map[string]*Record

// Store is the concurrent identity -> Record table.
type Store struct {
	log *slog.Logger

	mu  sync.Mutex // serializes writers
	seq uint64

	cur     atomic.Pointer[table]
	changed chan struct{}
}

// NewStore constructs an empty Store.
func NewStore(log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		log:     log,
		changed: make(chan struct{}, 1),
	}
	empty := make(table)
	s.cur.Store(&empty)
	return s
}

// Changed delivers a coalesced signal after every accepted mutation.
func (s *Store) Changed() <-chan struct{} { return s.changed }

// Len returns the number of live records.
func (s *Store) Len() int { return len(*s.cur.Load()) }

// Upsert applies a cursor update. Invalid updates and new identities beyond
// MaxUsers are dropped; the result reports whether the update was applied.
func (s *Store) Upsert(u v1.CursorUpdate, now time.Time) bool {
	id, ok := NormalizeIdentity(u.Identity)
	if !ok {
		s.log.Debug("store.reject.identity")
		return false
	}
	if !ValidColour(u.Colour) {
		s.log.Debug("store.reject.colour")
		return false
	}
	name := truncateRunes(stripControl(u.Name), MaxNameChars)
	x, y := clamp01(u.X), clamp01(u.Y)
	btn := clampButton(u.Button)

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.cur.Load()
	prev, exists := cur[id]
	if !exists && len(cur) >= MaxUsers {
		s.log.Debug("store.reject.capacity", "live", len(cur))
		return false
	}

	next := &Record{
		Identity:    id,
		Name:        name,
		Colour:      u.Colour,
		X:           x,
		Y:           y,
		Button:      btn,
		LastUpdated: now,
	}
	var prevTrail []Point
	if exists {
		next.Seq = prev.Seq
		prevTrail = prev.Trail
		if name == "" {
			next.Name = prev.Name
		}
	} else {
		s.seq++
		next.Seq = s.seq
	}
	if btn == v1.ButtonPrimary {
		next.Trail = appendTrail(prevTrail, Point{X: x, Y: y})
	}

	s.publish(cur, id, next)
	return true
}

// Add registers an identity from an explicit join. A join for a known
// identity refreshes name, colour and LastUpdated but keeps position and trail.
func (s *Store) Add(j v1.Join, now time.Time) bool {
	id, ok := NormalizeIdentity(j.Identity)
	if !ok {
		s.log.Debug("store.reject.identity")
		return false
	}
	if !ValidColour(j.Colour) {
		s.log.Debug("store.reject.colour")
		return false
	}
	name := truncateRunes(stripControl(j.Name), MaxNameChars)

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.cur.Load()
	if prev, exists := cur[id]; exists {
		next := *prev
		next.Colour = j.Colour
		next.LastUpdated = now
		if name != "" {
			next.Name = name
		}
		s.publish(cur, id, &next)
		return true
	}
	if len(cur) >= MaxUsers {
		s.log.Debug("store.reject.capacity", "live", len(cur))
		return false
	}

	s.seq++
	s.publish(cur, id, &Record{
		Identity:    id,
		Name:        name,
		Colour:      j.Colour,
		X:           0.5,
		Y:           0.5,
		Button:      v1.ButtonNone,
		LastUpdated: now,
		Seq:         s.seq,
	})
	return true
}

// Remove deletes identity. Absent identities are ignored.
func (s *Store) Remove(identity string) bool {
	id, ok := NormalizeIdentity(identity)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.cur.Load()
	if _, exists := cur[id]; !exists {
		return false
	}
	s.publish(cur, id, nil)
	return true
}

// SweepInactive removes every record idle for longer than InactivityTimeout
// and returns the removed identities.
func (s *Store) SweepInactive(now time.Time) []string {
	// Lock-free pre-check keeps the common no-op pass off the writer mutex.
	if !hasExpired(*s.cur.Load(), now) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.cur.Load()
	next := make(table, len(cur))
	var removed []string
	for id, r := range cur {
		if now.Sub(r.LastUpdated) > InactivityTimeout {
			removed = append(removed, id)
			continue
		}
		next[id] = r
	}
	if len(removed) == 0 {
		return nil
	}
	s.cur.Store(&next)
	s.notify()

	sort.Strings(removed)
	return removed
}

// Snapshot returns a caller-owned copy of all live records ordered by join order.
func (s *Store) Snapshot() []Record {
	cur := *s.cur.Load()
	out := make([]Record, 0, len(cur))
	for _, r := range cur {
		cp := *r
		if len(r.Trail) > 0 {
			cp.Trail = append([]Point(nil), r.Trail...)
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Clear drops every record (store teardown).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	empty := make(table)
	s.cur.Store(&empty)
	s.notify()
}

// publish installs a copy of cur with id set to r (or deleted when r is nil).
// Caller holds s.mu.
func (s *Store) publish(cur table, id string, r *Record) {
	next := make(table, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	if r == nil {
		delete(next, id)
	} else {
		next[id] = r
	}
	s.cur.Store(&next)
	s.notify()
}

func (s *Store) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func hasExpired(t table, now time.Time) bool {
	for _, r := range t {
		if now.Sub(r.LastUpdated) > InactivityTimeout {
			return true
		}
	}
	return false
}

func appendTrail(prev []Point, p Point) []Point {
	start := 0
	if len(prev)+1 > TrailCapacity {
		start = len(prev) + 1 - TrailCapacity
	}
	out := make([]Point, 0, len(prev)-start+1)
	out = append(out, prev[start:]...)
	return append(out, p)
}

package render

import (
	"context"
	"log/slog"
	"time"

	"github.com/psryland/three-blind-mice/cmd/internal/cursor"
	"github.com/psryland/three-blind-mice/cmd/internal/region"
	v1 "github.com/psryland/three-blind-mice/shared/contracts/overlay/v1"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// DefaultFrameRate is the fixed pass cadence in Hz.
const DefaultFrameRate = 60

// CursorSource is the producer's view of the cursor store.
type CursorSource interface {
	SweepInactive(now time.Time) []string
	Snapshot() []cursor.Record
	Changed() <-chan struct{}
}

// RegionSource supplies the active region.
type RegionSource interface {
	Current() region.Region
}

// Options configures a Producer. Zero values use defaults.
type Options struct {
	FrameRate     int
	OverlayOrigin region.Point
	Registerer    prometheus.Registerer
}

// Producer runs render passes on a fixed ticker and, paced to the same
// rate, whenever the store reports a change.
type Producer struct {
	log      *slog.Logger
	cursors  CursorSource
	regions  RegionSource
	renderer Renderer

	interval time.Duration
	pacer    *rate.Limiter
	origin   region.Point

	passes  prometheus.Counter
	evicted prometheus.Counter
	live    prometheus.Gauge
}

// NewProducer wires a producer. A nil renderer logs frames instead of drawing them.
func NewProducer(log *slog.Logger, cursors CursorSource, regions RegionSource, renderer Renderer, opts Options) *Producer {
	if log == nil {
		log = slog.Default()
	}
	if renderer == nil {
		renderer = NewLogRenderer(log)
	}
	fps := opts.FrameRate
	if fps <= 0 {
		fps = DefaultFrameRate
	}

	p := &Producer{
		log:      log,
		cursors:  cursors,
		regions:  regions,
		renderer: renderer,
		interval: time.Second / time.Duration(fps),
		pacer:    rate.NewLimiter(rate.Limit(fps), 1),
		origin:   opts.OverlayOrigin,
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tbm", Subsystem: "render", Name: "passes_total",
			Help: "Render passes executed.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tbm", Subsystem: "render", Name: "evictions_total",
			Help: "Cursors removed for inactivity.",
		}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tbm", Subsystem: "render", Name: "live_cursors",
			Help: "Cursors in the last frame.",
		}),
	}
	if opts.Registerer != nil {
		opts.Registerer.MustRegister(p.passes, p.evicted, p.live)
	}
	return p
}

// Run drives passes until ctx is done. It always returns ctx.Err().
func (p *Producer) Run(ctx context.Context) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	p.log.Info("render.start", "interval", p.interval)
	defer p.log.Info("render.stop")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			p.Pass(now)
		case <-p.cursors.Changed():
			// The ticker catches anything skipped here.
			if p.pacer.Allow() {
				p.Pass(time.Now())
			}
		}
	}
}

// Pass runs one sweep/snapshot/map cycle and hands the frame to the renderer.
func (p *Producer) Pass(now time.Time) Frame {
	if removed := p.cursors.SweepInactive(now); len(removed) > 0 {
		p.evicted.Add(float64(len(removed)))
		p.log.Debug("render.evict", "count", len(removed))
	}

	records := p.cursors.Snapshot()
	reg := p.regions.Current()

	items := make([]Drawable, 0, len(records))
	for _, rec := range records {
		label := rec.Name
		if label == "" {
			label = rec.Identity
		}
		d := Drawable{
			Identity: rec.Identity,
			Label:    label,
			Colour:   rec.Colour,
			Pos:      region.Map(region.Point{X: rec.X, Y: rec.Y}, reg, p.origin),
			Laser:    rec.Button == v1.ButtonPrimary,
		}
		if len(rec.Trail) > 0 {
			d.Trail = make([]region.Point, len(rec.Trail))
			for i, tp := range rec.Trail {
				d.Trail[i] = region.Map(region.Point{X: tp.X, Y: tp.Y}, reg, p.origin)
			}
		}
		items = append(items, d)
	}

	f := Frame{At: now, Region: reg, Items: items}
	p.renderer.Draw(f)

	p.passes.Inc()
	p.live.Set(float64(len(items)))
	return f
}

// Package app wires the overlay runtime: config, logging, the channel
// client, the render producer and the local status server.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/psryland/three-blind-mice/cmd/internal/cursor"
	"github.com/psryland/three-blind-mice/cmd/internal/host"
	"github.com/psryland/three-blind-mice/cmd/internal/realtime"
	"github.com/psryland/three-blind-mice/cmd/internal/region"
	"github.com/psryland/three-blind-mice/cmd/internal/render"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// Options carries the launch group and the platform collaborators.
// Nil collaborators disable the matching feature.
type Options struct {
	Group string

	Monitors      host.MonitorSource
	Windows       host.WindowTracker
	Picker        host.Picker
	Renderer      render.Renderer
	DefaultRegion region.Region

	// Negotiator overrides the HTTPS token service client.
	Negotiator realtime.Negotiator
}

// App is the overlay runtime.
type App struct {
	cfg Config
	log Logger

	registry *prometheus.Registry
	store    *cursor.Store
	mapper   *region.Mapper
	host     *host.Orchestrator
	client   *realtime.ChannelClient
	producer *render.Producer

	announce   chan struct{}
	statusAddr atomic.Value // string
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger, opts Options) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}
	if strings.TrimSpace(opts.Group) == "" {
		return nil, errors.New("app: empty session group")
	}

	identity := cfg.Identity
	if identity == "" {
		id, err := realtime.NewIdentity(time.Now().UTC())
		if err != nil {
			return nil, err
		}
		identity = id
	}

	negotiator := opts.Negotiator
	if negotiator == nil {
		n, err := realtime.NewHTTPNegotiator(NegotiateEndpoint, &http.Client{Timeout: 15 * time.Second})
		if err != nil {
			return nil, err
		}
		negotiator = n
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &App{
		cfg:      cfg,
		log:      log,
		registry: reg,
		store:    cursor.NewStore(log),
		mapper:   region.NewMapper(log, opts.DefaultRegion),
		announce: make(chan struct{}, 1),
	}
	a.statusAddr.Store("")

	a.host = host.NewOrchestrator(log, a.mapper, host.Config{
		Monitors: opts.Monitors,
		Windows:  opts.Windows,
		Picker:   opts.Picker,
	})

	client, err := realtime.NewChannelClient(log, negotiator, a.store, realtime.ClientConfig{
		Identity: identity,
		Group:    opts.Group,
		Host:     a.host,
		Observer: realtime.ObserverFunc(a.onStatus),
		Metrics:  realtime.NewMetrics(reg),
		Settings: realtime.Settings{
			HeartbeatInterval: cfg.HeartbeatInterval,
			HeartbeatTimeout:  cfg.HeartbeatTimeout,
		},
	})
	if err != nil {
		return nil, err
	}
	a.client = client

	a.producer = render.NewProducer(log, a.store, a.mapper, opts.Renderer, render.Options{
		FrameRate:     cfg.FrameRate,
		OverlayOrigin: cfg.OverlayOrigin,
		Registerer:    reg,
	})

	log.Info("app.configured", "group", opts.Group, "identity", identity, "status_addr", cfg.StatusAddr)
	return a, nil
}

// Run starts every component and blocks until ctx is cancelled or the
// status server fails. The channel is disconnected and the store cleared
// before it returns.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.client.Start(gctx)

	g.Go(func() error {
		return ignoreCanceled(a.producer.Run(gctx))
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-a.announce:
				a.host.Announce(gctx, a.client)
			}
		}
	})

	if a.cfg.StatusAddr != "" {
		g.Go(func() error { return a.serveStatus(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		a.client.Disconnect()
		a.store.Clear()
		return nil
	})

	err := g.Wait()
	a.log.Info("app.stopped", "err", err)
	return err
}

// StatusAddr returns the bound status listener address once serving.
func (a *App) StatusAddr() string { return a.statusAddr.Load().(string) }

func (a *App) onStatus(ev realtime.StatusEvent) {
	switch ev.State {
	case realtime.StateConnected:
		a.log.Info("channel.state", "state", ev.State.String(), "group", a.client.Group(), "expires", ev.Expires)
		select {
		case a.announce <- struct{}{}:
		default:
		}
	case realtime.StateReconnecting:
		a.log.Info("channel.state", "state", ev.State.String(), "attempt", ev.Attempt, "delay", ev.Delay, "err", ev.Err)
	default:
		a.log.Debug("channel.state", "state", ev.State.String())
	}
}

func (a *App) ready() (bool, string) {
	st := a.client.State()
	return st == realtime.StateConnected, st.String()
}

func (a *App) serveStatus(ctx context.Context) error {
	mux := http.NewServeMux()
	registerStatus(mux, a.log, a.ready, a.registry)

	srv := &http.Server{
		Handler:           WithRequestLogging(WithSecurityHeaders(mux), a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    1 << 16,
	}

	ln, err := net.Listen("tcp", a.cfg.StatusAddr)
	if err != nil {
		return err
	}
	a.statusAddr.Store(ln.Addr().String())
	a.log.Info("status.start", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("status.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("status.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("status.shutdown.fail", "err", err)
		return err
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

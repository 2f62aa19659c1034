package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/psryland/three-blind-mice/cmd/internal/cursor"
	v1 "github.com/psryland/three-blind-mice/shared/contracts/overlay/v1"

	"github.com/coder/websocket"
)

// State is the channel client's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateNegotiating
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// StatusEvent is a non-fatal state transition report.
type StatusEvent struct {
	State State
	// Attempt counts consecutive failed attempts (Reconnecting only).
	Attempt int
	// Delay is the backoff wait before the next attempt (Reconnecting only).
	Delay time.Duration
	// Err is the failure that caused a Reconnecting transition, if any.
	Err error
	// Expires is the channel token expiry on Connected, when known.
	Expires time.Time
}

// Observer receives status events. Calls happen on the client's goroutine and must not block.
type Observer interface {
	OnStatus(StatusEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(StatusEvent)

// OnStatus calls f.
func (f ObserverFunc) OnStatus(ev StatusEvent) { f(ev) }

// CursorSink receives identity events. *cursor.Store implements it.
type CursorSink interface {
	Upsert(u v1.CursorUpdate, now time.Time) bool
	Add(j v1.Join, now time.Time) bool
	Remove(identity string) bool
}

// HostSink receives host_config and host orchestration events.
type HostSink interface {
	HandleHost(ctx context.Context, ev v1.Event)
}

// Settings tunes timing. Zero fields fall back to defaults.
type Settings struct {
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	CloseGrace        time.Duration
	WriteTimeout      time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultSettings returns the production timing.
func DefaultSettings() Settings {
	return Settings{
		BackoffInitial:    backoffInitial,
		BackoffMax:        backoffMax,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		CloseGrace:        closeGrace,
		WriteTimeout:      writeTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.BackoffInitial <= 0 {
		s.BackoffInitial = d.BackoffInitial
	}
	if s.BackoffMax <= 0 {
		s.BackoffMax = d.BackoffMax
	}
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = d.HeartbeatInterval
	}
	if s.HeartbeatTimeout <= 0 {
		s.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if s.CloseGrace <= 0 {
		s.CloseGrace = d.CloseGrace
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = d.WriteTimeout
	}
	if s.RateEvents <= 0 {
		s.RateEvents = d.RateEvents
	}
	if s.RateWindow <= 0 {
		s.RateWindow = d.RateWindow
	}
	return s
}

// ClientConfig names the channel and the optional collaborators.
type ClientConfig struct {
	Identity string
	Group    string

	Host     HostSink
	Observer Observer
	Metrics  *Metrics
	Settings Settings
}

// ChannelClient keeps one realtime channel connection alive and feeds
// decoded events into the cursor sink and host sink.
//
// Lifecycle: Start launches the reconnect loop; Disconnect tears it down
// permanently within a bounded wait. Inbound state (the cursor sink) is never
// cleared across reconnects.
type ChannelClient struct {
	log        *slog.Logger
	negotiator Negotiator
	cursors    CursorSink
	limiter    *IdentityLimiter

	identity string
	group    string
	host     HostSink
	observer Observer
	metrics  *Metrics
	settings Settings

	state    atomic.Int32
	ackSeq   atomic.Uint64
	stopping atomic.Bool

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	stopOnce sync.Once
}

// NewChannelClient validates inputs and constructs a client in StateDisconnected.
func NewChannelClient(log *slog.Logger, negotiator Negotiator, cursors CursorSink, cfg ClientConfig) (*ChannelClient, error) {
	if log == nil {
		log = slog.Default()
	}
	if negotiator == nil {
		return nil, errors.New("realtime: nil negotiator")
	}
	if cursors == nil {
		return nil, errors.New("realtime: nil cursor sink")
	}
	if strings.TrimSpace(cfg.Group) == "" {
		return nil, errors.New("realtime: empty group")
	}
	if strings.TrimSpace(cfg.Identity) == "" {
		return nil, errors.New("realtime: empty identity")
	}

	s := cfg.Settings.withDefaults()
	return &ChannelClient{
		log:        log,
		negotiator: negotiator,
		cursors:    cursors,
		limiter:    NewIdentityLimiter(s.RateEvents, s.RateWindow),
		identity:   cfg.Identity,
		group:      cfg.Group,
		host:       cfg.Host,
		observer:   cfg.Observer,
		metrics:    cfg.Metrics,
		settings:   s,
	}, nil
}

// State returns the current connection state.
func (c *ChannelClient) State() State { return State(c.state.Load()) }

// Group returns the channel group this client joins.
func (c *ChannelClient) Group() string { return c.group }

// Start launches the connect/reconnect loop. Subsequent calls are no-ops.
func (c *ChannelClient) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return
	}
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		defer c.setState(StatusEvent{State: StateDisconnected})
		c.run(runCtx)
	}()
}

// Disconnect stops the loop permanently. It attempts a graceful close
// bounded by Settings.CloseGrace, then force-closes, and returns after the
// loop exits or a second grace period elapses.
func (c *ChannelClient) Disconnect() {
	c.stopOnce.Do(func() {
		c.stopping.Store(true)

		c.mu.Lock()
		cancel, done, conn := c.cancel, c.done, c.conn
		c.mu.Unlock()

		if conn != nil {
			if !closeBounded(conn, c.settings.CloseGrace) {
				c.log.Info("channel.close.forced", "grace", c.settings.CloseGrace)
			}
		}
		if cancel != nil {
			cancel()
		}
		if done != nil {
			select {
			case <-done:
			case <-time.After(c.settings.CloseGrace):
				c.log.Info("channel.loop.abandoned")
			}
		}
		c.setState(StatusEvent{State: StateDisconnected})
	})
}

// Send publishes ev to the group. It is a silent no-op unless Connected.
func (c *ChannelClient) Send(ctx context.Context, ev v1.Event) bool {
	if c.State() != StateConnected {
		return false
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}

	payload, err := v1.Encode(ev)
	if err != nil {
		c.log.Debug("channel.send.encode_fail", "type", ev.EventType(), "err", err)
		return false
	}
	frame := sendToGroupFrame{
		Type:     frameSendToGroup,
		Group:    c.group,
		DataType: dataTypeJSON,
		Data:     payload,
		NoEcho:   true,
	}
	if err := writeFrame(ctx, conn, frame, c.settings.WriteTimeout); err != nil {
		c.log.Info("channel.send.fail", "type", ev.EventType(), "err", err)
		return false
	}
	return true
}

// ---- loop ----

func (c *ChannelClient) run(ctx context.Context) {
	bo := NewBackoff(c.settings.BackoffInitial, c.settings.BackoffMax)

	for {
		if c.halted(ctx) {
			return
		}

		c.setState(StatusEvent{State: StateNegotiating})
		c.metrics.attempt()

		err := c.connectAndServe(ctx, bo)
		if c.halted(ctx) {
			return
		}

		delay := bo.Next()
		c.log.Info("channel.reconnect.wait", "group", c.group, "attempt", bo.Attempt(), "delay", delay, "err", err)
		c.setState(StatusEvent{State: StateReconnecting, Attempt: bo.Attempt(), Delay: delay, Err: err})

		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

// connectAndServe negotiates, dials and serves one connection. It only
// returns once that connection (or the attempt to make it) has failed.
func (c *ChannelClient) connectAndServe(ctx context.Context, bo *Backoff) error {
	ch, err := c.negotiator.Negotiate(ctx, c.identity, c.group)
	if err != nil {
		return err
	}

	conn, err := dial(ctx, ch.URL)
	if err != nil {
		return err
	}

	bo.Reset()
	err = c.serve(ctx, conn, ch)
	c.metrics.reconnect()
	return err
}

func (c *ChannelClient) serve(ctx context.Context, conn *websocket.Conn, ch Channel) error {
	defer func() { _ = conn.CloseNow() }()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
	}()

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	join := joinGroupFrame{Type: frameJoinGroup, Group: c.group, AckID: c.ackSeq.Add(1)}
	if err := writeFrame(serveCtx, conn, join, c.settings.WriteTimeout); err != nil {
		return fmt.Errorf("realtime: join group: %w", err)
	}

	c.log.Info("channel.connected", "group", c.group)
	c.setState(StatusEvent{State: StateConnected, Expires: ch.Expires})

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		c.heartbeat(serveCtx, conn)
	}()
	defer func() {
		cancel()
		<-heartbeatDone
	}()

	for {
		mt, data, err := conn.Read(serveCtx)
		if err != nil {
			kind := classifyReadErr(err)
			c.log.Info("channel.read.end", "group", c.group, "kind", kind.String(), "close_status", int(websocket.CloseStatus(err)))
			return err
		}
		if mt != websocket.MessageText {
			c.metrics.reject("binary_frame")
			continue
		}
		c.handleFrame(serveCtx, data, time.Now())
	}
}

// heartbeat pings the peer and force-closes the connection after
// maxPingFailures consecutive failures, which ends the read loop.
func (c *ChannelClient) heartbeat(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(c.settings.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, c.settings.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				if ctx.Err() != nil {
					return
				}
				failures++
				c.log.Info("channel.ping.fail", "failures", failures, "err", err)
				if failures >= maxPingFailures {
					_ = conn.CloseNow()
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (c *ChannelClient) handleFrame(ctx context.Context, data []byte, now time.Time) {
	c.metrics.frame()

	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		c.metrics.reject(v1.ReasonMalformed)
		c.log.Debug("channel.frame.reject", "reason", v1.ReasonMalformed)
		return
	}

	switch f.Type {
	case frameSystem:
		c.log.Info("channel.system", "event", f.Event)
	case frameAck:
		if f.Success != nil && !*f.Success {
			c.log.Info("channel.ack.fail", "ack_id", f.AckID)
		}
	case frameMessage:
		payload, ok := groupPayload(f, c.group)
		if !ok {
			c.metrics.reject("frame")
			return
		}
		c.dispatch(ctx, payload, now)
	default:
		c.metrics.reject("frame")
	}
}

// dispatch decodes one application payload and routes it. Every failure is a silent drop.
func (c *ChannelClient) dispatch(ctx context.Context, payload []byte, now time.Time) {
	ev, err := v1.Decode(payload)
	if err != nil {
		reason := v1.RejectReason(err)
		c.metrics.reject(reason)
		c.log.Debug("channel.payload.reject", "reason", reason)
		return
	}

	switch e := ev.(type) {
	case v1.CursorUpdate:
		key, ok := cursor.NormalizeIdentity(e.Identity)
		if !ok {
			c.metrics.reject(v1.ReasonFieldType)
			return
		}
		if !c.limiter.Admit(key, now) {
			c.metrics.limited()
			return
		}
		c.cursors.Upsert(e, now)
	case v1.Join:
		c.cursors.Add(e, now)
	case v1.Leave:
		c.cursors.Remove(e.Identity)
		if key, ok := cursor.NormalizeIdentity(e.Identity); ok {
			c.limiter.Forget(key)
		}
	case v1.HostConfig, v1.HostEvent:
		if c.host != nil {
			c.host.HandleHost(ctx, ev)
		}
	}
}

func (c *ChannelClient) halted(ctx context.Context) bool {
	return ctx.Err() != nil || c.stopping.Load()
}

func (c *ChannelClient) setState(ev StatusEvent) {
	old := State(c.state.Swap(int32(ev.State)))
	if old == StateDisconnected && ev.State == StateDisconnected {
		return
	}
	c.metrics.setState(ev.State)
	if c.observer != nil {
		c.observer.OnStatus(ev)
	}
}

// ---- transport helpers ----

func dial(ctx context.Context, channelURL string) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dctx, channelURL, &websocket.DialOptions{
		Subprotocols: []string{pubsubSubprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}
	if sp := conn.Subprotocol(); sp != pubsubSubprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("realtime: subprotocol mismatch: got=%q want=%q", sp, pubsubSubprotocol)
	}

	conn.SetReadLimit(maxFrameBytes)
	return conn, nil
}

func writeFrame(parent context.Context, conn *websocket.Conn, frame any, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// closeBounded attempts a graceful close and falls back to CloseNow after grace.
// It reports whether the graceful close completed in time. The fallback does
// not wait: CloseNow blocks while a Close handshake is still in flight.
func closeBounded(conn *websocket.Conn, grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	select {
	case <-done:
		return true
	case <-time.After(grace):
		go func() { _ = conn.CloseNow() }()
		return false
	}
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func (k readErrKind) String() string {
	switch k {
	case readErrClose:
		return "peer_close"
	case readErrCtxDone:
		return "context_done"
	case readErrConnClosed:
		return "conn_closed"
	default:
		return "unknown"
	}
}

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

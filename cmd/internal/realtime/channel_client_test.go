package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/psryland/three-blind-mice/cmd/internal/cursor"
	v1 "github.com/psryland/three-blind-mice/shared/contracts/overlay/v1"

	"github.com/coder/websocket"
)

const testGroup = "AB12"

// pubsubServer is a minimal Web PubSub stand-in: it accepts the JSON
// subprotocol, records joinGroup frames and hands each connection to the test.
type pubsubServer struct {
	t  *testing.T
	ts *httptest.Server

	joins    chan string
	conns    chan *websocket.Conn
	received chan []byte

	// holdReads makes the handler stop reading after the join frame.
	holdReads atomic.Bool
	release   chan struct{}
}

func newPubsubServer(t *testing.T) *pubsubServer {
	t.Helper()

	s := &pubsubServer{
		t:        t,
		joins:    make(chan string, 16),
		conns:    make(chan *websocket.Conn, 16),
		received: make(chan []byte, 128),
		release:  make(chan struct{}),
	}
	s.ts = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		close(s.release)
		s.ts.Close()
	})
	return s
}

func (s *pubsubServer) handle(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{pubsubSubprotocol},
	})
	if err != nil {
		return
	}
	defer func() { _ = c.CloseNow() }()

	ctx := r.Context()
	_, data, err := c.Read(ctx)
	if err != nil {
		return
	}
	var jf joinGroupFrame
	if err := json.Unmarshal(data, &jf); err != nil || jf.Type != frameJoinGroup {
		return
	}
	s.joins <- jf.Group
	s.conns <- c

	if s.holdReads.Load() {
		<-s.release
		return
	}
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		s.received <- data
	}
}

func (s *pubsubServer) url() string {
	return "ws" + strings.TrimPrefix(s.ts.URL, "http")
}

func (s *pubsubServer) negotiator(calls *atomic.Int32) Negotiator {
	return NegotiatorFunc(func(ctx context.Context, identity, group string) (Channel, error) {
		if calls != nil {
			calls.Add(1)
		}
		return Channel{URL: s.url()}, nil
	})
}

func (s *pubsubServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case g := <-s.joins:
		if g != testGroup {
			t.Fatalf("joinGroup group=%q want %q", g, testGroup)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for joinGroup")
	}
	select {
	case c := <-s.conns:
		return c
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for server conn")
	}
	return nil
}

func pushGroupMessage(t *testing.T, c *websocket.Conn, payload string) {
	t.Helper()

	frame := fmt.Sprintf(`{"type":"message","from":"group","group":%q,"dataType":"json","data":%s}`, testGroup, payload)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func cursorPayload(id string, x, y float64) string {
	return fmt.Sprintf(`{"type":"cursor","user_id":%q,"name":"n","colour":"#FF0000","x":%g,"y":%g,"button":0}`, id, x, y)
}

type statusLog struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (l *statusLog) OnStatus(ev StatusEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *statusLog) snapshot() []StatusEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]StatusEvent(nil), l.events...)
}

// countingSink wraps a Store and signals every Remove.
type countingSink struct {
	*cursor.Store
	upserts atomic.Int32
	removed chan string
}

func (s *countingSink) Upsert(u v1.CursorUpdate, now time.Time) bool {
	s.upserts.Add(1)
	return s.Store.Upsert(u, now)
}

func (s *countingSink) Remove(identity string) bool {
	ok := s.Store.Remove(identity)
	s.removed <- identity
	return ok
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastSettings() Settings {
	return Settings{
		BackoffInitial:    10 * time.Millisecond,
		BackoffMax:        40 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		CloseGrace:        200 * time.Millisecond,
	}
}

func newTestClient(t *testing.T, n Negotiator, sink CursorSink, obs Observer) *ChannelClient {
	t.Helper()

	c, err := NewChannelClient(testLogger(), n, sink, ClientConfig{
		Identity: "self",
		Group:    testGroup,
		Observer: obs,
		Settings: fastSettings(),
	})
	if err != nil {
		t.Fatalf("NewChannelClient: %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestNewChannelClient_RejectsBadConfig(t *testing.T) {
	t.Parallel()

	n := NegotiatorFunc(func(context.Context, string, string) (Channel, error) { return Channel{}, nil })
	store := cursor.NewStore(testLogger())

	if _, err := NewChannelClient(nil, nil, store, ClientConfig{Identity: "a", Group: "g"}); err == nil {
		t.Fatalf("expected error for nil negotiator")
	}
	if _, err := NewChannelClient(nil, n, nil, ClientConfig{Identity: "a", Group: "g"}); err == nil {
		t.Fatalf("expected error for nil sink")
	}
	if _, err := NewChannelClient(nil, n, store, ClientConfig{Identity: "a", Group: " "}); err == nil {
		t.Fatalf("expected error for empty group")
	}
	if _, err := NewChannelClient(nil, n, store, ClientConfig{Identity: "", Group: "g"}); err == nil {
		t.Fatalf("expected error for empty identity")
	}
}

func TestChannelClient_FramesUpdateStore(t *testing.T) {
	t.Parallel()

	srv := newPubsubServer(t)
	store := cursor.NewStore(testLogger())
	obs := &statusLog{}
	c := newTestClient(t, srv.negotiator(nil), store, obs)

	c.Start(context.Background())
	conn := srv.nextConn(t)
	waitFor(t, "connected", func() bool { return c.State() == StateConnected })

	pushGroupMessage(t, conn, `{"type":"join","user_id":"bob","name":"Bob","colour":"#00FF00"}`)
	pushGroupMessage(t, conn, cursorPayload("alice", 0.25, 0.75))

	waitFor(t, "two records", func() bool { return store.Len() == 2 })

	snap := store.Snapshot()
	if snap[0].Identity != "bob" || snap[0].X != 0.5 || snap[0].Y != 0.5 {
		t.Fatalf("join record = %+v", snap[0])
	}
	if snap[1].Identity != "alice" || snap[1].X != 0.25 || snap[1].Y != 0.75 {
		t.Fatalf("cursor record = %+v", snap[1])
	}

	pushGroupMessage(t, conn, `{"type":"leave","user_id":"bob"}`)
	waitFor(t, "leave applied", func() bool { return store.Len() == 1 })

	states := obs.snapshot()
	if len(states) < 2 || states[0].State != StateNegotiating || states[1].State != StateConnected {
		t.Fatalf("unexpected state sequence: %+v", states)
	}
}

func TestChannelClient_RateLimitsPerIdentity(t *testing.T) {
	t.Parallel()

	srv := newPubsubServer(t)
	sink := &countingSink{Store: cursor.NewStore(testLogger()), removed: make(chan string, 4)}
	c := newTestClient(t, srv.negotiator(nil), sink, nil)

	c.Start(context.Background())
	conn := srv.nextConn(t)

	for i := 0; i < 35; i++ {
		pushGroupMessage(t, conn, cursorPayload("spammer", 0.5, float64(i)/100))
	}
	// Frames are handled in order, so the leave marks the end of the burst.
	pushGroupMessage(t, conn, `{"type":"leave","user_id":"sentinel"}`)

	select {
	case <-sink.removed:
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for sentinel leave")
	}
	if got := sink.upserts.Load(); got != 30 {
		t.Fatalf("upserts=%d want 30", got)
	}
}

func TestChannelClient_ReconnectsWithoutClearingStore(t *testing.T) {
	t.Parallel()

	srv := newPubsubServer(t)
	store := cursor.NewStore(testLogger())
	obs := &statusLog{}
	var calls atomic.Int32
	c := newTestClient(t, srv.negotiator(&calls), store, obs)

	c.Start(context.Background())
	first := srv.nextConn(t)
	pushGroupMessage(t, first, cursorPayload("alice", 0.1, 0.2))
	waitFor(t, "first record", func() bool { return store.Len() == 1 })

	_ = first.Close(websocket.StatusGoingAway, "service restart")

	second := srv.nextConn(t)
	if calls.Load() < 2 {
		t.Fatalf("negotiate calls=%d want >=2", calls.Load())
	}
	waitFor(t, "reconnected", func() bool { return c.State() == StateConnected })
	if store.Len() != 1 {
		t.Fatalf("store cleared across reconnect: len=%d", store.Len())
	}

	pushGroupMessage(t, second, cursorPayload("bob", 0.3, 0.4))
	waitFor(t, "second record", func() bool { return store.Len() == 2 })

	sawReconnecting := false
	for _, ev := range obs.snapshot() {
		if ev.State == StateReconnecting {
			sawReconnecting = true
		}
	}
	if !sawReconnecting {
		t.Fatalf("expected a reconnecting status event")
	}
}

func TestChannelClient_SendRequiresConnection(t *testing.T) {
	t.Parallel()

	srv := newPubsubServer(t)
	store := cursor.NewStore(testLogger())
	c := newTestClient(t, srv.negotiator(nil), store, nil)

	ev := v1.CursorUpdate{Identity: "self", Colour: "#0000FF", X: 0.5, Y: 0.5}
	if c.Send(context.Background(), ev) {
		t.Fatalf("Send while disconnected should report false")
	}

	c.Start(context.Background())
	srv.nextConn(t)
	waitFor(t, "connected", func() bool { return c.State() == StateConnected })

	if !c.Send(context.Background(), ev) {
		t.Fatalf("Send while connected should report true")
	}

	select {
	case data := <-srv.received:
		var f sendToGroupFrame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("unmarshal sendToGroup: %v", err)
		}
		if f.Type != frameSendToGroup || f.Group != testGroup || f.DataType != dataTypeJSON || !f.NoEcho {
			t.Fatalf("unexpected frame: %+v", f)
		}
		got, err := v1.Decode(f.Data)
		if err != nil {
			t.Fatalf("decode sent payload: %v", err)
		}
		if cu, ok := got.(v1.CursorUpdate); !ok || cu.Identity != "self" {
			t.Fatalf("sent payload = %#v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for sendToGroup")
	}
}

func TestChannelClient_DisconnectIsBounded(t *testing.T) {
	t.Parallel()

	srv := newPubsubServer(t)
	srv.holdReads.Store(true)
	store := cursor.NewStore(testLogger())
	c := newTestClient(t, srv.negotiator(nil), store, nil)

	c.Start(context.Background())
	srv.nextConn(t)
	waitFor(t, "connected", func() bool { return c.State() == StateConnected })

	start := time.Now()
	c.Disconnect()
	// Graceful close and loop wait are each bounded by CloseGrace (200ms).
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Disconnect took %v", elapsed)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state=%v want disconnected", c.State())
	}

	// Idempotent.
	c.Disconnect()
	if c.Send(context.Background(), v1.Leave{Identity: "self"}) {
		t.Fatalf("Send after Disconnect should report false")
	}
}

func TestChannelClient_NegotiationFailureBacksOff(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	n := NegotiatorFunc(func(context.Context, string, string) (Channel, error) {
		calls.Add(1)
		return Channel{}, ErrNegotiate
	})
	obs := &statusLog{}
	c := newTestClient(t, n, cursor.NewStore(testLogger()), obs)

	c.Start(context.Background())
	waitFor(t, "four attempts", func() bool { return calls.Load() >= 4 })
	c.Disconnect()

	var delays []time.Duration
	for _, ev := range obs.snapshot() {
		if ev.State != StateReconnecting {
			continue
		}
		if !errors.Is(ev.Err, ErrNegotiate) {
			t.Fatalf("reconnecting err=%v want ErrNegotiate", ev.Err)
		}
		delays = append(delays, ev.Delay)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	if len(delays) < len(want) {
		t.Fatalf("delays=%v want prefix %v", delays, want)
	}
	for i, d := range want {
		if delays[i] != d {
			t.Fatalf("delay[%d]=%v want %v (all=%v)", i, delays[i], d, delays)
		}
	}
}

func TestChannelClient_DefaultBackoffRenegotiatesAfterOneSecond(t *testing.T) {
	t.Parallel()

	srv := newPubsubServer(t)
	calls := make(chan time.Time, 8)
	n := NegotiatorFunc(func(context.Context, string, string) (Channel, error) {
		select {
		case calls <- time.Now():
		default:
		}
		return Channel{URL: srv.url()}, nil
	})
	reconnecting := make(chan StatusEvent, 4)
	obs := ObserverFunc(func(ev StatusEvent) {
		if ev.State != StateReconnecting {
			return
		}
		select {
		case reconnecting <- ev:
		default:
		}
	})

	s := DefaultSettings()
	s.HeartbeatInterval = time.Hour
	s.CloseGrace = 200 * time.Millisecond
	c, err := NewChannelClient(testLogger(), n, cursor.NewStore(testLogger()), ClientConfig{
		Identity: "self",
		Group:    testGroup,
		Observer: obs,
		Settings: s,
	})
	if err != nil {
		t.Fatalf("NewChannelClient: %v", err)
	}
	t.Cleanup(c.Disconnect)

	c.Start(context.Background())
	first := srv.nextConn(t)
	<-calls
	waitFor(t, "connected", func() bool { return c.State() == StateConnected })

	_ = first.Close(websocket.StatusGoingAway, "service restart")

	var lost time.Time
	select {
	case ev := <-reconnecting:
		lost = time.Now()
		if ev.Delay != time.Second || ev.Attempt != 1 {
			t.Fatalf("reconnecting delay=%v attempt=%d want 1s/1", ev.Delay, ev.Attempt)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for reconnecting")
	}

	select {
	case at := <-calls:
		gap := at.Sub(lost)
		if gap < 900*time.Millisecond || gap > 1500*time.Millisecond {
			t.Fatalf("renegotiated after %v want ~1s", gap)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for renegotiation")
	}

	srv.nextConn(t)
	waitFor(t, "reconnected", func() bool { return c.State() == StateConnected })
}

func TestChannelClient_StartIsIdempotent(t *testing.T) {
	t.Parallel()

	srv := newPubsubServer(t)
	var calls atomic.Int32
	c := newTestClient(t, srv.negotiator(&calls), cursor.NewStore(testLogger()), nil)

	c.Start(context.Background())
	c.Start(context.Background())
	srv.nextConn(t)
	waitFor(t, "connected", func() bool { return c.State() == StateConnected })

	if got := calls.Load(); got != 1 {
		t.Fatalf("negotiate calls=%d want 1", got)
	}
}

func TestChannelClient_HandleFrameFiltering(t *testing.T) {
	t.Parallel()

	store := cursor.NewStore(testLogger())
	host := &hostRecorder{}
	c, err := NewChannelClient(testLogger(), NegotiatorFunc(func(context.Context, string, string) (Channel, error) {
		return Channel{}, nil
	}), store, ClientConfig{Identity: "self", Group: testGroup, Host: host})
	if err != nil {
		t.Fatalf("NewChannelClient: %v", err)
	}

	now := time.Unix(1_700_000_000, 0)
	ctx := context.Background()

	frames := []string{
		`not json`,
		`{"type":"system","event":"connected","connectionId":"c1"}`,
		`{"type":"ack","ackId":1,"success":false}`,
		fmt.Sprintf(`{"type":"message","from":"group","group":"OTHER","dataType":"json","data":%s}`, cursorPayload("x", 0.1, 0.1)),
		fmt.Sprintf(`{"type":"message","from":"server","dataType":"json","data":%s}`, cursorPayload("y", 0.1, 0.1)),
		fmt.Sprintf(`{"type":"message","from":"group","group":%q,"dataType":"json","data":{"type":"cursor","user_id":"z"}}`, testGroup),
	}
	for _, f := range frames {
		c.handleFrame(ctx, []byte(f), now)
	}
	if store.Len() != 0 {
		t.Fatalf("filtered frames reached the store: %+v", store.Snapshot())
	}

	text, _ := json.Marshal(cursorPayload("texty", 0.4, 0.6))
	c.handleFrame(ctx, []byte(fmt.Sprintf(`{"type":"message","from":"group","group":%q,"dataType":"text","data":%s}`, testGroup, text)), now)
	if store.Len() != 1 {
		t.Fatalf("text payload not applied")
	}

	c.handleFrame(ctx, []byte(fmt.Sprintf(`{"type":"message","from":"group","group":%q,"dataType":"json","data":{"type":"region_by_monitor","index":1}}`, testGroup)), now)
	c.handleFrame(ctx, []byte(fmt.Sprintf(`{"type":"message","from":"group","group":%q,"dataType":"json","data":{"type":"host_config","aspect_ratio":1.5}}`, testGroup)), now)
	if got := host.types(); len(got) != 2 || got[0] != v1.TypeRegionByMonitor || got[1] != v1.TypeHostConfig {
		t.Fatalf("host events = %v", got)
	}
}

type hostRecorder struct {
	mu  sync.Mutex
	evs []v1.Event
}

func (h *hostRecorder) HandleHost(_ context.Context, ev v1.Event) {
	h.mu.Lock()
	h.evs = append(h.evs, ev)
	h.mu.Unlock()
}

func (h *hostRecorder) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.evs))
	for _, ev := range h.evs {
		out = append(out, ev.EventType())
	}
	return out
}

func TestClassifyReadErr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want readErrKind
	}{
		{"canceled", context.Canceled, readErrCtxDone},
		{"deadline", fmt.Errorf("wrap: %w", context.DeadlineExceeded), readErrCtxDone},
		{"eof", io.EOF, readErrConnClosed},
		{"other", errors.New("boom"), readErrUnknown},
	}
	for _, tt := range tests {
		if got := classifyReadErr(tt.err); got != tt.want {
			t.Fatalf("%s: got %v want %v", tt.name, got, tt.want)
		}
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	if StateConnected.String() != "connected" || StateReconnecting.String() != "reconnecting" {
		t.Fatalf("unexpected state names")
	}
	if State(42).String() != "state(42)" {
		t.Fatalf("unexpected unknown state name: %s", State(42))
	}
}

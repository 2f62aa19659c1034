// Package main is a smoke publisher for the overlay channel.
//
// It joins a session group the way the browser client does and drives one
// synthetic pointer around a circle, so a running overlay can be checked by
// eye. It validates:
//   - negotiation (or a pre-negotiated channel URL)
//   - handshake + Web PubSub subprotocol selection
//   - joinGroup ack
//   - join / cursor / leave publishing within the per-identity rate limit
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "github.com/psryland/three-blind-mice/shared/contracts/overlay/v1"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"
)

const (
	subprotocol  = "json.webpubsub.azure.v1"
	maxReadBytes = 64 << 10
)

func main() {
	var (
		channelURL = flag.String("url", "", "Pre-negotiated channel URL (wss://...); skips -negotiate")
		negotiate  = flag.String("negotiate", "", "Negotiation endpoint (https://...)")
		group      = flag.String("group", "", "Session code / group")
		id         = flag.String("id", "", "Pointer identity (default: new ULID)")
		name       = flag.String("name", "smoke", "Display name")
		colour     = flag.String("colour", "#FF8800", "Pointer colour #RRGGBB")
		duration   = flag.Duration("duration", 10*time.Second, "How long to move the pointer")
		hz         = flag.Int("hz", 20, "Cursor updates per second (overlay admits at most 30)")
		laser      = flag.Bool("laser", false, "Hold the primary button (draws a trail)")
		timeout    = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if strings.TrimSpace(*group) == "" {
		fatalf("-group is required")
	}
	if *hz <= 0 || *hz > 30 {
		fatalf("-hz must be in 1..30")
	}
	if *id == "" {
		*id = ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	}

	root := context.Background()

	target := *channelURL
	if target == "" {
		if *negotiate == "" {
			fatalf("one of -url or -negotiate is required")
		}
		target = mustNegotiate(root, *negotiate, *group, *id, *timeout)
	}
	if err := validateChannelURL(target); err != nil {
		fatalf("invalid channel url: %v", err)
	}

	conn := mustConnect(root, target, *timeout)
	defer closeWS(conn)

	mustJoinGroup(root, conn, *group, *timeout)
	if *verbose {
		fmt.Printf("joined group=%s id=%s\n", *group, *id)
	}

	mustPublish(root, conn, *group, v1.Join{Identity: *id, Name: *name, Colour: *colour}, *timeout)

	button := v1.ButtonNone
	if *laser {
		button = v1.ButtonPrimary
	}

	tick := time.NewTicker(time.Second / time.Duration(*hz))
	defer tick.Stop()

	start := time.Now()
	sent := 0
	for time.Since(start) < *duration {
		<-tick.C
		phase := 2 * math.Pi * time.Since(start).Seconds() / 4
		ev := v1.CursorUpdate{
			Identity: *id,
			Name:     *name,
			Colour:   *colour,
			X:        0.5 + 0.3*math.Cos(phase),
			Y:        0.5 + 0.3*math.Sin(phase),
			Button:   button,
		}
		mustPublish(root, conn, *group, ev, *timeout)
		sent++
	}

	mustPublish(root, conn, *group, v1.Leave{Identity: *id}, *timeout)

	fmt.Printf("OK: group=%s id=%s cursor_updates=%d\n", *group, *id, sent)
}

func mustNegotiate(parent context.Context, endpoint, group, id string, stepTimeout time.Duration) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		fatalf("invalid -negotiate: must be an https URL")
	}
	q := u.Query()
	q.Set("group", group)
	q.Set("userId", id)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		fatalf("negotiate request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("negotiate: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatalf("negotiate: status %d", resp.StatusCode)
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxReadBytes)).Decode(&out); err != nil {
		fatalf("negotiate: decode: %v", err)
	}
	return out.URL
}

func validateChannelURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustConnect(parent context.Context, channelURL string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, channelURL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != subprotocol {
		closeWS(conn)
		fatalf("subprotocol mismatch: got=%q want=%q", got, subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustJoinGroup(parent context.Context, conn *websocket.Conn, group string, stepTimeout time.Duration) {
	mustWriteWithTimeout(parent, conn, map[string]any{
		"type":  "joinGroup",
		"group": group,
		"ackId": 1,
	}, stepTimeout)

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			fatalf("waiting for joinGroup ack: %v", err)
		}
		var f struct {
			Type    string `json:"type"`
			AckID   int    `json:"ackId"`
			Success bool   `json:"success"`
			Error   *struct {
				Name    string `json:"name"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if f.Type != "ack" || f.AckID != 1 {
			continue
		}
		if !f.Success {
			msg := "unknown"
			if f.Error != nil {
				msg = f.Error.Name + ": " + f.Error.Message
			}
			fatalf("joinGroup rejected: %s", msg)
		}
		return
	}
}

func mustPublish(parent context.Context, conn *websocket.Conn, group string, ev v1.Event, stepTimeout time.Duration) {
	payload, err := v1.Encode(ev)
	if err != nil {
		fatalf("encode %s: %v", ev.EventType(), err)
	}
	mustWriteWithTimeout(parent, conn, map[string]any{
		"type":     "sendToGroup",
		"group":    group,
		"dataType": "json",
		"data":     json.RawMessage(payload),
		"noEcho":   true,
	}, stepTimeout)
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, frame any, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(frame)
	if err != nil {
		fatalf("marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}

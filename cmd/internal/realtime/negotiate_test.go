package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()

	tok, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"aud": "wss://example.test/client/hubs/overlay",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func negotiateServer(t *testing.T, status int, channelURL string) (*httptest.Server, <-chan url.Values) {
	t.Helper()

	seen := make(chan url.Values, 1)
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case seen <- r.URL.Query():
		default:
		}
		if status != http.StatusOK {
			http.Error(w, "nope", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(negotiateResponse{URL: channelURL})
	}))
	t.Cleanup(ts.Close)
	return ts, seen
}

func TestNewHTTPNegotiator_RequiresHTTPS(t *testing.T) {
	t.Parallel()

	for _, endpoint := range []string{"http://example.test/negotiate", "ws://example.test", "://bad", "https://"} {
		if _, err := NewHTTPNegotiator(endpoint, nil); err == nil {
			t.Fatalf("expected error for %q", endpoint)
		}
	}
	if _, err := NewHTTPNegotiator("https://example.test/api/negotiate", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHTTPNegotiator_Success(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	channel := "wss://example.test/client/hubs/overlay?access_token=" + signedToken(t, exp)
	ts, seen := negotiateServer(t, http.StatusOK, channel)

	n, err := NewHTTPNegotiator(ts.URL+"/api/negotiate", ts.Client())
	if err != nil {
		t.Fatalf("NewHTTPNegotiator: %v", err)
	}

	ch, err := n.Negotiate(context.Background(), "user-1", "AB12")
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if !strings.HasPrefix(ch.URL, "wss://example.test/client/hubs/overlay") {
		t.Fatalf("url=%q", ch.URL)
	}
	if !ch.Expires.Equal(exp) {
		t.Fatalf("expires=%v want %v", ch.Expires, exp)
	}
	q := <-seen
	if q.Get("group") != "AB12" || q.Get("userId") != "user-1" {
		t.Fatalf("query=%v", q)
	}
}

func TestHTTPNegotiator_NoTokenHasZeroExpiry(t *testing.T) {
	t.Parallel()

	ts, _ := negotiateServer(t, http.StatusOK, "wss://example.test/client")
	n, err := NewHTTPNegotiator(ts.URL, ts.Client())
	if err != nil {
		t.Fatalf("NewHTTPNegotiator: %v", err)
	}

	ch, err := n.Negotiate(context.Background(), "u", "g")
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if !ch.Expires.IsZero() {
		t.Fatalf("expires=%v want zero", ch.Expires)
	}
}

func TestHTTPNegotiator_Failures(t *testing.T) {
	t.Parallel()

	expired := "wss://example.test/client?access_token=" + signedToken(t, time.Now().Add(-time.Minute))

	tests := []struct {
		name       string
		status     int
		channel    string
		wantExpiry bool
	}{
		{name: "status", status: http.StatusServiceUnavailable, channel: "wss://example.test"},
		{name: "insecure channel", status: http.StatusOK, channel: "ws://example.test/client"},
		{name: "empty channel", status: http.StatusOK, channel: ""},
		{name: "garbage token", status: http.StatusOK, channel: "wss://example.test/client?access_token=abc"},
		{name: "expired token", status: http.StatusOK, channel: expired, wantExpiry: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ts, _ := negotiateServer(t, tt.status, tt.channel)
			n, err := NewHTTPNegotiator(ts.URL, ts.Client())
			if err != nil {
				t.Fatalf("NewHTTPNegotiator: %v", err)
			}

			_, err = n.Negotiate(context.Background(), "u", "g")
			if !errors.Is(err, ErrNegotiate) {
				t.Fatalf("err=%v want ErrNegotiate", err)
			}
			if got := errors.Is(err, ErrChannelTokenExpired); got != tt.wantExpiry {
				t.Fatalf("expired=%v want %v (err=%v)", got, tt.wantExpiry, err)
			}
		})
	}
}

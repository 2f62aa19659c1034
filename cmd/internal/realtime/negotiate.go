package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNegotiate wraps every negotiation failure.
	ErrNegotiate = errors.New("realtime: negotiate failed")
	// ErrChannelTokenExpired reports a channel URL whose access token has already expired.
	ErrChannelTokenExpired = errors.New("realtime: channel token expired")
)

// Channel is the result of a successful negotiation.
type Channel struct {
	URL string
	// Expires is the access token expiry when the URL carries one; zero otherwise.
	Expires time.Time
}

// Negotiator obtains a realtime channel URL for (identity, group).
type Negotiator interface {
	Negotiate(ctx context.Context, identity, group string) (Channel, error)
}

// NegotiatorFunc adapts a function to Negotiator.
type NegotiatorFunc func(ctx context.Context, identity, group string) (Channel, error)

// Negotiate calls f.
func (f NegotiatorFunc) Negotiate(ctx context.Context, identity, group string) (Channel, error) {
	return f(ctx, identity, group)
}

// HTTPNegotiator calls the token service over HTTPS.
//
// The endpoint is fixed at construction; callers pass a compiled-in constant,
// never user input.
type HTTPNegotiator struct {
	endpoint *url.URL
	client   *http.Client
	now      func() time.Time
}

type negotiateResponse struct {
	URL string `json:"url"`
}

// NewHTTPNegotiator validates endpoint (https only) and returns a negotiator.
func NewHTTPNegotiator(endpoint string, client *http.Client) (*HTTPNegotiator, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, fmt.Errorf("realtime: invalid negotiate endpoint: %w", err)
	}
	if u.Scheme != "https" {
		return nil, fmt.Errorf("realtime: negotiate endpoint must be https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("realtime: negotiate endpoint missing host")
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPNegotiator{endpoint: u, client: client, now: time.Now}, nil
}

// Negotiate performs GET <endpoint>?group=G&userId=U and validates the returned channel URL.
func (n *HTTPNegotiator) Negotiate(ctx context.Context, identity, group string) (Channel, error) {
	ctx, cancel := context.WithTimeout(ctx, negotiateWait)
	defer cancel()

	u := *n.endpoint
	q := u.Query()
	q.Set("group", group)
	q.Set("userId", identity)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Channel{}, fmt.Errorf("%w: %v", ErrNegotiate, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return Channel{}, fmt.Errorf("%w: %v", ErrNegotiate, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Channel{}, fmt.Errorf("%w: status %d", ErrNegotiate, resp.StatusCode)
	}

	var out negotiateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxNegotiateBytes)).Decode(&out); err != nil {
		return Channel{}, fmt.Errorf("%w: bad response: %v", ErrNegotiate, err)
	}

	return n.channelFromURL(out.URL)
}

func (n *HTTPNegotiator) channelFromURL(raw string) (Channel, error) {
	cu, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Channel{}, fmt.Errorf("%w: bad channel url: %v", ErrNegotiate, err)
	}
	if cu.Scheme != "wss" {
		return Channel{}, fmt.Errorf("%w: channel url must be wss, got %q", ErrNegotiate, cu.Scheme)
	}
	if cu.Host == "" {
		return Channel{}, fmt.Errorf("%w: channel url missing host", ErrNegotiate)
	}

	ch := Channel{URL: cu.String()}

	tok := cu.Query().Get("access_token")
	if tok == "" {
		return ch, nil
	}

	// The channel service verifies the signature; here we only read the expiry
	// so a stale URL fails fast instead of burning a dial.
	exp, err := tokenExpiry(tok)
	if err != nil {
		return Channel{}, fmt.Errorf("%w: bad access token: %v", ErrNegotiate, err)
	}
	if !exp.IsZero() && !exp.After(n.now()) {
		return Channel{}, fmt.Errorf("%w: %w", ErrNegotiate, ErrChannelTokenExpired)
	}
	ch.Expires = exp
	return ch, nil
}

func tokenExpiry(tok string) (time.Time, error) {
	token, _, err := gojwt.NewParser().ParseUnverified(tok, gojwt.MapClaims{})
	if err != nil {
		return time.Time{}, err
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}

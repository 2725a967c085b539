package ipx800

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ipx800-bridge/internal/state"
)

// maxStatusBytes caps how much of a status response is read.
const maxStatusBytes = 1 << 20

// Client performs status polls and output actuation against one controller.
//
// A Client holds no mutable state and is safe for concurrent use; callers
// decide how requests are serialised.
type Client struct {
	baseURL     string
	statusPath  string
	actuatePath string
	timeout     time.Duration
	http        *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates a Client for the endpoint.
//
// Each request is bounded by ep.Timeout. On timeout the request is
// abandoned (the connection is closed) and reported as ErrTransientIO.
func NewClient(ep config.EndpointConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:     ep.BaseURL(),
		statusPath:  ep.StatusPath,
		actuatePath: ep.ActuatePath,
		timeout:     ep.Timeout,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	if c.statusPath == "" {
		c.statusPath = config.DefaultStatusPath
	}
	if c.actuatePath == "" {
		c.actuatePath = config.DefaultActuatePath
	}
	if c.timeout <= 0 {
		c.timeout = config.DefaultTimeout
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchStatus polls the status document and parses it.
//
// Returns:
//   - state.Raw: Channels reported by the controller
//   - error: ErrTransientIO or ErrMalformedResponse (wrapped)
func (c *Client) FetchStatus(ctx context.Context) (state.Raw, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.statusPath, nil)
	if err != nil {
		return state.Raw{}, fmt.Errorf("building status request: %w", err)
	}
	req.Header.Set("Accept", "application/xml, text/xml")

	resp, err := c.http.Do(req)
	if err != nil {
		return state.Raw{}, fmt.Errorf("%w: %w", ErrTransientIO, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxStatusBytes)) //nolint:errcheck // Draining for connection reuse
		return state.Raw{}, fmt.Errorf("%w: status %d", ErrTransientIO, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBytes))
	if err != nil {
		return state.Raw{}, fmt.Errorf("%w: reading body: %w", ErrTransientIO, err)
	}

	return ParseStatus(bytes.NewReader(body))
}

// SetOutputs drives every listed output to desired, one request per channel.
//
// All channels are attempted even after a failure. The call succeeds only
// when every request returned 200; otherwise it returns an *ActuationError
// naming exactly the channels that failed.
//
// Parameters:
//   - ctx: Context for cancellation
//   - channels: Output channels (ledN)
//   - desired: true to switch on, false to switch off
//
// Returns:
//   - error: ErrInvalidChannel (nothing attempted) or *ActuationError
func (c *Client) SetOutputs(ctx context.Context, channels []string, desired bool) error {
	for _, ch := range channels {
		if !state.IsOutputChannel(ch) {
			return fmt.Errorf("%w: %q", ErrInvalidChannel, ch)
		}
	}

	var failed []string
	causes := make(map[string]error)
	for _, ch := range channels {
		if err := c.setOutput(ctx, ch, desired); err != nil {
			failed = append(failed, ch)
			causes[ch] = err
		}
	}

	if len(failed) > 0 {
		return &ActuationError{Failed: failed, Causes: causes}
	}
	return nil
}

func (c *Client) setOutput(ctx context.Context, channel string, desired bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	value := "0"
	if desired {
		value = "1"
	}
	q := url.Values{}
	q.Set(channel, value)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.actuatePath+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building actuation request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransientIO, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxStatusBytes)) //nolint:errcheck // Draining for connection reuse

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrTransientIO, resp.StatusCode)
	}
	return nil
}

// BaseURL returns the controller URL this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

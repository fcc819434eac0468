// Package fetch retrieves subgraph payloads and source text from a graph-data
// backend over HTTP.
//
// Transient failures (network errors, 5xx responses) are retried with
// exponential backoff. Concurrent fetches of the same component share one
// request.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gyaneshwarpardhi/circuitscope/internal/faults"
	"github.com/gyaneshwarpardhi/circuitscope/internal/graph"
)

const maxSourceBytes = 8 << 20

// Client talks to a graph-data backend.
type Client struct {
	base    string
	http    *http.Client
	retries int
	delay   time.Duration
	group   singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetries sets how many times a transient failure is retried and the
// initial backoff delay, which doubles after each attempt.
func WithRetries(n int, delay time.Duration) Option {
	return func(c *Client) {
		c.retries = max(n, 0)
		c.delay = delay
	}
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("fetch: invalid backend url %q", baseURL)
	}
	c := &Client{
		base:  strings.TrimRight(u.String(), "/"),
		http:  &http.Client{Timeout: 30 * time.Second},
		delay: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SubgraphURL returns the URL a component's subgraph is fetched from.
func (c *Client) SubgraphURL(component string) string {
	return c.base + "/graph-data/" + url.PathEscape(component)
}

// FetchSubgraph retrieves the subgraph of a component. Non-2xx responses
// and transport failures are KindFetch errors; undecodable bodies are
// KindParse errors.
//
// The request is shared with any concurrent fetch of the same component and
// is not cancelled when one of the waiting callers gives up.
func (c *Client) FetchSubgraph(ctx context.Context, component string) (*graph.Payload, error) {
	ch := c.group.DoChan(component, func() (any, error) {
		return c.fetchSubgraph(context.WithoutCancel(ctx), component)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*graph.Payload), nil
	case <-ctx.Done():
		return nil, faults.Wrap(faults.KindFetch, "fetch "+component, ctx.Err(), "request abandoned")
	}
}

func (c *Client) fetchSubgraph(ctx context.Context, component string) (*graph.Payload, error) {
	op := "fetch " + component
	var payload *graph.Payload
	err := c.withRetry(ctx, func() error {
		body, err := c.get(ctx, op, c.SubgraphURL(component))
		if err != nil {
			return err
		}
		defer body.Close()
		p, err := graph.DecodePayload(body)
		if err != nil {
			return faults.Wrap(faults.KindParse, op, err, "malformed subgraph payload")
		}
		payload = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// FetchSource retrieves the text of the file currently open in the editor.
func (c *Client) FetchSource(ctx context.Context) (string, error) {
	const op = "fetch source"
	var text string
	err := c.withRetry(ctx, func() error {
		body, err := c.get(ctx, op, c.base+"/get_file")
		if err != nil {
			return err
		}
		defer body.Close()
		data, err := io.ReadAll(io.LimitReader(body, maxSourceBytes))
		if err != nil {
			return &retryableError{faults.Wrap(faults.KindFetch, op, err, "read body")}
		}
		text = string(data)
		return nil
	})
	return text, err
}

func (c *Client) get(ctx context.Context, op, target string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, faults.Wrap(faults.KindFetch, op, err, "build request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &retryableError{faults.Wrap(faults.KindFetch, op, err, "request failed")}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		ferr := faults.New(faults.KindFetch, op, "HTTP %d from %s", resp.StatusCode, target)
		if resp.StatusCode >= 500 {
			return nil, &retryableError{ferr}
		}
		return nil, ferr
	}
	return resp.Body, nil
}

// retryableError marks a failure worth another attempt.
// maxBackoff caps the delay between retries.
const maxBackoff = 5 * time.Second

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	delay := c.delay
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		var re *retryableError
		if !errors.As(err, &re) {
			return err
		}
		lastErr = re.err
		if attempt == c.retries {
			break
		}
		select {
		case <-ctx.Done():
			return faults.Wrap(faults.KindFetch, "retry", ctx.Err(), "cancelled while backing off")
		case <-time.After(delay):
			delay = min(delay*2, maxBackoff)
		}
	}
	return lastErr
}

// Package api implements inbox.Transport over the remote inbox HTTP API.
//
// The client performs conditional list fetches keyed by the Last-Modified
// header and reports read and deleted messages with their reporting
// payloads. It does not retry; the inbox schedules retries from the verdict
// of each cycle.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/rbaliyan/inbox"
	"github.com/rbaliyan/inbox/store"
)

// Request headers.
const (
	HeaderChannelID = "X-UA-Channel-ID"
	acceptHeader    = "application/vnd.urbanairship+json; version=3;"
)

// API paths relative to the base URL. %s is the user id.
const (
	messagesPath = "api/user/%s/messages/"
	markReadPath = "api/user/%s/messages/unread/"
	deletePath   = "api/user/%s/messages/delete/"
)

// maxResponseSize bounds the list response body.
const maxResponseSize = 16 << 20

// ErrCredentialsRequired is returned when no user is configured.
var ErrCredentialsRequired = errors.New("api: user credentials are required")

// Compile-time check
var _ inbox.Transport = (*Client)(nil)

// Client talks to the inbox HTTP API. It is safe for concurrent use.
type Client struct {
	base    *url.URL
	opts    *options
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	o := newOptions(opts...)
	if o.userID == "" {
		return nil, ErrCredentialsRequired
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("api: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("api: base url %q must be absolute", baseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: o.timeout}
	} else {
		clone := *hc
		hc = &clone
	}
	if o.tracing {
		rt := hc.Transport
		if rt == nil {
			rt = http.DefaultTransport
		}
		hc.Transport = otelhttp.NewTransport(rt)
	}

	return &Client{
		base:    base,
		opts:    o,
		http:    hc,
		limiter: rate.NewLimiter(o.rateLimit, o.rateBurst),
		logger:  o.logger,
		now:     time.Now,
	}, nil
}

// FetchMessages fetches the message list. A non-empty watermark is sent as
// If-Modified-Since; a 304 response yields NotModified. List entries that
// cannot be parsed are skipped.
func (c *Client) FetchMessages(ctx context.Context, watermark string) (*inbox.FetchResult, error) {
	req, err := c.newRequest(ctx, http.MethodGet, messagesPath, nil)
	if err != nil {
		return nil, err
	}
	if watermark != "" {
		req.Header.Set("If-Modified-Since", watermark)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		c.logger.Debug("inbox messages already up to date")
		return &inbox.FetchResult{NotModified: true}, nil
	case http.StatusOK:
	default:
		return nil, &inbox.StatusError{Op: "fetch messages", StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("api: read response: %w", err)
	}

	var list listResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("%w: %w", inbox.ErrMalformedPayload, err)
	}

	now := c.now()
	msgs := make([]store.Message, 0, len(list.Messages))
	for _, raw := range list.Messages {
		m, err := decodeMessage(raw, now)
		if err != nil {
			c.logger.Warn("skipping invalid inbox message", "error", err)
			continue
		}
		msgs = append(msgs, m)
	}

	c.logger.Debug("received inbox messages", "count", len(msgs), "skipped", len(list.Messages)-len(msgs))
	return &inbox.FetchResult{
		Messages:  msgs,
		Watermark: resp.Header.Get("Last-Modified"),
	}, nil
}

// PostMarkRead reports msgs as read.
func (c *Client) PostMarkRead(ctx context.Context, msgs []store.Message) error {
	return c.report(ctx, "mark read", markReadPath, msgs)
}

// PostDelete reports msgs as deleted.
func (c *Client) PostDelete(ctx context.Context, msgs []store.Message) error {
	return c.report(ctx, "delete", deletePath, msgs)
}

func (c *Client) report(ctx context.Context, op, path string, msgs []store.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	payload := reportRequest{Messages: make([]json.RawMessage, len(msgs))}
	for i, m := range msgs {
		payload.Messages[i] = reportingOf(m)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("api: encode %s request: %w", op, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))

	if resp.StatusCode != http.StatusOK {
		return &inbox.StatusError{Op: op, StatusCode: resp.StatusCode}
	}
	c.logger.Debug("reported inbox messages", "op", op, "count", len(msgs))
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	ref, err := url.Parse(fmt.Sprintf(path, url.PathEscape(c.opts.userID)))
	if err != nil {
		return nil, fmt.Errorf("api: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.ResolveReference(ref).String(), body)
	if err != nil {
		return nil, fmt.Errorf("api: build request: %w", err)
	}
	req.SetBasicAuth(c.opts.userID, c.opts.token)
	req.Header.Set("Accept", acceptHeader)
	if c.opts.channelID != "" {
		req.Header.Set(HeaderChannelID, c.opts.channelID)
	}
	return req, nil
}

// do waits for the rate limiter and sends req.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("api: rate limit: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: %s %s: %w", req.Method, req.URL.Path, err)
	}
	return resp, nil
}

// Package invoke provides a throttled JSON-over-HTTP client for calling
// remote workflow endpoints. Failures are classified as ErrTransient or
// ErrPermanent so callers can decide what to retry.
package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxErrorBody = 4 << 10

// Client issues JSON requests against a single base URL.
type Client struct {
	http    *http.Client
	base    *url.URL
	limiter *rate.Limiter
	logger  *slog.Logger

	mu      sync.Mutex
	retryAt time.Time
}

// New creates a Client from a finalized Config.
func New(cfg *Config, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		http:    &http.Client{Timeout: cfg.TimeoutDuration()},
		base:    base,
		limiter: rate.NewLimiter(limit, max(cfg.Burst, 1)),
		logger:  logger.With("system", "invoke", "host", base.Host),
	}, nil
}

// Do sends in as the JSON body of a request to path and decodes the
// response into out. Either may be nil.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	target := c.base.String() + "/" + strings.TrimLeft(path, "/")

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: encode request: %w", ErrPermanent, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrPermanent, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %w", ErrTransient, method, target, err)
	}
	defer resp.Body.Close()

	c.logger.Debug(
		"remote call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusTooManyRequests {
			c.backoff(resp.Header.Get("Retry-After"))
		}
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method: method,
			URL:    target,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(msg)),
		}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("%w: decode response from %s: %w", ErrPermanent, target, err)
	}
	return nil
}

// wait blocks on the token bucket and any server-requested pause.
func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	until := c.retryAt
	c.mu.Unlock()

	if d := time.Until(until); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

func (c *Client) backoff(retryAfter string) {
	seconds, err := strconv.Atoi(strings.TrimSpace(retryAfter))
	if err != nil || seconds <= 0 {
		return
	}

	until := time.Now().Add(time.Duration(seconds) * time.Second)

	c.mu.Lock()
	if until.After(c.retryAt) {
		c.retryAt = until
	}
	c.mu.Unlock()

	c.logger.Warn("remote throttled", "retry_after", seconds)
}

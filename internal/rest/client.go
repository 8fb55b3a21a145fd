// ABOUTME: HTTP request core issuing REST calls through the rate limiter
// ABOUTME: Maps statuses to typed errors and absorbs 429s in a retry loop

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const defaultUserAgent = "DiscordBot (https://github.com/2389/chord, 0.1)"

// Client issues REST calls gated entirely through a Limiter.
type Client struct {
	httpClient *http.Client
	token      string
	base       string
	userAgent  string
	limiter    *Limiter
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base, mainly for tests.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.base = base }
}

// WithHTTPClient substitutes the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient builds a REST client for the given bot token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		token:      token,
		base:       DefaultAPIBase,
		userAgent:  defaultUserAgent,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "rest")
	c.limiter = NewLimiter(c.probeBucket, c.logger)
	return c
}

// Limiter exposes the client's rate limiter, shared by everything that
// issues calls through this client.
func (c *Client) Limiter() *Limiter { return c.limiter }

// rateLimitBody is the JSON body of a 429 response.
type rateLimitBody struct {
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
}

// Request issues a REST call through the limiter and returns the raw
// JSON response body. Rate-limit rejections are retried internally and
// never surface to the caller; other non-2xx statuses map to the typed
// errors in this package. body may be nil.
func (c *Client) Request(ctx context.Context, route *Route, body any) (json.RawMessage, error) {
	logger := c.logger.With(
		"request_id", uuid.New().String(),
		"method", route.Method,
		"bucket", route.Bucket(),
	)

	for {
		permit, err := c.limiter.Acquire(ctx, route)
		if err != nil {
			return nil, err
		}

		resp, data, err := c.do(ctx, route, body)
		if err != nil {
			permit.Release(0)
			return nil, &ConnectionError{Op: route.Method + " " + route.Path, Err: err}
		}

		remaining := headerInt(resp.Header, "X-RateLimit-Remaining", 1)
		resetAfter := headerSeconds(resp.Header, "X-RateLimit-Reset-After")

		if resp.StatusCode != http.StatusTooManyRequests && remaining == 0 {
			logger.Info("bucket depleted", "reset_after", resetAfter)
			permit.Release(resetAfter)
		} else {
			permit.Release(0)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300,
			resp.StatusCode == http.StatusNotModified:
			logger.Debug("request ok", "status", resp.StatusCode)
			return data, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			var rl rateLimitBody
			_ = json.Unmarshal(data, &rl)
			retryAfter := time.Duration(rl.RetryAfter * float64(time.Second))
			if rl.Global {
				logger.Warn("global rate limit hit", "retry_after", retryAfter)
				c.limiter.LockGlobal(retryAfter)
			} else {
				logger.Info("rate limited", "retry_after", retryAfter)
			}
			select {
			case <-time.After(retryAfter):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			// fall through to reacquire and retry

		default:
			logger.Info("request failed", "status", resp.StatusCode)
			return nil, newHTTPError(resp.StatusCode, data)
		}
	}
}

// do performs one HTTP round-trip and reads the full body.
func (c *Client) do(ctx context.Context, route *Route, body any) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, route.Method, route.URL(c.base), reader)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, data, nil
}

// probeBucket learns a bucket's capacity with a zero-cost HEAD request.
func (c *Client) probeBucket(ctx context.Context, route *Route) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, route.URL(c.base), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return headerInt(resp.Header, "X-RateLimit-Limit", 1), nil
}

func headerInt(h http.Header, key string, fallback int) int {
	v := h.Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func headerSeconds(h http.Header, key string) time.Duration {
	v := h.Get(key)
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// ABOUTME: Client facade owning the REST client, event registry, shard
// ABOUTME: coordinator and per-guild voice sessions.

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/chord/internal/dedupe"
	"github.com/2389/chord/internal/event"
	"github.com/2389/chord/internal/gateway"
	"github.com/2389/chord/internal/rest"
	"github.com/2389/chord/internal/voice"
)

// ErrInvalidToken indicates the configured token was rejected by the
// REST API during startup validation.
var ErrInvalidToken = errors.New("client: invalid token")

// ErrNotConnected indicates an operation that needs a live gateway
// connection ran before Connect.
var ErrNotConnected = errors.New("client: not connected")

// Config assembles a client. Only Token is required.
type Config struct {
	Token   string
	Intents int

	// APIBase overrides the REST endpoint; GatewayURL the WebSocket
	// endpoint from gateway discovery.
	APIBase    string
	GatewayURL string

	// ShardCount zero means the recommended count; ShardIDs nil means
	// every shard in [0, count).
	ShardCount int
	ShardIDs   []int

	Logger     *slog.Logger
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// Client is the top-level connection object.
type Client struct {
	cfg      Config
	rest     *rest.Client
	registry *event.Registry
	coord    *gateway.Coordinator
	seen     *dedupe.Cache
	logger   *slog.Logger

	mu     sync.Mutex
	userID string
	voices map[string]*voice.Session
	closed bool
}

// New builds a client. It performs no I/O; Connect does.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("client: token is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []rest.Option{rest.WithLogger(logger)}
	if cfg.APIBase != "" {
		opts = append(opts, rest.WithBaseURL(cfg.APIBase))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, rest.WithHTTPClient(cfg.HTTPClient))
	}
	restClient := rest.NewClient(cfg.Token, opts...)

	registry := event.NewRegistry(logger)

	c := &Client{
		cfg:      cfg,
		rest:     restClient,
		registry: registry,
		seen:     dedupe.New(5*time.Minute, 10_000),
		logger:   logger.With("component", "client"),
		voices:   make(map[string]*voice.Session),
	}
	c.coord = gateway.NewCoordinator(restClient, gateway.CoordinatorConfig{
		Token:      cfg.Token,
		Intents:    cfg.Intents,
		GatewayURL: cfg.GatewayURL,
		ShardCount: cfg.ShardCount,
		ShardIDs:   cfg.ShardIDs,
		Registry:   registry,
		Logger:     logger,
		OnDisconnect: func(shardID int, err error) {
			c.logger.Warn("shard disconnected", "shard", shardID, "error", err)
		},
	})
	return c, nil
}

// REST exposes the underlying REST client.
func (c *Client) REST() *rest.Client { return c.rest }

// On registers a handler for an event and returns its subscription id.
func (c *Client) On(tag event.Tag, fn event.Handler) string {
	return c.registry.Register(tag, fn)
}

// OnUnique registers a handler that skips duplicate deliveries of the
// same event. A session resume replays dispatches the gateway could not
// confirm, so handlers with side effects key each event (usually by its
// id) and drop replays seen within the dedupe window.
func (c *Client) OnUnique(tag event.Tag, key func(json.RawMessage) string, fn event.Handler) string {
	return c.registry.Register(tag, func(d json.RawMessage) {
		if k := key(d); k != "" && c.seen.CheckAndMark(string(tag), k) {
			c.logger.Debug("dropping replayed event", "event", string(tag), "key", k)
			return
		}
		fn(d)
	})
}

// Once registers a handler removed after its first invocation.
func (c *Client) Once(tag event.Tag, fn event.Handler) string {
	return c.registry.Once(tag, fn)
}

// Off removes a subscription.
func (c *Client) Off(tag event.Tag, id string) bool {
	return c.registry.Remove(tag, id)
}

// UserID returns the bot's own user id, known after Connect.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Connect validates the token, then brings up every shard. It returns
// once all shards are connected.
func (c *Client) Connect(ctx context.Context) error {
	me, err := c.rest.Me(ctx)
	if err != nil {
		var unauthorized *rest.UnauthorizedError
		if errors.As(err, &unauthorized) {
			return fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return fmt.Errorf("validating token: %w", err)
	}

	var user struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(me, &user); err != nil {
		return fmt.Errorf("parsing current user: %w", err)
	}
	c.mu.Lock()
	c.userID = user.ID
	c.mu.Unlock()

	c.logger.Info("token validated", "user_id", user.ID)
	return c.coord.Start(ctx)
}

// Shard returns the gateway session for a shard id, or nil.
func (c *Client) Shard(id int) *gateway.Session { return c.coord.Session(id) }

// Close shuts down every voice session and every shard. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	voices := make([]*voice.Session, 0, len(c.voices))
	for _, v := range c.voices {
		voices = append(voices, v)
	}
	c.voices = make(map[string]*voice.Session)
	c.mu.Unlock()

	for _, v := range voices {
		v.Close()
	}
	c.coord.Close()
	c.seen.Close()
	c.logger.Info("client closed")
	return nil
}

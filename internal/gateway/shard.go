// ABOUTME: Sharding coordinator spawning gateway sessions with identify pacing
// ABOUTME: Shards sharing a start-concurrency bucket identify 5 seconds apart

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/chord/internal/event"
	"github.com/2389/chord/internal/rest"
)

// identifySpacing is the minimum gap between identifies within one
// start-concurrency bucket. Variable so tests can compress it.
var identifySpacing = 5 * time.Second

// CoordinatorConfig configures a sharding coordinator.
type CoordinatorConfig struct {
	Token   string
	Intents int

	// GatewayURL overrides the URL from the bot-info endpoint.
	GatewayURL string

	// ShardCount of zero discovers the recommended count from the
	// gateway bot-info endpoint. ShardIDs nil means all shards.
	ShardCount int
	ShardIDs   []int

	Registry *event.Registry
	Logger   *slog.Logger

	// Session template knobs shared with every shard.
	OnDisconnect func(shardID int, err error)
}

// Coordinator manages N gateway sessions sharing a start-concurrency
// rate limit. Shards never share a socket; the gateway URL is resolved
// once and shared.
type Coordinator struct {
	cfg    CoordinatorConfig
	rest   *rest.Client
	logger *slog.Logger

	mu         sync.Mutex
	sessions   map[int]*Session
	gatewayURL string
	shardCount int

	// identify paces session starts: one synthetic limit-one route per
	// start-concurrency bucket, with the spacing window applied as a
	// deferred permit release.
	identify *rest.Limiter
}

// identifyRoute is never dispatched over HTTP; it only keys the
// limiter bucket for one start-concurrency group.
func identifyRoute(bucket int) *rest.Route {
	return rest.NewRoute(http.MethodPost, "/gateway/identify/"+strconv.Itoa(bucket), nil)
}

// NewCoordinator builds a coordinator issuing discovery calls through
// the given REST client.
func NewCoordinator(restClient *rest.Client, cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:      cfg,
		rest:     restClient,
		logger:   logger.With("component", "shards"),
		sessions: make(map[int]*Session),
		identify: rest.NewLimiter(nil, logger),
	}
}

// Start discovers shard count and max_concurrency, then connects every
// shard. Shards in the same bucket (shard_id mod max_concurrency)
// identify sequentially with the minimum spacing; distinct buckets
// proceed in parallel. Start returns once all shards are connected.
func (c *Coordinator) Start(ctx context.Context) error {
	gb, err := c.rest.GatewayBot(ctx)
	if err != nil {
		return fmt.Errorf("discovering gateway: %w", err)
	}

	shardCount := c.cfg.ShardCount
	if shardCount == 0 {
		shardCount = gb.Shards
	}
	if shardCount < 1 {
		shardCount = 1
	}

	shardIDs := c.cfg.ShardIDs
	if shardIDs == nil {
		shardIDs = make([]int, shardCount)
		for i := range shardIDs {
			shardIDs[i] = i
		}
	}

	maxConcurrency := gb.SessionStartLimit.MaxConcurrency
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	gatewayURL := c.cfg.GatewayURL
	if gatewayURL == "" {
		gatewayURL = gb.URL
	}

	c.mu.Lock()
	c.gatewayURL = gatewayURL
	c.shardCount = shardCount
	c.mu.Unlock()

	c.logger.Info("starting shards",
		"shard_count", shardCount,
		"shard_ids", shardIDs,
		"max_concurrency", maxConcurrency,
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range shardIDs {
		id := id
		g.Go(func() error {
			permit, err := c.identify.Acquire(gctx, identifyRoute(id%maxConcurrency))
			if err != nil {
				return err
			}
			// Spacing runs from this shard's start, not its READY:
			// the deferred release holds the bucket for the window.
			permit.Release(identifySpacing)

			session := NewSession(Config{
				Token:      c.cfg.Token,
				Intents:    c.cfg.Intents,
				GatewayURL: gatewayURL,
				ShardID:    id,
				ShardCount: shardCount,
				Registry:   c.cfg.Registry,
				Logger:     c.logger,
				OnDisconnect: func(err error) {
					if c.cfg.OnDisconnect != nil {
						c.cfg.OnDisconnect(id, err)
					}
				},
			})

			c.mu.Lock()
			c.sessions[id] = session
			c.mu.Unlock()

			if err := session.Connect(gctx); err != nil {
				return fmt.Errorf("shard %d: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Session returns the session for a shard id, or nil.
func (c *Coordinator) Session(shardID int) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[shardID]
}

// ShardCount returns the resolved shard count, zero before Start.
func (c *Coordinator) ShardCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shardCount
}

// GatewayURL returns the cached gateway URL shared across shards.
func (c *Coordinator) GatewayURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gatewayURL
}

// Close shuts down every shard session.
func (c *Coordinator) Close() {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

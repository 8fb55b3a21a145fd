// ABOUTME: Typed wrappers for the REST endpoints the connection core needs
// ABOUTME: Gateway discovery and current-user lookup

package rest

import (
	"context"
	"encoding/json"
	"net/http"
)

// SessionStartLimit describes how many gateway sessions may be started
// and how many identifies may run concurrently.
type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

// GatewayBot is the response of GET /gateway/bot.
type GatewayBot struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// GatewayBot fetches the gateway URL, recommended shard count and the
// session start limits for this bot.
func (c *Client) GatewayBot(ctx context.Context) (*GatewayBot, error) {
	data, err := c.Request(ctx, NewRoute(http.MethodGet, "/gateway/bot", nil), nil)
	if err != nil {
		return nil, err
	}
	var gb GatewayBot
	if err := json.Unmarshal(data, &gb); err != nil {
		return nil, err
	}
	return &gb, nil
}

// Me fetches the current user. Callers use it to validate the token
// before opening any gateway connection.
func (c *Client) Me(ctx context.Context) (json.RawMessage, error) {
	return c.Request(ctx, NewRoute(http.MethodGet, "/users/@me", nil), nil)
}

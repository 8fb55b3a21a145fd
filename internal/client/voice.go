// ABOUTME: Voice channel join/leave driven through the text gateway.
// ABOUTME: Collects the two prerequisite dispatches, then hands off.

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/2389/chord/internal/event"
	"github.com/2389/chord/internal/voice"
)

type voiceStateEvent struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	UserID    string  `json:"user_id"`
	SessionID string  `json:"session_id"`
}

type voiceServerEvent struct {
	GuildID  string `json:"guild_id"`
	Token    string `json:"token"`
	Endpoint string `json:"endpoint"`
}

// VoiceConnect joins a voice channel: it announces the move on the
// guild's shard, waits for the state and server dispatches that answer
// it, and runs the voice handshake. Joining a guild the client already
// has a voice session for returns that session.
func (c *Client) VoiceConnect(ctx context.Context, guildID, channelID string) (*voice.Session, error) {
	c.mu.Lock()
	if existing, ok := c.voices[guildID]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	userID := c.userID
	c.mu.Unlock()

	if userID == "" {
		return nil, ErrNotConnected
	}
	shard := c.coord.Session(shardForGuild(guildID, c.coord.ShardCount()))
	if shard == nil {
		return nil, ErrNotConnected
	}

	vs := voice.NewSession(voice.Config{
		GuildID:  guildID,
		UserID:   userID,
		Registry: c.registry,
		Logger:   c.cfg.Logger,
		Dialer:   c.cfg.Dialer,
	})

	// Both listeners must be registered before the op=4 goes out, or a
	// fast gateway can answer into the void.
	stateCh := make(chan voiceStateEvent, 1)
	stateID := c.registry.Register(event.VoiceStateUpdate, func(d json.RawMessage) {
		var ev voiceStateEvent
		if json.Unmarshal(d, &ev) == nil && ev.GuildID == guildID && ev.UserID == userID {
			select {
			case stateCh <- ev:
			default:
			}
		}
	})
	defer c.registry.Remove(event.VoiceStateUpdate, stateID)

	serverCh := make(chan voiceServerEvent, 1)
	serverID := c.registry.Register(event.VoiceServerUpdate, func(d json.RawMessage) {
		var ev voiceServerEvent
		if json.Unmarshal(d, &ev) == nil && ev.GuildID == guildID {
			select {
			case serverCh <- ev:
			default:
			}
		}
	})
	defer c.registry.Remove(event.VoiceServerUpdate, serverID)

	if err := shard.UpdateVoiceState(guildID, &channelID, false, false); err != nil {
		return nil, fmt.Errorf("requesting voice state: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case ev := <-stateCh:
			vs.HandleVoiceStateUpdate(ev.SessionID)
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	g.Go(func() error {
		select {
		case ev := <-serverCh:
			vs.HandleVoiceServerUpdate(ev.Endpoint, ev.Token)
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("waiting for voice dispatches: %w", err)
	}
	if err := vs.Connect(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.voices[guildID] = vs
	c.mu.Unlock()
	c.logger.Info("voice connected", "guild", guildID, "channel", channelID)
	return vs, nil
}

// VoiceSession returns the live voice session for a guild, or nil.
func (c *Client) VoiceSession(guildID string) *voice.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voices[guildID]
}

// VoiceDisconnect leaves the guild's voice channel and closes its
// session. No-op when no session exists.
func (c *Client) VoiceDisconnect(guildID string) error {
	c.mu.Lock()
	vs, ok := c.voices[guildID]
	delete(c.voices, guildID)
	c.mu.Unlock()
	if !ok {
		return nil
	}

	if shard := c.coord.Session(shardForGuild(guildID, c.coord.ShardCount())); shard != nil {
		shard.UpdateVoiceState(guildID, nil, false, false)
	}
	return vs.Close()
}

// shardForGuild routes a guild to its shard: the top bits of the
// snowflake modulo the shard count.
func shardForGuild(guildID string, shardCount int) int {
	if shardCount < 2 {
		return 0
	}
	id, err := strconv.ParseUint(guildID, 10, 64)
	if err != nil {
		return 0
	}
	return int((id >> 22) % uint64(shardCount))
}

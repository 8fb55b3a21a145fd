// ABOUTME: Typed event tags and the handler registry with exact-tag dispatch
// ABOUTME: Supports registration, removal, one-shot handlers and filtered waits

package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Tag identifies one event kind. Tags mirror the gateway dispatch
// names; voice-side events get their own tags so listeners never need
// to parse opcode payloads themselves.
type Tag string

// Gateway dispatch tags.
const (
	Ready             Tag = "READY"
	Resumed           Tag = "RESUMED"
	MessageCreate     Tag = "MESSAGE_CREATE"
	MessageUpdate     Tag = "MESSAGE_UPDATE"
	MessageDelete     Tag = "MESSAGE_DELETE"
	GuildCreate       Tag = "GUILD_CREATE"
	ChannelCreate     Tag = "CHANNEL_CREATE"
	ChannelUpdate     Tag = "CHANNEL_UPDATE"
	ChannelDelete     Tag = "CHANNEL_DELETE"
	VoiceStateUpdate  Tag = "VOICE_STATE_UPDATE"
	VoiceServerUpdate Tag = "VOICE_SERVER_UPDATE"
)

// Voice session tags, synthesized by the voice read path.
const (
	SpeakingUpdate        Tag = "SPEAKING_UPDATE"
	VoiceClientConnect    Tag = "VOICE_CLIENT_CONNECT"
	VoiceClientDisconnect Tag = "VOICE_CLIENT_DISCONNECT"
)

var knownTags = map[Tag]struct{}{
	Ready: {}, Resumed: {}, MessageCreate: {}, MessageUpdate: {},
	MessageDelete: {}, GuildCreate: {}, ChannelCreate: {},
	ChannelUpdate: {}, ChannelDelete: {}, VoiceStateUpdate: {},
	VoiceServerUpdate: {}, SpeakingUpdate: {}, VoiceClientConnect: {},
	VoiceClientDisconnect: {},
}

// Lookup maps a wire event name to its tag. The second return is false
// for names this library does not track; dispatching those is a no-op,
// not an error.
func Lookup(name string) (Tag, bool) {
	tag := Tag(name)
	_, ok := knownTags[tag]
	return tag, ok
}

// Handler consumes the raw JSON payload of one event.
type Handler func(data json.RawMessage)

type subscription struct {
	id   string
	fn   Handler
	once bool
}

// Registry is the process-wide event registry. All methods are safe
// for concurrent use; Dispatch runs handlers synchronously so callers
// control ordering.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Tag][]subscription
	logger   *slog.Logger
}

// NewRegistry builds an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[Tag][]subscription),
		logger:   logger.With("component", "events"),
	}
}

// Register adds a handler for the tag and returns a subscription id
// for later removal. Handlers run in registration order.
func (r *Registry) Register(tag Tag, fn Handler) string {
	return r.add(tag, fn, false)
}

// Once adds a handler that is removed after its first invocation.
func (r *Registry) Once(tag Tag, fn Handler) string {
	return r.add(tag, fn, true)
}

func (r *Registry) add(tag Tag, fn Handler, once bool) string {
	id := uuid.New().String()
	r.mu.Lock()
	r.handlers[tag] = append(r.handlers[tag], subscription{id: id, fn: fn, once: once})
	r.mu.Unlock()

	r.logger.Debug("handler registered", "tag", string(tag), "sub_id", id, "once", once)
	return id
}

// Remove deletes a subscription by tag and id. It reports whether a
// subscription was removed.
func (r *Registry) Remove(tag Tag, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.handlers[tag]
	for i, sub := range subs {
		if sub.id == id {
			r.handlers[tag] = append(subs[:i:i], subs[i+1:]...)
			if len(r.handlers[tag]) == 0 {
				delete(r.handlers, tag)
			}
			return true
		}
	}
	return false
}

// Dispatch invokes every handler registered for the tag, in order,
// with the raw payload. Tags with no handlers are a no-op. One-shot
// handlers are removed before their invocation so a handler observing
// an event can immediately re-register without double-firing.
func (r *Registry) Dispatch(tag Tag, data json.RawMessage) {
	r.mu.Lock()
	subs := r.handlers[tag]
	if len(subs) == 0 {
		r.mu.Unlock()
		return
	}

	run := make([]subscription, len(subs))
	copy(run, subs)

	kept := subs[:0]
	for _, sub := range subs {
		if !sub.once {
			kept = append(kept, sub)
		}
	}
	if len(kept) == 0 {
		delete(r.handlers, tag)
	} else {
		r.handlers[tag] = kept
	}
	r.mu.Unlock()

	for _, sub := range run {
		sub.fn(data)
	}
}

// WaitFor blocks until an event of the given tag passes the filter or
// ctx is done. A nil filter accepts the first event.
func (r *Registry) WaitFor(ctx context.Context, tag Tag, filter func(json.RawMessage) bool) (json.RawMessage, error) {
	matched := make(chan json.RawMessage, 1)
	id := r.Register(tag, func(data json.RawMessage) {
		if filter != nil && !filter(data) {
			return
		}
		select {
		case matched <- data:
		default:
		}
	})
	defer r.Remove(tag, id)

	select {
	case data := <-matched:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

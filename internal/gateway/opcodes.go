// ABOUTME: Gateway opcodes and JSON wire frame definitions
// ABOUTME: Frames carry op, payload, sequence and dispatch event name

package gateway

import "encoding/json"

// Gateway opcodes.
const (
	OpDispatch         = 0
	OpHeartbeat        = 1
	OpIdentify         = 2
	OpVoiceStateUpdate = 4
	OpResume           = 6
	OpReconnect        = 7
	OpInvalidSession   = 9
	OpHello            = 10
	OpHeartbeatACK     = 11
)

// frame is one inbound gateway message: integer opcode, raw payload,
// optional sequence number and dispatch event name.
type frame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	S  int64           `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// outFrame is an outbound gateway message.
type outFrame struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type helloPayload struct {
	HeartbeatInterval float64 `json:"heartbeat_interval"`
}

type identifyProperties struct {
	OS      string `json:"$os"`
	Browser string `json:"$browser"`
	Device  string `json:"$device"`
}

type identifyPayload struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
	Shard      *[2]int            `json:"shard,omitempty"`
}

type resumePayload struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

type readyPayload struct {
	SessionID string `json:"session_id"`
}

// voiceStateUpdatePayload asks the gateway to move this client in or
// out of a voice channel; the voice handshake waits on the resulting
// dispatches.
type voiceStateUpdatePayload struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

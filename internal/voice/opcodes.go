// ABOUTME: Voice gateway opcodes and JSON payload definitions
// ABOUTME: The voice socket speaks its own opcode set, distinct from the text gateway

package voice

import "encoding/json"

// Voice gateway opcodes.
const (
	OpIdentify           = 0
	OpSelectProtocol     = 1
	OpReady              = 2
	OpHeartbeat          = 3
	OpSessionDescription = 4
	OpSpeaking           = 5
	OpHeartbeatACK       = 6
	OpResume             = 7
	OpHello              = 8
	OpResumed            = 9
	OpClientConnect      = 12
	OpClientDisconnect   = 13
)

// SpeakingState flags for the SPEAKING payload.
const (
	SpeakingNone       = 0
	SpeakingVoice      = 1
	SpeakingSoundshare = 2
	SpeakingPriority   = 4
)

type frame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type outFrame struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type identifyPayload struct {
	ServerID  string `json:"server_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

type helloPayload struct {
	HeartbeatInterval float64 `json:"heartbeat_interval"`
}

type readyPayload struct {
	SSRC  uint32   `json:"ssrc"`
	IP    string   `json:"ip"`
	Port  int      `json:"port"`
	Modes []string `json:"modes"`
}

type selectProtocolPayload struct {
	Protocol string             `json:"protocol"`
	Data     selectProtocolData `json:"data"`
}

type selectProtocolData struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Mode    string `json:"mode"`
}

// SecretKey arrives as a JSON array of numbers, so []byte (base64 in
// encoding/json) does not fit here.
type sessionDescriptionPayload struct {
	Mode      string `json:"mode"`
	SecretKey []int  `json:"secret_key"`
}

type speakingPayload struct {
	Speaking int    `json:"speaking"`
	Delay    int    `json:"delay"`
	SSRC     uint32 `json:"ssrc,omitempty"`
}

type speakingEvent struct {
	UserID   string `json:"user_id"`
	SSRC     uint32 `json:"ssrc"`
	Speaking int    `json:"speaking"`
}

type clientConnectEvent struct {
	UserID    string `json:"user_id"`
	AudioSSRC uint32 `json:"audio_ssrc"`
}

type clientDisconnectEvent struct {
	UserID string `json:"user_id"`
}

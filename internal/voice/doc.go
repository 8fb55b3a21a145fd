// ABOUTME: Package documentation for the voice package
// ABOUTME: Describes the voice gateway handshake and the UDP media transport

// Package voice implements the secondary media-transport stack: the
// voice gateway WebSocket handshake and the UDP datagram protocol that
// carries RTP-framed, secretbox-encrypted Opus audio.
//
// A Session may only start its socket handshake after the text gateway
// has delivered both a VOICE_STATE_UPDATE (session id) and a
// VOICE_SERVER_UPDATE (endpoint and token). The handshake then runs
// IDENTIFY → HELLO → READY → IP discovery → SELECT_PROTOCOL →
// SESSION_DESCRIPTION, after which the Transport owns the UDP socket.
//
// Three encryption modes are supported, differing only in where the
// 24-byte secretbox nonce comes from: the RTP header, a random suffix,
// or a wrapping 4-byte counter.
package voice

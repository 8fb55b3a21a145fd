// ABOUTME: Package documentation for the gateway package
// ABOUTME: Describes the session state machine and sharding coordinator

// Package gateway maintains the persistent WebSocket connection to the
// event source and demultiplexes its frame stream.
//
// # Session lifecycle
//
// A Session moves through:
//
//	Disconnected → Connecting → Identifying → Connected
//	                                │
//	                     {Resuming, Reconnecting} → Disconnected
//
// The first inbound frame must be HELLO; only after it is consumed is
// IDENTIFY (or RESUME) sent. While connected, exactly two goroutines
// run per session: a heartbeat loop ticking at the HELLO-provided
// interval and a read loop demuxing frames; both are cancelled
// together when the session leaves the connected state.
//
// DISPATCH frames update the sequence counter and route the decoded
// event into the registry. Server-driven RECONNECT resumes with the
// cached session id and sequence; INVALID_SESSION re-identifies from
// scratch. A socket closure ends the session and reports to the owner,
// which decides whether to reconnect.
//
// # Sharding
//
// Coordinator discovers the shard count and max_concurrency from the
// bot-info endpoint and connects each shard on its own Session. Shards
// in the same start-concurrency bucket identify at least five seconds
// apart; the gateway URL is resolved once and shared.
package gateway

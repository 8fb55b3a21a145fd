// ABOUTME: Package documentation for the client facade
// ABOUTME: Describes how the REST, gateway and voice layers compose

// Package client ties the connection layers together: one REST client,
// one event registry, a sharding coordinator, and any number of voice
// sessions keyed by guild.
//
// A Client validates its token against the REST API before opening any
// gateway connection, then hands the registry to every shard so
// dispatches from all of them funnel into the same handlers.
// VoiceConnect drives the two-dispatch voice handshake end to end.
package client

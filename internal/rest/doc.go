// ABOUTME: Package documentation for the rest package
// ABOUTME: Describes the rate-limited REST core and its bucket model

// Package rest implements the rate-limited REST core of chord.
//
// Every outbound API call flows through a Limiter that models the
// server's per-route token buckets. A bucket is identified by the
// request method, the path template, and the major parameter embedded
// in the route (channel, guild or webhook id) — never by the resolved
// URL. Bucket capacity is learned lazily with a HEAD probe on first
// use. A single process-wide gate implements the global lockout: when
// the server reports a global rate limit, all buckets stall until the
// reported retry-after deadline passes.
//
// 429 responses are absorbed inside Client.Request and retried; callers
// only ever observe them as latency. All other non-2xx statuses map to
// typed errors carrying the code and message from the response body.
package rest

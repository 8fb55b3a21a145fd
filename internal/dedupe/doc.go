// Package dedupe provides event deduplication using a time-based cache
// partitioned by scope. A session resume replays dispatches the gateway
// could not confirm were delivered; handlers that must run at most once
// per event key use this cache to drop the replays. Scoping by event tag
// keeps a high-volume event type from evicting another type's history.
package dedupe

// ABOUTME: Package documentation for the event package
// ABOUTME: Describes the typed dispatch registry fed by gateway sessions

// Package event provides the process-wide dispatch registry that
// gateway sessions route decoded events into.
//
// Events are identified by typed tags rather than free-form strings:
// dispatch performs an exact tag lookup and unknown gateway event names
// are ignored. Handlers are invoked synchronously in registration
// order, so within one session the order handlers observe equals the
// order frames were received.
package event

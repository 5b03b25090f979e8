// Package broadcast implements the live room fan-out using the actor pattern.
//
// A Registry maps event IDs to Rooms. Each Room is a single goroutine that
// owns its member set and processes join, leave and publish commands in
// arrival order, so every member observes room events in the same order.
// Publishing encodes a message once and enqueues the frame on each member
// without blocking; a member whose outbound queue is full is disconnected.
// Per-connection reader and writer goroutines handle heartbeats, rate limits
// and slow clients.
package broadcast

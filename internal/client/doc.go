// Package client implements the subscriber side of a live room: a
// reconnecting controller with capped exponential backoff, resync
// reconciliation that discards live messages older than the REST snapshot,
// and an optimistic store for locally applied actions awaiting confirmation.
package client

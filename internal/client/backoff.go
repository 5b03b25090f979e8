package client

import "time"

const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 30 * time.Second
)

// Backoff computes reconnect delays of min(base*2^n, max), where n counts
// consecutive failures since the last successful connect.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	attempt int
}

func NewBackoff(base, maxDelay time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if maxDelay < base {
		maxDelay = base
	}
	return &Backoff{base: base, max: maxDelay}
}

// Next returns the delay for the current failure and advances the counter.
func (b *Backoff) Next() time.Duration {
	d := b.Delay(b.attempt)
	b.attempt++
	return d
}

// Delay returns the delay for failure n without changing state.
func (b *Backoff) Delay(n int) time.Duration {
	d := b.base
	for range n {
		d *= 2
		if d >= b.max || d <= 0 {
			return b.max
		}
	}
	return min(d, b.max)
}

func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt is the number of failures since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

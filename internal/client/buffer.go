package client

import (
	"strings"
	"time"
)

// Buffer coalesces content deltas so observers are not woken for every
// token. A flush is due once the buffered text reaches the threshold or
// the oldest buffered delta is older than the interval.
type Buffer struct {
	threshold int
	interval  time.Duration

	pending strings.Builder
	since   time.Time // arrival of the oldest buffered delta
}

// NewBuffer returns an empty buffer.
func NewBuffer(threshold int, interval time.Duration) *Buffer {
	return &Buffer{threshold: threshold, interval: interval}
}

// Add buffers delta and reports whether the threshold was reached.
func (b *Buffer) Add(delta string, now time.Time) bool {
	if delta == "" {
		return false
	}
	if b.pending.Len() == 0 {
		b.since = now
	}
	b.pending.WriteString(delta)
	return b.pending.Len() >= b.threshold
}

// Due reports whether buffered text has waited at least the interval.
func (b *Buffer) Due(now time.Time) bool {
	return b.pending.Len() > 0 && now.Sub(b.since) >= b.interval
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return b.pending.Len() }

// Take returns the buffered text and empties the buffer.
func (b *Buffer) Take() string {
	s := b.pending.String()
	b.pending.Reset()
	return s
}

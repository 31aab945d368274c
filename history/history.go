// Package history measures recent throughput: it keeps timestamped
// counts for a fixed span and forgets anything older.
package history

import (
	"sync"
	"time"

	"golang.org/x/exp/constraints"
)

type realNumber interface {
	constraints.Integer | constraints.Float
}

// Log is one recorded amount.
type Log[T realNumber] struct {
	At    time.Time
	Datum T
}

// History holds the Logs of the last ttl. It is safe for concurrent use.
type History[T realNumber] struct {
	mu      sync.Mutex
	ttl     time.Duration
	started time.Time
	now     func() time.Time
	logs    []Log[T]
}

func New[T realNumber](ttl time.Duration) *History[T] {
	return newWithClock[T](ttl, time.Now)
}

func newWithClock[T realNumber](ttl time.Duration, now func() time.Time) *History[T] {
	return &History[T]{
		ttl:     ttl,
		started: now(),
		now:     now,
	}
}

// Add records datum at the current time.
func (h *History[T]) Add(datum T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	h.reapWhileLocked(now)
	h.logs = append(h.logs, Log[T]{now, datum})
}

// Sum totals the unexpired Logs.
func (h *History[T]) Sum() T {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.reapWhileLocked(h.now())

	var sum T
	for _, l := range h.logs {
		sum += l.Datum
	}

	return sum
}

// RatePerSecond is Sum divided by the span that it covers: the ttl, or
// the History’s age if that is shorter. The span is at least one second
// so that a young History does not report a burst as a huge rate.
func (h *History[T]) RatePerSecond() float64 {
	sum := h.Sum()

	span := min(h.ttl, h.now().Sub(h.started))

	return float64(sum) / max(span, time.Second).Seconds()
}

func (h *History[T]) reapWhileLocked(now time.Time) {
	cutoff := now.Add(-h.ttl)

	firstValid := len(h.logs)
	for i, l := range h.logs {
		if !l.At.Before(cutoff) {
			firstValid = i
			break
		}
	}

	h.logs = h.logs[firstValid:]
}

// Package mailbox hands the latest value from any number of senders to one receiver.
//
// A Mailbox holds at most one value.  Putting a value into a full mailbox replaces what was there;
// the receiver only ever sees the most recent value, and the replaced one is counted but otherwise
// lost.
package mailbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var overwritesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mailbox_overwrites",
	Help: "count of values replaced before the receiver took them, by mailbox",
}, []string{"mailbox"})

// Mailbox is a single slot.  It is safe for concurrent use, but only one goroutine should Wait.
type Mailbox[T any] struct {
	name   string
	notify chan struct{}

	mu    sync.Mutex
	value T
	full  bool
}

// New returns an empty mailbox.  The name labels its metrics.
func New[T any](name string) *Mailbox[T] {
	return &Mailbox[T]{name: name, notify: make(chan struct{}, 1)}
}

// Put leaves v in the mailbox and wakes the receiver.  It never blocks.  It returns true if an
// unread value was replaced.
func (m *Mailbox[T]) Put(v T) bool {
	m.mu.Lock()
	overwrote := m.full
	m.value, m.full = v, true
	m.mu.Unlock()
	if overwrote {
		overwritesCounter.WithLabelValues(m.name).Inc()
	}
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return overwrote
}

// Take empties the mailbox without waiting.
func (m *Mailbox[T]) Take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.value, m.full
	var zero T
	m.value, m.full = zero, false
	return v, ok
}

// Wait takes the value in the mailbox, waiting up to timeout for one to arrive.  A timeout <= 0
// waits until the context is done.  It returns false if the timeout expired with the mailbox
// still empty.
func (m *Mailbox[T]) Wait(ctx context.Context, timeout time.Duration) (T, bool, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		if v, ok := m.Take(); ok {
			return v, true, nil
		}
		select {
		case <-m.notify:
		case <-expired:
			// A Put that raced the timer is still delivered.
			v, ok := m.Take()
			return v, ok, nil
		case <-ctx.Done():
			var zero T
			return zero, false, fmt.Errorf("mailbox %s: %w", m.name, ctx.Err())
		}
	}
}

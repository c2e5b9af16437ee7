// Package clock decides what the tubes show: the time of day, a number somebody asked to see for
// a few seconds, or nothing at all.
package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	missedTicksCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "missed_ticks",
		Help: "count of ticks that were generated but never received by anything, by interval",
	}, []string{"interval"})

	tickDelayMetric = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tick_delay",
		Help:    "amount of time between the interval boundary and when the tick is sent to the channel, in nanoseconds",
		Buckets: prometheus.ExponentialBuckets(1000, 10, 20),
	}, []string{"interval"})
)

// Tick sends the current time to the provided channel at the exact instant that each interval
// starts, on the wall clock (so a minute ticker fires when the seconds go to zero).  An absent
// listener will not receive an outdated time; the tick will be skipped and the missed ticks
// counter incremented.  Cancelling the context causes this to return immediately.
func Tick(ctx context.Context, interval time.Duration, ch chan time.Time) error {
	label := interval.String()
	for {
		next := time.Now().Add(interval).Truncate(interval)

		// Wait until the next interval starts.
		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			return fmt.Errorf("waiting for next %s: %w", label, ctx.Err())
		}

		// Send the time to the channel.
		select {
		case <-time.After(interval / 2):
			missedTicksCounter.WithLabelValues(label).Inc()
		case <-ctx.Done():
			return fmt.Errorf("waiting to send tick: %w", ctx.Err())
		case ch <- next:
			tickDelayMetric.WithLabelValues(label).Observe(float64(time.Since(next).Nanoseconds()))
		}
	}
}

// UntilNextMinute returns how long it is from t until the seconds on the wall clock next read
// zero.
func UntilNextMinute(t time.Time) time.Duration {
	next := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location()).Add(time.Minute)
	return next.Sub(t)
}

// Package input turns GPIO edges from the buttons and the wheel into calls.
//
// Each watched pin gets its own goroutine blocked in WaitForEdge.  Pins are pulled up, so a press
// reads Low.
package input

import (
	"context"
	"fmt"
	"time"

	"github.com/jrockway/nixie-radio/control/wheel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/gpio"
)

// Debounce intervals for the switches and encoder on the board.
const (
	ButtonDebounce = 10 * time.Millisecond
	WheelDebounce  = 5 * time.Millisecond
)

// pollInterval bounds how long a watcher waits for an edge before looking at its context again.
const pollInterval = 100 * time.Millisecond

var (
	edgesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "input_edges",
		Help: "count of edges seen on input pins, by pin",
	}, []string{"pin"})
	bouncesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "input_bounces",
		Help: "count of edges ignored because they came too soon after the last one, by pin",
	}, []string{"pin"})
)

// edges calls fn with the pin's level after every edge, except edges within debounce of the last
// one passed on.  It returns when the context is done.
func edges(ctx context.Context, p gpio.PinIn, debounce time.Duration, fn func(gpio.Level)) error {
	if err := p.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return fmt.Errorf("configure %s: %w", p.Name(), err)
	}
	l := trace.NewEventLog("input", p.Name())
	defer l.Finish()
	var last time.Time
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("watch %s: %w", p.Name(), err)
		}
		if !p.WaitForEdge(pollInterval) {
			continue
		}
		edgesCounter.WithLabelValues(p.Name()).Inc()
		now := time.Now()
		if !last.IsZero() && now.Sub(last) < debounce {
			bouncesCounter.WithLabelValues(p.Name()).Inc()
			continue
		}
		last = now
		level := p.Read()
		l.Printf("%v", level)
		fn(level)
	}
}

// WatchButton calls press each time the button on p is pushed down.
func WatchButton(ctx context.Context, p gpio.PinIn, debounce time.Duration, press func()) error {
	return edges(ctx, p, debounce, func(level gpio.Level) {
		if level == gpio.Low {
			press()
		}
	})
}

// WatchWheel feeds the edges of the encoder's two phases to d.
func WatchWheel(ctx context.Context, a, b gpio.PinIn, debounce time.Duration, d *wheel.Decoder) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return edges(ctx, a, debounce, func(level gpio.Level) {
			d.Edge(wheel.PhaseA, bool(level), bool(b.Read()))
		})
	})
	eg.Go(func() error {
		return edges(ctx, b, debounce, func(level gpio.Level) {
			d.Edge(wheel.PhaseB, bool(level), bool(a.Read()))
		})
	})
	return eg.Wait()
}

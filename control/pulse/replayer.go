package pulse

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"periph.io/x/conn/v3/gpio"
)

var (
	latePeriodsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_late_periods",
		Help: "count of times the replayer fell more than a whole period behind and resynchronized",
	})
	periodsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_periods",
		Help: "count of full periods replayed onto the gpio pins",
	})
)

// Replayer is an Engine that plays the buffer onto GPIO pins from a goroutine locked to its own
// OS thread, spinning between ticks.  Line i of the program is pins[i].
type Replayer struct {
	pins []gpio.PinOut
	tick time.Duration

	mu    sync.Mutex
	slots []atomic.Uint64 // set in the low 32 bits, clear in the high 32; must hold mu to replace the slice
}

// NewReplayer returns a Replayer that advances one slot every tick.
func NewReplayer(tick time.Duration, pins ...gpio.PinOut) *Replayer {
	return &Replayer{pins: pins, tick: tick}
}

// Init implements Engine.
func (r *Replayer) Init(period, lines int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots != nil {
		return errors.New("replayer already claimed")
	}
	if got, want := lines, len(r.pins); got != want {
		return fmt.Errorf("program has %d lines but replayer has %d pins", got, want)
	}
	if r.tick <= 0 {
		return fmt.Errorf("tick must be positive; got %v", r.tick)
	}
	for _, p := range r.pins {
		if err := p.Out(gpio.Low); err != nil {
			return fmt.Errorf("drive %s low: %w", p, err)
		}
	}
	r.slots = make([]atomic.Uint64, period)
	return nil
}

// Store implements Engine.  The set and clear masks of one slot are replaced in a single atomic
// store, so the replayer never sees half of a write.
func (r *Replayer) Store(offset int, set, clear uint32) error {
	r.mu.Lock()
	slots := r.slots
	r.mu.Unlock()
	if slots == nil {
		return errors.New("replayer not claimed")
	}
	if offset < 0 || offset >= len(slots) {
		return fmt.Errorf("offset %d out of range", offset)
	}
	slots[offset].Store(uint64(clear)<<32 | uint64(set))
	return nil
}

// Close implements Engine.
func (r *Replayer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots = nil
	var result error
	for _, p := range r.pins {
		if err := p.Out(gpio.Low); err != nil && result == nil {
			result = fmt.Errorf("drive %s low: %w", p, err)
		}
	}
	return result
}

// Run replays the buffer until the context is cancelled or a pin write fails.  Init must have been
// called first.
func (r *Replayer) Run(ctx context.Context) error {
	r.mu.Lock()
	slots := r.slots
	r.mu.Unlock()
	if slots == nil {
		return errors.New("replayer not claimed")
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	period := time.Duration(len(slots)) * r.tick
	var level uint32
	next := time.Now()
	for i := 0; ; i++ {
		if i == len(slots) {
			i = 0
			periodsCounter.Inc()
			select {
			case <-ctx.Done():
				return fmt.Errorf("replaying pulses: %w", ctx.Err())
			default:
			}
		}

		for time.Now().Before(next) {
		}

		w := slots[i].Load()
		set, clear := uint32(w), uint32(w>>32)
		newLevel := level&^clear | set
		if changed := newLevel ^ level; changed != 0 {
			for l, p := range r.pins {
				bit := Line(l).Mask()
				if changed&bit == 0 {
					continue
				}
				if err := p.Out(gpio.Level(newLevel&bit != 0)); err != nil {
					return fmt.Errorf("%w: write %s at slot %d: %v", ErrFault, p, i, err)
				}
			}
			level = newLevel
		}

		next = next.Add(r.tick)
		if time.Since(next) > period {
			// The scheduler took the thread away for too long; skip ahead rather than replaying
			// a burst of stale edges.
			latePeriodsCounter.Inc()
			next = time.Now()
		}
	}
}

// Package wheel decodes the two phases of a mechanical quadrature encoder into a bounded value.
//
// The decoder counts raw steps, one per accepted edge, and reports the raw count scaled into the
// range it was last set up with.  Setting it up again rescales the raw count so that the knob
// keeps its position relative to the new range; no physical movement is needed.
package wheel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrConfig is returned for a range the decoder can't represent.
var ErrConfig = errors.New("invalid wheel configuration")

var (
	glitchesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wheel_glitches",
		Help: "count of encoder edges discarded as noise, by reason",
	}, []string{"reason"})
	stepsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wheel_steps",
		Help: "count of encoder steps accepted, by direction",
	}, []string{"direction"})
)

// Receiver accepts the wheel's value every time it moves.
type Receiver interface {
	Update(value int)
}

// ReceiverFunc adapts a function to a Receiver.
type ReceiverFunc func(int)

// Update implements Receiver.
func (f ReceiverFunc) Update(value int) { f(value) }

// Phase names one of the two encoder outputs.
type Phase int

const (
	PhaseA Phase = iota
	PhaseB
)

func (p Phase) String() string {
	if p == PhaseB {
		return "B"
	}
	return "A"
}

// Direction is the way the knob turned.
type Direction int

const (
	CW  Direction = 1
	CCW Direction = -1
)

func (d Direction) String() string {
	if d == CCW {
		return "ccw"
	}
	return "cw"
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// directions is indexed by [phase that moved][last level of the other phase][new level].
var directions = [2][2][2]Direction{
	PhaseA: {
		0: {0: CCW, 1: CW},
		1: {0: CW, 1: CCW},
	},
	PhaseB: {
		0: {0: CW, 1: CCW},
		1: {0: CCW, 1: CW},
	},
}

// Decoder is the encoder state.  It is safe for concurrent use; edges of both phases may arrive
// from different goroutines.
type Decoder struct {
	stepsPerTurn int

	mu     sync.Mutex
	levels [2]bool
	raw    int
	rawMin int
	rawMax int
	min    int
	max    int
	span   int // raw steps covering [min, max]
	recv   Receiver
}

// New returns a decoder for an encoder that produces stepsPerTurn edges per revolution, given the
// phase levels at startup.  It covers [0, 100] over one turn and starts at 50 until set up.
func New(stepsPerTurn int, a, b bool) *Decoder {
	d := &Decoder{stepsPerTurn: stepsPerTurn, levels: [2]bool{a, b}}
	if err := d.Setup(0, 50, 100, 1, nil); err != nil {
		// Only reachable with a nonsensical stepsPerTurn; leave the decoder stuck at zero.
		d.span = 1
	}
	return d
}

// Setup maps turns revolutions of the knob onto [min, max], with the knob currently at initial.
// Each accepted edge is reported to r; a nil r discards them.
func (d *Decoder) Setup(min, initial, max int, turns float64, r Receiver) error {
	if max == min {
		return fmt.Errorf("%w: empty range [%d, %d]", ErrConfig, min, max)
	}
	if turns <= 0 {
		return fmt.Errorf("%w: turns must be positive; got %v", ErrConfig, turns)
	}
	span := int(turns * float64(d.stepsPerTurn))
	if span < 1 {
		return fmt.Errorf("%w: %v turns of %d steps is less than one step", ErrConfig, turns, d.stepsPerTurn)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.min, d.max, d.span = min, max, span
	d.rawMin = min * span / (max - min)
	d.rawMax = max * span / (max - min)
	if d.rawMin > d.rawMax {
		d.rawMin, d.rawMax = d.rawMax, d.rawMin
	}
	d.raw = d.clamp(initial * span / (max - min))
	d.recv = r
	return nil
}

func (d *Decoder) clamp(raw int) int {
	if raw < d.rawMin {
		return d.rawMin
	}
	if raw > d.rawMax {
		return d.rawMax
	}
	return raw
}

// scaled is the raw count in the configured range.  Must hold mu.
func (d *Decoder) scaled() int {
	return d.raw * (d.max - d.min) / d.span
}

// Edge handles a transition of phase p to level, where other is the level of the other phase read
// at the same time.
func (d *Decoder) Edge(p Phase, level, other bool) {
	d.mu.Lock()
	o := 1 - p
	if d.levels[o] != other {
		// Both phases moved between two observations; there's no telling which way.
		d.mu.Unlock()
		glitchesCounter.WithLabelValues("simultaneous").Inc()
		return
	}
	if d.levels[p] == level {
		d.mu.Unlock()
		glitchesCounter.WithLabelValues("duplicate").Inc()
		return
	}
	d.levels[p] = level

	dir := directions[p][b2i(other)][b2i(level)]
	d.raw = d.clamp(d.raw + int(dir))
	value, r := d.scaled(), d.recv
	d.mu.Unlock()

	stepsCounter.WithLabelValues(dir.String()).Inc()
	if r != nil {
		r.Update(value)
	}
}

// Value returns the current position in the configured range.
func (d *Decoder) Value() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scaled()
}

// Raw returns the raw step count and its bounds.
func (d *Decoder) Raw() (raw, min, max int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.raw, d.rawMin, d.rawMax
}

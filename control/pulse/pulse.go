// Package pulse schedules edges for a set of output lines inside one cyclic period, the way a
// DMA-driven PWM peripheral replays a buffer of GPIO set/clear words forever.
//
// A Program divides the period into slots, one per tick.  Each slot holds the lines to drive high
// and the lines to drive low at that tick.  Writing a slot replaces what was there for the lines
// being written; nothing is ever added on top of an earlier write, so a line can't end up with a
// dangling half of a pulse.
package pulse

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MaxLines is the number of lines a single Program can drive.
const MaxLines = 32

// ErrFault is wrapped by every error that comes from the timing peripheral itself.  Nothing
// retries these; the display can't be trusted after one.
var ErrFault = errors.New("pulse peripheral fault")

var (
	slotWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_slot_writes",
		Help: "count of slots rewritten in the timing peripheral",
	})
	slotWritesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_slot_writes_skipped",
		Help: "count of slot writes skipped because the slot already held the requested value",
	})
)

// Engine is the timing peripheral.  It replays a buffer of period slots forever; slot i says which
// lines go high and which go low at tick i.
type Engine interface {
	// Init claims the peripheral for a period of the given number of ticks and drives all lines
	// low.
	Init(period, lines int) error
	// Store replaces the contents of one slot.
	Store(offset int, set, clear uint32) error
	// Close drives every line low and releases the peripheral.
	Close() error
}

// Line is the index of one output within a Program.
type Line int

// Mask returns the bit that represents l in set/clear masks.
func (l Line) Mask() uint32 { return 1 << uint(l) }

type slot struct {
	set, clear uint32 // never intersect
}

// Program is the schedule of every line sharing one Engine.  It is safe for concurrent use.
type Program struct {
	engine Engine
	period int
	all    uint32

	mu    sync.Mutex
	slots []slot // must hold mu
	on    []int  // per-line offset of the edge written by SetOn, or -1
	off   []int  // per-line offset of the edge written by SetOff, or -1
}

// NewProgram claims the engine for a period of the given number of ticks and the given number of
// lines.  All lines start low.
func NewProgram(e Engine, period, lines int) (*Program, error) {
	if period <= 0 {
		return nil, fmt.Errorf("period must be positive; got %d", period)
	}
	if lines <= 0 || lines > MaxLines {
		return nil, fmt.Errorf("line count must be in [1, %d]; got %d", MaxLines, lines)
	}
	if err := e.Init(period, lines); err != nil {
		return nil, fmt.Errorf("%w: init engine: %v", ErrFault, err)
	}
	p := &Program{
		engine: e,
		period: period,
		all:    uint32(1<<uint(lines) - 1),
		slots:  make([]slot, period),
		on:     make([]int, lines),
		off:    make([]int, lines),
	}
	for i := range p.on {
		p.on[i], p.off[i] = -1, -1
	}
	return p, nil
}

// Period returns the length of the cycle, in ticks.
func (p *Program) Period() int { return p.period }

func (p *Program) checkOffset(offset int) error {
	if offset < 0 || offset >= p.period {
		return fmt.Errorf("offset %d outside period of %d ticks", offset, p.period)
	}
	return nil
}

func (p *Program) checkLine(l Line) error {
	if l < 0 || int(l) >= len(p.on) {
		return fmt.Errorf("line %d not in program of %d lines", l, len(p.on))
	}
	return nil
}

// store writes a slot to the engine, unless it already holds s.  Must hold mu.
func (p *Program) store(offset int, s slot) error {
	if p.slots[offset] == s {
		slotWritesSkipped.Inc()
		return nil
	}
	if err := p.engine.Store(offset, s.set, s.clear); err != nil {
		return fmt.Errorf("%w: store slot %d: %v", ErrFault, offset, err)
	}
	p.slots[offset] = s
	slotWrites.Inc()
	return nil
}

func (p *Program) assign(value, mask uint32, offset int) error {
	mask &= p.all
	s := p.slots[offset]
	s.set = s.set&^mask | value&mask
	s.clear = s.clear&^mask | ^value&mask
	return p.store(offset, s)
}

func (p *Program) release(mask uint32, offset int) error {
	s := p.slots[offset]
	s.set &^= mask
	s.clear &^= mask
	return p.store(offset, s)
}

// AssignMask drives every line in mask to its bit in value at offset, in a single write to the
// engine.  Lines outside mask are untouched.
func (p *Program) AssignMask(value, mask uint32, offset int) error {
	if err := p.checkOffset(offset); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.assign(value, mask, offset)
}

// Release removes whatever the lines in mask were doing at offset.
func (p *Program) Release(mask uint32, offset int) error {
	if err := p.checkOffset(offset); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.release(mask&p.all, offset)
}

// SetOn moves l's rising edge to offset, removing the previous one.
func (p *Program) SetOn(l Line, offset int) error {
	return p.setEdge(l, offset, true)
}

// SetOff moves l's falling edge to offset, removing the previous one.
func (p *Program) SetOff(l Line, offset int) error {
	return p.setEdge(l, offset, false)
}

func (p *Program) setEdge(l Line, offset int, high bool) error {
	if err := p.checkLine(l); err != nil {
		return err
	}
	if err := p.checkOffset(offset); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	mine, other := p.on, p.off
	value := l.Mask()
	if !high {
		mine, other = p.off, p.on
		value = 0
	}
	if prev := mine[l]; prev >= 0 && prev != offset {
		if err := p.release(l.Mask(), prev); err != nil {
			return err
		}
		mine[l] = -1
	}
	if err := p.assign(value, l.Mask(), offset); err != nil {
		return err
	}
	mine[l] = offset
	if other[l] == offset {
		// The opposite edge was just overwritten.
		other[l] = -1
	}
	return nil
}

// Close releases the engine, driving every line low.
func (p *Program) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.engine.Close(); err != nil {
		return fmt.Errorf("%w: close engine: %v", ErrFault, err)
	}
	return nil
}

package pulse

import (
	"errors"
	"fmt"
	"sync"
)

// Buffer is an Engine that only remembers what it was told.  It backs the simulated clock and the
// tests, and can compute the waveform the real peripheral would produce.
type Buffer struct {
	// Fail, if set, is returned by every Store call.
	Fail error

	mu      sync.Mutex
	claimed bool
	period  int
	lines   int
	set     []uint32
	clear   []uint32
	writes  int
}

// NewBuffer returns an unclaimed Buffer.
func NewBuffer() *Buffer {
	return new(Buffer)
}

// Init implements Engine.
func (b *Buffer) Init(period, lines int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.claimed {
		return errors.New("buffer already claimed")
	}
	b.claimed = true
	b.period, b.lines = period, lines
	b.set = make([]uint32, period)
	b.clear = make([]uint32, period)
	return nil
}

// Store implements Engine.
func (b *Buffer) Store(offset int, set, clear uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Fail != nil {
		return b.Fail
	}
	if !b.claimed {
		return errors.New("buffer not claimed")
	}
	if offset < 0 || offset >= b.period {
		return fmt.Errorf("offset %d out of range", offset)
	}
	b.set[offset], b.clear[offset] = set, clear
	b.writes++
	return nil
}

// Close implements Engine.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.set {
		b.set[i], b.clear[i] = 0, 0
	}
	b.claimed = false
	return nil
}

// Writes returns the number of successful Store calls so far.
func (b *Buffer) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// Slot returns the set and clear masks stored at offset.
func (b *Buffer) Slot(offset int) (set, clear uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.set[offset], b.clear[offset]
}

// Levels returns the level of every line at each tick of the period, once the buffer has been
// replayed long enough for the output to be periodic.
func (b *Buffer) Levels() []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var level uint32
	// One full pass settles every line that has an edge anywhere in the period.
	for i := 0; i < b.period; i++ {
		level = level&^b.clear[i] | b.set[i]
	}
	result := make([]uint32, b.period)
	for i := 0; i < b.period; i++ {
		level = level&^b.clear[i] | b.set[i]
		result[i] = level
	}
	return result
}

// Waveform returns the level of line l at each tick of the period.
func (b *Buffer) Waveform(l Line) []bool {
	levels := b.Levels()
	result := make([]bool, len(levels))
	for i, v := range levels {
		result[i] = v&l.Mask() != 0
	}
	return result
}

// Package nixie drives the four multiplexed nixie tubes and the colon indicator of the clock
// through one pulse.Program.
//
// The tubes share their cathode (digit) lines and their anode (tube select) lines.  Each tube owns
// one stride of the period: at the start of its stride the digit pattern goes out, and one tick
// later the tube's anode pattern turns on for the tube's length, which is what brightness
// controls.  The digit is held for DigitLength ticks so the cathodes settle before the anode is
// selected.
package nixie

import (
	"fmt"
	"sync"

	"github.com/jrockway/nixie-radio/control/pulse"
)

// Timing of the multiplexing, in ticks of the pulse engine.
const (
	Period      = 1000
	Stride      = 250
	DigitLength = 240
	TubeLength  = 170
	NumTubes    = 4
)

// Program lines, in the order the hardware context hands out output pins.
const (
	lineCathodeA pulse.Line = iota
	lineCathodeB
	lineCathodeC
	lineCathodeD
	lineAnodeA
	lineAnodeB
	lineAnodeC
	lineDotTop
	lineDotBottom

	// NumLines is the number of outputs the display drives.
	NumLines = int(lineDotBottom) + 1
)

const (
	digitMask uint32 = 0xf << uint(lineCathodeA)
	anodeMask uint32 = 0x7 << uint(lineAnodeA)
)

// digitPatterns maps a digit to the cathode lines (A=bit 0 .. D=bit 3) that select it on the
// tubes' driver.
var digitPatterns = [10]uint32{
	0: 0x0,
	1: 0x2,
	2: 0x9,
	3: 0x3,
	4: 0x7,
	5: 0x6,
	6: 0x8,
	7: 0x4,
	8: 0x5,
	9: 0x1,
}

// anodePatterns maps a tube to the anode lines (a=bit 0 .. c=bit 2) that select it.
var anodePatterns = [NumTubes]uint32{
	0: 0x3 << uint(lineAnodeA),
	1: 0x4 << uint(lineAnodeA),
	2: 0x2 << uint(lineAnodeA),
	3: 0x5 << uint(lineAnodeA),
}

// Glyph is what one tube shows.
type Glyph struct {
	// Digit is 0-9, or -1 for a dark tube.
	Digit int
	// Blended glyphs switch to Second after Mix percent of the tube's on-time.
	Blended bool
	Second  int
	Mix     int
}

// Blank is the glyph of a dark tube.
var Blank = Glyph{Digit: -1}

// Digit returns the glyph showing d.
func Digit(d int) Glyph { return Glyph{Digit: d} }

// Blend returns a glyph that shows first for mix percent of the tube's on-time and second for the
// rest, which the eye merges into one symbol.
func Blend(first, second, mix int) Glyph {
	return Glyph{Digit: first, Blended: true, Second: second, Mix: mix}
}

// IsBlank returns true if the tube is dark.
func (g Glyph) IsBlank() bool { return g.Digit < 0 }

func (g Glyph) validate() error {
	if g.Digit < -1 || g.Digit > 9 {
		return fmt.Errorf("digit %d out of range", g.Digit)
	}
	if !g.Blended {
		return nil
	}
	if g.Digit < 0 {
		return fmt.Errorf("blank glyph can't be blended")
	}
	if g.Second < 0 || g.Second > 9 {
		return fmt.Errorf("second digit %d out of range", g.Second)
	}
	if g.Mix < 0 || g.Mix > 100 {
		return fmt.Errorf("blend percentage %d out of range", g.Mix)
	}
	return nil
}

func (g Glyph) String() string {
	switch {
	case g.IsBlank():
		return "-"
	case g.Blended:
		return fmt.Sprintf("%d/%d", g.Digit, g.Second)
	default:
		return fmt.Sprintf("%d", g.Digit)
	}
}

// Tube is one tube's slot in the program.  It is safe for concurrent use.
type Tube struct {
	prog  *pulse.Program
	index int
	start int

	mu      sync.Mutex
	glyph   Glyph // kept while blanked, shown again on Unblank
	blanked bool
	length  int
	mixAt   int // offset of the mid-slot digit overwrite, or -1
	anodeAt int // offset where the anode turns off, or -1
}

func newTube(prog *pulse.Program, index int) (*Tube, error) {
	t := &Tube{
		prog:    prog,
		index:   index,
		start:   index * Stride,
		glyph:   Digit(0),
		blanked: true,
		length:  TubeLength,
		mixAt:   -1,
		anodeAt: -1,
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.writeDigits(); err != nil {
		return nil, err
	}
	if err := t.writeAnode(); err != nil {
		return nil, err
	}
	return t, nil
}

// mixOffset is where a blend switches digits, relative to the start of the slot.  It stays inside
// the digit window and never lands on the first digit's slot.
func (t *Tube) mixOffset() int {
	o := t.length * t.glyph.Mix / 100
	if o < 1 {
		o = 1
	}
	if o > DigitLength-1 {
		o = DigitLength - 1
	}
	return o
}

func (t *Tube) writeDigits() error {
	if err := t.prog.AssignMask(digitPatterns[t.glyph.Digit], digitMask, t.start); err != nil {
		return fmt.Errorf("tube %d: write digit: %w", t.index, err)
	}
	if err := t.prog.AssignMask(0, digitMask, t.start+DigitLength); err != nil {
		return fmt.Errorf("tube %d: end digit: %w", t.index, err)
	}
	mixAt := -1
	if t.glyph.Blended {
		mixAt = t.start + t.mixOffset()
	}
	if t.mixAt >= 0 && t.mixAt != mixAt {
		if err := t.prog.Release(digitMask, t.mixAt); err != nil {
			return fmt.Errorf("tube %d: release blend: %w", t.index, err)
		}
	}
	t.mixAt = -1
	if mixAt >= 0 {
		if err := t.prog.AssignMask(digitPatterns[t.glyph.Second], digitMask, mixAt); err != nil {
			return fmt.Errorf("tube %d: write blend: %w", t.index, err)
		}
		t.mixAt = mixAt
	}
	return nil
}

func (t *Tube) writeAnode() error {
	on := t.start + 1
	if t.blanked {
		if err := t.prog.AssignMask(0, anodeMask, on); err != nil {
			return fmt.Errorf("tube %d: blank anode: %w", t.index, err)
		}
		if t.anodeAt >= 0 {
			if err := t.prog.Release(anodeMask, t.anodeAt); err != nil {
				return fmt.Errorf("tube %d: release anode: %w", t.index, err)
			}
			t.anodeAt = -1
		}
		return nil
	}
	off := on + t.length
	if t.anodeAt >= 0 && t.anodeAt != off {
		if err := t.prog.Release(anodeMask, t.anodeAt); err != nil {
			return fmt.Errorf("tube %d: release anode: %w", t.index, err)
		}
		t.anodeAt = -1
	}
	if err := t.prog.AssignMask(anodePatterns[t.index], anodeMask, on); err != nil {
		return fmt.Errorf("tube %d: write anode: %w", t.index, err)
	}
	if err := t.prog.AssignMask(0, anodeMask, off); err != nil {
		return fmt.Errorf("tube %d: end anode: %w", t.index, err)
	}
	t.anodeAt = off
	return nil
}

// SetDigit shows d, leaving any blend.
func (t *Tube) SetDigit(d int) error {
	return t.Show(Digit(d))
}

// Blend shows first and second in the same slot, switching after mix percent of the on-time.
func (t *Tube) Blend(first, second, mix int) error {
	return t.Show(Blend(first, second, mix))
}

// Show displays g, lighting the tube unless g is Blank.
func (t *Tube) Show(g Glyph) error {
	if err := g.validate(); err != nil {
		return fmt.Errorf("tube %d: %w", t.index, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if g.IsBlank() {
		return t.blank()
	}
	t.glyph = g
	if err := t.writeDigits(); err != nil {
		return err
	}
	if t.blanked {
		t.blanked = false
		return t.writeAnode()
	}
	return nil
}

func (t *Tube) blank() error {
	if t.blanked {
		return nil
	}
	t.blanked = true
	return t.writeAnode()
}

// Blank turns the tube off entirely.  The digit is remembered for Unblank.
func (t *Tube) Blank() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blank()
}

// Unblank lights the tube again with whatever it showed last.
func (t *Tube) Unblank() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.blanked {
		return nil
	}
	t.blanked = false
	return t.writeAnode()
}

// SetBrightness scales the tube's on-time linearly; 100 is the maximum.  Brightness never turns
// the tube off; 0 leaves it on for a single tick.
func (t *Tube) SetBrightness(pct int) error {
	length := pct * TubeLength / 100
	if length > TubeLength {
		length = TubeLength
	}
	if length < 1 {
		length = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if length == t.length {
		return nil
	}
	t.length = length
	if t.glyph.Blended {
		if err := t.writeDigits(); err != nil {
			return err
		}
	}
	return t.writeAnode()
}

// Glyph returns what the tube currently shows.
func (t *Tube) Glyph() Glyph {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.blanked {
		return Blank
	}
	return t.glyph
}

// Length returns the tube's on-time in ticks.
func (t *Tube) Length() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.length
}

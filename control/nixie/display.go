package nixie

import (
	"fmt"
	"sync"

	"github.com/jrockway/nixie-radio/control/hw"
	"github.com/jrockway/nixie-radio/control/pulse"
)

// Indicator is the state of the two dots between the hours and the minutes.  Exactly one of them
// is lit.
type Indicator int

const (
	IndicatorBottom Indicator = iota
	IndicatorTop
)

func (i Indicator) String() string {
	if i == IndicatorTop {
		return "top"
	}
	return "bottom"
}

// Frame is what all four tubes show, left to right.
type Frame [NumTubes]Glyph

// BlankFrame darkens every tube.
var BlankFrame = Frame{Blank, Blank, Blank, Blank}

// Display is the four tubes and the indicator.  It is safe for concurrent use.
type Display struct {
	prog  *pulse.Program
	tubes [NumTubes]*Tube

	mu         sync.Mutex
	brightness int
	indicator  Indicator
}

// New claims the hardware context's engine and programs every tube dark, with the bottom dot lit.
func New(c *hw.Context) (*Display, error) {
	prog, err := pulse.NewProgram(c.Engine, Period, NumLines)
	if err != nil {
		return nil, fmt.Errorf("init pulse program: %w", err)
	}
	d := &Display{prog: prog, brightness: 100}
	for i := range d.tubes {
		t, err := newTube(prog, i)
		if err != nil {
			return nil, fmt.Errorf("init tube: %w", err)
		}
		d.tubes[i] = t
	}
	if err := d.writeIndicator(IndicatorBottom); err != nil {
		return nil, err
	}
	return d, nil
}

// Tube returns the i'th tube, counting from the left.
func (d *Display) Tube(i int) *Tube { return d.tubes[i] }

// Show puts f on the tubes.
func (d *Display) Show(f Frame) error {
	for i, g := range f {
		if err := d.tubes[i].Show(g); err != nil {
			return fmt.Errorf("show %v: %w", f, err)
		}
	}
	return nil
}

// Frame returns what the tubes show right now.
func (d *Display) Frame() Frame {
	var f Frame
	for i, t := range d.tubes {
		f[i] = t.Glyph()
	}
	return f
}

// Blank darkens every tube.
func (d *Display) Blank() error {
	for _, t := range d.tubes {
		if err := t.Blank(); err != nil {
			return fmt.Errorf("blank display: %w", err)
		}
	}
	return nil
}

// SetBrightness sets every tube's brightness, in percent.
func (d *Display) SetBrightness(pct int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.tubes {
		if err := t.SetBrightness(pct); err != nil {
			return fmt.Errorf("set brightness %d%%: %w", pct, err)
		}
	}
	d.brightness = pct
	return nil
}

// Brightness returns the last brightness set, in percent.
func (d *Display) Brightness() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.brightness
}

func (d *Display) writeIndicator(i Indicator) error {
	lit, dark := lineDotBottom, lineDotTop
	if i == IndicatorTop {
		lit, dark = lineDotTop, lineDotBottom
	}
	// Both edges sit at offset 0 and neither line has an opposite edge, so each is constant for
	// the whole period.
	if err := d.prog.SetOff(dark, 0); err != nil {
		return fmt.Errorf("indicator %v: %w", i, err)
	}
	if err := d.prog.SetOn(lit, 0); err != nil {
		return fmt.Errorf("indicator %v: %w", i, err)
	}
	d.indicator = i
	return nil
}

// SetIndicator lights one of the two dots.
func (d *Display) SetIndicator(i Indicator) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i == d.indicator {
		return nil
	}
	return d.writeIndicator(i)
}

// Indicator returns which dot is lit.
func (d *Display) Indicator() Indicator {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.indicator
}

// Close darkens everything and releases the engine.  It is best-effort; the first error is
// returned but every step is attempted.
func (d *Display) Close() error {
	var result error
	if err := d.Blank(); err != nil {
		result = err
	}
	if err := d.prog.Close(); err != nil && result == nil {
		result = err
	}
	return result
}

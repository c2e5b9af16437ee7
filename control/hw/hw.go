// Package hw looks up every piece of hardware the clock touches, once, at startup.  The resulting
// Context is handed to the packages that drive the hardware; nothing else opens pins.
package hw

import (
	"fmt"
	"time"

	"github.com/jrockway/nixie-radio/control/pulse"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Pins names the GPIOs the clock is wired to, as understood by gpioreg.ByName.
type Pins struct {
	Cathodes [4]string // A, B, C, D of the digit driver
	Anodes   [3]string // a, b, c of the tube selector
	Dots     [2]string // top, bottom

	WheelA, WheelB, WheelSwitch string

	// On the stock board the three buttons are touch pads behind an MPR121 controller, which
	// nothing here drives; they are empty by default.  Name GPIOs here to use plain switches.
	Top, Middle, Bottom string
}

// DefaultPins is the wiring of the radio board, by BCM number.
var DefaultPins = Pins{
	Cathodes:    [4]string{"GPIO10", "GPIO18", "GPIO11", "GPIO9"},
	Anodes:      [3]string{"GPIO8", "GPIO25", "GPIO7"},
	Dots:        [2]string{"GPIO23", "GPIO24"},
	WheelA:      "GPIO27",
	WheelB:      "GPIO17",
	WheelSwitch: "GPIO22",
}

// Outputs returns the output pin names in program line order: cathodes, anodes, dots.
func (p Pins) Outputs() []string {
	var result []string
	result = append(result, p.Cathodes[:]...)
	result = append(result, p.Anodes[:]...)
	result = append(result, p.Dots[:]...)
	return result
}

// Context is the process-wide set of hardware handles.
type Context struct {
	// Engine is the timing peripheral the display is programmed into.
	Engine pulse.Engine
	// Replayer is the same engine when it is backed by real pins, so the caller can run it.
	// Nil when simulated.
	Replayer *pulse.Replayer

	WheelA, WheelB, WheelSwitch gpio.PinIn
	Top, Middle, Bottom         gpio.PinIn

	// StepsPerTurn is the number of detent edges the encoder produces per revolution.
	StepsPerTurn int
}

func lookup(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no gpio named %q", name)
	}
	return p, nil
}

func optional(name string) (gpio.PinIn, error) {
	if name == "" {
		return nil, nil
	}
	p, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Open initializes the host drivers and looks up every pin.  The outputs are replayed with one
// slot per tick.
func Open(pins Pins, tick time.Duration, stepsPerTurn int) (*Context, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph.io: %w", err)
	}

	var outs []gpio.PinOut
	for _, name := range pins.Outputs() {
		p, err := lookup(name)
		if err != nil {
			return nil, fmt.Errorf("output: %w", err)
		}
		outs = append(outs, p)
	}
	r := pulse.NewReplayer(tick, outs...)
	c := &Context{
		Engine:       r,
		Replayer:     r,
		StepsPerTurn: stepsPerTurn,
	}

	var err error
	if c.WheelA, err = optional(pins.WheelA); err != nil {
		return nil, fmt.Errorf("wheel a: %w", err)
	}
	if c.WheelB, err = optional(pins.WheelB); err != nil {
		return nil, fmt.Errorf("wheel b: %w", err)
	}
	if c.WheelSwitch, err = optional(pins.WheelSwitch); err != nil {
		return nil, fmt.Errorf("wheel switch: %w", err)
	}
	if c.Top, err = optional(pins.Top); err != nil {
		return nil, fmt.Errorf("top button: %w", err)
	}
	if c.Middle, err = optional(pins.Middle); err != nil {
		return nil, fmt.Errorf("middle button: %w", err)
	}
	if c.Bottom, err = optional(pins.Bottom); err != nil {
		return nil, fmt.Errorf("bottom button: %w", err)
	}
	return c, nil
}

// Simulated returns a Context with no pins and an in-memory engine, for running the clock without
// the board attached.
func Simulated(stepsPerTurn int) *Context {
	return &Context{
		Engine:       pulse.NewBuffer(),
		StepsPerTurn: stepsPerTurn,
	}
}

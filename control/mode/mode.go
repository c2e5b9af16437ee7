// Package mode is the clock radio's user interface: which setting the wheel adjusts, what the
// buttons do, and when to go back to just showing the time.
//
// A Machine has one worker goroutine.  Buttons, the wheel, and anything else post events into a
// one-slot mailbox; the worker handles the latest one.  Events that arrive faster than the worker
// takes them are dropped, which is fine for buttons pressed by people and for the wheel, whose
// position is never lost because the decoder keeps it.
package mode

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jrockway/nixie-radio/control/mailbox"
	"github.com/jrockway/nixie-radio/control/nixie"
	"github.com/jrockway/nixie-radio/control/radio"
	"github.com/jrockway/nixie-radio/control/wheel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
)

var (
	transitionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mode_transitions",
		Help: "count of mode changes, by old and new mode",
	}, []string{"from", "to"})
	timeoutsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mode_timeouts",
		Help: "count of modes left because nothing happened",
	})
	eventsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mode_events",
		Help: "count of events handled, by kind",
	}, []string{"kind"})
)

// Mode is what the controls currently do.
type Mode int

const (
	// Default shows the time; the wheel is the volume knob.
	Default Mode = iota
	// Volume shows the volume while it's being changed.
	Volume
	// Brightness makes the wheel dim the tubes.
	Brightness
	// NextAlarmPreview shows when the next alarm rings.
	NextAlarmPreview
	// StationSelect makes the wheel pick the station.
	StationSelect
)

func (m Mode) String() string {
	switch m {
	case Default:
		return "default"
	case Volume:
		return "volume"
	case Brightness:
		return "brightness"
	case NextAlarmPreview:
		return "next-alarm"
	case StationSelect:
		return "station"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// EventKind is what happened.
type EventKind int

const (
	Timeout EventKind = iota
	Top
	Middle
	Bottom
	WheelMoved
	WheelPressed
	AlarmFired
)

func (k EventKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case Top:
		return "top"
	case Middle:
		return "middle"
	case Bottom:
		return "bottom"
	case WheelMoved:
		return "wheel-moved"
	case WheelPressed:
		return "wheel-pressed"
	case AlarmFired:
		return "alarm"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is an input to the machine.
type Event struct {
	Kind  EventKind
	Value int         // for WheelMoved
	Alarm radio.Alarm // for AlarmFired
}

func (e Event) String() string {
	switch e.Kind {
	case WheelMoved:
		return fmt.Sprintf("%v(%d)", e.Kind, e.Value)
	case AlarmFired:
		return fmt.Sprintf("%v(%v)", e.Kind, e.Alarm)
	}
	return e.Kind.String()
}

// Screen is what the machine asks the display scheduler to do.
type Screen interface {
	DisplayNumber(n int)
	Blank()
	Unblank()
}

// Panel is the part of the display the machine sets directly.
type Panel interface {
	SetBrightness(pct int) error
	SetIndicator(i nixie.Indicator) error
}

// WheelSetup points the wheel at a new range; see wheel.Decoder.Setup.
type WheelSetup func(min, initial, max int, turns float64, r wheel.Receiver) error

// Config is everything a Machine is connected to.
type Config struct {
	Player    radio.Player
	Directory radio.Directory
	Screen    Screen
	Panel     Panel
	Wheel     WheelSetup

	// Timeout is how long every mode but Default lasts without input.  Zero means 3 seconds.
	Timeout time.Duration
	// Timeouts overrides Timeout per mode.
	Timeouts map[Mode]time.Duration

	// DefaultVolume is the volume at startup and when an alarm rings.  Zero means 50.
	DefaultVolume int
	// Brightness is the initial brightness.  Zero means 100.
	Brightness int
	// Station is the id of the station to play until another one is picked.
	Station int

	// Turns of the wheel that cover the whole volume, brightness, and station ranges.  Zero means
	// half a turn for volume and a full turn for the others.
	VolumeTurns, BrightnessTurns, StationTurns float64
}

// State is a snapshot of the machine.
type State struct {
	Mode       Mode
	Volume     int
	Brightness int
	Station    int
	Playing    bool
	Blanked    bool
}

// Machine is the mode state machine.
type Machine struct {
	cfg    Config
	events *mailbox.Mailbox[Event]
	l      trace.EventLog

	mu         sync.Mutex
	mode       Mode
	dial       wheel.Receiver // what WheelMoved adjusts in this mode; nil ignores it
	volume     int
	brightness int
	station    int
	playing    bool
	blanked    bool
	stations   []radio.Station // as of entering StationSelect
	fault      error           // set by a dial that failed to reach the hardware
}

// New returns a machine in Default mode.  Nothing is touched until it runs.
func New(cfg Config) *Machine {
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.DefaultVolume == 0 {
		cfg.DefaultVolume = 50
	}
	if cfg.Brightness == 0 {
		cfg.Brightness = 100
	}
	if cfg.VolumeTurns == 0 {
		cfg.VolumeTurns = 0.5
	}
	if cfg.BrightnessTurns == 0 {
		cfg.BrightnessTurns = 1
	}
	if cfg.StationTurns == 0 {
		cfg.StationTurns = 1
	}
	return &Machine{
		cfg:        cfg,
		events:     mailbox.New[Event]("mode"),
		l:          trace.NewEventLog("worker", "mode"),
		volume:     cfg.DefaultVolume,
		brightness: cfg.Brightness,
		station:    cfg.Station,
	}
}

func (m *Machine) post(e Event) { m.events.Put(e) }

// EventTop reports a press of the top button.
func (m *Machine) EventTop() { m.post(Event{Kind: Top}) }

// EventMiddle reports a press of the middle button.
func (m *Machine) EventMiddle() { m.post(Event{Kind: Middle}) }

// EventBottom reports a press of the bottom button.
func (m *Machine) EventBottom() { m.post(Event{Kind: Bottom}) }

// EventWheelPressed reports a press of the wheel's switch.
func (m *Machine) EventWheelPressed() { m.post(Event{Kind: WheelPressed}) }

// EventWheelMoved reports the wheel's new value.
func (m *Machine) EventWheelMoved(v int) { m.post(Event{Kind: WheelMoved, Value: v}) }

// Update implements wheel.Receiver, so the machine can be handed to the decoder directly.
func (m *Machine) Update(v int) { m.EventWheelMoved(v) }

// Mode returns the current mode.
func (m *Machine) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// State returns a snapshot of the machine.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Mode:       m.mode,
		Volume:     m.volume,
		Brightness: m.brightness,
		Station:    m.station,
		Playing:    m.playing,
		Blanked:    m.blanked,
	}
}

// Alert rings an alarm: the alarm's station starts playing at the default volume, whatever mode
// the machine is in.  It may be called from any goroutine and does not wait for the worker.
func (m *Machine) Alert(a radio.Alarm) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alert(a)
}

func (m *Machine) alert(a radio.Alarm) {
	log.Printf("alarm %v: playing station %d", a, a.Station)
	m.l.Printf("alarm %v: station %d", a, a.Station)
	m.volume = m.cfg.DefaultVolume
	m.station = a.Station
	m.playing = true
	// The wheel still holds the old volume or station; move it to the new one.
	switch m.mode {
	case Default, Volume:
		m.setupWheel(0, m.volume, 100, m.cfg.VolumeTurns)
	case StationSelect:
		m.seatStationWheel()
	}
	s, err := m.cfg.Directory.Station(a.Station)
	if err != nil {
		log.Printf("alarm %v: look up station %d: %v", a, a.Station, err)
		m.l.Errorf("look up station %d: %v", a.Station, err)
		return
	}
	m.cfg.Player.Play(s.URI, m.volume)
	m.cfg.Player.SetVolume(m.volume)
	m.cfg.Screen.DisplayNumber(m.volume)
}

func (m *Machine) timeout() time.Duration {
	if m.mode == Default {
		return 0
	}
	if t, ok := m.cfg.Timeouts[m.mode]; ok {
		return t
	}
	return m.cfg.Timeout
}

// Run handles events until the context is cancelled or the display fails.
func (m *Machine) Run(ctx context.Context) error {
	defer m.l.Finish()
	m.mu.Lock()
	err := m.enter(Default)
	m.mu.Unlock()
	if err != nil {
		m.l.Errorf("%v", err)
		return fmt.Errorf("mode machine: %w", err)
	}
	for {
		m.mu.Lock()
		timeout := m.timeout()
		m.mu.Unlock()

		e, ok, err := m.events.Wait(ctx, timeout)
		if err != nil {
			return fmt.Errorf("mode machine: %w", err)
		}
		if !ok {
			e = Event{Kind: Timeout}
		}
		m.mu.Lock()
		err = m.handle(e)
		m.mu.Unlock()
		if err != nil {
			m.l.Errorf("%v", err)
			return fmt.Errorf("mode machine: %w", err)
		}
	}
}

// Start runs the machine in the background.  The returned channel yields Run's error.
func (m *Machine) Start(ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- m.Run(ctx)
		close(ch)
	}()
	return ch
}

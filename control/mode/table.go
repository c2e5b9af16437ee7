package mode

import (
	"fmt"
	"log"

	"github.com/jrockway/nixie-radio/control/nixie"
	"github.com/jrockway/nixie-radio/control/radio"
	"github.com/jrockway/nixie-radio/control/wheel"
)

// handle applies one event.  Must hold mu.
func (m *Machine) handle(e Event) error {
	eventsCounter.WithLabelValues(e.Kind.String()).Inc()
	m.l.Printf("%v in %v", e, m.mode)
	switch e.Kind {
	case Timeout:
		if m.mode == Default {
			return nil
		}
		timeoutsCounter.Inc()
		return m.enter(Default)
	case Top:
		if m.mode == Brightness {
			m.toggleBlank()
			return m.enter(Default)
		}
		return m.enter(Brightness)
	case Middle:
		if m.mode == NextAlarmPreview {
			return nil
		}
		return m.enter(NextAlarmPreview)
	case Bottom:
		if m.mode == StationSelect {
			return nil
		}
		return m.enter(StationSelect)
	case WheelMoved:
		if m.dial == nil {
			return nil
		}
		m.dial.Update(e.Value)
		if err := m.fault; err != nil {
			m.fault = nil
			return err
		}
		if m.mode == Default {
			return m.enter(Volume)
		}
		return nil
	case WheelPressed:
		if m.mode == NextAlarmPreview {
			return nil
		}
		m.togglePlay()
		return nil
	case AlarmFired:
		m.alert(e.Alarm)
		return nil
	}
	return fmt.Errorf("unknown event %v", e)
}

// enter switches to mode next and runs its entry actions.  Must hold mu.
func (m *Machine) enter(next Mode) error {
	if next != m.mode {
		transitionsCounter.WithLabelValues(m.mode.String(), next.String()).Inc()
		m.l.Printf("%v -> %v", m.mode, next)
	}
	m.mode = next

	indicator := nixie.IndicatorTop
	switch next {
	case Default:
		indicator = nixie.IndicatorBottom
		m.dial = volumeDial{m}
		m.setupWheel(0, m.volume, 100, m.cfg.VolumeTurns)
	case Volume:
		// Only entered by turning the wheel, which is already the volume knob.
		m.dial = volumeDial{m}
	case Brightness:
		m.dial = brightnessDial{m}
		m.setupWheel(0, m.brightness, 100, m.cfg.BrightnessTurns)
		m.cfg.Screen.DisplayNumber(m.brightness)
	case NextAlarmPreview:
		m.dial = nil
		a, err := m.cfg.Directory.NextAlarm()
		if err != nil {
			log.Printf("next alarm: %v", err)
			m.l.Errorf("next alarm: %v", err)
			m.cfg.Screen.DisplayNumber(-1)
			break
		}
		m.cfg.Screen.DisplayNumber(a.Hour*100 + a.Minute)
	case StationSelect:
		m.dial = stationDial{m}
		m.enterStationSelect()
	}
	if err := m.cfg.Panel.SetIndicator(indicator); err != nil {
		return fmt.Errorf("entering %v: %w", next, err)
	}
	return nil
}

func (m *Machine) setupWheel(min, initial, max int, turns float64) {
	if err := m.cfg.Wheel(min, initial, max, turns, m); err != nil {
		log.Printf("%v: setup wheel: %v", m.mode, err)
		m.l.Errorf("setup wheel: %v", err)
	}
}

func (m *Machine) enterStationSelect() {
	stations, err := m.cfg.Directory.Stations()
	if err != nil {
		log.Printf("list stations: %v", err)
		m.l.Errorf("list stations: %v", err)
	}
	m.stations = stations
	if m.stationIndex() < 0 && len(stations) > 0 {
		// The current station is gone; select the first one so the wheel and the tubes agree.
		m.l.Printf("station %d is not in the list; selecting %v", m.station, stations[0])
		m.station = stations[0].ID
	}
	m.seatStationWheel()
	m.cfg.Screen.DisplayNumber(StationNumber(m.station))
}

// stationIndex is the position of the current station in the list, or -1.
func (m *Machine) stationIndex() int {
	for i, s := range m.stations {
		if s.ID == m.station {
			return i
		}
	}
	return -1
}

// seatStationWheel points the wheel at the current station's position in the list.
func (m *Machine) seatStationWheel() {
	if len(m.stations) < 2 {
		m.l.Printf("%d stations; nothing to select", len(m.stations))
		return
	}
	current := m.stationIndex()
	if current < 0 {
		current = 0
	}
	m.setupWheel(0, current, len(m.stations)-1, m.cfg.StationTurns)
}

// StationNumber is how a station id is shown: ids of more than one digit get the 1/8 glyph in
// front, so they don't look like the time.
func StationNumber(id int) int {
	if id >= 10 {
		return 10000 + id
	}
	return id
}

func (m *Machine) toggleBlank() {
	m.blanked = !m.blanked
	if m.blanked {
		m.cfg.Screen.Blank()
	} else {
		m.cfg.Screen.Unblank()
	}
}

func (m *Machine) currentStation() (radio.Station, error) {
	return m.cfg.Directory.Station(m.station)
}

func (m *Machine) togglePlay() {
	if m.playing {
		m.cfg.Player.Stop()
		m.playing = false
		log.Printf("stopped playing")
		return
	}
	s, err := m.currentStation()
	if err != nil {
		log.Printf("play: look up station %d: %v", m.station, err)
		m.l.Errorf("look up station %d: %v", m.station, err)
		return
	}
	m.cfg.Player.Play(s.URI, m.volume)
	m.cfg.Player.SetVolume(m.volume)
	m.cfg.Screen.DisplayNumber(m.volume)
	m.playing = true
	log.Printf("playing %v", s)
}

// volumeDial sets the volume from the wheel.
type volumeDial struct{ m *Machine }

func (d volumeDial) Update(v int) {
	m := d.m
	if v == m.volume {
		return
	}
	m.volume = v
	m.cfg.Screen.DisplayNumber(v)
	if m.playing {
		m.cfg.Player.SetVolume(v)
	}
}

// brightnessDial dims the tubes.
type brightnessDial struct{ m *Machine }

func (d brightnessDial) Update(v int) {
	m := d.m
	m.brightness = v
	if err := m.cfg.Panel.SetBrightness(v); err != nil {
		m.fault = fmt.Errorf("set brightness %d: %w", v, err)
		return
	}
	m.cfg.Screen.DisplayNumber(v)
}

// stationDial picks a station by its position in the list.
type stationDial struct{ m *Machine }

func (d stationDial) Update(i int) {
	m := d.m
	if i < 0 || i >= len(m.stations) {
		m.l.Errorf("station index %d out of range [0, %d)", i, len(m.stations))
		return
	}
	s := m.stations[i]
	if s.ID == m.station {
		return
	}
	m.station = s.ID
	m.l.Printf("selected %v", s)
	m.cfg.Screen.DisplayNumber(StationNumber(s.ID))
	if m.playing {
		m.cfg.Player.Play(s.URI, m.volume)
	}
}

var (
	_ wheel.Receiver = volumeDial{}
	_ wheel.Receiver = brightnessDial{}
	_ wheel.Receiver = stationDial{}
)

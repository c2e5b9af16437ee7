// Package radio defines what the clock needs from the things around it: something that plays
// streams, and somewhere the stations and alarms are kept.
package radio

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by a Directory that has no such station or no alarm.
var ErrNotFound = errors.New("not found")

// Station is an internet radio stream.
type Station struct {
	ID   int
	Name string
	URI  string
}

func (s Station) String() string {
	return fmt.Sprintf("%d:%s", s.ID, s.Name)
}

// Alarm wakes the listener at Hour:Minute with Station.
type Alarm struct {
	ID      int
	Hour    int
	Minute  int
	Station int
	Enabled bool
}

func (a Alarm) String() string {
	return fmt.Sprintf("%02d:%02d", a.Hour, a.Minute)
}

// Player plays one stream at a time.  Calls return immediately; failures are the player's problem.
type Player interface {
	Play(uri string, volume int)
	Stop()
	SetVolume(volume int)
}

// Directory looks up stations and alarms.
type Directory interface {
	// NextAlarm returns the enabled alarm that rings next.
	NextAlarm() (Alarm, error)
	Station(id int) (Station, error)
	// Stations returns every station, in a stable order.
	Stations() ([]Station, error)
}

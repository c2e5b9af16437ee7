// Package alarm keeps the stations and alarms in sqlite and rings alarms when their minute comes.
package alarm

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jrockway/nixie-radio/control/radio"
	_ "github.com/mattn/go-sqlite3"
)

const initDatabase = `
CREATE TABLE IF NOT EXISTS station (id integer primary key, name text not null, uri text not null);
CREATE TABLE IF NOT EXISTS alarm (id integer primary key, hour integer not null, minute integer not null, station integer not null references station(id), enabled boolean not null default 1);
`

// DefaultStations are put in an empty database.
var DefaultStations = []radio.Station{
	{Name: "FIP", URI: "http://direct.fipradio.fr/live/fip-midfi.mp3"},
	{Name: "Riviera Radio", URI: "http://rivieraradio.ice.infomaniak.ch:80/rivieraradio-high"},
}

// DB is the station and alarm store.  It implements radio.Directory.
type DB struct {
	*sql.DB
	now func() time.Time
}

var _ radio.Directory = (*DB)(nil)

func OpenDatabase(filename string) (*DB, error) {
	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, err
	}
	// Every connection to ":memory:" is a different database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(initDatabase); err != nil {
		db.Close()
		return nil, fmt.Errorf("init tables: %w", err)
	}

	return &DB{DB: db, now: time.Now}, nil
}

// SeedStations adds stations if there are none yet.
func (db *DB) SeedStations(stations []radio.Station) error {
	var n int
	if err := db.QueryRow("select count(*) from station").Scan(&n); err != nil {
		return fmt.Errorf("count stations: %w", err)
	}
	if n > 0 {
		return nil
	}
	for _, s := range stations {
		if _, err := db.AddStation(s.Name, s.URI); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) AddStation(name, uri string) (int, error) {
	s, err := db.Prepare("insert into station (name, uri) values(?, ?)")
	if err != nil {
		return 0, err
	}
	defer s.Close()
	res, err := s.Exec(name, uri)
	if err != nil {
		return 0, fmt.Errorf("add station %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return int(id), nil
}

func (db *DB) AddAlarm(hour, minute, station int) (int, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid alarm time %02d:%02d", hour, minute)
	}
	if _, err := db.Station(station); err != nil {
		return 0, fmt.Errorf("alarm station: %w", err)
	}
	s, err := db.Prepare("insert into alarm (hour, minute, station) values(?, ?, ?)")
	if err != nil {
		return 0, err
	}
	defer s.Close()
	res, err := s.Exec(hour, minute, station)
	if err != nil {
		return 0, fmt.Errorf("add alarm: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return int(id), nil
}

// EnableAlarm turns an alarm on or off.
func (db *DB) EnableAlarm(id int, enabled bool) error {
	res, err := db.Exec("update alarm set enabled = ? where id = ?", enabled, id)
	if err != nil {
		return fmt.Errorf("update alarm %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("alarm %d: %w", id, radio.ErrNotFound)
	}
	return nil
}

func (db *DB) Station(id int) (radio.Station, error) {
	st := radio.Station{ID: id}
	err := db.QueryRow("select name, uri from station where id = ?", id).Scan(&st.Name, &st.URI)
	if errors.Is(err, sql.ErrNoRows) {
		return radio.Station{}, fmt.Errorf("station %d: %w", id, radio.ErrNotFound)
	}
	if err != nil {
		return radio.Station{}, fmt.Errorf("station %d: %w", id, err)
	}
	return st, nil
}

// Stations returns every station in the order they were added.
func (db *DB) Stations() ([]radio.Station, error) {
	rows, err := db.Query("select id, name, uri from station order by id")
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	defer rows.Close()
	var result []radio.Station
	for rows.Next() {
		var s radio.Station
		if err := rows.Scan(&s.ID, &s.Name, &s.URI); err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// Alarms returns every alarm, earliest in the day first.
func (db *DB) Alarms() ([]radio.Alarm, error) {
	rows, err := db.Query("select id, hour, minute, station, enabled from alarm order by hour, minute, id")
	if err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}
	defer rows.Close()
	var result []radio.Alarm
	for rows.Next() {
		var a radio.Alarm
		if err := rows.Scan(&a.ID, &a.Hour, &a.Minute, &a.Station, &a.Enabled); err != nil {
			return nil, fmt.Errorf("scan alarm: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// Next returns the first enabled alarm in alarms (sorted by time of day) that rings after t,
// wrapping around to tomorrow.
func Next(alarms []radio.Alarm, t time.Time) (radio.Alarm, bool) {
	now := t.Hour()*60 + t.Minute()
	var first *radio.Alarm
	for i, a := range alarms {
		if !a.Enabled {
			continue
		}
		if first == nil {
			first = &alarms[i]
		}
		if a.Hour*60+a.Minute > now {
			return a, true
		}
	}
	if first == nil {
		return radio.Alarm{}, false
	}
	return *first, true
}

// NextAlarm returns the next enabled alarm to ring.
func (db *DB) NextAlarm() (radio.Alarm, error) {
	alarms, err := db.Alarms()
	if err != nil {
		return radio.Alarm{}, err
	}
	a, ok := Next(alarms, db.now())
	if !ok {
		return radio.Alarm{}, fmt.Errorf("next alarm: %w", radio.ErrNotFound)
	}
	return a, nil
}

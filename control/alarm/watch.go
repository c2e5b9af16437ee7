package alarm

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jrockway/nixie-radio/control/clock"
	"github.com/jrockway/nixie-radio/control/radio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
)

var (
	ringsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alarm_rings",
		Help: "count of alarms rung",
	})
	lookupErrorsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alarm_lookup_errors",
		Help: "count of minutes where the alarm list could not be read",
	})
)

// Lister lists alarms.
type Lister interface {
	Alarms() ([]radio.Alarm, error)
}

// Due returns the enabled alarms set for the minute t is in.
func Due(alarms []radio.Alarm, t time.Time) []radio.Alarm {
	var result []radio.Alarm
	for _, a := range alarms {
		if a.Enabled && a.Hour == t.Hour() && a.Minute == t.Minute() {
			result = append(result, a)
		}
	}
	return result
}

// Watch calls alert at the start of every minute that an enabled alarm is set for, until the
// context is cancelled.
func Watch(ctx context.Context, db Lister, alert func(radio.Alarm)) error {
	l := trace.NewEventLog("worker", "alarm")
	defer l.Finish()

	tickErrCh := make(chan error)
	tickCh := make(chan time.Time)
	go func() {
		err := clock.Tick(ctx, time.Minute, tickCh)
		select {
		case tickErrCh <- err:
		case <-ctx.Done():
		}
		close(tickErrCh)
	}()
	for {
		select {
		case t := <-tickCh:
			alarms, err := db.Alarms()
			if err != nil {
				lookupErrorsCounter.Inc()
				l.Errorf("list alarms: %v", err)
				log.Printf("list alarms at %s: %v", t.Format("15:04"), err)
				continue
			}
			for _, a := range Due(alarms, t) {
				ringsCounter.Inc()
				l.Printf("ringing %v", a)
				alert(a)
			}
		case err := <-tickErrCh:
			return fmt.Errorf("alarm ticker: %w", err)
		case <-ctx.Done():
			return fmt.Errorf("alarm watcher: %w", ctx.Err())
		}
	}
}

package clock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrockway/nixie-radio/control/mailbox"
	"github.com/jrockway/nixie-radio/control/nixie"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
)

// CustomTimeout is how long a pushed number stays up before the clock comes back.
const CustomTimeout = 3 * time.Second

var redrawsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "scheduler_redraws",
	Help: "count of times the scheduler sent a new frame to the display, by what was drawn",
}, []string{"content"})

// Display is the part of nixie.Display the scheduler drives.
type Display interface {
	Show(nixie.Frame) error
	Blank() error
}

// Digits lays n out on the four tubes, right aligned, with leading tubes dark.  Negative numbers
// leave every tube dark.  Numbers of 10000 and up show the 1/8 glyph on the first tube and
// n-10000 on the other three; that is how two-digit station ids are told apart from other
// numbers.
func Digits(n int) nixie.Frame {
	f := nixie.BlankFrame
	if n < 0 {
		return f
	}
	if n >= 10000 {
		f[0] = nixie.Blend(1, 8, 50)
		n -= 10000
	} else if n >= 1000 {
		f[0] = nixie.Digit(n / 1000 % 10)
	}
	if n >= 100 {
		f[1] = nixie.Digit(n / 100 % 10)
	}
	if n >= 10 {
		f[2] = nixie.Digit(n / 10 % 10)
	}
	f[3] = nixie.Digit(n % 10)
	return f
}

// TimeOfDay is the clock face for t: hours and minutes, with no leading zero on the hour.
func TimeOfDay(t time.Time) nixie.Frame {
	f := nixie.Frame{
		nixie.Blank,
		nixie.Digit(t.Hour() % 10),
		nixie.Digit(t.Minute() / 10),
		nixie.Digit(t.Minute() % 10),
	}
	if t.Hour() >= 10 {
		f[0] = nixie.Digit(t.Hour() / 10)
	}
	return f
}

// Scheduler owns the display.  Most of the time it shows the time; DisplayNumber puts something
// else up for CustomTimeout, and Blank turns everything off until Unblank.
type Scheduler struct {
	display Display
	now     func() time.Time
	timeout time.Duration
	wake    *mailbox.Mailbox[struct{}]

	mu          sync.Mutex
	pending     bool        // a pushed frame the worker hasn't drawn yet
	custom      nixie.Frame // the last pushed frame
	showing     bool        // true while a pushed frame is up
	customUntil time.Time
	blanked     bool
	dark        bool // the display is known to be blanked
	clockShown  bool // the display shows the clock for clockHour:clockMinute
	clockHour   int
	clockMinute int
}

// NewScheduler returns a scheduler for d.  Nothing is drawn until Run.
func NewScheduler(d Display) *Scheduler {
	return &Scheduler{
		display: d,
		now:     time.Now,
		timeout: CustomTimeout,
		wake:    mailbox.New[struct{}]("scheduler"),
	}
}

// DisplayNumber shows n, as laid out by Digits, for CustomTimeout.
func (s *Scheduler) DisplayNumber(n int) {
	s.mu.Lock()
	s.custom = Digits(n)
	s.pending = true
	s.mu.Unlock()
	s.wake.Put(struct{}{})
}

// Blank turns the display off until Unblank, cancelling any pushed number.
func (s *Scheduler) Blank() {
	s.mu.Lock()
	if s.blanked {
		s.mu.Unlock()
		return
	}
	s.blanked = true
	s.pending, s.showing = false, false
	s.mu.Unlock()
	s.wake.Put(struct{}{})
}

// Unblank brings the clock back.
func (s *Scheduler) Unblank() {
	s.mu.Lock()
	if !s.blanked {
		s.mu.Unlock()
		return
	}
	s.blanked = false
	s.pending, s.showing = false, false
	s.mu.Unlock()
	s.wake.Put(struct{}{})
}

// Blanked returns whether the display is blanked.
func (s *Scheduler) Blanked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blanked
}

// step brings the display up to date and returns how long to sleep before the next step, or 0 to
// sleep until woken.
func (s *Scheduler) step(l trace.EventLog) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	if s.blanked {
		s.pending = false
		if s.dark {
			return 0, nil
		}
		if err := s.display.Blank(); err != nil {
			return 0, fmt.Errorf("blank: %w", err)
		}
		l.Printf("blanked")
		redrawsCounter.WithLabelValues("blank").Inc()
		s.dark, s.clockShown = true, false
		return 0, nil
	}

	if s.pending {
		s.pending = false
		if err := s.display.Show(s.custom); err != nil {
			return 0, fmt.Errorf("show %v: %w", s.custom, err)
		}
		l.Printf("showing %v", s.custom)
		redrawsCounter.WithLabelValues("number").Inc()
		s.showing, s.customUntil = true, now.Add(s.timeout)
		s.dark, s.clockShown = false, false
		return s.timeout, nil
	}

	if s.showing {
		if left := s.customUntil.Sub(now); left > 0 {
			return left, nil
		}
		// Only reached with no push outstanding; pending was checked above under this lock.
		l.Printf("custom display expired")
		s.showing = false
	}

	if !s.clockShown || now.Hour() != s.clockHour || now.Minute() != s.clockMinute {
		f := TimeOfDay(now)
		if err := s.display.Show(f); err != nil {
			return 0, fmt.Errorf("show time %v: %w", f, err)
		}
		redrawsCounter.WithLabelValues("time").Inc()
		s.clockShown, s.clockHour, s.clockMinute = true, now.Hour(), now.Minute()
		s.dark = false
	}
	return UntilNextMinute(now), nil
}

// Run drives the display until the context is cancelled or the display fails.
func (s *Scheduler) Run(ctx context.Context) error {
	l := trace.NewEventLog("worker", "display")
	defer l.Finish()
	for {
		wait, err := s.step(l)
		if err != nil {
			l.Errorf("%v", err)
			return fmt.Errorf("display scheduler: %w", err)
		}
		if _, _, err := s.wake.Wait(ctx, wait); err != nil {
			return fmt.Errorf("display scheduler: %w", err)
		}
	}
}

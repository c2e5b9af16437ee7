package wheel

import (
	"errors"
	"math/rand"
	"testing"
)

// knob produces a clean quadrature signal for a decoder.
type knob struct {
	d    *Decoder
	a, b bool
}

func (k *knob) step(dir Direction) {
	// Clockwise, the phases go 00 -> 10 -> 11 -> 01 -> 00 as (a, b).
	switch {
	case dir == CW && k.a == k.b, dir == CCW && k.a != k.b:
		k.a = !k.a
		k.d.Edge(PhaseA, k.a, k.b)
	default:
		k.b = !k.b
		k.d.Edge(PhaseB, k.b, k.a)
	}
}

// turn feeds n edges to the decoder, clockwise if n > 0.
func (k *knob) turn(n int) {
	dir := CW
	if n < 0 {
		dir, n = CCW, -n
	}
	for i := 0; i < n; i++ {
		k.step(dir)
	}
}

func newKnob(stepsPerTurn int) *knob {
	return &knob{d: New(stepsPerTurn, false, false)}
}

func TestDirection(t *testing.T) {
	k := newKnob(100)
	if err := k.d.Setup(0, 50, 100, 1, nil); err != nil {
		t.Fatal(err)
	}
	raw, _, _ := k.d.Raw()
	k.turn(4)
	got, _, _ := k.d.Raw()
	if want := raw + 4; got != want {
		t.Errorf("after 4 cw steps:\n  got: %d\n want: %d", got, want)
	}
	k.turn(-7)
	got, _, _ = k.d.Raw()
	if want := raw - 3; got != want {
		t.Errorf("after 7 ccw steps:\n  got: %d\n want: %d", got, want)
	}
}

func TestGlitches(t *testing.T) {
	k := newKnob(100)
	var calls int
	if err := k.d.Setup(0, 50, 100, 1, ReceiverFunc(func(int) { calls++ })); err != nil {
		t.Fatal(err)
	}
	before, _, _ := k.d.Raw()

	// A moved, but B is also reported different from what we last saw.
	k.d.Edge(PhaseA, true, true)
	// A reported at the level it already had.
	k.d.Edge(PhaseA, false, false)
	// Same for B.
	k.d.Edge(PhaseB, false, false)

	if got, _, _ := k.d.Raw(); got != before {
		t.Errorf("raw after glitches:\n  got: %d\n want: %d", got, before)
	}
	if calls != 0 {
		t.Errorf("receiver called %d times for glitches", calls)
	}

	// The decoder still tracks the real signal afterwards.
	k.turn(2)
	if got, want := calls, 2; got != want {
		t.Errorf("receiver calls after real steps:\n  got: %d\n want: %d", got, want)
	}
}

func TestRawStaysInRange(t *testing.T) {
	k := newKnob(96)
	if err := k.d.Setup(0, 50, 100, 0.5, nil); err != nil {
		t.Fatal(err)
	}
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 10000; i++ {
		switch r.Intn(4) {
		case 0:
			k.step(CW)
		case 1:
			k.step(CCW)
		case 2:
			// Random noise on either phase.
			k.d.Edge(Phase(r.Intn(2)), r.Intn(2) == 1, r.Intn(2) == 1)
		case 3:
			k.turn(r.Intn(200) - 100)
		}
		// Noise may have desynchronized the decoder from the simulated knob; resync.
		k.a, k.b = k.d.levels[PhaseA], k.d.levels[PhaseB]
		raw, min, max := k.d.Raw()
		if raw < min || raw > max {
			t.Fatalf("iteration %d: raw %d outside [%d, %d]", i, raw, min, max)
		}
	}
}

func TestClamp(t *testing.T) {
	k := newKnob(96)
	var last int
	if err := k.d.Setup(0, 50, 100, 0.5, ReceiverFunc(func(v int) { last = v })); err != nil {
		t.Fatal(err)
	}
	k.turn(1000)
	if got, want := last, 100; got != want {
		t.Errorf("value at top:\n  got: %d\n want: %d", got, want)
	}
	k.turn(-1000)
	if got, want := last, 0; got != want {
		t.Errorf("value at bottom:\n  got: %d\n want: %d", got, want)
	}
}

func TestSetupReportsInitial(t *testing.T) {
	testData := []struct {
		min, initial, max int
		turns             float64
	}{
		{min: 0, initial: 50, max: 100, turns: 0.5},
		{min: 0, initial: 30, max: 100, turns: 1},
		{min: 0, initial: 1, max: 2, turns: 1},
		{min: 0, initial: 7, max: 9, turns: 2},
		{min: 10, initial: 20, max: 30, turns: 1},
	}
	for _, test := range testData {
		k := newKnob(96)
		var got int
		r := ReceiverFunc(func(v int) { got = v })
		if err := k.d.Setup(test.min, test.initial, test.max, test.turns, r); err != nil {
			t.Fatalf("setup %+v: %v", test, err)
		}
		// One step in either direction moves by at most one step's worth of the range.
		tolerance := (test.max-test.min)/int(test.turns*96) + 1
		k.turn(1)
		if diff := got - test.initial; diff < -tolerance || diff > tolerance {
			t.Errorf("setup %+v: value after one step:\n  got: %d\n want: %d ± %d", test, got, test.initial, tolerance)
		}
	}
}

func TestReconfigure(t *testing.T) {
	k := newKnob(96)
	var volume, brightness int
	if err := k.d.Setup(0, 50, 100, 0.5, ReceiverFunc(func(v int) { volume = v })); err != nil {
		t.Fatal(err)
	}
	k.turn(10)
	if volume <= 50 {
		t.Errorf("volume did not go up: %d", volume)
	}

	// Rebinding the knob moves the counter to the new value without touching the old receiver.
	if err := k.d.Setup(0, 20, 100, 1, ReceiverFunc(func(v int) { brightness = v })); err != nil {
		t.Fatal(err)
	}
	before := volume
	k.turn(-1)
	if volume != before {
		t.Errorf("old receiver called after rebind: %d", volume)
	}
	if brightness < 18 || brightness > 20 {
		t.Errorf("brightness after rebind and one step down: %d", brightness)
	}
}

func TestSetupErrors(t *testing.T) {
	testData := []struct {
		min, max int
		turns    float64
	}{
		{min: 5, max: 5, turns: 1},
		{min: 0, max: 100, turns: 0},
		{min: 0, max: 100, turns: -1},
		{min: 0, max: 100, turns: 0.001},
	}
	for _, test := range testData {
		d := New(96, false, false)
		before := d.Value()
		err := d.Setup(test.min, test.min, test.max, test.turns, nil)
		if !errors.Is(err, ErrConfig) {
			t.Errorf("setup %+v:\n  got: %v\n want: %v", test, err, ErrConfig)
		}
		if got := d.Value(); got != before {
			t.Errorf("setup %+v changed value: %d -> %d", test, before, got)
		}
	}
}

package pulse

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func newTestProgram(t *testing.T, period, lines int) (*Program, *Buffer) {
	t.Helper()
	b := NewBuffer()
	p, err := NewProgram(b, period, lines)
	if err != nil {
		t.Fatalf("new program: %v", err)
	}
	return p, b
}

func TestNewProgram(t *testing.T) {
	testData := []struct {
		period, lines int
		wantErr       bool
	}{
		{period: 10, lines: 1},
		{period: 10, lines: MaxLines},
		{period: 0, lines: 1, wantErr: true},
		{period: 10, lines: 0, wantErr: true},
		{period: 10, lines: MaxLines + 1, wantErr: true},
	}
	for i, test := range testData {
		_, err := NewProgram(NewBuffer(), test.period, test.lines)
		if got, want := err != nil, test.wantErr; got != want {
			t.Errorf("test %d: error:\n  got: %v\n want error: %v", i, err, want)
		}
	}
}

func TestClaimTwice(t *testing.T) {
	b := NewBuffer()
	if _, err := NewProgram(b, 10, 1); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	_, err := NewProgram(b, 10, 1)
	if !errors.Is(err, ErrFault) {
		t.Errorf("second claim:\n  got: %v\n want: %v", err, ErrFault)
	}
}

func TestSetOnSetOff(t *testing.T) {
	p, b := newTestProgram(t, 10, 2)
	if err := p.SetOn(0, 2); err != nil {
		t.Fatal(err)
	}
	if err := p.SetOff(0, 5); err != nil {
		t.Fatal(err)
	}
	want := []bool{false, false, true, true, true, false, false, false, false, false}
	if got := b.Waveform(0); !reflect.DeepEqual(got, want) {
		t.Errorf("initial pulse:\n  got: %v\n want: %v", got, want)
	}

	// Moving an edge replaces the old one rather than adding a second pulse.
	if err := p.SetOn(0, 7); err != nil {
		t.Fatal(err)
	}
	if err := p.SetOff(0, 9); err != nil {
		t.Fatal(err)
	}
	want = []bool{false, false, false, false, false, false, false, true, true, false}
	if got := b.Waveform(0); !reflect.DeepEqual(got, want) {
		t.Errorf("moved pulse:\n  got: %v\n want: %v", got, want)
	}
	if got := b.Waveform(1); !reflect.DeepEqual(got, make([]bool, 10)) {
		t.Errorf("untouched line:\n  got: %v\n want: all low", got)
	}
}

func TestSetOnOverwritesOff(t *testing.T) {
	p, b := newTestProgram(t, 4, 1)
	if err := p.SetOff(0, 0); err != nil {
		t.Fatal(err)
	}
	if err := p.SetOn(0, 0); err != nil {
		t.Fatal(err)
	}
	want := []bool{true, true, true, true}
	if got := b.Waveform(0); !reflect.DeepEqual(got, want) {
		t.Errorf("constant on:\n  got: %v\n want: %v", got, want)
	}
	// The off edge at 0 was overwritten, so moving the on edge must not resurrect it.
	if err := p.SetOff(0, 2); err != nil {
		t.Fatal(err)
	}
	want = []bool{true, true, false, false}
	if got := b.Waveform(0); !reflect.DeepEqual(got, want) {
		t.Errorf("after off edge:\n  got: %v\n want: %v", got, want)
	}
}

func TestAssignMask(t *testing.T) {
	p, b := newTestProgram(t, 8, 4)
	if err := p.AssignMask(0b0101, 0b0111, 1); err != nil {
		t.Fatal(err)
	}
	set, clear := b.Slot(1)
	if got, want := set, uint32(0b0101); got != want {
		t.Errorf("set mask:\n  got: %04b\n want: %04b", got, want)
	}
	if got, want := clear, uint32(0b0010); got != want {
		t.Errorf("clear mask:\n  got: %04b\n want: %04b", got, want)
	}

	// Overwrite, not add.
	if err := p.AssignMask(0b0010, 0b0011, 1); err != nil {
		t.Fatal(err)
	}
	set, clear = b.Slot(1)
	if got, want := set, uint32(0b0110); got != want {
		t.Errorf("set mask after overwrite:\n  got: %04b\n want: %04b", got, want)
	}
	if got, want := clear, uint32(0b0001); got != want {
		t.Errorf("clear mask after overwrite:\n  got: %04b\n want: %04b", got, want)
	}

	if err := p.Release(0b0100, 1); err != nil {
		t.Fatal(err)
	}
	set, clear = b.Slot(1)
	if set&clear != 0 {
		t.Errorf("set and clear intersect: %04b %04b", set, clear)
	}
	if got, want := set, uint32(0b0010); got != want {
		t.Errorf("set mask after release:\n  got: %04b\n want: %04b", got, want)
	}
}

func TestIdenticalWritesSkipped(t *testing.T) {
	p, b := newTestProgram(t, 8, 2)
	if err := p.AssignMask(1, 1, 3); err != nil {
		t.Fatal(err)
	}
	before := b.Writes()
	if err := p.AssignMask(1, 1, 3); err != nil {
		t.Fatal(err)
	}
	if got, want := b.Writes(), before; got != want {
		t.Errorf("writes after identical assign:\n  got: %d\n want: %d", got, want)
	}
}

func TestOffsetOutOfRange(t *testing.T) {
	p, _ := newTestProgram(t, 8, 2)
	if err := p.AssignMask(1, 1, 8); err == nil {
		t.Error("expected error for offset == period")
	}
	if err := p.SetOn(2, 0); err == nil {
		t.Error("expected error for line outside program")
	}
}

func TestStoreFault(t *testing.T) {
	p, b := newTestProgram(t, 8, 2)
	b.Fail = errors.New("dma gone")
	err := p.SetOn(0, 1)
	if !errors.Is(err, ErrFault) {
		t.Errorf("store failure:\n  got: %v\n want: %v", err, ErrFault)
	}
}

func TestReplayer(t *testing.T) {
	pin := &gpiotest.Pin{N: "GPIO4", Num: 4}
	r := NewReplayer(10*time.Microsecond, pin)
	p, err := NewProgram(r, 4, 1)
	if err != nil {
		t.Fatalf("new program: %v", err)
	}
	if err := p.SetOn(0, 0); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error)
	go func() {
		errCh <- r.Run(ctx)
		close(errCh)
	}()

	deadline := time.Now().Add(time.Second)
	for pin.Read() != gpio.High {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for pin to go high")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for replayer to stop")
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error after cancel: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got, want := pin.Read(), gpio.Low; got != want {
		t.Errorf("pin level after close:\n  got: %v\n want: %v", got, want)
	}
}

package nixie

import (
	"bytes"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrockway/nixie-radio/control/hw"
	"github.com/jrockway/nixie-radio/control/pulse"
)

func newTestDisplay(t *testing.T) (*Display, *pulse.Buffer) {
	t.Helper()
	c := hw.Simulated(96)
	d, err := New(c)
	if err != nil {
		t.Fatalf("new display: %v", err)
	}
	return d, c.Engine.(*pulse.Buffer)
}

func digitsAt(levels []uint32, tick int) uint32 { return levels[tick] & digitMask }
func anodesAt(levels []uint32, tick int) uint32 { return levels[tick] & anodeMask }

func TestNewDisplayIsDark(t *testing.T) {
	_, b := newTestDisplay(t)
	levels := b.Levels()
	for tick := range levels {
		if got := anodesAt(levels, tick); got != 0 {
			t.Fatalf("anode lit at tick %d: %03b", tick, got>>uint(lineAnodeA))
		}
	}
}

func TestShowFrame(t *testing.T) {
	d, b := newTestDisplay(t)
	if err := d.Show(Frame{Digit(1), Digit(2), Digit(3), Digit(4)}); err != nil {
		t.Fatalf("show: %v", err)
	}
	levels := b.Levels()
	for i, digit := range []int{1, 2, 3, 4} {
		start := i * Stride
		if got, want := digitsAt(levels, start), digitPatterns[digit]; got != want {
			t.Errorf("tube %d digit at slot start:\n  got: %04b\n want: %04b", i, got, want)
		}
		if got, want := anodesAt(levels, start), uint32(0); got != want {
			t.Errorf("tube %d anode before settling:\n  got: %03b\n want: %03b", i, got, want)
		}
		if got, want := anodesAt(levels, start+1), anodePatterns[i]; got != want {
			t.Errorf("tube %d anode at slot start+1:\n  got: %07b\n want: %07b", i, got, want)
		}
		if got, want := anodesAt(levels, start+TubeLength), anodePatterns[i]; got != want {
			t.Errorf("tube %d anode at last lit tick:\n  got: %07b\n want: %07b", i, got, want)
		}
		if got := anodesAt(levels, start+1+TubeLength); got != 0 {
			t.Errorf("tube %d anode still lit after its length: %07b", i, got)
		}
		if got, want := digitsAt(levels, start+DigitLength-1), digitPatterns[digit]; got != want {
			t.Errorf("tube %d digit at end of hold:\n  got: %04b\n want: %04b", i, got, want)
		}
		if got := digitsAt(levels, start+DigitLength); got != 0 {
			t.Errorf("tube %d digit held past DigitLength: %04b", i, got)
		}
	}
	if got, want := d.Frame(), (Frame{Digit(1), Digit(2), Digit(3), Digit(4)}); got != want {
		t.Errorf("frame:\n  got: %v\n want: %v", got, want)
	}
}

func TestBlankTube(t *testing.T) {
	d, b := newTestDisplay(t)
	if err := d.Show(Frame{Blank, Blank, Blank, Digit(7)}); err != nil {
		t.Fatalf("show: %v", err)
	}
	levels := b.Levels()
	for tick := 0; tick < 3*Stride; tick++ {
		if got := anodesAt(levels, tick); got != 0 {
			t.Fatalf("blank tube lit at tick %d: %07b", tick, got)
		}
	}
	if got, want := anodesAt(levels, 3*Stride+1), anodePatterns[3]; got != want {
		t.Errorf("tube 3 anode:\n  got: %07b\n want: %07b", got, want)
	}

	if err := d.Tube(0).Unblank(); err != nil {
		t.Fatal(err)
	}
	if got, want := d.Tube(0).Glyph(), Digit(0); got != want {
		t.Errorf("unblanked glyph:\n  got: %v\n want: %v", got, want)
	}
}

func TestBrightness(t *testing.T) {
	testData := []struct {
		pct, wantLength int
	}{
		{pct: 100, wantLength: TubeLength},
		{pct: 50, wantLength: 85},
		{pct: 0, wantLength: 1},
		{pct: -10, wantLength: 1},
		{pct: 150, wantLength: TubeLength},
	}
	for _, test := range testData {
		d, b := newTestDisplay(t)
		if err := d.Show(Frame{Digit(8), Digit(8), Digit(8), Digit(8)}); err != nil {
			t.Fatal(err)
		}
		if err := d.SetBrightness(test.pct); err != nil {
			t.Fatalf("brightness %d: %v", test.pct, err)
		}
		if got, want := d.Tube(2).Length(), test.wantLength; got != want {
			t.Errorf("brightness %d: length:\n  got: %d\n want: %d", test.pct, got, want)
		}
		levels := b.Levels()
		var lit int
		for tick := 2 * Stride; tick < 3*Stride; tick++ {
			if anodesAt(levels, tick) != 0 {
				lit++
			}
		}
		if got, want := lit, test.wantLength; got != want {
			t.Errorf("brightness %d: lit ticks:\n  got: %d\n want: %d", test.pct, got, want)
		}
	}
}

func TestBlend(t *testing.T) {
	d, b := newTestDisplay(t)
	if err := d.Show(Frame{Blend(1, 8, 50), Blank, Blank, Digit(3)}); err != nil {
		t.Fatal(err)
	}
	levels := b.Levels()
	switchAt := TubeLength * 50 / 100
	if got, want := digitsAt(levels, switchAt-1), digitPatterns[1]; got != want {
		t.Errorf("before switch:\n  got: %04b\n want: %04b", got, want)
	}
	if got, want := digitsAt(levels, switchAt), digitPatterns[8]; got != want {
		t.Errorf("after switch:\n  got: %04b\n want: %04b", got, want)
	}
	if got := digitsAt(levels, DigitLength); got != 0 {
		t.Errorf("blend held past DigitLength: %04b", got)
	}

	// Leaving the blend removes the mid-slot overwrite.
	if err := d.Tube(0).SetDigit(3); err != nil {
		t.Fatal(err)
	}
	levels = b.Levels()
	if got, want := digitsAt(levels, switchAt), digitPatterns[3]; got != want {
		t.Errorf("after leaving blend:\n  got: %04b\n want: %04b", got, want)
	}

	// The switch point follows the tube length.
	if err := d.Tube(0).Blend(1, 8, 50); err != nil {
		t.Fatal(err)
	}
	if err := d.SetBrightness(50); err != nil {
		t.Fatal(err)
	}
	levels = b.Levels()
	switchAt = 85 * 50 / 100
	if got, want := digitsAt(levels, switchAt), digitPatterns[8]; got != want {
		t.Errorf("after dimming:\n  got: %04b\n want: %04b", got, want)
	}
	if got, want := digitsAt(levels, switchAt-1), digitPatterns[1]; got != want {
		t.Errorf("before switch after dimming:\n  got: %04b\n want: %04b", got, want)
	}
}

func TestBlankTwiceWritesOnce(t *testing.T) {
	d, b := newTestDisplay(t)
	if err := d.Show(Frame{Digit(1), Digit(2), Digit(3), Digit(4)}); err != nil {
		t.Fatal(err)
	}
	if err := d.Blank(); err != nil {
		t.Fatal(err)
	}
	before := b.Writes()
	if err := d.Blank(); err != nil {
		t.Fatal(err)
	}
	if got, want := b.Writes(), before; got != want {
		t.Errorf("writes after second blank:\n  got: %d\n want: %d", got, want)
	}
}

func TestIndicator(t *testing.T) {
	d, b := newTestDisplay(t)
	check := func(want Indicator) {
		t.Helper()
		for tick, v := range b.Levels() {
			top := v&lineDotTop.Mask() != 0
			bottom := v&lineDotBottom.Mask() != 0
			if top == bottom {
				t.Fatalf("indicator lines equal at tick %d: top=%v bottom=%v", tick, top, bottom)
			}
			if got := top; got != (want == IndicatorTop) {
				t.Fatalf("indicator at tick %d:\n  got top: %v\n want: %v", tick, got, want)
			}
		}
	}
	check(IndicatorBottom)
	if err := d.SetIndicator(IndicatorTop); err != nil {
		t.Fatal(err)
	}
	check(IndicatorTop)
	if err := d.SetIndicator(IndicatorBottom); err != nil {
		t.Fatal(err)
	}
	check(IndicatorBottom)
}

func TestInvalidGlyph(t *testing.T) {
	d, _ := newTestDisplay(t)
	for _, g := range []Glyph{Digit(10), Digit(-2), Blend(1, 10, 50), Blend(1, 8, 101), {Digit: -1, Blended: true}} {
		if err := d.Tube(0).Show(g); err == nil {
			t.Errorf("show %#v: expected error", g)
		}
	}
}

func TestHardwareFault(t *testing.T) {
	d, b := newTestDisplay(t)
	b.Fail = errors.New("peripheral gone")
	err := d.Show(Frame{Digit(1), Digit(2), Digit(3), Digit(4)})
	if !errors.Is(err, pulse.ErrFault) {
		t.Errorf("show with failing engine:\n  got: %v\n want: %v", err, pulse.ErrFault)
	}
}

func TestServeHTTP(t *testing.T) {
	d, _ := newTestDisplay(t)
	if err := d.Show(Frame{Blend(1, 8, 50), Digit(2), Digit(3), Digit(4)}); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("GET", "/display.png", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	if got, want := rec.Code, http.StatusOK; got != want {
		t.Errorf("response code:\n  got: %v\n want: %v", got, want)
	}
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if got, want := img.Bounds().Dx(), previewWidth*previewScale; got != want {
		t.Errorf("image width:\n  got: %d\n want: %d", got, want)
	}
}

func TestClose(t *testing.T) {
	d, b := newTestDisplay(t)
	if err := d.Show(Frame{Digit(1), Digit(2), Digit(3), Digit(4)}); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	for tick, v := range b.Levels() {
		if v != 0 {
			t.Fatalf("line high after close at tick %d: %09b", tick, v)
		}
	}
}

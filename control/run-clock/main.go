package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jrockway/nixie-radio/control/alarm"
	"github.com/jrockway/nixie-radio/control/clock"
	"github.com/jrockway/nixie-radio/control/hw"
	"github.com/jrockway/nixie-radio/control/input"
	"github.com/jrockway/nixie-radio/control/mode"
	"github.com/jrockway/nixie-radio/control/nixie"
	"github.com/jrockway/nixie-radio/control/player"
	"github.com/jrockway/nixie-radio/control/radio"
	"github.com/jrockway/nixie-radio/control/wheel"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/gpio"
)

var (
	bind         = flag.String("bind", ":8080", "address to bind for debug/metrics server")
	sim          = flag.Bool("sim", false, "run without the board; the display is only visible at /display.png")
	dbFile       = flag.String("db", "nixie.db", "sqlite database holding stations and alarms")
	tick         = flag.Duration("tick", 10*time.Microsecond, "length of one slot of the display's pulse program")
	stepsPerTurn = flag.Int("steps-per-turn", 96, "edges the wheel produces in one revolution")
	mpv          = flag.String("mpv", "mpv --no-video --no-cache", "command line to run mpv; empty to only log what would play")
	mpvSocket    = flag.String("mpv-socket", "/tmp/nixie-mpv.sock", "path of mpv's IPC socket")
	stations     = flag.String("stations", "", "comma-separated name=uri stations to put in an empty database; defaults to a built-in list")

	cathodes    = flag.String("pins.cathodes", strings.Join(hw.DefaultPins.Cathodes[:], ","), "digit driver A,B,C,D gpios")
	anodes      = flag.String("pins.anodes", strings.Join(hw.DefaultPins.Anodes[:], ","), "tube selector a,b,c gpios")
	dots        = flag.String("pins.dots", strings.Join(hw.DefaultPins.Dots[:], ","), "top,bottom indicator gpios")
	wheelA      = flag.String("pins.wheel-a", hw.DefaultPins.WheelA, "wheel phase A gpio")
	wheelB      = flag.String("pins.wheel-b", hw.DefaultPins.WheelB, "wheel phase B gpio")
	wheelSwitch = flag.String("pins.wheel-switch", hw.DefaultPins.WheelSwitch, "wheel push switch gpio")
	top         = flag.String("pins.top", hw.DefaultPins.Top, "top button gpio; empty if not wired")
	middle      = flag.String("pins.middle", hw.DefaultPins.Middle, "middle button gpio; empty if not wired")
	bottom      = flag.String("pins.bottom", hw.DefaultPins.Bottom, "bottom button gpio; empty if not wired")
)

// envName is the environment variable that provides the default for a flag: -pins.wheel-a is
// NIXIE_PINS_WHEEL_A.
func envName(flag string) string {
	return "NIXIE_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(flag))
}

// setFlagsFromEnv overrides flag defaults with the environment.  Flags on the command line still
// win.
func setFlagsFromEnv(set *flag.FlagSet) error {
	var result error
	set.VisitAll(func(f *flag.Flag) {
		v, ok := os.LookupEnv(envName(f.Name))
		if !ok {
			return
		}
		if err := f.Value.Set(v); err != nil && result == nil {
			result = fmt.Errorf("%s: %w", envName(f.Name), err)
		}
	})
	return result
}

func splitPins(names string, dst []string) error {
	parts := strings.Split(names, ",")
	if len(parts) != len(dst) {
		return fmt.Errorf("want %d gpios; got %q", len(dst), names)
	}
	for i, p := range parts {
		dst[i] = strings.TrimSpace(p)
	}
	return nil
}

func parsePins() (hw.Pins, error) {
	p := hw.Pins{
		WheelA:      *wheelA,
		WheelB:      *wheelB,
		WheelSwitch: *wheelSwitch,
		Top:         *top,
		Middle:      *middle,
		Bottom:      *bottom,
	}
	if err := splitPins(*cathodes, p.Cathodes[:]); err != nil {
		return p, fmt.Errorf("cathodes: %w", err)
	}
	if err := splitPins(*anodes, p.Anodes[:]); err != nil {
		return p, fmt.Errorf("anodes: %w", err)
	}
	if err := splitPins(*dots, p.Dots[:]); err != nil {
		return p, fmt.Errorf("dots: %w", err)
	}
	return p, nil
}

func parseStations(list string) ([]radio.Station, error) {
	if list == "" {
		return alarm.DefaultStations, nil
	}
	var result []radio.Station
	for _, entry := range strings.Split(list, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("station %q: want name=uri", entry)
		}
		result = append(result, radio.Station{Name: parts[0], URI: parts[1]})
	}
	return result, nil
}

// controls lets the simulator be operated from a browser: POST /press?button=top|middle|bottom|wheel
// and POST /wheel?value=N.
func controls(m *mode.Machine) (press, turn http.HandlerFunc) {
	press = func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		switch req.FormValue("button") {
		case "top":
			m.EventTop()
		case "middle":
			m.EventMiddle()
		case "bottom":
			m.EventBottom()
		case "wheel":
			m.EventWheelPressed()
		default:
			http.Error(w, "unknown button", http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, "%+v\n", m.State())
	}
	turn = func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		v, err := strconv.Atoi(req.FormValue("value"))
		if err != nil {
			http.Error(w, fmt.Sprintf("value: %v", err), http.StatusBadRequest)
			return
		}
		m.EventWheelMoved(v)
		fmt.Fprintf(w, "%+v\n", m.State())
	}
	return press, turn
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}
	if err := setFlagsFromEnv(flag.CommandLine); err != nil {
		log.Fatalf("flag defaults from environment: %v", err)
	}
	flag.Parse()

	var hc *hw.Context
	if *sim {
		hc = hw.Simulated(*stepsPerTurn)
	} else {
		pins, err := parsePins()
		if err != nil {
			log.Fatalf("pins: %v", err)
		}
		if hc, err = hw.Open(pins, *tick, *stepsPerTurn); err != nil {
			log.Fatalf("open hardware: %v", err)
		}
	}

	db, err := alarm.OpenDatabase(*dbFile)
	if err != nil {
		log.Fatalf("open database %q: %v", *dbFile, err)
	}
	seed, err := parseStations(*stations)
	if err != nil {
		log.Fatalf("-stations: %v", err)
	}
	if err := db.SeedStations(seed); err != nil {
		log.Fatalf("seed stations: %v", err)
	}
	known, err := db.Stations()
	if err != nil {
		log.Fatalf("list stations: %v", err)
	}
	if len(known) == 0 {
		log.Fatalf("no stations in %s", *dbFile)
	}

	display, err := nixie.New(hc)
	if err != nil {
		log.Fatalf("init display: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var radioPlayer radio.Player
	var mpvPlayer *player.MPV
	if *mpv == "" {
		radioPlayer = new(player.Log)
	} else {
		if mpvPlayer, err = player.NewMPV(*mpv, *mpvSocket); err != nil {
			log.Fatalf("-mpv: %v", err)
		}
		if err := mpvPlayer.Start(ctx); err != nil {
			log.Fatalf("start player: %v", err)
		}
		radioPlayer = mpvPlayer
	}

	a, b := true, true
	if hc.WheelA != nil && hc.WheelB != nil {
		a, b = bool(hc.WheelA.Read()), bool(hc.WheelB.Read())
	}
	dial := wheel.New(hc.StepsPerTurn, a, b)

	scheduler := clock.NewScheduler(display)
	machine := mode.New(mode.Config{
		Player:    radioPlayer,
		Directory: db,
		Screen:    scheduler,
		Panel:     display,
		Wheel:     dial.Setup,
		Station:   known[0].ID,
	})

	http.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/display.png", http.StatusFound)
	})
	http.Handle("/display.png", display)
	http.Handle("/metrics", promhttp.Handler())
	press, turn := controls(machine)
	http.HandleFunc("/press", press)
	http.HandleFunc("/wheel", turn)

	httpDoneCh := make(chan error)
	httpServer := http.Server{Addr: *bind}
	go func() {
		log.Printf("http server listening on %s", httpServer.Addr)
		err := httpServer.ListenAndServe()
		select {
		case httpDoneCh <- err:
		case <-ctx.Done():
		}
		close(httpDoneCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	eg, wctx := errgroup.WithContext(ctx)
	if hc.Replayer != nil {
		eg.Go(func() error { return hc.Replayer.Run(wctx) })
	}
	eg.Go(func() error { return scheduler.Run(wctx) })
	eg.Go(func() error { return machine.Run(wctx) })
	eg.Go(func() error { return alarm.Watch(wctx, db, machine.Alert) })
	for _, button := range []struct {
		name  string
		pin   gpio.PinIn
		press func()
	}{
		{"top", hc.Top, machine.EventTop},
		{"middle", hc.Middle, machine.EventMiddle},
		{"bottom", hc.Bottom, machine.EventBottom},
		{"wheel switch", hc.WheelSwitch, machine.EventWheelPressed},
	} {
		button := button
		if button.pin == nil {
			continue
		}
		eg.Go(func() error {
			if err := input.WatchButton(wctx, button.pin, input.ButtonDebounce, button.press); err != nil {
				return fmt.Errorf("%s button: %w", button.name, err)
			}
			return nil
		})
	}
	if hc.WheelA != nil && hc.WheelB != nil {
		eg.Go(func() error { return input.WatchWheel(wctx, hc.WheelA, hc.WheelB, input.WheelDebounce, dial) })
	}

	loopDoneCh := make(chan error)
	go func() {
		err := eg.Wait()
		select {
		case loopDoneCh <- err:
		case <-ctx.Done():
		}
		close(loopDoneCh)
	}()

	httpAlive := true
	select {
	case err := <-httpDoneCh:
		log.Printf("http server died: %v", err)
		httpAlive = false
	case err := <-loopDoneCh:
		log.Printf("worker died: %v", err)
	case <-sigCh:
		log.Printf("interrupt")
	}
	signal.Stop(sigCh)
	cancel()
	if err := display.Close(); err != nil {
		log.Printf("darken display: %v", err)
	}
	if mpvPlayer != nil {
		if err := mpvPlayer.Close(); err != nil {
			log.Printf("stop player: %v", err)
		}
	}
	if err := db.Close(); err != nil {
		log.Printf("close database: %v", err)
	}
	if httpAlive {
		tctx, c := context.WithTimeout(context.Background(), time.Second)
		httpServer.Shutdown(tctx)
		c()
	}
	os.Exit(1)
}

// Binary skytrack runs the telescope tracking control loop and serves
// status and commands over a websocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/k3pgx/skytrack/internal/astro"
	"github.com/k3pgx/skytrack/mount"
	"github.com/k3pgx/skytrack/nexstar"
	"github.com/k3pgx/skytrack/power"
	"github.com/k3pgx/skytrack/rpc"
	"github.com/k3pgx/skytrack/skywatcher"
	"github.com/k3pgx/skytrack/tracker"
)

var (
	listenAddr = flag.String("listen", "127.0.0.1:8502", "HTTP listen address")
	protocol   = flag.String("telescope-protocol", "nexstar-hand-control",
		"one of nexstar-hand-control, skywatcher-mount-head-usb, skywatcher-mount-head-eqmod, skywatcher-mount-head-wifi")
	telescopeAddr = flag.String("telescope", "localhost:45345",
		"address of the mount server, or of the wifi adapter for skywatcher-mount-head-wifi")
	runHootl  = flag.Bool("hootl", false, "simulate the mount in-process instead of connecting to one")
	mountMode = flag.String("mount-mode", "altaz", "mount orientation, altaz or eq")

	latitude  = flag.Float64("latitude", 42.36, "observer latitude, degrees north")
	longitude = flag.Float64("longitude", -71.09, "observer longitude, degrees east")

	kp = flag.Float64("kp", 0.5, "tracking proportional gain")
	ki = flag.Float64("ki", 0.1, "tracking integral gain")
	kd = flag.Float64("kd", 0.0, "tracking derivative gain")

	powerPort = flag.String("power-port", "", "serial port of the drive power controller (optional)")
	powerBaud = flag.Int("power-baud", 19200, "baud rate of the drive power controller")
)

const controlPeriod = 50 * time.Millisecond

// After a CommError on the wifi transport, let stray datagrams drain
// before resuming.
const wifiQuietPeriod = 100 * time.Millisecond

func openSpeaker(obs astro.Observer, altaz bool) (mount.Speaker, error) {
	if *runHootl {
		switch *protocol {
		case "nexstar-hand-control":
			return &mount.DelaySpeaker{Speaker: nexstar.NewHootl(obs, time.Now(), altaz)}, nil
		default:
			return &mount.DelaySpeaker{Speaker: skywatcher.NewHootl()}, nil
		}
	}
	if *protocol == "skywatcher-mount-head-wifi" {
		return skywatcher.DialUdp(*telescopeAddr)
	}
	return mount.DialSerialNet(*telescopeAddr)
}

func openMount(speaker mount.Speaker) (mount.Mount, error) {
	switch *protocol {
	case "nexstar-hand-control":
		return nexstar.New(speaker), nil
	case "skywatcher-mount-head-usb", "skywatcher-mount-head-eqmod", "skywatcher-mount-head-wifi":
		return skywatcher.New(speaker)
	}
	return nil, fmt.Errorf("unknown telescope protocol %q", *protocol)
}

// loop owns the mount for the life of the process and runs one control
// tick per period.
type loop struct {
	mount   mount.Mount
	tracker *tracker.Tracker
	server  *Server
	mode    tracker.Mode

	powerMu    sync.Mutex
	powerOK    bool
	havePower  bool
	lastInputs Inputs

	unreliableCount int
	commFailure     bool
}

func (l *loop) powerReady() bool {
	l.powerMu.Lock()
	defer l.powerMu.Unlock()
	return !l.havePower || l.powerOK
}

func (l *loop) powerCallback(status power.Status) {
	l.powerMu.Lock()
	defer l.powerMu.Unlock()
	l.powerOK = status.Ready()
}

// tick runs one control cycle. A failed cycle leaves the tracker state
// alone; the next cycle retries.
func (l *loop) tick() error {
	inputs := l.server.Inputs()
	if inputs.GainChanges != l.lastInputs.GainChanges {
		log.Printf("gains: kp=%v ki=%v kd=%v", inputs.Kp, inputs.Ki, inputs.Kd)
		l.tracker.SetGains(inputs.Kp, inputs.Ki, inputs.Kd)
	}
	l.lastInputs = inputs

	// While tracking, the tracker's own position read doubles as the
	// reported position; reading it again here would cost a second
	// serial round trip per cycle.
	powerReady := l.powerReady()
	var a, b float64
	var err error
	if inputs.Tracking && powerReady {
		a, b, err = l.tracker.Go(inputs.TargetA, inputs.TargetB)
	} else {
		if err = l.tracker.Stop(); err == nil {
			if l.mode == tracker.ModeRaDec {
				a, b, err = l.mount.PreciseRaDec()
			} else {
				a, b, err = l.mount.PreciseAzmAlt()
			}
		}
	}
	if err != nil {
		return err
	}
	a = astro.WrapRad(a, 0)
	b = astro.WrapRad(b, -math.Pi)

	l.server.PublishStatus(Status{
		AxisA:       a,
		AxisB:       b,
		Tracking:    inputs.Tracking,
		TargetA:     inputs.TargetA,
		TargetB:     inputs.TargetB,
		CommFailure: l.commFailure,
		PowerReady:  powerReady,
		Kp:          inputs.Kp,
		Ki:          inputs.Ki,
		Kd:          inputs.Kd,
	})
	return nil
}

func (l *loop) run(ctx context.Context) error {
	t := time.NewTicker(controlPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}

		err := l.tick()
		if err == nil {
			l.commFailure = false
			l.unreliableCount = 0
			continue
		}

		var unreliable *mount.UnreliableCommError
		var comm *mount.CommError
		var remote *rpc.RemoteError
		switch {
		case errors.As(err, &unreliable):
			l.unreliableCount++
			if l.unreliableCount > 5 {
				log.Printf("telescope communication lost, attempting to continue: %v", err)
				l.commFailure = true
			}
		case errors.As(err, &comm):
			log.Printf("attempting to continue: %v", err)
			l.commFailure = true
			if *protocol == "skywatcher-mount-head-wifi" {
				time.Sleep(wifiQuietPeriod)
			}
		case errors.Is(err, rpc.ErrConnectionFailure), errors.As(err, &remote):
			log.Printf("attempting to continue: %v", err)
			l.commFailure = true
		default:
			return err
		}
	}
}

func main() {
	flag.Parse()

	obs := astro.Observer{
		Latitude: *latitude / 180 * math.Pi,
		LonEast:  *longitude / 180 * math.Pi,
	}
	altaz := *mountMode == "altaz"
	if !altaz && *mountMode != "eq" {
		log.Fatalf("unknown mount mode %q", *mountMode)
	}

	speaker, err := openSpeaker(obs, altaz)
	if err != nil {
		log.Fatalf("connecting to telescope: %v", err)
	}
	defer speaker.Close()

	m, err := openMount(speaker)
	if err != nil {
		// Init preconditions failed; retrying will not help.
		log.Fatalf("initializing mount: %v", err)
	}

	mode := tracker.ModeAzmAlt
	if !altaz {
		mode = tracker.ModeRaDec
	}

	server := NewServer(*kp, *ki, *kd)
	l := &loop{
		mount:   m,
		tracker: tracker.New(m, mode, *kp, *ki, *kd),
		server:  server,
		mode:    mode,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *powerPort != "" {
		l.havePower = true
		if _, err := power.Connect(ctx, *powerPort, *powerBaud, l.powerCallback); err != nil {
			log.Fatalf("connecting to power controller: %v", err)
		}
	}

	r := mux.NewRouter()
	r.Handle("/api/status", http.HandlerFunc(server.StatusHandler))
	r.Handle("/api/ws", http.HandlerFunc(server.StatusSocketHandler))
	srv := &http.Server{
		Handler:     r,
		Addr:        *listenAddr,
		ReadTimeout: 15 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.run(ctx) })
	g.Go(srv.ListenAndServe)
	log.Printf("listening on %s", *listenAddr)
	log.Fatal(g.Wait())
}

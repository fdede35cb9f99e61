package nexstar

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/k3pgx/skytrack/internal/astro"
	"github.com/k3pgx/skytrack/mount"
)

// Hootl is a hardware-out-of-the-loop NexStar mount simulator. It answers
// the same commands a real hand controller would while a background
// goroutine advances a simple model of the mount physics, so the rest of
// the stack can be exercised with no telescope attached.
//
// The simulator assumes the mount is perfectly aligned.
type Hootl struct {
	mu sync.Mutex

	// altazMode is true when the mount is vertical, false when on an
	// equatorial wedge.
	altazMode bool
	obs       astro.Observer
	simTime   time.Time

	// Current axis positions in 24-bit counts. In altaz mode these are
	// azimuth/altitude, otherwise RA/declination.
	azmOrRa  int64
	altOrDec int64

	gotoTargetA    int64
	gotoTargetB    int64
	gotoInProgress bool
	gotoAzmAlt     bool

	trackingMode mount.TrackingMode
	// Sky coordinate held while tracking in altaz mode.
	trackedRa, trackedDec float64
	hasTracked            bool

	// Commanded slew rates, quarter arcseconds per second.
	slewRateAzm int64
	slewRateAlt int64

	running bool
	stop    context.CancelFunc
	done    chan struct{}
}

const hootlStep = 100 * time.Millisecond

// NewHootl starts a simulator at the given observer location and time.
// Wrap it in a mount.DelaySpeaker to model serial latency.
func NewHootl(obs astro.Observer, now time.Time, altazMode bool) *Hootl {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hootl{
		altazMode: altazMode,
		obs:       obs,
		simTime:   now,
		running:   true,
		stop:      cancel,
		done:      make(chan struct{}),
	}
	go h.run(ctx)
	return h
}

// Close stops the simulator and waits for its goroutine to exit.
func (h *Hootl) Close() error {
	h.stop()
	<-h.done
	return nil
}

func (h *Hootl) run(ctx context.Context) {
	defer close(h.done)
	defer func() {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}()
	t := time.NewTicker(hootlStep)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		h.step(hootlStep.Seconds())
	}
}

// step advances the physics by dt seconds.
func (h *Hootl) step(dt float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.simTime = h.simTime.Add(time.Duration(dt * float64(time.Second)))

	tracking := false
	switch {
	case h.gotoInProgress:
		// Move toward the target at the fastest fixed rate.
		maxRate, _ := fixedRateMap(9)
		maxMovement := radToB24(quarterArcsecToRad(float64(maxRate) * dt))

		targetA, targetB := h.gotoTargetA, h.gotoTargetB
		if h.gotoAzmAlt != h.altazMode {
			// The target was given in the other frame; convert it.
			targetA, targetB = h.convertTarget()
			h.gotoTargetA, h.gotoTargetB = targetA, targetB
			h.gotoAzmAlt = h.altazMode
		}
		h.azmOrRa += clampI64(targetA-h.azmOrRa, -maxMovement, maxMovement)
		h.altOrDec += clampI64(targetB-h.altOrDec, -maxMovement, maxMovement)
		if h.azmOrRa == targetA && h.altOrDec == targetB {
			h.gotoInProgress = false
		}

	case h.trackingMode != mount.TrackingOff && h.altazMode:
		// Hold the sky coordinate the mount was pointed at when
		// tracking engaged. The per-step motion is small, so snapping
		// straight to it is fine.
		if !h.hasTracked {
			h.trackedRa, h.trackedDec = h.obs.AzmAltToRaDec(h.simTime, b24ToRad(h.azmOrRa), b24ToRad(h.altOrDec))
		}
		azm, alt := h.obs.RaDecToAzmAlt(h.simTime, h.trackedRa, h.trackedDec)
		h.azmOrRa = radToB24(azm)
		h.altOrDec = radToB24(alt)
		tracking = true

	case h.trackingMode != mount.TrackingOff:
		// On an equatorial wedge a tracking mount is motionless
		// relative to the sky.

	default:
		// Slewing at the commanded rates. When stopped on a wedge, RA
		// drifts at the sidereal rate.
		azmRate := quarterArcsecToRad(float64(h.slewRateAzm))
		if !h.altazMode {
			azmRate += astro.SiderealRate
		}
		h.azmOrRa += int64(azmRate / (2 * math.Pi) * turn * dt)
		h.altOrDec += int64(quarterArcsecToRad(float64(h.slewRateAlt)) / (2 * math.Pi) * turn * dt)
	}
	h.hasTracked = tracking
}

// convertTarget maps the pending goto target into the mount's native
// frame at the current simulated time.
func (h *Hootl) convertTarget() (int64, int64) {
	a := b24ToRad(h.gotoTargetA)
	b := b24ToRad(h.gotoTargetB)
	if h.altazMode {
		azm, alt := h.obs.RaDecToAzmAlt(h.simTime, a, b)
		return radToB24(azm), radToB24(alt)
	}
	ra, dec := h.obs.AzmAltToRaDec(h.simTime, a, b)
	return radToB24(ra), radToB24(dec)
}

func clampI64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// measured returns the current position in both frames.
func (h *Hootl) measured() (azm, alt, ra, dec int64) {
	if h.altazMode {
		azm, alt = h.azmOrRa, h.altOrDec
		r, d := h.obs.AzmAltToRaDec(h.simTime, b24ToRad(azm), b24ToRad(alt))
		return azm, alt, radToB24(r), radToB24(d)
	}
	ra, dec = h.azmOrRa, h.altOrDec
	a, e := h.obs.RaDecToAzmAlt(h.simTime, b24ToRad(ra), b24ToRad(dec))
	return radToB24(a), radToB24(e), ra, dec
}

// matchPassthrough reports whether command is a passthrough command with
// the given ID bytes and argument count (unused argument bytes must be
// zero).
func matchPassthrough(command string, p1, p2, p3 byte, nargs int) bool {
	if len(command) != 8 || command[0] != 'P' {
		return false
	}
	if command[1] != p1 || command[2] != p2 || command[3] != p3 {
		return false
	}
	for i := 4 + nargs; i < 8; i++ {
		if command[i] != 0 {
			return false
		}
	}
	return true
}

// Speak decodes and executes one command, returning the encoded response.
func (h *Hootl) Speak(command string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// If the simulator loop has died there is no point limping on with
	// stale state; die loudly rather than hang the control loop.
	if !h.running {
		log.Fatal("nexstar simulator is not running")
	}

	if command == "" {
		return "", errors.New("empty command")
	}

	measAzm, measAlt, measRa, measDec := h.measured()

	switch {
	case command == "E":
		return fmt.Sprintf("%s,%s", b24ToHex4(measRa), b24ToHex4(measDec)), nil
	case command == "e":
		return fmt.Sprintf("%s,%s", b24ToHex8(measRa), b24ToHex8(measDec)), nil
	case command == "Z", command == "z":
		if !h.altazMode {
			return "", errors.New("the real mount does not answer GET AZM-ALT accurately in EQ mode")
		}
		if command == "Z" {
			return fmt.Sprintf("%s,%s", b24ToHex4(measAzm), b24ToHex4(measAlt)), nil
		}
		return fmt.Sprintf("%s,%s", b24ToHex8(measAzm), b24ToHex8(measAlt)), nil

	case command[0] == 'R', command[0] == 'B':
		if len(command) != 10 || command[5] != ',' {
			return "", fmt.Errorf("malformed goto %q", command)
		}
		a, err := fromHex(command[1:5])
		if err != nil {
			return "", err
		}
		b, err := fromHex(command[6:10])
		if err != nil {
			return "", err
		}
		h.gotoTargetA, h.gotoTargetB = a<<8, b<<8
		h.gotoInProgress = true
		h.gotoAzmAlt = command[0] == 'B'
		return "", nil

	case command[0] == 'r', command[0] == 'b':
		if len(command) != 18 || command[9] != ',' {
			return "", fmt.Errorf("malformed goto %q", command)
		}
		a, err := fromHex(command[1:9])
		if err != nil {
			return "", err
		}
		b, err := fromHex(command[10:18])
		if err != nil {
			return "", err
		}
		h.gotoTargetA, h.gotoTargetB = a>>8, b>>8
		h.gotoInProgress = true
		h.gotoAzmAlt = command[0] == 'b'
		return "", nil

	case command == "t":
		return string([]byte{byte(h.trackingMode)}), nil
	case command[0] == 'T':
		if len(command) != 2 {
			return "", fmt.Errorf("malformed tracking mode %q", command)
		}
		h.trackingMode = mount.TrackingMode(command[1])
		return "", nil

	// Variable rate azimuth slew (RA is reversed on a wedge).
	case matchPassthrough(command, 3, 16, 6, 2), matchPassthrough(command, 3, 16, 7, 2):
		rate := int64(command[4])*256 + int64(command[5])
		if command[3] == 7 {
			rate = -rate
		}
		if !h.altazMode {
			rate = -rate
		}
		h.slewRateAzm = rate
		return "", nil

	// Variable rate altitude/declination slew.
	case matchPassthrough(command, 3, 17, 6, 2), matchPassthrough(command, 3, 17, 7, 2):
		rate := int64(command[4])*256 + int64(command[5])
		if command[3] == 7 {
			rate = -rate
		}
		h.slewRateAlt = rate
		return "", nil

	// Fixed rate azimuth slew.
	case matchPassthrough(command, 3, 16, 36, 1), matchPassthrough(command, 3, 16, 37, 1):
		rate, err := fixedRateMap(int(command[4]))
		if err != nil {
			return "", err
		}
		if command[3] == 37 {
			rate = -rate
		}
		h.slewRateAzm = rate
		return "", nil

	// Fixed rate altitude/declination slew.
	case matchPassthrough(command, 3, 17, 36, 1), matchPassthrough(command, 3, 17, 37, 1):
		rate, err := fixedRateMap(int(command[4]))
		if err != nil {
			return "", err
		}
		if command[3] == 37 {
			rate = -rate
		}
		h.slewRateAlt = rate
		return "", nil

	case command[0] == 'K':
		if len(command) != 2 {
			return "", fmt.Errorf("malformed echo %q", command)
		}
		return command[1:], nil

	case command == "L":
		if h.gotoInProgress {
			return "1", nil
		}
		return "0", nil

	case command == "M":
		h.gotoInProgress = false
		return "", nil
	}

	return "", fmt.Errorf("invalid or unimplemented command %q", command)
}

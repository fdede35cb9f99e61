package skywatcher

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"sync"
	"time"
)

// Mechanical parameters reported by the simulated motor controller,
// matching a SkyWatcher alt-az head.
const (
	hootlCpr       = 9216000
	hootlHsr       = 16
	hootlTimerFreq = 64935
)

const hootlStep = 10 * time.Millisecond

// Slew rate changes are not instantaneous on the real mount; the
// simulator ramps at this acceleration.
const hootlAccel = 0.4 // radians/second^2

type hootlAxis struct {
	position float64 // radians, wrapped to [0, 2pi)
	rate     float64 // radians/second, current
	target   float64 // radians/second, commanded

	stepPeriod int64
	fast       bool
	ccw        bool
	running    bool
	initDone   bool
}

// commandedRate converts the axis's step period and direction into a
// signed rate, the inverse of the conversion SkyWatcher.slewAxis does.
func (a *hootlAxis) commandedRate() float64 {
	if a.stepPeriod <= 0 {
		return 0
	}
	rate := hootlHsr * hootlTimerFreq * 2 * math.Pi / float64(hootlCpr) / float64(a.stepPeriod)
	if a.ccw {
		rate = -rate
	}
	return rate
}

// Hootl is a hardware-out-of-the-loop SkyWatcher motor controller
// simulator. It answers the same commands the real controller would while
// a background goroutine advances an acceleration-limited model of the
// axis drives, so the rest of the stack can be exercised with no
// telescope attached.
type Hootl struct {
	mu   sync.Mutex
	axis [3]hootlAxis // indexed 1 and 2

	running bool
	stop    context.CancelFunc
	done    chan struct{}
}

// NewHootl starts a simulator. Wrap it in a mount.DelaySpeaker to model
// serial latency.
func NewHootl() *Hootl {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hootl{
		running: true,
		stop:    cancel,
		done:    make(chan struct{}),
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

// step advances the axis drives by dt seconds.
func (h *Hootl) step(dt float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := 1; i <= 2; i++ {
		a := &h.axis[i]
		target := 0.0
		if a.running {
			target = a.target
		}
		maxDelta := hootlAccel * dt
		delta := target - a.rate
		if delta > maxDelta {
			delta = maxDelta
		} else if delta < -maxDelta {
			delta = -maxDelta
		}
		a.rate += delta
		a.position = math.Mod(a.position+a.rate*dt+2*math.Pi, 2*math.Pi)
	}
}

// moving reports whether the axis is still being driven, including the
// deceleration after a stop command.
func (a *hootlAxis) moving() bool {
	return a.running || math.Abs(a.rate) > 1e-9
}

func (a *hootlAxis) statusBits() int64 {
	var v int64
	if a.ccw {
		v |= 0x200
	}
	if a.fast {
		v |= 0x400
	}
	if a.moving() {
		v |= 0x010
	}
	if a.initDone {
		v |= 0x001
	}
	return v
}

// Speak decodes and executes one command, returning the response without
// wire framing.
func (h *Hootl) Speak(command string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// If the simulator loop has died there is no point limping on with
	// stale state; die loudly rather than hang the control loop.
	if !h.running {
		log.Fatal("skywatcher simulator is not running")
	}

	if len(command) < 3 || command[0] != ':' {
		return "", badCommand(command)
	}
	axisDigit := command[2]
	if axisDigit != '1' && axisDigit != '2' {
		return "", badCommand(command)
	}
	a := &h.axis[axisDigit-'0']
	payload := command[3:]

	switch command[1] {
	case 'a': // counts per revolution
		if payload != "" {
			return "", badCommand(command)
		}
		return encodeInt6(hootlCpr), nil

	case 'g': // high speed ratio
		if payload != "" {
			return "", badCommand(command)
		}
		return encodeInt2(hootlHsr), nil

	case 'b': // timer frequency; the axis digit is ignored
		if payload != "" {
			return "", badCommand(command)
		}
		return encodeInt6(hootlTimerFreq), nil

	case 'F': // initialization done
		if payload != "" {
			return "", badCommand(command)
		}
		a.initDone = true
		return "", nil

	case 'f': // status
		if payload != "" {
			return "", badCommand(command)
		}
		return fmt.Sprintf("%03X", a.statusBits()), nil

	case 'j': // position
		if payload != "" {
			return "", badCommand(command)
		}
		counts := int64(math.Round(a.position/(2*math.Pi)*hootlCpr)) % hootlCpr
		if counts < 0 {
			counts += hootlCpr
		}
		return encodeInt6(counts), nil

	case 'G': // motion mode
		v, err := decodeInt2(payload)
		if err != nil {
			return "", badCommand(command)
		}
		a.fast = v&0x20 != 0
		a.ccw = v&0x01 != 0
		return "", nil

	case 'I': // step period
		v, err := decodeInt6(payload)
		if err != nil {
			return "", badCommand(command)
		}
		a.stepPeriod = v
		if a.running {
			a.target = a.commandedRate()
		}
		return "", nil

	case 'J': // start motion
		if payload != "" {
			return "", badCommand(command)
		}
		a.running = true
		a.target = a.commandedRate()
		return "", nil

	case 'K': // stop motion
		if payload != "" {
			return "", badCommand(command)
		}
		a.running = false
		a.target = 0
		return "", nil
	}
	return "", badCommand(command)
}

func badCommand(command string) error {
	return &commandError{command: command}
}

// commandError is the simulator's stand-in for the controller's "!" error
// reply.
type commandError struct {
	command string
}

func (e *commandError) Error() string {
	return "skywatcher: bad command " + strconv.Quote(e.command)
}

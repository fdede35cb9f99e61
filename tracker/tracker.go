package tracker

import (
	"math"

	"github.com/k3pgx/skytrack/internal/astro"
	"github.com/k3pgx/skytrack/mount"
)

// Mode selects which pair of mount axes the tracker drives. It is fixed
// for the life of a Tracker.
type Mode int

const (
	ModeAzmAlt Mode = iota
	ModeRaDec
)

// Commanding a rate above this means the controller has wound up or the
// target jumped; reset the controller instead of trusting its state.
const maxSaneRate = 4.0 / 180.0 * math.Pi

// Tracker drives the mount toward a target position, one Go call per
// control tick.
type Tracker struct {
	mount mount.Mount
	mode  Mode

	axisA *Pid // azimuth or RA
	axisB *Pid // altitude or declination

	stopped bool
}

// New creates a Tracker with the same gains on both axes.
func New(m mount.Mount, mode Mode, kp, ki, kd float64) *Tracker {
	return &Tracker{
		mount: m,
		mode:  mode,
		axisA: NewPid(kp, ki, kd),
		axisB: NewPid(kp, ki, kd),
	}
}

// SetGains sets both controllers' gains, resetting them.
func (t *Tracker) SetGains(kp, ki, kd float64) {
	t.axisA.SetGains(kp, ki, kd)
	t.axisB.SetGains(kp, ki, kd)
}

// Stop zeroes the slew rates and disables tracking. Repeated calls only
// reset the controllers; the mount is commanded once.
func (t *Tracker) Stop() error {
	if !t.stopped {
		if err := t.slew(0, 0); err != nil {
			return err
		}
		if err := t.mount.SetTrackingMode(mount.TrackingOff); err != nil {
			return err
		}
		t.stopped = true
	}
	t.axisA.Reset()
	t.axisB.Reset()
	return nil
}

// Go runs one control step toward the target position. Call it once per
// control tick while tracking. The measured position is returned so the
// caller can report it without a second round trip to the mount.
func (t *Tracker) Go(targetA, targetB float64) (float64, float64, error) {
	t.stopped = false

	measuredA, measuredB, err := t.position()
	if err != nil {
		return 0, 0, err
	}
	// Bring the measured angles within +-pi of the target so a target
	// just across the wrap point produces a small error, not a full
	// turn.
	actualA := astro.WrapRad(measuredA, targetA-math.Pi)
	actualB := astro.WrapRad(measuredB, targetB-math.Pi)

	rateA := t.axisA.Control(targetA, actualA)
	rateB := t.axisB.Control(targetB, actualB)

	if math.Abs(rateA) > maxSaneRate {
		t.axisA.Reset()
	}
	if math.Abs(rateB) > maxSaneRate {
		t.axisB.Reset()
	}

	return measuredA, measuredB, t.slew(rateA, rateB)
}

func (t *Tracker) position() (float64, float64, error) {
	if t.mode == ModeRaDec {
		return t.mount.PreciseRaDec()
	}
	return t.mount.PreciseAzmAlt()
}

func (t *Tracker) slew(rateA, rateB float64) error {
	if t.mode == ModeRaDec {
		return t.mount.SlewRaDec(rateA, rateB)
	}
	return t.mount.SlewAzmAlt(rateA, rateB)
}

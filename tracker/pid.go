// Package tracker closes the loop between a target position and the
// mount: one PID controller per axis turns position error into slew rate
// commands.
package tracker

import "time"

// Pid is a proportional-integral-derivative controller. It is not safe
// for concurrent use.
type Pid struct {
	kp, ki, kd float64

	iError    float64
	lastError float64
	lastTime  time.Time
	hasLast   bool

	// Overridden in tests.
	now func() time.Time
}

// NewPid creates a controller with the given gains.
func NewPid(kp, ki, kd float64) *Pid {
	p := &Pid{now: time.Now}
	p.SetGains(kp, ki, kd)
	return p
}

// SetGains sets the gains and resets the controller, so old integral and
// derivative history can't kick the output under the new gains.
func (p *Pid) SetGains(kp, ki, kd float64) {
	p.kp = kp
	p.ki = ki
	p.kd = kd
	p.Reset()
}

// Reset discards the integral and derivative state. The next Control call
// produces a proportional-only output.
func (p *Pid) Reset() {
	p.iError = 0
	p.hasLast = false
}

// Control returns a command output that drives actual toward desired.
func (p *Pid) Control(desired, actual float64) float64 {
	err := desired - actual
	t := p.now()

	output := p.kp * err
	if p.hasLast {
		dt := t.Sub(p.lastTime).Seconds()
		if dt > 0 {
			p.iError += err * dt
			output += p.ki * p.iError
			output += p.kd * (err - p.lastError) / dt
		}
	}

	p.lastError = err
	p.lastTime = t
	p.hasLast = true
	return output
}

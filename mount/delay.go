package mount

import "time"

// DelaySpeaker wraps a Speaker with fixed delays before and after each
// command, modeling the round-trip latency of a real serial link. The
// HOOTL simulators are wrapped in one so that control-loop timing in
// simulation matches the hardware.
type DelaySpeaker struct {
	Speaker
	// Before and After default to the measured latencies of a NexStar
	// hand controller at 9600 baud.
	Before, After time.Duration
}

func (d *DelaySpeaker) Speak(command string) (string, error) {
	before, after := d.Before, d.After
	if before == 0 {
		before = 40 * time.Millisecond
	}
	if after == 0 {
		after = 50 * time.Millisecond
	}
	time.Sleep(before)
	response, err := d.Speaker.Speak(command)
	time.Sleep(after)
	return response, err
}

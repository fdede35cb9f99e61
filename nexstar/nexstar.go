// Package nexstar implements the NexStar hand controller serial protocol.
// Angles on the wire are 24-bit fixed point (2^24 counts per turn),
// rendered as 4 hex digits (low precision) or 8 hex digits (precise).
//
// Protocol reference:
// https://s3.amazonaws.com/celestron-site-support-files/support_files/1154108406_nexstarcommprot.pdf
package nexstar

import (
	"fmt"
	"math"
	"strconv"

	"github.com/k3pgx/skytrack/internal/astro"
	"github.com/k3pgx/skytrack/mount"
)

// turn is the number of counts in a full revolution.
const turn = 1 << 24

// maxVariableRate is the largest slew rate expressible in the variable
// rate passthrough command (0xFFFF quarter arcseconds per second).
const maxVariableRate = 0.079121

const quarterArcsecPerTurn = 360 * 60 * 60 * 4

// wrapB24 wraps an angle in 1/2^24 turn counts into [minimum, minimum+2^24).
func wrapB24(theta, minimum int64) int64 {
	for theta >= minimum+turn {
		theta -= turn
	}
	for theta < minimum {
		theta += turn
	}
	return theta
}

// radToB24 converts radians to the 24-bit wire representation.
func radToB24(radians float64) int64 {
	v := int64(astro.WrapRad(radians, 0) / (2 * math.Pi) * turn)
	if v < 0 {
		v = 0
	}
	if v > 0xffffff {
		v = 0xffffff
	}
	return v
}

// b24ToRad converts the 24-bit wire representation to radians.
func b24ToRad(b24 int64) float64 {
	return astro.WrapRad(float64(b24)/turn*2*math.Pi, 0)
}

func quarterArcsecToRad(qas float64) float64 {
	return qas / quarterArcsecPerTurn * 2 * math.Pi
}

func radToQuarterArcsec(rad float64) int64 {
	return int64(rad / (2 * math.Pi) * quarterArcsecPerTurn)
}

// b24ToHex4 truncates the low byte, for the low precision commands.
func b24ToHex4(b24 int64) string {
	return fmt.Sprintf("%04X", wrapB24(b24, 0)>>8)
}

// b24ToHex8 renders all 24 bits; the low byte of the wire value is zero.
func b24ToHex8(b24 int64) string {
	return fmt.Sprintf("%08X", wrapB24(b24, 0)<<8)
}

func fromHex(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return 0, mount.Commf("bad hex field %q", s)
	}
	return v, nil
}

// fixedRateMap returns the slew rate for a fixed rate index, in quarter
// arcseconds per second. Indexes 1-6 are multiples of the sidereal rate,
// 7-9 are fixed degrees per second.
func fixedRateMap(index int) (int64, error) {
	siderealQas := astro.SiderealRate / math.Pi * 180 * 60 * 60 * 4
	sidereal := int64(siderealQas)
	const degPerSec = 60 * 60 * 4
	switch index {
	case 0:
		return 0, nil
	case 1:
		return sidereal / 2, nil
	case 2:
		return sidereal, nil
	case 3:
		return 4 * sidereal, nil
	case 4:
		return 8 * sidereal, nil
	case 5:
		return 16 * sidereal, nil
	case 6:
		return 64 * sidereal, nil
	case 7:
		return 1 * degPerSec, nil
	case 8:
		return 3 * degPerSec, nil
	case 9:
		return 5 * degPerSec, nil
	}
	return 0, fmt.Errorf("bad fixed rate index %d", index)
}

// NexStar drives a mount that speaks the NexStar protocol. Construct it
// with whatever Speaker reaches the mount: a SerialNetClient for real
// hardware behind cmd/mountserver, or a Hootl simulator.
type NexStar struct {
	speaker mount.Speaker
}

var _ mount.Mount = (*NexStar)(nil)

func New(speaker mount.Speaker) *NexStar {
	return &NexStar{speaker: speaker}
}

// speak sends a command and validates the protocol-fixed response length.
func (n *NexStar) speak(command string, responseLen int) (string, error) {
	response, err := n.speaker.Speak(command)
	if err != nil {
		return "", err
	}
	if len(response) != responseLen {
		return "", mount.Commf("response %q to %q: want %d bytes", response, command, responseLen)
	}
	return response, nil
}

// getPair reads a "low precision" position reply: 4+1+4 hex characters.
func (n *NexStar) getPair(command string) (float64, float64, error) {
	r, err := n.speak(command, 9)
	if err != nil {
		return 0, 0, err
	}
	if r[4] != ',' {
		return 0, 0, mount.Commf("response %q: missing separator", r)
	}
	a, err := fromHex(r[0:4])
	if err != nil {
		return 0, 0, err
	}
	b, err := fromHex(r[5:9])
	if err != nil {
		return 0, 0, err
	}
	return b24ToRad(a << 8), b24ToRad(b << 8), nil
}

// getPrecisePair reads a precise position reply: 8+1+8 hex characters.
func (n *NexStar) getPrecisePair(command string) (float64, float64, error) {
	r, err := n.speak(command, 17)
	if err != nil {
		return 0, 0, err
	}
	if r[8] != ',' {
		return 0, 0, mount.Commf("response %q: missing separator", r)
	}
	a, err := fromHex(r[0:8])
	if err != nil {
		return 0, 0, err
	}
	b, err := fromHex(r[9:17])
	if err != nil {
		return 0, 0, err
	}
	return b24ToRad(a >> 8), b24ToRad(b >> 8), nil
}

func (n *NexStar) RaDec() (float64, float64, error) {
	return n.getPair("E")
}

func (n *NexStar) PreciseRaDec() (float64, float64, error) {
	return n.getPrecisePair("e")
}

func (n *NexStar) AzmAlt() (float64, float64, error) {
	return n.getPair("Z")
}

func (n *NexStar) PreciseAzmAlt() (float64, float64, error) {
	return n.getPrecisePair("z")
}

// GotoRaDec commands a GOTO to the given right ascension and declination.
func (n *NexStar) GotoRaDec(ra, dec float64) error {
	_, err := n.speak(fmt.Sprintf("R%s,%s", b24ToHex4(radToB24(ra)), b24ToHex4(radToB24(dec))), 0)
	return err
}

// GotoPreciseRaDec is GotoRaDec with full 24-bit precision.
func (n *NexStar) GotoPreciseRaDec(ra, dec float64) error {
	_, err := n.speak(fmt.Sprintf("r%s,%s", b24ToHex8(radToB24(ra)), b24ToHex8(radToB24(dec))), 0)
	return err
}

// GotoAzmAlt commands a GOTO to the given azimuth and altitude.
func (n *NexStar) GotoAzmAlt(azm, alt float64) error {
	_, err := n.speak(fmt.Sprintf("B%s,%s", b24ToHex4(radToB24(azm)), b24ToHex4(radToB24(alt))), 0)
	return err
}

// GotoPreciseAzmAlt is GotoAzmAlt with full 24-bit precision.
func (n *NexStar) GotoPreciseAzmAlt(azm, alt float64) error {
	_, err := n.speak(fmt.Sprintf("b%s,%s", b24ToHex8(radToB24(azm)), b24ToHex8(radToB24(alt))), 0)
	return err
}

// TrackingMode returns the mount's current tracking mode.
func (n *NexStar) TrackingMode() (mount.TrackingMode, error) {
	r, err := n.speak("t", 1)
	if err != nil {
		return 0, err
	}
	return mount.TrackingMode(r[0]), nil
}

func (n *NexStar) SetTrackingMode(mode mount.TrackingMode) error {
	_, err := n.speak("T"+string([]byte{byte(mode)}), 0)
	return err
}

// passthrough builds the fixed 8-character envelope addressing an
// auxiliary motor controller.
func passthrough(p1, p2, p3 byte, args ...byte) string {
	cmd := []byte{'P', p1, p2, p3, 0, 0, 0, 0}
	copy(cmd[4:], args)
	return string(cmd)
}

func (n *NexStar) slewVariable(axis byte, rate float64) error {
	qas := radToQuarterArcsec(math.Min(math.Abs(rate), maxVariableRate))
	if qas > 0xffff {
		qas = 0xffff
	}
	dir := byte(6)
	if rate < 0 {
		dir = 7
	}
	_, err := n.speak(passthrough(3, axis, dir, byte(qas/256), byte(qas%256)), 0)
	return err
}

// SlewAzmOrRa sets the azimuth/RA axis slew rate. RA slew is backwards.
func (n *NexStar) SlewAzmOrRa(rate float64) error {
	return n.slewVariable(16, rate)
}

// SlewAltOrDec sets the altitude/declination axis slew rate.
func (n *NexStar) SlewAltOrDec(rate float64) error {
	return n.slewVariable(17, rate)
}

func (n *NexStar) slewFixed(axis byte, rate int) error {
	dir := byte(36)
	if rate < 0 {
		dir = 37
		rate = -rate
	}
	if rate > 9 {
		return fmt.Errorf("bad fixed rate index %d", rate)
	}
	_, err := n.speak(passthrough(3, axis, dir, byte(rate)), 0)
	return err
}

// SlewFixedAzmOrRa slews the azimuth/RA axis at one of the mount's ten
// fixed rates. The sign of rate picks the direction; its magnitude is the
// rate index (0 stops the axis).
func (n *NexStar) SlewFixedAzmOrRa(rate int) error {
	return n.slewFixed(16, rate)
}

// SlewFixedAltOrDec is SlewFixedAzmOrRa for the altitude/declination axis.
func (n *NexStar) SlewFixedAltOrDec(rate int) error {
	return n.slewFixed(17, rate)
}

func (n *NexStar) SlewAzm(rate float64) error { return n.SlewAzmOrRa(rate) }
func (n *NexStar) SlewAlt(rate float64) error { return n.SlewAltOrDec(rate) }
func (n *NexStar) SlewRa(rate float64) error  { return n.SlewAzmOrRa(-rate) }
func (n *NexStar) SlewDec(rate float64) error { return n.SlewAltOrDec(rate) }

func (n *NexStar) SlewAzmAlt(azmRate, altRate float64) error {
	if err := n.SlewAzm(azmRate); err != nil {
		return err
	}
	return n.SlewAlt(altRate)
}

func (n *NexStar) SlewRaDec(raRate, decRate float64) error {
	if err := n.SlewRa(raRate); err != nil {
		return err
	}
	return n.SlewDec(decRate)
}

// Echo asks the mount to echo one character back, as a link check.
func (n *NexStar) Echo(c byte) error {
	r, err := n.speak("K"+string([]byte{c}), 1)
	if err != nil {
		return err
	}
	if r[0] != c {
		return mount.Commf("echo returned %q, want %q", r, string([]byte{c}))
	}
	return nil
}

// GotoInProgress reports whether a GOTO is still running.
func (n *NexStar) GotoInProgress() (bool, error) {
	r, err := n.speak("L", 1)
	if err != nil {
		return false, err
	}
	switch r {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, mount.Commf("goto-in-progress returned %q", r)
}

// CancelGoto aborts a GOTO in progress.
func (n *NexStar) CancelGoto() error {
	_, err := n.speak("M", 0)
	return err
}

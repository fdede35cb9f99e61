// Package skywatcher drives SkyWatcher mounts over the motor controller
// serial protocol (not the SynScan hand controller protocol). The motor
// controller does not take rate commands directly: motion is configured as
// a step period derived from the counts-per-revolution and timer frequency
// reported by the controller at startup.
package skywatcher

import (
	"fmt"
	"math"
	"strconv"

	"github.com/k3pgx/skytrack/mount"
)

// Integers on the wire are hex with the byte order swapped: the least
// significant byte comes first.

func encodeInt2(v int64) string {
	return fmt.Sprintf("%02X", v&0xff)
}

func decodeInt2(s string) (int64, error) {
	if len(s) != 2 {
		return 0, mount.Commf("bad 2-digit integer %q", s)
	}
	v, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return 0, mount.Commf("bad 2-digit integer %q", s)
	}
	return v, nil
}

func encodeInt4(v int64) string {
	h := fmt.Sprintf("%04X", v&0xffff)
	return h[2:4] + h[0:2]
}

func decodeInt4(s string) (int64, error) {
	if len(s) != 4 {
		return 0, mount.Commf("bad 4-digit integer %q", s)
	}
	v, err := strconv.ParseInt(s[2:4]+s[0:2], 16, 64)
	if err != nil {
		return 0, mount.Commf("bad 4-digit integer %q", s)
	}
	return v, nil
}

func encodeInt6(v int64) string {
	h := fmt.Sprintf("%06X", v&0xffffff)
	return h[4:6] + h[2:4] + h[0:2]
}

func decodeInt6(s string) (int64, error) {
	if len(s) != 6 {
		return 0, mount.Commf("bad 6-digit integer %q", s)
	}
	v, err := strconv.ParseInt(s[4:6]+s[2:4]+s[0:2], 16, 64)
	if err != nil {
		return 0, mount.Commf("bad 6-digit integer %q", s)
	}
	return v, nil
}

// AxisStatus is the decoded ":f" status bitfield for one axis.
type AxisStatus struct {
	Tracking      bool
	CCW           bool
	Fast          bool
	Running       bool
	Blocked       bool
	InitDone      bool
	LevelSwitchOn bool
}

// SkyWatcher drives a mount that speaks the SkyWatcher motor controller
// protocol. Construct it with whatever Speaker reaches the mount: a
// SerialNetClient for hardware behind cmd/mountserver, a UdpClient for a
// wifi adapter, or a Hootl simulator.
type SkyWatcher struct {
	speaker mount.Speaker

	// Indexed by axis number, 1 and 2. Index 0 is unused.
	cpr       [3]int64
	hsr       [3]int64
	rate      [3]float64
	filter    [3]positionFilter
	timerFreq int64
}

// New queries the motor controller's mechanical parameters and completes
// the initialization handshake. An axis that reports running, blocked, or
// not initialized afterwards makes New fail; that failure is not
// recoverable by retrying and the caller should give up.
func New(speaker mount.Speaker) (*SkyWatcher, error) {
	s := &SkyWatcher{speaker: speaker}
	for axis := 1; axis <= 2; axis++ {
		r, err := s.speak(fmt.Sprintf(":a%d", axis), 6)
		if err != nil {
			return nil, err
		}
		if s.cpr[axis], err = decodeInt6(r); err != nil {
			return nil, err
		}
		r, err = s.speak(fmt.Sprintf(":g%d", axis), 2)
		if err != nil {
			return nil, err
		}
		if s.hsr[axis], err = decodeInt2(r); err != nil {
			return nil, err
		}
	}

	r, err := s.speak(":b1", 6)
	if err != nil {
		return nil, err
	}
	if s.timerFreq, err = decodeInt6(r); err != nil {
		return nil, err
	}

	for axis := 1; axis <= 2; axis++ {
		if _, err := s.speak(fmt.Sprintf(":F%d", axis), 0); err != nil {
			return nil, err
		}
	}

	for axis := 1; axis <= 2; axis++ {
		status, err := s.InquireStatus(axis)
		if err != nil {
			return nil, err
		}
		if status.Running || status.Blocked || !status.InitDone {
			return nil, fmt.Errorf("skywatcher: axis %d not ready after init: %+v", axis, status)
		}
	}
	return s, nil
}

// Close closes the underlying transport.
func (s *SkyWatcher) Close() error {
	return s.speaker.Close()
}

// speak sends one command and validates the response length. The command
// carries its own ":" prefix; framing below that is the transport's
// problem.
func (s *SkyWatcher) speak(command string, responseLen int) (string, error) {
	response, err := s.speaker.Speak(command)
	if err != nil {
		return "", err
	}
	if len(response) != responseLen {
		return "", mount.Commf("unexpected response %q to %q", response, command)
	}
	return response, nil
}

// InquireStatus reads and decodes one axis's status bitfield.
func (s *SkyWatcher) InquireStatus(axis int) (AxisStatus, error) {
	r, err := s.speak(fmt.Sprintf(":f%d", axis), 3)
	if err != nil {
		return AxisStatus{}, err
	}
	value, err := strconv.ParseInt(r, 16, 64)
	if err != nil {
		return AxisStatus{}, mount.Commf("bad status %q", r)
	}
	return AxisStatus{
		Tracking:      value&0x100 != 0,
		CCW:           value&0x200 != 0,
		Fast:          value&0x400 != 0,
		Running:       value&0x010 != 0,
		Blocked:       value&0x020 != 0,
		InitDone:      value&0x001 != 0,
		LevelSwitchOn: value&0x002 != 0,
	}, nil
}

func (s *SkyWatcher) inquirePosition(axis int) (float64, error) {
	r, err := s.speak(fmt.Sprintf(":j%d", axis), 6)
	if err != nil {
		return 0, err
	}
	v, err := decodeInt6(r)
	if err != nil {
		return 0, err
	}
	theta := float64(v) / float64(s.cpr[axis]) * 2 * math.Pi
	return s.filter[axis].apply(theta), nil
}

// PreciseRaDec returns the axis positions as (RA, declination). Only
// meaningful on an equatorial wedge.
func (s *SkyWatcher) PreciseRaDec() (float64, float64, error) {
	ra, err := s.inquirePosition(1)
	if err != nil {
		return 0, 0, err
	}
	dec, err := s.inquirePosition(2)
	if err != nil {
		return 0, 0, err
	}
	return ra, dec, nil
}

// RaDec is PreciseRaDec; the protocol has a single position precision.
func (s *SkyWatcher) RaDec() (float64, float64, error) {
	return s.PreciseRaDec()
}

// PreciseAzmAlt returns the axis positions as (azimuth, altitude). Only
// meaningful on an alt-az mount.
func (s *SkyWatcher) PreciseAzmAlt() (float64, float64, error) {
	return s.PreciseRaDec()
}

// AzmAlt is PreciseAzmAlt; the protocol has a single position precision.
func (s *SkyWatcher) AzmAlt() (float64, float64, error) {
	return s.PreciseRaDec()
}

func (s *SkyWatcher) setMotionMode(axis int, fast, ccw bool) error {
	value := int64(0x10)
	if fast {
		value |= 0x20
	}
	if ccw {
		value |= 0x01
	}
	_, err := s.speak(fmt.Sprintf(":G%d%s", axis, encodeInt2(value)), 0)
	return err
}

func (s *SkyWatcher) setStepPeriod(axis int, stepPeriod float64) error {
	p := int64(stepPeriod)
	if p < 0 {
		return fmt.Errorf("skywatcher: negative step period %v", stepPeriod)
	}
	if p > 0xffffff {
		p = 0xffffff
	}
	_, err := s.speak(fmt.Sprintf(":I%d%s", axis, encodeInt6(p)), 0)
	return err
}

// slewAxis commands one axis to the given rate in radians per second.
// Stopping, or reversing direction, issues a stop; the next call restarts
// motion in the new direction. Starting from rest while the axis still
// reports running is a no-op so a goto or previous stop can drain first.
func (s *SkyWatcher) slewAxis(axis int, rate float64) error {
	if rate == 0 || s.rate[axis]*rate < 0 {
		if _, err := s.speak(fmt.Sprintf(":K%d", axis), 0); err != nil {
			return err
		}
		s.rate[axis] = 0
		return nil
	}

	starting := s.rate[axis] == 0
	if starting {
		status, err := s.InquireStatus(axis)
		if err != nil {
			return err
		}
		if status.Running {
			return nil
		}
		if err := s.setMotionMode(axis, true, rate < 0); err != nil {
			return err
		}
	}

	stepPeriod := float64(s.hsr[axis]) * float64(s.timerFreq) * 2 * math.Pi / math.Abs(rate) / float64(s.cpr[axis])
	if err := s.setStepPeriod(axis, stepPeriod); err != nil {
		return err
	}

	if starting {
		if _, err := s.speak(fmt.Sprintf(":J%d", axis), 0); err != nil {
			return err
		}
	}
	s.rate[axis] = rate
	return nil
}

func (s *SkyWatcher) SlewAzmOrRa(rate float64) error  { return s.slewAxis(1, rate) }
func (s *SkyWatcher) SlewAltOrDec(rate float64) error { return s.slewAxis(2, rate) }

func (s *SkyWatcher) SlewAzm(rate float64) error { return s.SlewAzmOrRa(rate) }
func (s *SkyWatcher) SlewAlt(rate float64) error { return s.SlewAltOrDec(rate) }

// SlewRa negates the rate: the RA axis runs opposite to increasing RA.
func (s *SkyWatcher) SlewRa(rate float64) error  { return s.SlewAzmOrRa(-rate) }
func (s *SkyWatcher) SlewDec(rate float64) error { return s.SlewAltOrDec(rate) }

func (s *SkyWatcher) SlewAzmAlt(azmRate, altRate float64) error {
	if err := s.SlewAzm(azmRate); err != nil {
		return err
	}
	return s.SlewAlt(altRate)
}

func (s *SkyWatcher) SlewRaDec(raRate, decRate float64) error {
	if err := s.SlewRa(raRate); err != nil {
		return err
	}
	return s.SlewDec(decRate)
}

// SetTrackingMode is a no-op. The motor controller has no tracking mode;
// this exists so SkyWatcher satisfies mount.Mount.
func (s *SkyWatcher) SetTrackingMode(mode mount.TrackingMode) error {
	return nil
}

var _ mount.Mount = (*SkyWatcher)(nil)

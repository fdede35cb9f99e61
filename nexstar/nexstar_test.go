package nexstar

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/k3pgx/skytrack/mount"
)

// scriptSpeaker answers each command from a canned script and records
// what was asked.
type scriptSpeaker struct {
	responses []string
	commands  []string
}

func (s *scriptSpeaker) Speak(command string) (string, error) {
	s.commands = append(s.commands, command)
	if len(s.responses) == 0 {
		return "", nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

func (s *scriptSpeaker) Close() error { return nil }

func TestAngleRoundTripPrecise(t *testing.T) {
	const step = 2 * math.Pi / (1 << 24)
	for theta := 0.0; theta < 2*math.Pi; theta += 0.1 {
		b24 := radToB24(theta)
		hex := b24ToHex8(b24)
		decoded, err := fromHex(hex)
		if err != nil {
			t.Fatalf("fromHex(%q): %v", hex, err)
		}
		got := b24ToRad(decoded >> 8)
		if math.Abs(got-theta) > step {
			t.Errorf("round trip of %v: got %v (error %v > %v)", theta, got, math.Abs(got-theta), step)
		}
	}
}

func TestAngleRoundTripLowPrecision(t *testing.T) {
	// The low precision encoding truncates the low byte, so the error
	// bound is one 16-bit quantization step.
	const step = 2 * math.Pi / (1 << 16)
	for theta := 0.0; theta < 2*math.Pi; theta += 0.1 {
		hex := b24ToHex4(radToB24(theta))
		decoded, err := fromHex(hex)
		if err != nil {
			t.Fatalf("fromHex(%q): %v", hex, err)
		}
		got := b24ToRad(decoded << 8)
		if math.Abs(got-theta) > step {
			t.Errorf("round trip of %v: got %v (error %v > %v)", theta, got, math.Abs(got-theta), step)
		}
	}
}

func TestWrapB24(t *testing.T) {
	for _, test := range []struct {
		theta, minimum, want int64
	}{
		{0, 0, 0},
		{turn, 0, 0},
		{-1, 0, turn - 1},
		{turn + 5, -1 << 23, 5},
		{0xffffff, -1 << 23, -1},
	} {
		if got := wrapB24(test.theta, test.minimum); got != test.want {
			t.Errorf("wrapB24(%d, %d) = %d, want %d", test.theta, test.minimum, got, test.want)
		}
	}
}

func TestFixedRateMap(t *testing.T) {
	// The sidereal rate is 60.16 quarter arcseconds per second,
	// truncated to 60.
	for _, test := range []struct {
		index int
		want  int64
	}{
		{0, 0},
		{1, 30},
		{2, 60},
		{3, 240},
		{6, 3840},
		{7, 14400},
		{9, 72000},
	} {
		got, err := fixedRateMap(test.index)
		if err != nil {
			t.Fatalf("fixedRateMap(%d): %v", test.index, err)
		}
		if got != test.want {
			t.Errorf("fixedRateMap(%d) = %d, want %d", test.index, got, test.want)
		}
	}
	if _, err := fixedRateMap(10); err == nil {
		t.Error("fixedRateMap(10) succeeded, want error")
	}
}

func TestCommandEncoding(t *testing.T) {
	for _, test := range []struct {
		name      string
		responses []string
		call      func(n *NexStar) error
		want      []string
	}{
		{
			name:      "SlewAzmOrRa positive",
			responses: []string{""},
			call:      func(n *NexStar) error { return n.SlewAzmOrRa(0.01) },
			// 0.01 rad/s is 8250 quarter arcseconds per second.
			want: []string{"P\x03\x10\x06\x20\x3a\x00\x00"},
		},
		{
			name:      "SlewAltOrDec negative",
			responses: []string{""},
			call:      func(n *NexStar) error { return n.SlewAltOrDec(-0.01) },
			want:      []string{"P\x03\x11\x07\x20\x3a\x00\x00"},
		},
		{
			name:      "Slew rate clamped",
			responses: []string{""},
			call:      func(n *NexStar) error { return n.SlewAzmOrRa(1.0) },
			// 1 rad/s clamps to the 0.079121 rad/s maximum, which is
			// 65279 quarter arcseconds per second.
			want: []string{"P\x03\x10\x06\xfe\xff\x00\x00"},
		},
		{
			name:      "SlewRa reverses direction",
			responses: []string{""},
			call:      func(n *NexStar) error { return n.SlewRa(0.01) },
			want:      []string{"P\x03\x10\x07\x20\x3a\x00\x00"},
		},
		{
			name:      "SlewFixed",
			responses: []string{"", ""},
			call: func(n *NexStar) error {
				if err := n.SlewFixedAzmOrRa(9); err != nil {
					return err
				}
				return n.SlewFixedAltOrDec(-2)
			},
			want: []string{"P\x03\x10\x24\x09\x00\x00\x00", "P\x03\x11\x25\x02\x00\x00\x00"},
		},
		{
			name:      "GotoAzmAlt",
			responses: []string{""},
			call:      func(n *NexStar) error { return n.GotoAzmAlt(math.Pi, 0) },
			want:      []string{"B8000,0000"},
		},
		{
			name:      "GotoPreciseRaDec",
			responses: []string{""},
			call:      func(n *NexStar) error { return n.GotoPreciseRaDec(math.Pi/2, math.Pi) },
			want:      []string{"r40000000,80000000"},
		},
		{
			name:      "SetTrackingMode",
			responses: []string{""},
			call:      func(n *NexStar) error { return n.SetTrackingMode(mount.TrackingAltAz) },
			want:      []string{"T\x01"},
		},
		{
			// A byte above 0x7f must go on the wire as one byte, not
			// as UTF-8.
			name:      "Echo high byte",
			responses: []string{"\x80"},
			call:      func(n *NexStar) error { return n.Echo(0x80) },
			want:      []string{"K\x80"},
		},
		{
			name:      "CancelGoto",
			responses: []string{""},
			call:      func(n *NexStar) error { return n.CancelGoto() },
			want:      []string{"M"},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			s := &scriptSpeaker{responses: test.responses}
			if err := test.call(New(s)); err != nil {
				t.Fatalf("call failed: %v", err)
			}
			if diff := cmp.Diff(test.want, s.commands); diff != "" {
				t.Errorf("unexpected commands (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGetPositions(t *testing.T) {
	s := &scriptSpeaker{responses: []string{"8000,4000", "80000000,40000000"}}
	n := New(s)

	azm, alt, err := n.AzmAlt()
	if err != nil {
		t.Fatalf("AzmAlt: %v", err)
	}
	if math.Abs(azm-math.Pi) > 1e-6 || math.Abs(alt-math.Pi/2) > 1e-6 {
		t.Errorf("AzmAlt = %v, %v; want pi, pi/2", azm, alt)
	}

	azm, alt, err = n.PreciseAzmAlt()
	if err != nil {
		t.Fatalf("PreciseAzmAlt: %v", err)
	}
	if math.Abs(azm-math.Pi) > 1e-9 || math.Abs(alt-math.Pi/2) > 1e-9 {
		t.Errorf("PreciseAzmAlt = %v, %v; want pi, pi/2", azm, alt)
	}

	if diff := cmp.Diff([]string{"Z", "z"}, s.commands); diff != "" {
		t.Errorf("unexpected commands (-want +got):\n%s", diff)
	}
}

func TestBadResponseIsCommError(t *testing.T) {
	for _, responses := range [][]string{
		{"8000"},           // too short
		{"8000-4000"},      // wrong separator
		{"80zz,4000"},      // not hex
		{"8000,4000,0000"}, // too long
	} {
		s := &scriptSpeaker{responses: responses}
		_, _, err := New(s).AzmAlt()
		var commErr *mount.CommError
		if !errors.As(err, &commErr) {
			t.Errorf("AzmAlt with response %q: got %v, want CommError", responses[0], err)
		}
	}
}

func TestEcho(t *testing.T) {
	s := &scriptSpeaker{responses: []string{"x"}}
	if err := New(s).Echo('x'); err != nil {
		t.Fatalf("Echo: %v", err)
	}
	s = &scriptSpeaker{responses: []string{"y"}}
	var commErr *mount.CommError
	if err := New(s).Echo('x'); !errors.As(err, &commErr) {
		t.Errorf("mismatched echo: got %v, want CommError", err)
	}
}

package skywatcher

import (
	"testing"
)

// testHootl returns a simulator whose clock only advances when the test
// calls step directly.
func testHootl() *Hootl {
	return &Hootl{running: true}
}

func TestHootlHandshake(t *testing.T) {
	h := testHootl()
	s, err := New(h)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.cpr[1] != hootlCpr || s.cpr[2] != hootlCpr {
		t.Errorf("cpr = %d, %d; want %d", s.cpr[1], s.cpr[2], hootlCpr)
	}
	if s.hsr[1] != hootlHsr || s.timerFreq != hootlTimerFreq {
		t.Errorf("hsr = %d, timerFreq = %d", s.hsr[1], s.timerFreq)
	}
}

func TestHootlSlewMovesAzimuth(t *testing.T) {
	h := testHootl()
	s, err := New(h)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.SlewAzmOrRa(0.01); err != nil {
		t.Fatalf("SlewAzmOrRa: %v", err)
	}

	last, _, err := s.PreciseAzmAlt()
	if err != nil {
		t.Fatalf("PreciseAzmAlt: %v", err)
	}
	for i := 0; i < 20; i++ {
		h.step(0.05)
		azm, alt, err := s.PreciseAzmAlt()
		if err != nil {
			t.Fatalf("PreciseAzmAlt: %v", err)
		}
		if azm <= last {
			t.Fatalf("azimuth not increasing: %v after %v", azm, last)
		}
		if alt != 0 {
			t.Errorf("altitude moved to %v with no command", alt)
		}
		last = azm
	}

	if err := s.SlewAzmOrRa(0); err != nil {
		t.Fatalf("SlewAzmOrRa(0): %v", err)
	}
	// Long enough for the deceleration ramp to finish.
	for i := 0; i < 5; i++ {
		h.step(0.05)
	}
	stopped, _, err := s.PreciseAzmAlt()
	if err != nil {
		t.Fatalf("PreciseAzmAlt: %v", err)
	}
	h.step(0.05)
	still, _, err := s.PreciseAzmAlt()
	if err != nil {
		t.Fatalf("PreciseAzmAlt: %v", err)
	}
	if stopped != still {
		t.Errorf("azimuth still moving after stop: %v then %v", stopped, still)
	}
}

func TestHootlStatusWhileMoving(t *testing.T) {
	h := testHootl()
	s, err := New(h)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.SlewAltOrDec(-0.02); err != nil {
		t.Fatalf("SlewAltOrDec: %v", err)
	}
	h.step(0.05)

	status, err := s.InquireStatus(2)
	if err != nil {
		t.Fatalf("InquireStatus: %v", err)
	}
	if !status.Running || !status.CCW || !status.Fast {
		t.Errorf("status while slewing backward = %+v", status)
	}

	if err := s.SlewAltOrDec(0); err != nil {
		t.Fatalf("SlewAltOrDec(0): %v", err)
	}
	for i := 0; i < 5; i++ {
		h.step(0.05)
	}
	status, err = s.InquireStatus(2)
	if err != nil {
		t.Fatalf("InquireStatus: %v", err)
	}
	if status.Running {
		t.Errorf("status after stop = %+v", status)
	}
}

func TestHootlAccelerationLimit(t *testing.T) {
	h := testHootl()
	s, err := New(h)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Command a rate far above what one step of acceleration allows.
	if err := s.SlewAzmOrRa(0.08); err != nil {
		t.Fatalf("SlewAzmOrRa: %v", err)
	}
	h.step(0.05)
	if got := h.axis[1].rate; got > hootlAccel*0.05+1e-9 {
		t.Errorf("rate after one step = %v, exceeds acceleration limit", got)
	}
}

func TestHootlRejectsBadCommands(t *testing.T) {
	h := testHootl()
	for _, command := range []string{"", "j1", ":j", ":j3", ":j1XX", ":x1"} {
		if _, err := h.Speak(command); err == nil {
			t.Errorf("Speak(%q) did not fail", command)
		}
	}
}

package astro

import (
	"math"
	"testing"
	"time"
)

func TestWrapRad(t *testing.T) {
	for _, test := range []struct {
		theta, minimum, want float64
	}{
		{0, 0, 0},
		{2 * math.Pi, 0, 0},
		{-0.1, 0, 2*math.Pi - 0.1},
		// The range is half-open, so odd multiples of pi land on the
		// lower bound.
		{3 * math.Pi, -math.Pi, -math.Pi},
		{7 * math.Pi, -math.Pi, -math.Pi},
		{2.5 * math.Pi, -math.Pi, 0.5 * math.Pi},
		{0.5, 0.6, 0.5 + 2*math.Pi},
	} {
		if got := WrapRad(test.theta, test.minimum); math.Abs(got-test.want) > 1e-12 {
			t.Errorf("WrapRad(%v, %v) = %v, want %v", test.theta, test.minimum, got, test.want)
		}
	}
}

func TestEquHorInverse(t *testing.T) {
	// EquHor is an involution: applying it twice returns the inputs.
	lat := 42.36 / 180 * math.Pi
	for _, in := range [][2]float64{
		{0.3, 0.2},
		{2.0, -0.5},
		{5.0, 1.1},
	} {
		a, b := EquHor(in[0], in[1], lat)
		x, y := EquHor(a, b, lat)
		if math.Abs(WrapRad(x-in[0], -math.Pi)) > 1e-9 || math.Abs(y-in[1]) > 1e-9 {
			t.Errorf("EquHor(EquHor(%v, %v)) = %v, %v", in[0], in[1], x, y)
		}
	}
}

func TestRaDecRoundTrip(t *testing.T) {
	o := Observer{Latitude: 0.7, LonEast: -1.24}
	now := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)
	ra, dec := 1.5, 0.4
	azm, alt := o.RaDecToAzmAlt(now, ra, dec)
	ra2, dec2 := o.AzmAltToRaDec(now, azm, alt)
	if math.Abs(WrapRad(ra2-ra, -math.Pi)) > 1e-9 || math.Abs(dec2-dec) > 1e-9 {
		t.Errorf("round trip: got ra=%v dec=%v, want ra=%v dec=%v", ra2, dec2, ra, dec)
	}
}

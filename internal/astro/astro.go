// Package astro holds the small amount of spherical astronomy the
// simulators need: angle wrapping, sidereal time, and conversion between
// the equatorial and horizontal frames.
package astro

import (
	"math"
	"time"
)

// SiderealRate is the rotation rate of the Earth in radians per second.
const SiderealRate = 7.2921150e-5

// WrapRad adds or subtracts multiples of 2*pi until theta is in
// [minimum, minimum+2*pi).
func WrapRad(theta, minimum float64) float64 {
	for theta >= minimum+2*math.Pi {
		theta -= 2 * math.Pi
	}
	for theta < minimum {
		theta += 2 * math.Pi
	}
	return theta
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EquHor converts between hour-angle/declination and azimuth/altitude.
// phi is the observer's latitude. The transform is its own inverse.
// All arguments and results are in radians.
// Algorithm from https://metacpan.org/dist/Astro-Montenbruck/source/lib/Astro/Montenbruck/CoCo.pm
func EquHor(x, y, phi float64) (float64, float64) {
	sx, sy, sphi := math.Sin(x), math.Sin(y), math.Sin(phi)
	cx, cy, cphi := math.Cos(x), math.Cos(y), math.Cos(phi)

	sq := (sy * sphi) + (cy * cphi * cx)
	q := math.Asin(sq)

	cp := (sy - (sphi * sq)) / (cphi * math.Cos(q))
	p := math.Acos(Clamp(cp, -1, 1))
	if sx > 0 {
		p = 2*math.Pi - p
	}
	return p, q
}

// gmst returns the Greenwich mean sidereal time in radians.
// Truncated IAU 1982 series; a few arcseconds of error is irrelevant
// for a simulated mount.
func gmst(t time.Time) float64 {
	const unixJ2000 = 946728000 // 2000-01-01 12:00:00 UTC
	d := float64(t.UnixNano())/1e9/86400.0 - float64(unixJ2000)/86400.0
	hours := 18.697374558 + 24.06570982441908*d
	return WrapRad(hours/24*2*math.Pi, 0)
}

// LocalSiderealTime returns the local sidereal time in radians at the
// given east longitude (radians).
func LocalSiderealTime(t time.Time, lonEast float64) float64 {
	return WrapRad(gmst(t)+lonEast, 0)
}

// Observer is a location on Earth. Latitude and LonEast are in radians.
type Observer struct {
	Latitude float64
	LonEast  float64
}

// RaDecToAzmAlt converts equatorial coordinates to horizontal
// coordinates at the observer for time t.
func (o Observer) RaDecToAzmAlt(t time.Time, ra, dec float64) (float64, float64) {
	ha := WrapRad(LocalSiderealTime(t, o.LonEast)-ra, -math.Pi)
	return EquHor(ha, dec, o.Latitude)
}

// AzmAltToRaDec converts horizontal coordinates to equatorial
// coordinates at the observer for time t.
func (o Observer) AzmAltToRaDec(t time.Time, azm, alt float64) (float64, float64) {
	ha, dec := EquHor(azm, alt, o.Latitude)
	ra := WrapRad(LocalSiderealTime(t, o.LonEast)-ha, 0)
	return ra, dec
}

// Package mount defines the capability interface shared by all telescope
// mount protocol engines, and the transports they speak through.
package mount

// TrackingMode selects the mount's built-in tracking behavior.
type TrackingMode int

const (
	TrackingOff   TrackingMode = 0
	TrackingAltAz TrackingMode = 1
	// The protocol also defines equatorial modes 2 (EQ north) and
	// 3 (EQ south). Do not use them.
)

// Speaker sends one command line to the mount and returns its response
// with the protocol framing stripped.
type Speaker interface {
	Speak(command string) (string, error)
	Close() error
}

// Mount is the interface for commanding a telescope mount. Angles are in
// radians, rates in radians per second.
type Mount interface {
	// RaDec returns the right ascension and declination. May not be
	// valid when the mount is in alt-az mode.
	RaDec() (float64, float64, error)
	// PreciseRaDec is RaDec with full 24-bit precision.
	PreciseRaDec() (float64, float64, error)
	// AzmAlt returns the azimuth and altitude. May not be valid when
	// the mount is on an equatorial wedge.
	AzmAlt() (float64, float64, error)
	// PreciseAzmAlt is AzmAlt with full 24-bit precision.
	PreciseAzmAlt() (float64, float64, error)

	// SlewAzmOrRa slews the azimuth/RA axis at the given rate.
	SlewAzmOrRa(rate float64) error
	// SlewAltOrDec slews the altitude/declination axis at the given rate.
	SlewAltOrDec(rate float64) error

	SlewAzm(rate float64) error
	SlewAlt(rate float64) error
	SlewRa(rate float64) error
	SlewDec(rate float64) error

	// SlewAzmAlt sets both alt-az slew rates.
	SlewAzmAlt(azmRate, altRate float64) error
	// SlewRaDec sets both equatorial slew rates.
	SlewRaDec(raRate, decRate float64) error

	// SetTrackingMode sets the mount's tracking mode, where supported.
	SetTrackingMode(mode TrackingMode) error
}

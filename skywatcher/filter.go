package skywatcher

import (
	"math"
	"time"

	"github.com/k3pgx/skytrack/internal/astro"
)

// Position reports arrive over links that occasionally corrupt a reply
// into a plausible-looking hex string, which would show up as the mount
// teleporting. positionFilter holds the last believable position and
// refuses a sudden jump unless it persists.

const (
	// Largest believable change between consecutive position reads.
	// The mount never exceeds 5 deg/s and callers poll several times a
	// second, so anything bigger than ~2 degrees is noise.
	filterJumpTolerance = 2.0 / 180.0 * math.Pi

	// A jump repeated this many times in a row is real.
	filterPersistence = 3

	// If no read has been accepted for this long, trust whatever comes
	// next rather than filtering against a stale lock.
	filterStaleAfter = 2 * time.Second
)

type positionFilter struct {
	locked     float64
	lockedTime time.Time
	hasLock    bool

	proposed  float64
	persisted int

	// Overridden in tests.
	now func() time.Time
}

// apply accepts or rejects one position read, returning the value callers
// should believe. A rejected read returns the locked position, trading a
// little latency for immunity to single corrupt replies.
func (f *positionFilter) apply(theta float64) float64 {
	if f.now == nil {
		f.now = time.Now
	}
	t := f.now()

	if !f.hasLock || t.Sub(f.lockedTime) > filterStaleAfter {
		f.accept(theta, t)
		return theta
	}

	if math.Abs(astro.WrapRad(theta-f.locked, -math.Pi)) <= filterJumpTolerance {
		f.accept(theta, t)
		return theta
	}

	// A real jump keeps reporting (nearly) the same new position; noise
	// lands somewhere different each time.
	if f.persisted > 0 && math.Abs(astro.WrapRad(theta-f.proposed, -math.Pi)) <= filterJumpTolerance {
		f.persisted++
	} else {
		f.proposed = theta
		f.persisted = 1
	}
	if f.persisted >= filterPersistence {
		f.accept(theta, t)
		return theta
	}
	return f.locked
}

func (f *positionFilter) accept(theta float64, t time.Time) {
	f.locked = theta
	f.lockedTime = t
	f.hasLock = true
	f.persisted = 0
}

// Package reassembly rebuilds logical messages from datagram fragments.
package reassembly

import "math"

const (
	wireRange  = math.MaxUint16 + 1
	wireCenter = math.MaxUint16 / 2
)

// Unwrapper widens the 16-bit wire sequence counter into a 64-bit one. A new
// value below half the wire range following a value above it is a forward
// wrap. Every other step, including repeats and backwards steps, adds the
// plain difference. The zero value is ready to use.
type Unwrapper struct {
	seeded  bool
	last    uint16
	current int64
}

// Unwrap returns the wide sequence number for a wire value.
func (u *Unwrapper) Unwrap(wire uint16) int64 {
	if !u.seeded {
		u.seeded = true
		u.last = wire
		u.current = int64(wire)
		return u.current
	}

	if wire < wireCenter && u.last > wireCenter {
		u.current += int64(wireRange-int(u.last)) + int64(wire)
	} else {
		u.current += int64(wire) - int64(u.last)
	}
	u.last = wire
	return u.current
}

// Current returns the most recent wide value and whether one exists.
func (u *Unwrapper) Current() (int64, bool) {
	return u.current, u.seeded
}

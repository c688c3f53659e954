// Package timestamp reconstructs full timestamps from truncated samples.
//
// Broadcast headers only have room for the low bits of a validation
// timestamp. A receiver that knows roughly what time it is can recover the
// full value as long as the sender's clock is within half the truncation
// range of its own.
package timestamp

import "time"

// MaxBits is the widest truncation supported.
const MaxBits = 62

// Truncate returns the low bits of t.
func Truncate(t int64, bits uint) uint64 {
	return uint64(t) & mask(bits)
}

// Reconstruct recovers the timestamp whose low bits are sample and which
// lies closest to now. The candidate built from now's high bits and sample is
// compared against the same candidate shifted one truncation period down and
// up; ties resolve to the unshifted candidate.
//
// The result is within 2^(bits-1) of now. bits must be in [1, MaxBits].
func Reconstruct(now int64, sample uint64, bits uint) int64 {
	m := mask(bits)
	period := int64(m) + 1

	candidate := (now &^ int64(m)) | int64(sample&m)
	best := candidate
	bestDist := distance(candidate, now)

	for _, c := range [2]int64{candidate - period, candidate + period} {
		if d := distance(c, now); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// Reconstruct16 reconstructs a 16-bit sample against a wall clock time and
// returns unix seconds.
func Reconstruct16(now time.Time, sample uint16) int64 {
	return Reconstruct(now.Unix(), uint64(sample), 16)
}

func mask(bits uint) uint64 {
	if bits > MaxBits {
		bits = MaxBits
	}
	return 1<<bits - 1
}

func distance(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

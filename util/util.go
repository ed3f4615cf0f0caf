// Package util contains misc internal utilities.
package util

import (
	"math"
	"time"
)

// GetBit returns the value of a given bit in a mask, bit 0 is the LSB
func GetBit(mask uint64, bitIndex uint) bool {
	return mask&(1<<bitIndex) != 0
}

// SetBit sets the bit at bitIndex of mask to value
func SetBit(mask uint64, bitIndex uint, value bool) uint64 {
	if value {
		return mask | (1 << bitIndex)
	}
	return mask &^ (1 << bitIndex)
}

// Clamp restricts input to [low, high]
func Clamp(input, low, high float64) float64 {
	if input < low {
		return low
	}
	if input > high {
		return high
	}
	return input
}

// SecsToDuration converts a floating point number of seconds to a Duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * 1e9))
}

// ApproxEqual returns true if |a-b| < atol
func ApproxEqual(a, b, atol float64) bool {
	return math.Abs(b-a) < atol
}

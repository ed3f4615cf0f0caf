package util_test

import (
	"fmt"
	"testing"
	"time"

	"github.jpl.nasa.gov/bdube/hexapod/util"
)

func ExampleSetBit_msb() {
	out := util.SetBit(0, 7, true)
	fmt.Printf("%08b\n", out)
	// Output: 10000000
}

func ExampleSetBit_lsb() {
	out := util.SetBit(255, 0, false)
	fmt.Printf("%08b\n", out)
	// Output: 11111110
}

func ExampleGetBit() {
	fmt.Println(util.GetBit(0x21, 0), util.GetBit(0x21, 1), util.GetBit(0x21, 5))
	// Output: true false true
}

func TestGetBitEveryPosition(t *testing.T) {
	for i := uint(0); i < 8; i++ {
		mask := uint64(1) << i
		for j := uint(0); j < 8; j++ {
			if util.GetBit(mask, j) != (i == j) {
				t.Errorf("mask %08b bit %d: expected %v", mask, j, i == j)
			}
		}
	}
}

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}

func TestApproxEqual(t *testing.T) {
	if !util.ApproxEqual(1, 1+1e-4, 1e-3) {
		t.Error("expected values within tolerance to compare equal")
	}
	if util.ApproxEqual(1, 1.01, 1e-3) {
		t.Error("expected values outside tolerance to compare unequal")
	}
}

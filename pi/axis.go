package pi

import (
	"fmt"
	"math"
	"strings"

	"github.jpl.nasa.gov/bdube/hexapod/util"
)

// Axis is one of the six degrees of freedom of the hexapod platform
type Axis int

const (
	// X is the first linear axis
	X Axis = iota
	// Y is the second linear axis
	Y
	// Z is the third linear axis
	Z
	// U rotates about X
	U
	// V rotates about Y
	V
	// W rotates about Z
	W

	// NumAxes is the number of hexapod axes
	NumAxes = 6
)

// AllAxes lists the axes in wire order
var AllAxes = [NumAxes]Axis{X, Y, Z, U, V, W}

var axisNames = [NumAxes]string{"X", "Y", "Z", "U", "V", "W"}

func (a Axis) String() string {
	if a < 0 || int(a) >= NumAxes {
		return fmt.Sprintf("Axis(%d)", int(a))
	}
	return axisNames[a]
}

// Rotational returns true for U, V, W
func (a Axis) Rotational() bool {
	return a >= U && a <= W
}

// ParseAxis converts an axis letter to an Axis, case insensitive
func ParseAxis(s string) (Axis, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, n := range axisNames {
		if n == s {
			return Axis(i), nil
		}
	}
	return 0, fmt.Errorf("invalid axis identifier %q", s)
}

// AxisVector holds one value per axis.  It is used for commanded positions,
// measured positions, and soft limits; callers keep those in separate
// variables.
type AxisVector struct {
	X, Y, Z, U, V, W float64
}

// Get returns the value for axis a
func (v AxisVector) Get(a Axis) float64 {
	switch a {
	case X:
		return v.X
	case Y:
		return v.Y
	case Z:
		return v.Z
	case U:
		return v.U
	case V:
		return v.V
	case W:
		return v.W
	default:
		panic("pi: axis out of range")
	}
}

// Set assigns the value for axis a
func (v *AxisVector) Set(a Axis, f float64) {
	switch a {
	case X:
		v.X = f
	case Y:
		v.Y = f
	case Z:
		v.Z = f
	case U:
		v.U = f
	case V:
		v.V = f
	case W:
		v.W = f
	default:
		panic("pi: axis out of range")
	}
}

// Axes converts the vector to a full six-axis argument set
func (v AxisVector) Axes() Axes {
	out := make(Axes, NumAxes)
	for _, a := range AllAxes {
		out[a] = v.Get(a)
	}
	return out
}

// Apply returns a copy of v with the axes present in args replaced
func (v AxisVector) Apply(args Axes) AxisVector {
	for a, f := range args {
		v.Set(a, f)
	}
	return v
}

// AbsDiff returns |v-o| per axis
func (v AxisVector) AbsDiff(o AxisVector) AxisVector {
	var out AxisVector
	for _, a := range AllAxes {
		out.Set(a, math.Abs(v.Get(a)-o.Get(a)))
	}
	return out
}

// ApproxEqual returns true if every axis of v and o differ by less than atol
func (v AxisVector) ApproxEqual(o AxisVector, atol float64) bool {
	for _, a := range AllAxes {
		if !util.ApproxEqual(v.Get(a), o.Get(a), atol) {
			return false
		}
	}
	return true
}

// Axes is a partial set of per-axis arguments.  Axes that are absent are
// left out of the command.
type Axes map[Axis]float64

// Sorted returns the axes present in wire order
func (args Axes) Sorted() []Axis {
	out := make([]Axis, 0, len(args))
	for _, a := range AllAxes {
		if _, ok := args[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

// PivotPoint is the coordinate the rotational axes rotate about
type PivotPoint struct {
	X, Y, Z float64
}

// ReferenceStatus holds one flag per axis, true once the axis is referenced
type ReferenceStatus [NumAxes]bool

// All returns true if every axis is referenced
func (r ReferenceStatus) All() bool {
	for _, b := range r {
		if !b {
			return false
		}
	}
	return true
}

// DecodeMask unpacks a status bitmask into width flags, bit i is flag i
func DecodeMask(mask uint64, width int) []bool {
	out := make([]bool, width)
	for i := range out {
		out[i] = util.GetBit(mask, uint(i))
	}
	return out
}

// EncodeMask packs flags into a bitmask, flag i is bit i
func EncodeMask(flags []bool) uint64 {
	var mask uint64
	for i, b := range flags {
		mask = util.SetBit(mask, uint(i), b)
	}
	return mask
}

// Any returns true if any flag is set
func Any(flags []bool) bool {
	for _, b := range flags {
		if b {
			return true
		}
	}
	return false
}

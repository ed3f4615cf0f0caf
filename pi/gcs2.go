// Package pi provides a Go interface to PI hexapod controllers (C-887 and
// kin) speaking PI's GCS2 command language
package pi

import (
	"context"

	"github.com/pkg/errors"

	"github.jpl.nasa.gov/bdube/hexapod/comm"
)

// single character commands; PI documents these as #3, #5, ...
const (
	CmdRealPosition    = "\x03"
	CmdMotionStatus    = "\x05"
	CmdPositionChanged = "\x06"
	CmdControllerReady = "\x07"
	CmdStopAll         = "\x18"
)

const (
	// ReadySentinel is the reply to #7 when the controller is ready
	ReadySentinel byte = 0xB1

	// NotReadySentinel is the reply to #7 while the controller is busy
	NotReadySentinel byte = 0xB0

	// pivotLines is the number of reply lines to SPI?
	pivotLines = 3
)

// ErrNoAxes is generated when a per-axis command is given no axes
var ErrNoAxes = errors.New("no axes given")

// Hexapod is a GCS2 hexapod controller.  Every method is exactly one
// exchange on the underlying Exchanger.
type Hexapod struct {
	ex Exchanger

	// MaskWidth is the number of flags decoded from a status bitmask, 6 for
	// hexapods; some controllers report 8
	MaskWidth int
}

// NewHexapod returns a Hexapod talking over ex
func NewHexapod(ex Exchanger) *Hexapod {
	return &Hexapod{ex: ex, MaskWidth: NumAxes}
}

func (h *Hexapod) query(ctx context.Context, text string, lines int) ([]string, error) {
	return h.ex.WriteCommand(ctx, comm.Query(text, lines))
}

func (h *Hexapod) queryOne(ctx context.Context, text string) (string, error) {
	lines, err := h.query(ctx, text, 1)
	if err != nil {
		return "", err
	}
	return lines[0], nil
}

func (h *Hexapod) write(ctx context.Context, text string) error {
	_, err := h.ex.WriteCommand(ctx, comm.Write(text))
	return err
}

func (h *Hexapod) writeArgs(ctx context.Context, verb string, args Axes) error {
	if len(args) == 0 {
		return ErrNoAxes
	}
	return h.write(ctx, joinArgs(verb, args))
}

func (h *Hexapod) vector(ctx context.Context, text string) (AxisVector, error) {
	lines, err := h.query(ctx, text, NumAxes)
	if err != nil {
		return AxisVector{}, err
	}
	return ParseAxisVector(lines)
}

func (h *Hexapod) flags(ctx context.Context, text string) ([NumAxes]bool, error) {
	lines, err := h.query(ctx, text, NumAxes)
	if err != nil {
		return [NumAxes]bool{}, err
	}
	return ParseAxisFlags(lines)
}

func (h *Hexapod) mask(ctx context.Context, text string) ([]bool, error) {
	s, err := h.queryOne(ctx, text)
	if err != nil {
		return nil, err
	}
	m, err := ParseMask(s)
	if err != nil {
		return nil, err
	}
	w := h.MaskWidth
	if w <= 0 {
		w = NumAxes
	}
	return DecodeMask(m, w), nil
}

// RealPosition returns the measured position of every axis (#3)
func (h *Hexapod) RealPosition(ctx context.Context) (AxisVector, error) {
	return h.vector(ctx, CmdRealPosition)
}

// Position returns the measured position of every axis (POS?)
func (h *Hexapod) Position(ctx context.Context) (AxisVector, error) {
	return h.vector(ctx, allAxesQuery("POS?"))
}

// TargetPosition returns the commanded position of every axis
func (h *Hexapod) TargetPosition(ctx context.Context) (AxisVector, error) {
	return h.vector(ctx, allAxesQuery("MOV?"))
}

// MotionStatus returns one flag per axis, true if the axis is moving (#5)
func (h *Hexapod) MotionStatus(ctx context.Context) ([]bool, error) {
	return h.mask(ctx, CmdMotionStatus)
}

// PositionChanged returns one flag per axis, true if the position changed
// since the last query (#6)
func (h *Hexapod) PositionChanged(ctx context.Context) ([]bool, error) {
	return h.mask(ctx, CmdPositionChanged)
}

// ControllerReady returns true if the controller is ready for commands (#7)
func (h *Hexapod) ControllerReady(ctx context.Context) (bool, error) {
	s, err := h.queryOne(ctx, CmdControllerReady)
	if err != nil {
		return false, err
	}
	if len(s) != 1 {
		return false, malformed("ready sentinel %q", s)
	}
	switch s[0] {
	case ReadySentinel:
		return true, nil
	case NotReadySentinel:
		return false, nil
	default:
		return false, malformed("ready sentinel %#x", s[0])
	}
}

// Stop halts every axis immediately (#24).  There is no reply; the
// controller sets error 10.
func (h *Hexapod) Stop(ctx context.Context) error {
	return h.write(ctx, CmdStopAll)
}

// Move commands an absolute move of the given axes
func (h *Hexapod) Move(ctx context.Context, args Axes) error {
	return h.writeArgs(ctx, "MOV", args)
}

// MoveRelative commands a move of the given axes by a delta
func (h *Hexapod) MoveRelative(ctx context.Context, args Axes) error {
	return h.writeArgs(ctx, "MVR", args)
}

// Reference starts a reference move of all six axes
func (h *Hexapod) Reference(ctx context.Context) error {
	return h.write(ctx, allAxesQuery("FRF"))
}

// ReferencingResult returns which axes have been referenced
func (h *Hexapod) ReferencingResult(ctx context.Context) (ReferenceStatus, error) {
	f, err := h.flags(ctx, "FRF?")
	return ReferenceStatus(f), err
}

// CheckMove asks the controller if the pose given by args (axes not given
// keep their current target) is reachable, without moving
func (h *Hexapod) CheckMove(ctx context.Context, args Axes) (map[Axis]bool, error) {
	if len(args) == 0 {
		return nil, ErrNoAxes
	}
	f, err := h.flags(ctx, joinArgs("VMO?", args))
	if err != nil {
		return nil, err
	}
	out := make(map[Axis]bool, NumAxes)
	for _, a := range AllAxes {
		out[a] = f[a]
	}
	return out, nil
}

// SetLowLimit sets the lower soft limit of the given axes
func (h *Hexapod) SetLowLimit(ctx context.Context, args Axes) error {
	return h.writeArgs(ctx, "NLM", args)
}

// LowLimit returns the lower soft limits
func (h *Hexapod) LowLimit(ctx context.Context) (AxisVector, error) {
	return h.vector(ctx, allAxesQuery("NLM?"))
}

// SetHighLimit sets the upper soft limit of the given axes
func (h *Hexapod) SetHighLimit(ctx context.Context, args Axes) error {
	return h.writeArgs(ctx, "PLM", args)
}

// HighLimit returns the upper soft limits
func (h *Hexapod) HighLimit(ctx context.Context) (AxisVector, error) {
	return h.vector(ctx, allAxesQuery("PLM?"))
}

// ActivateSoftLimit enables or disables soft limits per axis
func (h *Hexapod) ActivateSoftLimit(ctx context.Context, flags map[Axis]bool) error {
	if len(flags) == 0 {
		return ErrNoAxes
	}
	return h.write(ctx, joinFlags("SSL", flags))
}

// SoftLimitActive returns which axes have soft limits enabled
func (h *Hexapod) SoftLimitActive(ctx context.Context) ([NumAxes]bool, error) {
	return h.flags(ctx, allAxesQuery("SSL?"))
}

// SetPivotPoint sets the pivot point.  The controller refuses (error 9)
// unless U, V and W are all zero.
func (h *Hexapod) SetPivotPoint(ctx context.Context, p PivotPoint) error {
	return h.write(ctx, "SPI X "+FormatFloat(p.X)+" Y "+FormatFloat(p.Y)+" Z "+FormatFloat(p.Z))
}

// PivotPoint returns the pivot point
func (h *Hexapod) PivotPoint(ctx context.Context) (PivotPoint, error) {
	lines, err := h.query(ctx, "SPI?", pivotLines)
	if err != nil {
		return PivotPoint{}, err
	}
	return ParsePivot(lines)
}

// SetSystemVelocity sets the velocity of the moving platform
func (h *Hexapod) SetSystemVelocity(ctx context.Context, v float64) error {
	return h.write(ctx, "VLS "+FormatFloat(v))
}

// SystemVelocity returns the velocity of the moving platform
func (h *Hexapod) SystemVelocity(ctx context.Context) (float64, error) {
	s, err := h.queryOne(ctx, "VLS?")
	if err != nil {
		return 0, err
	}
	return ParseScalar(s)
}

// Error pops the error register.  A nonzero code is returned as data.
func (h *Hexapod) Error(ctx context.Context) (ErrorCode, error) {
	s, err := h.queryOne(ctx, "ERR?")
	if err != nil {
		return 0, err
	}
	return ParseErrorCode(s)
}

// PopError returns the last error from the controller as an error, nil if
// the register was clear
func (h *Hexapod) PopError(ctx context.Context) error {
	code, err := h.Error(ctx)
	if err != nil {
		return err
	}
	return code.Err()
}

// Raw sends text and reads lines reply lines
func (h *Hexapod) Raw(ctx context.Context, text string, lines int) ([]string, error) {
	return h.ex.WriteCommand(ctx, comm.Command{Text: text, Response: lines > 0, Lines: lines})
}

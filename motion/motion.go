// Package motion sequences moves on a hexapod: it validates commands against
// a two-state motion state machine, waits for moves to converge by polling,
// and reads telemetry on a cadence interleaved with command traffic.
package motion

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.jpl.nasa.gov/bdube/hexapod/pi"
)

var (
	// ErrInMotion is generated when a motion command is issued while the
	// hexapod is moving
	ErrInMotion = errors.New("hexapod is in motion")

	// ErrNotInMotion is generated when stop is issued while idle
	ErrNotInMotion = errors.New("hexapod is not in motion")

	// ErrLimitOrder is generated when a low limit would exceed the high limit
	// or vice-versa
	ErrLimitOrder = errors.New("low limit above high limit")

	// ErrMotionTimeout is generated when a move or reference does not
	// complete within its deadline
	ErrMotionTimeout = errors.New("motion did not complete in time")
)

// State is the inferred motion state of the hexapod
type State int

const (
	// NotInMotion means the last motion status poll saw every axis idle
	NotInMotion State = iota

	// InMotion means a motion command was issued or a poll saw a moving axis
	InMotion
)

func (s State) String() string {
	switch s {
	case NotInMotion:
		return "NOT_IN_MOTION"
	case InMotion:
		return "IN_MOTION"
	default:
		return "UNKNOWN"
	}
}

// Config holds the timing of a Controller
type Config struct {
	// PollInterval is the sleep between motion status polls
	PollInterval time.Duration

	// MoveTimeout bounds WaitMove
	MoveTimeout time.Duration

	// ReferenceTimeout bounds WaitReference and WaitReferenced
	ReferenceTimeout time.Duration
}

// DefaultConfig returns timings suited to a C-887
func DefaultConfig() Config {
	return Config{
		PollInterval:     100 * time.Millisecond,
		MoveTimeout:      60 * time.Second,
		ReferenceTimeout: 180 * time.Second}
}

// Snapshot is the cached view of the hexapod held by a Controller
type Snapshot struct {
	State      State              `json:"state"`
	Target     pi.AxisVector      `json:"target"`
	Real       pi.AxisVector      `json:"real"`
	Low        pi.AxisVector      `json:"low"`
	High       pi.AxisVector      `json:"high"`
	Pivot      pi.PivotPoint      `json:"pivot"`
	Velocity   float64            `json:"velocity"`
	Referenced pi.ReferenceStatus `json:"referenced"`
}

// Controller is a stateful facade over a Hexapod.  It is safe for concurrent
// use; the cached state is only updated after a completed exchange.
type Controller struct {
	hex *pi.Hexapod
	cfg Config

	// Log receives state transitions
	Log logrus.FieldLogger

	mu        sync.Mutex
	snap      Snapshot
	lowKnown  bool
	highKnown bool
}

// NewController returns a Controller in the NotInMotion state
func NewController(h *pi.Hexapod, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MoveTimeout <= 0 {
		cfg.MoveTimeout = def.MoveTimeout
	}
	if cfg.ReferenceTimeout <= 0 {
		cfg.ReferenceTimeout = def.ReferenceTimeout
	}
	return &Controller{hex: h, cfg: cfg, Log: logrus.StandardLogger()}
}

// Hexapod returns the underlying protocol accessors
func (c *Controller) Hexapod() *pi.Hexapod {
	return c.hex
}

// State returns the cached motion state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.State
}

// Snapshot returns a copy of the cached state without I/O
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.snap.State
	c.snap.State = s
	c.mu.Unlock()
	if prev != s {
		c.Log.WithFields(logrus.Fields{"from": prev, "state": s}).Info("motion state")
	}
}

func (c *Controller) requireState(want State) error {
	switch st := c.State(); {
	case st == want:
		return nil
	case st == InMotion:
		return ErrInMotion
	default:
		return ErrNotInMotion
	}
}

// SetPosition moves the given axes to absolute positions.  It does not wait
// for the move to finish.
func (c *Controller) SetPosition(ctx context.Context, args pi.Axes) error {
	if err := c.requireState(NotInMotion); err != nil {
		return err
	}
	if err := c.hex.Move(ctx, args); err != nil {
		return err
	}
	c.mu.Lock()
	c.snap.Target = c.snap.Target.Apply(args)
	c.mu.Unlock()
	c.setState(InMotion)
	return nil
}

// Offset moves the given axes by a delta.  It does not wait for the move to
// finish.
func (c *Controller) Offset(ctx context.Context, args pi.Axes) error {
	if err := c.requireState(NotInMotion); err != nil {
		return err
	}
	if err := c.hex.MoveRelative(ctx, args); err != nil {
		return err
	}
	c.mu.Lock()
	for a, f := range args {
		c.snap.Target.Set(a, c.snap.Target.Get(a)+f)
	}
	c.mu.Unlock()
	c.setState(InMotion)
	return nil
}

// CheckOffset asks the controller if offsetting the current target by args
// is reachable, without moving.  Every axis is reported.
func (c *Controller) CheckOffset(ctx context.Context, args pi.Axes) (map[pi.Axis]bool, error) {
	tgt, err := c.TargetPosition(ctx)
	if err != nil {
		return nil, err
	}
	abs := pi.Axes{}
	for a, f := range args {
		abs[a] = tgt.Get(a) + f
	}
	return c.hex.CheckMove(ctx, abs)
}

// Reference starts the reference move of all axes.  It does not wait.
func (c *Controller) Reference(ctx context.Context) error {
	if err := c.requireState(NotInMotion); err != nil {
		return err
	}
	if err := c.hex.Reference(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.snap.Target = pi.AxisVector{}
	c.snap.Referenced = pi.ReferenceStatus{}
	c.mu.Unlock()
	c.setState(InMotion)
	return nil
}

// StopAllAxes halts every axis.  The state follows on the next poll.
func (c *Controller) StopAllAxes(ctx context.Context) error {
	if err := c.requireState(InMotion); err != nil {
		return err
	}
	return c.hex.Stop(ctx)
}

// SetLowLimit sets the lower soft limit of the given axes.  Each must not
// exceed the high limit.
func (c *Controller) SetLowLimit(ctx context.Context, args pi.Axes) error {
	c.mu.Lock()
	known := c.highKnown
	c.mu.Unlock()
	if !known {
		if _, err := c.HighLimit(ctx); err != nil {
			return err
		}
	}
	c.mu.Lock()
	high := c.snap.High
	c.mu.Unlock()
	for a, f := range args {
		if f > high.Get(a) {
			return errors.Wrapf(ErrLimitOrder, "%s low %g > high %g", a, f, high.Get(a))
		}
	}
	if err := c.hex.SetLowLimit(ctx, args); err != nil {
		return err
	}
	c.mu.Lock()
	c.snap.Low = c.snap.Low.Apply(args)
	c.mu.Unlock()
	return nil
}

// SetHighLimit sets the upper soft limit of the given axes.  Each must not be
// below the low limit.
func (c *Controller) SetHighLimit(ctx context.Context, args pi.Axes) error {
	c.mu.Lock()
	known := c.lowKnown
	c.mu.Unlock()
	if !known {
		if _, err := c.LowLimit(ctx); err != nil {
			return err
		}
	}
	c.mu.Lock()
	low := c.snap.Low
	c.mu.Unlock()
	for a, f := range args {
		if f < low.Get(a) {
			return errors.Wrapf(ErrLimitOrder, "%s high %g < low %g", a, f, low.Get(a))
		}
	}
	if err := c.hex.SetHighLimit(ctx, args); err != nil {
		return err
	}
	c.mu.Lock()
	c.snap.High = c.snap.High.Apply(args)
	c.mu.Unlock()
	return nil
}

// ActivateSoftLimit enables or disables the soft limits of the given axes
func (c *Controller) ActivateSoftLimit(ctx context.Context, flags map[pi.Axis]bool) error {
	return c.hex.ActivateSoftLimit(ctx, flags)
}

// SoftLimitActive returns which axes have their soft limits enforced
func (c *Controller) SoftLimitActive(ctx context.Context) ([pi.NumAxes]bool, error) {
	return c.hex.SoftLimitActive(ctx)
}

// SetPivotPoint sets the pivot point.  The device refuses unless U, V and W
// are zero; the refusal is only visible through GetError.
func (c *Controller) SetPivotPoint(ctx context.Context, p pi.PivotPoint) error {
	if err := c.requireState(NotInMotion); err != nil {
		return err
	}
	return c.hex.SetPivotPoint(ctx, p)
}

// SetSystemVelocity sets the platform velocity
func (c *Controller) SetSystemVelocity(ctx context.Context, v float64) error {
	if err := c.hex.SetSystemVelocity(ctx, v); err != nil {
		return err
	}
	c.mu.Lock()
	c.snap.Velocity = v
	c.mu.Unlock()
	return nil
}

// GetError reads and clears the device error register.  A nonzero code is
// data, not a failure.
func (c *Controller) GetError(ctx context.Context) (pi.ErrorCode, error) {
	return c.hex.Error(ctx)
}

// RealPosition reads and caches the measured position
func (c *Controller) RealPosition(ctx context.Context) (pi.AxisVector, error) {
	v, err := c.hex.RealPosition(ctx)
	if err != nil {
		return v, err
	}
	c.mu.Lock()
	c.snap.Real = v
	c.mu.Unlock()
	return v, nil
}

// Position reads and caches the measured position with POS?, the
// addressable counterpart of RealPosition
func (c *Controller) Position(ctx context.Context) (pi.AxisVector, error) {
	v, err := c.hex.Position(ctx)
	if err != nil {
		return v, err
	}
	c.mu.Lock()
	c.snap.Real = v
	c.mu.Unlock()
	return v, nil
}

// TargetPosition reads and caches the commanded position
func (c *Controller) TargetPosition(ctx context.Context) (pi.AxisVector, error) {
	v, err := c.hex.TargetPosition(ctx)
	if err != nil {
		return v, err
	}
	c.mu.Lock()
	c.snap.Target = v
	c.mu.Unlock()
	return v, nil
}

// LowLimit reads and caches the lower soft limits
func (c *Controller) LowLimit(ctx context.Context) (pi.AxisVector, error) {
	v, err := c.hex.LowLimit(ctx)
	if err != nil {
		return v, err
	}
	c.mu.Lock()
	c.snap.Low = v
	c.lowKnown = true
	c.mu.Unlock()
	return v, nil
}

// HighLimit reads and caches the upper soft limits
func (c *Controller) HighLimit(ctx context.Context) (pi.AxisVector, error) {
	v, err := c.hex.HighLimit(ctx)
	if err != nil {
		return v, err
	}
	c.mu.Lock()
	c.snap.High = v
	c.highKnown = true
	c.mu.Unlock()
	return v, nil
}

// PivotPoint reads and caches the pivot point
func (c *Controller) PivotPoint(ctx context.Context) (pi.PivotPoint, error) {
	p, err := c.hex.PivotPoint(ctx)
	if err != nil {
		return p, err
	}
	c.mu.Lock()
	c.snap.Pivot = p
	c.mu.Unlock()
	return p, nil
}

// SystemVelocity reads and caches the platform velocity
func (c *Controller) SystemVelocity(ctx context.Context) (float64, error) {
	v, err := c.hex.SystemVelocity(ctx)
	if err != nil {
		return v, err
	}
	c.mu.Lock()
	c.snap.Velocity = v
	c.mu.Unlock()
	return v, nil
}

// ReferenceStatus reads and caches which axes are referenced
func (c *Controller) ReferenceStatus(ctx context.Context) (pi.ReferenceStatus, error) {
	st, err := c.hex.ReferencingResult(ctx)
	if err != nil {
		return st, err
	}
	c.mu.Lock()
	c.snap.Referenced = st
	c.mu.Unlock()
	return st, nil
}

// Ready returns true if the controller accepts commands
func (c *Controller) Ready(ctx context.Context) (bool, error) {
	return c.hex.ControllerReady(ctx)
}

// MotionStatus polls the per-axis motion flags and updates the state from
// them
func (c *Controller) MotionStatus(ctx context.Context) ([]bool, error) {
	flags, err := c.hex.MotionStatus(ctx)
	if err != nil {
		return nil, err
	}
	if pi.Any(flags) {
		c.setState(InMotion)
	} else {
		c.setState(NotInMotion)
	}
	return flags, nil
}

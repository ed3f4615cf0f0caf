// Package hexsim simulates a PI hexapod controller speaking GCS2 over TCP,
// so the client and motion packages can be exercised without hardware
package hexsim

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.jpl.nasa.gov/bdube/hexapod/pi"
)

const rotationTol = 1e-9

// Config holds the physical parameters of the simulated hexapod
type Config struct {
	// TravelLow and TravelHigh are the hard travel ranges of each axis
	TravelLow  pi.AxisVector
	TravelHigh pi.AxisVector

	// Velocity is the initial system velocity, units per second
	Velocity float64

	// MaxVelocity bounds VLS
	MaxVelocity float64

	// ReferenceDuration is how long FRF takes
	ReferenceDuration time.Duration
}

// DefaultConfig is roughly an H-811 with a fast reference move
func DefaultConfig() Config {
	return Config{
		TravelLow:         pi.AxisVector{X: -17, Y: -16, Z: -6.5, U: -14.5, V: -10, W: -10},
		TravelHigh:        pi.AxisVector{X: 17, Y: 16, Z: 6.5, U: 14.5, V: 10, W: 10},
		Velocity:          10,
		MaxVelocity:       20,
		ReferenceDuration: 200 * time.Millisecond}
}

// Device is the simulated controller state.  It is concurrent-safe; every
// connection to a Server shares one Device.
type Device struct {
	mu sync.Mutex

	axes        [pi.NumAxes]*actuator
	target      pi.AxisVector
	referenced  pi.ReferenceStatus
	referencing bool
	low, high   pi.AxisVector
	softActive  [pi.NumAxes]bool
	pivot       pi.PivotPoint
	velocity    float64
	maxVelocity float64
	refDuration time.Duration
	errCode     pi.ErrorCode
	lastSeen    [pi.NumAxes]float64

	now func() time.Time
	log logrus.FieldLogger
}

// NewDevice returns a device at rest at the origin, unreferenced
func NewDevice(cfg Config) *Device {
	return newDevice(cfg, time.Now)
}

func newDevice(cfg Config, now func() time.Time) *Device {
	d := &Device{
		low:         cfg.TravelLow,
		high:        cfg.TravelHigh,
		velocity:    cfg.Velocity,
		maxVelocity: cfg.MaxVelocity,
		refDuration: cfg.ReferenceDuration,
		now:         now,
		log:         logrus.StandardLogger()}
	for _, a := range pi.AllAxes {
		d.axes[a] = newActuator(cfg.TravelLow.Get(a), cfg.TravelHigh.Get(a), now)
	}
	return d
}

// SetLogger replaces the logger
func (d *Device) SetLogger(l logrus.FieldLogger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = l
}

// Handle executes one command line and returns the reply lines, nil for
// commands without a reply.  A line that is not a known command returns
// ErrUnknownCommand and sets GCS error 2; parameter and state errors only set
// the error register, as the hardware does.
func (d *Device) Handle(line string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settle()
	req, code, err := match(line)
	if err != nil {
		d.errCode = code
		d.log.WithError(err).Error("protocol violation")
		return nil, err
	}
	if code != 0 {
		// like the hardware, a command with bad parameters is dropped and
		// only the error register records it
		d.fail(req, code)
		return nil, nil
	}
	return d.handle(req), nil
}

func (d *Device) fail(req request, code pi.ErrorCode) {
	d.errCode = code
	d.log.WithFields(logrus.Fields{"cmd": printable(req.line), "code": int(code)}).Info(code.Description())
}

// settle marks the reference move complete once every axis has stopped
func (d *Device) settle() {
	if d.referencing && !d.anyMoving() {
		d.referencing = false
		for i := range d.referenced {
			d.referenced[i] = true
		}
		d.log.Info("reference move complete")
	}
}

func (d *Device) anyMoving() bool {
	for _, a := range d.axes {
		if a.moving() {
			return true
		}
	}
	return false
}

func (d *Device) movingMask() uint64 {
	flags := make([]bool, pi.NumAxes)
	for i, a := range d.axes {
		flags[i] = a.moving()
	}
	return pi.EncodeMask(flags)
}

func (d *Device) positions() pi.AxisVector {
	var v pi.AxisVector
	for _, a := range pi.AllAxes {
		v.Set(a, d.axes[a].position())
	}
	return v
}

// reachable returns the GCS error for moving axis a to pos, 0 if allowed
func (d *Device) reachable(a pi.Axis, pos float64) pi.ErrorCode {
	if !d.referenced[a] {
		return 5
	}
	if !d.axes[a].inTravel(pos) {
		return 7
	}
	if d.softActive[a] && (pos < d.low.Get(a) || pos > d.high.Get(a)) {
		return 7
	}
	return 0
}

// moveAll starts a synchronized move of every axis to dest, all axes
// arriving together as on a real hexapod
func (d *Device) moveAll(dest pi.AxisVector) {
	var dur time.Duration
	for _, a := range pi.AllAxes {
		if t := d.axes[a].travelTime(dest.Get(a), d.velocity); t > dur {
			dur = t
		}
	}
	for _, a := range pi.AllAxes {
		act := d.axes[a]
		if act.travelTime(dest.Get(a), d.velocity) == 0 {
			// already there, not reported as moving
			act.moveTo(dest.Get(a), 0)
			continue
		}
		act.moveTo(dest.Get(a), dur)
	}
	d.target = dest
}

func (d *Device) move(req request, relative bool) {
	dest := d.target
	for a, f := range req.args {
		if relative {
			f += d.target.Get(a)
		}
		dest.Set(a, f)
	}
	for _, a := range req.axes {
		if code := d.reachable(a, dest.Get(a)); code != 0 {
			d.fail(req, code)
			return
		}
	}
	d.moveAll(dest)
}

func (d *Device) reference() {
	for _, a := range d.axes {
		a.home(d.refDuration)
	}
	d.target = pi.AxisVector{}
	d.referenced = pi.ReferenceStatus{}
	d.referencing = true
	d.log.Info("reference move started")
}

func (d *Device) stop() {
	for _, a := range d.axes {
		a.stop()
	}
	d.target = d.positions()
	d.referencing = false
	d.errCode = 10
}

func (d *Device) setLimit(req request, high bool) {
	for a, f := range req.args {
		lo, hi := d.low.Get(a), d.high.Get(a)
		if high {
			hi = f
		} else {
			lo = f
		}
		if lo > hi {
			d.fail(req, 27)
			return
		}
	}
	for a, f := range req.args {
		if high {
			d.high.Set(a, f)
		} else {
			d.low.Set(a, f)
		}
	}
}

func (d *Device) setPivot(req request) {
	for _, a := range req.axes {
		if a.Rotational() {
			d.fail(req, 15)
			return
		}
	}
	for _, a := range []pi.Axis{pi.U, pi.V, pi.W} {
		if math.Abs(d.target.Get(a)) > rotationTol {
			d.fail(req, 9)
			return
		}
	}
	for a, f := range req.args {
		switch a {
		case pi.X:
			d.pivot.X = f
		case pi.Y:
			d.pivot.Y = f
		case pi.Z:
			d.pivot.Z = f
		}
	}
}

func (d *Device) handle(req request) []string {
	switch req.kind {
	case kindRealPosition:
		return formatVector(d.positions(), pi.AllAxes[:])
	case kindPosition:
		return formatVector(d.positions(), req.axes)
	case kindTarget:
		return formatVector(d.target, req.axes)
	case kindMotionStatus:
		return []string{pi.FormatMask(d.movingMask())}
	case kindPositionChanged:
		pos := d.positions()
		flags := make([]bool, pi.NumAxes)
		for _, a := range pi.AllAxes {
			flags[a] = pos.Get(a) != d.lastSeen[a]
			d.lastSeen[a] = pos.Get(a)
		}
		return []string{pi.FormatMask(pi.EncodeMask(flags))}
	case kindReady:
		if d.referencing {
			return []string{string([]byte{pi.NotReadySentinel})}
		}
		return []string{string([]byte{pi.ReadySentinel})}
	case kindStop:
		d.stop()
	case kindMove:
		d.move(req, false)
	case kindMoveRelative:
		d.move(req, true)
	case kindReference:
		d.reference()
	case kindReferenceResult:
		return formatFlags(d.referenced, req.axes)
	case kindCheckMove:
		dest := d.target.Apply(req.args)
		var ok [pi.NumAxes]bool
		for _, a := range pi.AllAxes {
			ok[a] = d.reachable(a, dest.Get(a)) == 0
		}
		return formatFlags(ok, pi.AllAxes[:])
	case kindSetLowLimit:
		d.setLimit(req, false)
	case kindLowLimit:
		return formatVector(d.low, req.axes)
	case kindSetHighLimit:
		d.setLimit(req, true)
	case kindHighLimit:
		return formatVector(d.high, req.axes)
	case kindSetSoftLimit:
		for a, b := range req.flags {
			d.softActive[a] = b
		}
	case kindSoftLimit:
		return formatFlags(d.softActive, req.axes)
	case kindSetPivot:
		d.setPivot(req)
	case kindPivot:
		return []string{
			"X=" + pi.FormatFloat(d.pivot.X),
			"Y=" + pi.FormatFloat(d.pivot.Y),
			"Z=" + pi.FormatFloat(d.pivot.Z)}
	case kindSetVelocity:
		if req.value <= 0 || req.value > d.maxVelocity {
			d.fail(req, 8)
			return nil
		}
		d.velocity = req.value
	case kindVelocity:
		return []string{pi.FormatFloat(d.velocity)}
	case kindError:
		code := d.errCode
		d.errCode = 0
		return []string{fmt.Sprint(int(code))}
	}
	return nil
}

func formatVector(v pi.AxisVector, axes []pi.Axis) []string {
	out := make([]string, len(axes))
	for i, a := range axes {
		out[i] = fmt.Sprintf("%s=%.6f", a, v.Get(a))
	}
	return out
}

func formatFlags(f [pi.NumAxes]bool, axes []pi.Axis) []string {
	out := make([]string, len(axes))
	for i, a := range axes {
		out[i] = a.String() + "=" + pi.FormatBool(f[a])
	}
	return out
}

func printable(s string) string {
	if len(s) == 1 && s[0] < 0x20 {
		return fmt.Sprintf("#%d", s[0])
	}
	return s
}

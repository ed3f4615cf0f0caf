package hexsim

import (
	"math"
	"time"

	"github.jpl.nasa.gov/bdube/hexapod/util"
)

// actuator is one simulated axis.  Motion is computed from the wall clock
// rather than stepped by a ticker, so position() is exact at any instant and
// no goroutine is needed per move.
type actuator struct {
	min, max float64

	start  float64
	target float64
	t0     time.Time
	dur    time.Duration

	now func() time.Time
}

func newActuator(min, max float64, now func() time.Time) *actuator {
	return &actuator{min: min, max: max, t0: now(), now: now}
}

// position returns the instantaneous position
func (a *actuator) position() float64 {
	el := a.now().Sub(a.t0)
	if el >= a.dur || a.dur <= 0 {
		return a.target
	}
	frac := float64(el) / float64(a.dur)
	return a.start + (a.target-a.start)*frac
}

// moving returns true while a commanded move is in progress
func (a *actuator) moving() bool {
	return a.dur > 0 && a.now().Sub(a.t0) < a.dur
}

// inTravel returns true if pos is within the physical travel of the axis
func (a *actuator) inTravel(pos float64) bool {
	return pos >= a.min && pos <= a.max
}

// moveTo starts a move from the current position to target, finishing after dur
func (a *actuator) moveTo(target float64, dur time.Duration) {
	a.start = a.position()
	a.target = util.Clamp(target, a.min, a.max)
	a.t0 = a.now()
	a.dur = dur
}

// travelTime is how long a move to target takes at speed
func (a *actuator) travelTime(target, speed float64) time.Duration {
	if speed <= 0 {
		return 0
	}
	d := math.Abs(target - a.position())
	return util.SecsToDuration(d / speed)
}

// home drives the axis to its reference mark at 0 over dur
func (a *actuator) home(dur time.Duration) {
	a.moveTo(0, dur)
}

// stop freezes the axis where it is
func (a *actuator) stop() {
	p := a.position()
	a.start = p
	a.target = p
	a.dur = 0
}

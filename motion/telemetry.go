package motion

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.jpl.nasa.gov/bdube/hexapod/pi"
)

// ErrTelemetryFault is generated when telemetry fails MaxFailures times in a
// row
var ErrTelemetryFault = errors.New("telemetry failed repeatedly")

// Telemetry is one telemetry sample
type Telemetry struct {
	Time   time.Time     `json:"time"`
	Target pi.AxisVector `json:"target"`
	Real   pi.AxisVector `json:"real"`
	Diff   pi.AxisVector `json:"diff"`
	Error  pi.ErrorCode  `json:"error"`
}

// TelemetryPoller reads target, real position and the error register on a
// fixed cadence.  Its exchanges share the Controller's connection with
// motion commands.
type TelemetryPoller struct {
	Controller *Controller

	// Interval is the time between samples
	Interval time.Duration

	// MaxFailures is the number of consecutive failed cycles that escalate
	// to a fault; zero means never
	MaxFailures int

	// OnSample receives each sample, may be nil
	OnSample func(Telemetry)

	// OnFault is called once before Run returns ErrTelemetryFault, may be nil
	OnFault func(error)

	Log logrus.FieldLogger
}

func (p *TelemetryPoller) log() logrus.FieldLogger {
	if p.Log != nil {
		return p.Log
	}
	return logrus.StandardLogger()
}

// Sample does one telemetry cycle
func (p *TelemetryPoller) Sample(ctx context.Context) (Telemetry, error) {
	t := Telemetry{Time: time.Now()}
	var err error
	t.Target, err = p.Controller.TargetPosition(ctx)
	if err != nil {
		return t, err
	}
	t.Real, err = p.Controller.RealPosition(ctx)
	if err != nil {
		return t, err
	}
	t.Diff = t.Target.AbsDiff(t.Real)
	t.Error, err = p.Controller.GetError(ctx)
	return t, err
}

// Run samples until ctx is cancelled, which returns nil, or until
// MaxFailures consecutive cycles fail
func (p *TelemetryPoller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	lim := rate.NewLimiter(rate.Every(interval), 1)
	failures := 0
	for {
		if err := lim.Wait(ctx); err != nil {
			// Wait also fails when the deadline is closer than the next token
			if ctx.Err() != nil {
				return nil
			}
			if err := sleep(ctx, interval); err != nil {
				return nil
			}
			continue
		}
		t, err := p.Sample(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			failures++
			p.log().WithError(err).WithField("failures", failures).Warn("telemetry cycle failed")
			if p.MaxFailures > 0 && failures >= p.MaxFailures {
				fault := errors.Wrapf(ErrTelemetryFault, "%d consecutive failures, last: %v", failures, err)
				if p.OnFault != nil {
					p.OnFault(fault)
				}
				return fault
			}
			continue
		}
		failures = 0
		if t.Error != 0 {
			p.log().WithField("code", int(t.Error)).Warn(t.Error.Description())
		}
		if p.OnSample != nil {
			p.OnSample(t)
		}
	}
}

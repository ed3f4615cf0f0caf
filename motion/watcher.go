package motion

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.jpl.nasa.gov/bdube/hexapod/pi"
)

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// expired is true once ctx is done or its own deadline has passed
func expired(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	d, ok := ctx.Deadline()
	return ok && !time.Now().Before(d)
}

// pollUntil calls done every PollInterval until it returns true, an error, or
// timeout elapses.  The last poll happens at the deadline.  Exchanges may run
// at most one PollInterval past it.  On timeout the state is forced to
// NotInMotion, since the device can no longer be trusted to report it.
func (c *Controller) pollUntil(ctx context.Context, timeout time.Duration, what string, done func(context.Context) (bool, error)) error {
	deadline := time.Now().Add(timeout)
	pctx, cancel := context.WithDeadline(ctx, deadline.Add(c.cfg.PollInterval))
	defer cancel()
	giveUp := func() error {
		c.setState(NotInMotion)
		c.Log.WithField("timeout", timeout).Warn(what + " timed out")
		return errors.Wrapf(ErrMotionTimeout, "%s after %s", what, timeout)
	}
	for {
		ok, err := done(pctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && !expired(ctx) {
				return giveUp()
			}
			return err
		}
		if ok {
			return nil
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return giveUp()
		}
		if wait > c.cfg.PollInterval {
			wait = c.cfg.PollInterval
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// WaitForIdle polls motion status until every axis is idle or timeout
// elapses.  An all-idle first poll returns immediately.
func (c *Controller) WaitForIdle(ctx context.Context, timeout time.Duration) error {
	return c.pollUntil(ctx, timeout, "move", func(ctx context.Context) (bool, error) {
		flags, err := c.MotionStatus(ctx)
		if err != nil {
			return false, err
		}
		return !pi.Any(flags), nil
	})
}

// WaitMove waits for an ordinary move to finish
func (c *Controller) WaitMove(ctx context.Context) error {
	return c.WaitForIdle(ctx, c.cfg.MoveTimeout)
}

// WaitReference waits for the reference move to stop moving
func (c *Controller) WaitReference(ctx context.Context) error {
	return c.WaitForIdle(ctx, c.cfg.ReferenceTimeout)
}

// WaitReferenced polls the referencing result until all six axes are
// referenced.  The state returns to NotInMotion on success.
func (c *Controller) WaitReferenced(ctx context.Context) error {
	return c.pollUntil(ctx, c.cfg.ReferenceTimeout, "reference", func(ctx context.Context) (bool, error) {
		st, err := c.ReferenceStatus(ctx)
		if err != nil {
			return false, err
		}
		if st.All() {
			c.setState(NotInMotion)
			return true, nil
		}
		return false, nil
	})
}

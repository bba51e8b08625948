package calibration

import (
	"context"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Calibrator runs trim searches. A Calibrator owns the trim register and the
// capture timer for the duration of a call; calls must not overlap.
type Calibrator struct {
	Trim  TrimRegister
	Meter Meter
	// Clock is optional. When set it is configured before and restored after
	// each search.
	Clock Clock

	Window   Window
	TargetHz uint32

	// PrescalerExp and Divider are handed to Clock.ConfigureCaptureTimer.
	PrescalerExp uint8
	Divider      uint8

	// OnStep, if set, is called after every measured candidate.
	OnStep StepFunc
}

// ZigZag returns n offsets alternating around zero: 0, -1, 1, -2, 2, ...
func ZigZag(n int) []int {
	offsets := make([]int, 0, n)
	for i := 0; i < n; i++ {
		k := (i + 1) / 2
		if i%2 == 1 {
			k = -k
		}
		offsets = append(offsets, k)
	}
	return offsets
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

func (c *Calibrator) begin() error {
	if c.Clock == nil {
		return nil
	}
	if err := c.Clock.ConfigureReferenceClock(); err != nil {
		return pkgerrors.Wrap(err, "failed to configure reference clock")
	}
	if err := c.Clock.ConfigureCaptureTimer(c.PrescalerExp, c.Divider); err != nil {
		return pkgerrors.Wrap(err, "failed to configure capture timer")
	}
	return nil
}

func (c *Calibrator) end(err *error) {
	if c.Clock == nil {
		return
	}
	if rerr := c.Clock.RestoreUserConfiguration(); rerr != nil {
		logrus.WithError(rerr).Error("failed to restore user clock configuration")
		if *err == nil {
			*err = pkgerrors.Wrap(rerr, "failed to restore user clock configuration")
		}
	}
}

func (c *Calibrator) measure(ctx context.Context, index int, trim uint8) (Step, error) {
	if err := c.Trim.SetTrim(trim); err != nil {
		return Step{}, pkgerrors.Wrapf(err, "failed to set trim to %d", trim)
	}

	hz, err := c.Meter.Measure(ctx)
	if err != nil {
		return Step{}, pkgerrors.Wrapf(err, "failed to measure at trim %d", trim)
	}

	s := Step{Index: index, Trim: trim, Hz: hz, ErrorHz: absDiff(hz, c.TargetHz)}
	logrus.WithFields(logrus.Fields{
		"index":     s.Index,
		"trim":      s.Trim,
		"frequency": s.Hz,
		"error":     s.ErrorHz,
	}).Debug("calibration step")
	if c.OnStep != nil {
		c.OnStep(s)
	}

	return s, nil
}

// MinError measures every candidate of the window in increasing trim order,
// programs the one with the smallest error and returns it. Ties go to the
// candidate scanned first.
func (c *Calibrator) MinError(ctx context.Context) (res *MinErrorResult, err error) {
	factory, err := c.Trim.FactoryTrim()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to read factory trim")
	}
	if int(factory) < int(c.Window.Lower) || int(factory)+int(c.Window.Upper) > 0xFF {
		return nil, pkgerrors.Wrapf(ErrTrimOutOfRange, "factory trim %d, window -%d/+%d", factory, c.Window.Lower, c.Window.Upper)
	}

	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end(&err)

	res = &MinErrorResult{FactoryTrim: factory}
	best := -1
	var minError uint32

	trim := factory - c.Window.Lower
	for i := 0; i < c.Window.Size(); i++ {
		s, err := c.measure(ctx, i, trim)
		if err != nil {
			return nil, err
		}
		res.Steps = append(res.Steps, s)

		if i == int(c.Window.Lower) {
			res.DefaultHz = s.Hz
		}
		if best < 0 || s.ErrorHz < minError {
			best = i
			minError = s.ErrorHz
			res.OptimalTrim = s.Trim
			res.OptimalHz = s.Hz
		}
		trim++
	}

	if err := c.Trim.SetTrim(res.OptimalTrim); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set optimal trim %d", res.OptimalTrim)
	}

	logrus.WithFields(logrus.Fields{
		"trim":      res.OptimalTrim,
		"frequency": res.OptimalHz,
		"error":     minError,
		"default":   res.DefaultHz,
	}).Info("minimum-error calibration finished")

	return res, nil
}

// BoundedError tries candidates around the recentered window midpoint in
// zig-zag order and stops at the first one within maxErrorHz. If none is,
// the factory trim is programmed back and the result has StatusFailure.
func (c *Calibrator) BoundedError(ctx context.Context, maxErrorHz uint32) (res *BoundedResult, err error) {
	factory, err := c.Trim.FactoryTrim()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to read factory trim")
	}

	medium := int(factory) + (int(c.Window.Upper)-int(c.Window.Lower))/2
	offsets := ZigZag(c.Window.Size())
	for _, off := range offsets {
		if v := medium + off; v < 0 || v > 0xFF {
			return nil, pkgerrors.Wrapf(ErrTrimOutOfRange, "candidate %d around %d", v, medium)
		}
	}

	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end(&err)

	res = &BoundedResult{Status: StatusFailure, FactoryTrim: factory, MaxErrorHz: maxErrorHz}
	for i, off := range offsets {
		trim := uint8(medium + off)
		s, err := c.measure(ctx, i, trim)
		if err != nil {
			return nil, err
		}
		res.Steps = append(res.Steps, s)
		res.Hz = s.Hz

		if s.ErrorHz <= maxErrorHz {
			res.Status = StatusSuccess
			res.Trim = trim
			break
		}
	}

	if res.Status == StatusFailure {
		if err := c.Trim.SetTrim(factory); err != nil {
			return nil, pkgerrors.Wrapf(err, "failed to restore factory trim %d", factory)
		}
		res.Trim = factory
	}

	logrus.WithFields(logrus.Fields{
		"status":    res.Status,
		"trim":      res.Trim,
		"frequency": res.Hz,
		"steps":     len(res.Steps),
	}).Info("bounded-error calibration finished")

	return res, nil
}

package calibration

import (
	"context"
	"errors"
)

var (
	// ErrSearchExhausted is reported by a BoundedResult when no candidate was
	// within the allowed error.
	ErrSearchExhausted = errors.New("no trim value within the allowed frequency error")
	// ErrTrimOutOfRange is returned when the window around the factory trim
	// does not fit in the 8-bit register.
	ErrTrimOutOfRange = errors.New("calibration window exceeds trim register range")
)

// Status is the outcome of a bounded-error search.
type Status string

const (
	StatusSuccess Status = "Success"
	StatusFailure Status = "Failure"
)

// Strategy names a search strategy.
type Strategy string

const (
	StrategyMinError Strategy = "MinError"
	StrategyBounded  Strategy = "BoundedError"
)

// TrimRegister is the oscillator trim register.
type TrimRegister interface {
	// FactoryTrim returns the factory calibration value.
	FactoryTrim() (uint8, error)
	// SetTrim programs the trim register.
	SetTrim(v uint8) error
}

// Clock configures the clock tree and the capture timer around a run.
type Clock interface {
	ConfigureReferenceClock() error
	ConfigureCaptureTimer(prescalerExp, divider uint8) error
	RestoreUserConfiguration() error
}

// Meter returns one averaged frequency estimate of the oscillator under
// test.
type Meter interface {
	Measure(ctx context.Context) (uint32, error)
}

// MeterFunc adapts a function to Meter.
type MeterFunc func(ctx context.Context) (uint32, error)

func (f MeterFunc) Measure(ctx context.Context) (uint32, error) { return f(ctx) }

// Window is the set of trim candidates from factory-Lower to factory+Upper.
type Window struct {
	Lower uint8 `json:"lower"`
	Upper uint8 `json:"upper"`
}

// DefaultWindow is 12 below and 8 above the factory value.
var DefaultWindow = Window{Lower: 12, Upper: 8}

// Size returns the number of candidates.
func (w Window) Size() int {
	return int(w.Lower) + int(w.Upper) + 1
}

// Step is one measured candidate.
type Step struct {
	Index   int    `json:"index"`
	Trim    uint8  `json:"trim"`
	Hz      uint32 `json:"hz"`
	ErrorHz uint32 `json:"errorHz"`
}

// MinErrorResult is the outcome of a minimum-error sweep.
type MinErrorResult struct {
	OptimalTrim uint8  `json:"optimalTrim"`
	OptimalHz   uint32 `json:"optimalHz"`
	// DefaultHz is the frequency measured at the factory trim.
	DefaultHz   uint32 `json:"defaultHz"`
	FactoryTrim uint8  `json:"factoryTrim"`
	Steps       []Step `json:"steps"`
}

// BoundedResult is the outcome of a bounded-error search. On failure Hz is
// the last measurement and the factory trim is programmed.
type BoundedResult struct {
	Status      Status `json:"status"`
	Trim        uint8  `json:"trim"`
	Hz          uint32 `json:"hz"`
	FactoryTrim uint8  `json:"factoryTrim"`
	MaxErrorHz  uint32 `json:"maxErrorHz"`
	Steps       []Step `json:"steps"`
}

// Err returns ErrSearchExhausted for a failed search.
func (r *BoundedResult) Err() error {
	if r.Status == StatusFailure {
		return ErrSearchExhausted
	}
	return nil
}

// StepFunc observes each measured step.
type StepFunc func(s Step)

// Package watchdog derives prescaler and reload settings for an independent
// watchdog clocked by a low-speed oscillator of measured frequency.
package watchdog

import (
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoTimeoutBracket is returned when no prescaler can produce the
	// requested timeout at the given frequency.
	ErrNoTimeoutBracket = errors.New("requested timeout is outside every prescaler range")
	// ErrInvalidFrequency is returned for a zero reference frequency.
	ErrInvalidFrequency = errors.New("reference frequency must be positive")
)

// Prescalers are the watchdog clock dividers, indexed by the value written to
// the prescaler register.
var Prescalers = [...]uint16{4, 8, 16, 32, 64, 128, 256}

// ReloadRange is the number of counts of the 8-bit down-counter.
const ReloadRange = 256

const microsPerSecond = 1000000

// Plan is a validated watchdog configuration.
type Plan struct {
	PrescalerIndex uint8  `json:"prescalerIndex"`
	Prescaler      uint16 `json:"prescaler"`
	Reload         uint8  `json:"reload"`
}

// Duration returns the timeout the plan produces at refHz.
func (p Plan) Duration(refHz uint32) time.Duration {
	if refHz == 0 {
		return 0
	}
	counts := uint64(p.Prescaler) * (uint64(p.Reload) + 1)
	return time.Duration(counts * uint64(time.Second) / uint64(refHz))
}

// Programmer writes a plan to the watchdog registers.
type Programmer interface {
	Program(p Plan) error
}

// DeriveTimeout picks the first prescaler whose range (min, max] contains
// targetUs and computes the reload value for it.
func DeriveTimeout(targetUs, refHz uint32) (Plan, error) {
	if refHz == 0 {
		return Plan{}, ErrInvalidFrequency
	}

	f := uint64(refHz)
	t := uint64(targetUs)
	for i, d := range Prescalers {
		minUs := microsPerSecond * uint64(d) / f
		maxUs := microsPerSecond * ReloadRange * uint64(d) / f
		if t <= minUs || t > maxUs {
			continue
		}

		counts := f * t / (uint64(d) * microsPerSecond)
		if counts == 0 || counts > ReloadRange {
			// Unreachable for t in (min, max], kept as a range assertion.
			return Plan{}, pkgerrors.Wrapf(ErrNoTimeoutBracket, "reload count %d", counts)
		}

		return Plan{
			PrescalerIndex: uint8(i),
			Prescaler:      d,
			Reload:         uint8(counts - 1),
		}, nil
	}

	return Plan{}, pkgerrors.Wrapf(ErrNoTimeoutBracket, "%dus at %dHz", targetUs, refHz)
}

// Apply derives a plan and programs it. Nothing is written if no plan exists.
func Apply(prog Programmer, targetUs, refHz uint32) (Plan, error) {
	p, err := DeriveTimeout(targetUs, refHz)
	if err != nil {
		return Plan{}, err
	}

	if err := prog.Program(p); err != nil {
		return Plan{}, pkgerrors.Wrap(err, "failed to program watchdog")
	}

	logrus.WithFields(logrus.Fields{
		"prescaler": p.Prescaler,
		"reload":    p.Reload,
		"timeout":   p.Duration(refHz),
	}).Info("watchdog configured")

	return p, nil
}

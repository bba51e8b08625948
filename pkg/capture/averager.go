package capture

import (
	"context"
	"errors"
	"math"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrOverflow is returned when a frequency does not fit in 32 bits.
	ErrOverflow = errors.New("frequency computation overflows 32 bits")
	// ErrInvalidSample is returned for zero tick counts or an empty sample set.
	ErrInvalidSample = errors.New("invalid capture sample")
)

// DefaultSamples is the number of periods averaged per measurement.
const DefaultSamples = 10

// Averager collects consecutive captured periods from a Channel.
type Averager struct {
	Channel Channel
	// Samples is the number of periods kept after the warm-up period.
	Samples int
	// EdgeTimeout bounds each edge wait. Zero waits forever.
	EdgeTimeout time.Duration
}

// Collect performs Samples+1 captures and returns the tick counts of all but
// the first one, which may cover a period that started before arming.
func (a *Averager) Collect(ctx context.Context) ([]uint32, error) {
	if a.Samples <= 0 {
		return nil, pkgerrors.Wrapf(ErrInvalidSample, "sample count %d", a.Samples)
	}

	ticks := make([]uint32, 0, a.Samples)
	for i := 0; i <= a.Samples; i++ {
		if err := a.Channel.Arm(); err != nil {
			return nil, pkgerrors.Wrap(err, "failed to arm capture channel")
		}

		waitCtx, cancel := WaitContext(ctx, a.EdgeTimeout)
		t, err := a.Channel.WaitForEdge(waitCtx)
		cancel()
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "capture %d of %d", i, a.Samples)
		}

		if i == 0 {
			logrus.WithField("ticks", t).Trace("discarding warm-up capture")
			continue
		}
		ticks = append(ticks, t)
	}

	return ticks, nil
}

type accumulator struct {
	sum   uint64
	count uint64
}

func (a *accumulator) add(v uint64) error {
	if v > math.MaxUint32 || a.sum > math.MaxUint64-v {
		return ErrOverflow
	}
	a.sum += v
	a.count++
	return nil
}

func (a *accumulator) mean() (uint64, error) {
	if a.count == 0 {
		return 0, ErrInvalidSample
	}
	return a.sum / a.count, nil
}

// HSIFrequency converts periods of the reference signal counted in timer
// ticks into the frequency of the clock driving the timer:
// ((Σ referenceHz*tick) / n) << prescalerExp.
func HSIFrequency(ticks []uint32, referenceHz uint32, prescalerExp uint8) (uint32, error) {
	if prescalerExp > 15 {
		return 0, pkgerrors.Wrapf(ErrOverflow, "prescaler exponent %d", prescalerExp)
	}

	var acc accumulator
	for _, t := range ticks {
		if t == 0 {
			return 0, pkgerrors.Wrap(ErrInvalidSample, "zero ticks")
		}
		if err := acc.add(uint64(referenceHz) * uint64(t)); err != nil {
			return 0, pkgerrors.Wrapf(err, "referenceHz %d * ticks %d", referenceHz, t)
		}
	}

	mean, err := acc.mean()
	if err != nil {
		return 0, err
	}

	hz := mean << prescalerExp
	if hz > math.MaxUint32 {
		return 0, pkgerrors.Wrapf(ErrOverflow, "%d << %d", mean, prescalerExp)
	}

	return uint32(hz), nil
}

// LSIFrequency converts periods of the oscillator under test, divided by
// divider and counted in ticks of a clock at hsiHz, into its frequency:
// Σ divider*(hsiHz/tick) / n.
func LSIFrequency(ticks []uint32, hsiHz uint32, divider uint8) (uint32, error) {
	var acc accumulator
	for _, t := range ticks {
		if t == 0 {
			return 0, pkgerrors.Wrap(ErrInvalidSample, "zero ticks")
		}
		if err := acc.add(uint64(divider) * uint64(hsiHz/t)); err != nil {
			return 0, pkgerrors.Wrapf(err, "%d * (hsiHz %d / ticks %d)", divider, hsiHz, t)
		}
	}

	mean, err := acc.mean()
	if err != nil {
		return 0, err
	}

	return uint32(mean), nil
}

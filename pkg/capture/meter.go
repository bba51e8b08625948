package capture

import (
	"context"

	"github.com/sirupsen/logrus"
)

// HSIMeter measures the clock driving the capture timer against a reference
// signal of known frequency.
type HSIMeter struct {
	Averager *Averager
	// ReferenceHz is the reference frequency after the input divider, e.g.
	// 32768/8 = 4096 for the LSE.
	ReferenceHz uint32
	// PrescalerExp is the log2 of the timer counter prescaler.
	PrescalerExp uint8
}

// Measure returns one averaged frequency estimate in Hz.
func (m *HSIMeter) Measure(ctx context.Context) (uint32, error) {
	ticks, err := m.Averager.Collect(ctx)
	if err != nil {
		return 0, err
	}

	hz, err := HSIFrequency(ticks, m.ReferenceHz, m.PrescalerExp)
	if err != nil {
		return 0, err
	}

	logrus.WithFields(logrus.Fields{
		"samples":   len(ticks),
		"frequency": hz,
	}).Trace("hsi measured")

	return hz, nil
}

// LSIMeter measures a slow oscillator feeding the capture input while the
// timer counts a clock of known frequency.
type LSIMeter struct {
	Averager *Averager
	// HSIHz is the frequency of the timer clock, ideally a calibrated HSI.
	HSIHz uint32
	// Divider is the capture input divider.
	Divider uint8
}

// Measure returns one averaged frequency estimate in Hz.
func (m *LSIMeter) Measure(ctx context.Context) (uint32, error) {
	ticks, err := m.Averager.Collect(ctx)
	if err != nil {
		return 0, err
	}

	hz, err := LSIFrequency(ticks, m.HSIHz, m.Divider)
	if err != nil {
		return 0, err
	}

	logrus.WithFields(logrus.Fields{
		"samples":   len(ticks),
		"frequency": hz,
	}).Trace("lsi measured")

	return hz, nil
}

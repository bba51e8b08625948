// Package gpiocap captures the period of a signal on a host GPIO pin.
//
// Rising edges are timestamped with the host monotonic clock as a 32-bit
// counter and fed into a capture.Cell, so the same averaging code used on
// the target measures signals on the bench. Periods beyond the 16-bit
// capture range are rejected rather than aliased.
package gpiocap

import (
	"context"
	"errors"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/charlie0129/rccal/pkg/capture"
)

// ErrPeriodTooLong is returned when the divided signal period does not fit
// the 16-bit capture, 65.5ms at the default counter rate.
var ErrPeriodTooLong = errors.New("signal period exceeds the 16-bit capture range")

// DefaultCounterHz is the rate of the emulated capture counter.
const DefaultCounterHz = 1000000

// pollTimeout bounds a single pin wait so cancellation is noticed.
const pollTimeout = 50 * time.Millisecond

// Capture feeds the edges of Pin into Cell.
type Capture struct {
	Pin  gpio.PinIn
	Cell *capture.Cell
	// CounterHz is the rate of the emulated counter.
	CounterHz uint32

	// now returns the time elapsed since the capture started.
	now func() time.Duration
	wg  sync.WaitGroup
}

// Open initialises the host drivers and configures pin name as an input
// with rising-edge detection.
func Open(name string, divider uint8) (*Capture, error) {
	if _, err := host.Init(); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to initialize periph host")
	}

	p := gpioreg.ByName(name)
	if p == nil {
		return nil, pkgerrors.Errorf("gpio pin %q not found", name)
	}

	return New(p, divider)
}

// New configures p and returns a capture acting on every divider-th edge.
func New(p gpio.PinIn, divider uint8) (*Capture, error) {
	cell, err := capture.NewCell(divider)
	if err != nil {
		return nil, err
	}
	if err := p.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to configure pin %s", p)
	}

	start := time.Now()
	return &Capture{
		Pin:       p,
		Cell:      cell,
		CounterHz: DefaultCounterHz,
		now:       func() time.Duration { return time.Since(start) },
	}, nil
}

func (c *Capture) counter() uint32 {
	ticks := uint64(c.now()) * uint64(c.CounterHz) / uint64(time.Second)
	return uint32(ticks)
}

// Start listens for edges until ctx ends.
func (c *Capture) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

// Wait blocks until the listener started by Start returns.
func (c *Capture) Wait() {
	c.wg.Wait()
}

func (c *Capture) run(ctx context.Context) {
	logrus.WithField("pin", c.Pin.String()).Debug("gpio capture running")
	defer logrus.WithField("pin", c.Pin.String()).Debug("gpio capture stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if c.Pin.WaitForEdge(pollTimeout) {
			c.Cell.EdgeWide(c.counter())
		}
	}
}

// channel reports captures that overran the 16-bit range.
type channel struct {
	*capture.CellChannel
}

func (ch channel) WaitForEdge(ctx context.Context) (uint32, error) {
	ticks, err := ch.CellChannel.WaitForEdge(ctx)
	if err != nil {
		return 0, err
	}
	if ticks == 0 {
		return 0, ErrPeriodTooLong
	}
	return ticks, nil
}

// Meter returns a meter for the signal frequency. The emulated counter plays
// the role of the timer clock.
func (c *Capture) Meter(samples int, edgeTimeout time.Duration) *capture.LSIMeter {
	return &capture.LSIMeter{
		Averager: &capture.Averager{
			Channel:     channel{capture.NewCellChannel(c.Cell)},
			Samples:     samples,
			EdgeTimeout: edgeTimeout,
		},
		HSIHz:   c.CounterHz,
		Divider: c.Cell.Divider(),
	}
}

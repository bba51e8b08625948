package capture

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrStalledCapture is returned when no edge arrives before the wait is
	// cancelled, e.g. the reference clock is absent.
	ErrStalledCapture = errors.New("capture stalled: no edge before deadline")
	// ErrInvalidDivider is returned for an unsupported input divider.
	ErrInvalidDivider = errors.New("input divider must be 1, 2, 4 or 8")
)

// Channel is a timer channel in input-capture mode.
type Channel interface {
	// Arm resets the edge flags and enables the capture interrupt. It is
	// idempotent.
	Arm() error
	// WaitForEdge blocks until a period has been captured and returns its
	// tick count. It returns ErrStalledCapture if ctx ends first.
	WaitForEdge(ctx context.Context) (uint32, error)
}

// CellChannel is a Channel backed by a Cell that some producer goroutine
// feeds with edges.
type CellChannel struct {
	Cell *Cell

	// OnArm is called after the cell is armed, e.g. to restart the timer.
	OnArm func() error
}

var _ Channel = &CellChannel{}

// NewCellChannel returns a channel polling cell.
func NewCellChannel(cell *Cell) *CellChannel {
	return &CellChannel{Cell: cell}
}

func (c *CellChannel) Arm() error {
	c.Cell.Arm()
	if c.OnArm != nil {
		return c.OnArm()
	}
	return nil
}

func (c *CellChannel) WaitForEdge(ctx context.Context) (uint32, error) {
	done := ctx.Done()
	for c.Cell.State() != StateDone {
		select {
		case <-done:
			c.Cell.Mask()
			logrus.WithField("state", c.Cell.State()).Warn("capture stalled")
			return 0, ErrStalledCapture
		default:
		}
		runtime.Gosched()
	}
	// Mask right away so a late edge cannot touch the cell before the next Arm.
	c.Cell.Mask()

	return c.Cell.Ticks(), nil
}

// WaitContext derives the context for one edge wait. A zero timeout waits
// forever.
func WaitContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

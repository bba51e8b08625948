package capture

import (
	"math"
	"sync/atomic"
)

// State is the handshake state shared between the edge producer and the
// polling consumer.
type State uint32

const (
	// StateArmed means the cell waits for the first edge.
	StateArmed State = 1
	// StateCaptured means the first edge was latched.
	StateCaptured State = 2
	// StateDone means a full period was captured and Ticks is valid.
	StateDone State = 255
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "Armed"
	case StateCaptured:
		return "Captured"
	case StateDone:
		return "Done"
	}
	return "Unknown"
}

// Cell is a single-producer, single-consumer capture handshake.
//
// Only the edge producer calls Edge and SetDivider. Only the consumer calls
// Arm, Mask, State and Ticks. Ticks must be read before the next Arm.
//
// The generation and the state share one word, so an edge that started
// before an Arm cannot complete a transition of the new capture.
type Cell struct {
	divider atomic.Uint32

	enabled atomic.Bool
	// seq holds the generation in the high 32 bits and the state in the low.
	seq   atomic.Uint64
	first atomic.Uint32
	ticks atomic.Uint32

	// Owned by the producer.
	edges    uint32
	edgesGen uint32
}

func validDivider(divider uint8) bool {
	switch divider {
	case 1, 2, 4, 8:
		return true
	}
	return false
}

func pack(gen uint32, s State) uint64 {
	return uint64(gen)<<32 | uint64(s)
}

func unpack(v uint64) (uint32, State) {
	return uint32(v >> 32), State(uint32(v))
}

// NewCell returns a masked cell acting on every divider-th edge. Valid
// dividers are 1, 2, 4 and 8.
func NewCell(divider uint8) (*Cell, error) {
	if !validDivider(divider) {
		return nil, ErrInvalidDivider
	}
	c := &Cell{}
	c.divider.Store(uint32(divider))
	c.seq.Store(pack(0, StateDone))
	return c, nil
}

// Divider returns the input divider.
func (c *Cell) Divider() uint8 {
	return uint8(c.divider.Load())
}

// SetDivider changes the input divider, as a write to the capture
// prescaler register would. It takes effect from the next edge.
func (c *Cell) SetDivider(divider uint8) error {
	if !validDivider(divider) {
		return ErrInvalidDivider
	}
	c.divider.Store(uint32(divider))
	return nil
}

// Arm clears the edge flags and unmasks the cell.
func (c *Cell) Arm() {
	c.ticks.Store(0)
	gen, _ := unpack(c.seq.Load())
	c.seq.Store(pack(gen+1, StateArmed))
	c.enabled.Store(true)
}

// Generation counts the calls to Arm. Producers use it to notice that the
// consumer reconfigured the target between two captures.
func (c *Cell) Generation() uint32 {
	gen, _ := unpack(c.seq.Load())
	return gen
}

// Mask stops the cell from reacting to edges until the next Arm.
func (c *Cell) Mask() {
	c.enabled.Store(false)
}

// Enabled reports whether the cell reacts to edges.
func (c *Cell) Enabled() bool {
	return c.enabled.Load()
}

// State returns the current handshake state.
func (c *Cell) State() State {
	_, s := unpack(c.seq.Load())
	return s
}

// Ticks returns the counter difference of the last completed capture.
func (c *Cell) Ticks() uint32 {
	return c.ticks.Load()
}

// Edge reports a rising edge with the free-running 16-bit counter value at
// that instant.
func (c *Cell) Edge(counter uint16) {
	if !c.enabled.Load() {
		return
	}
	c.edge(c.seq.Load(), uint32(counter), false)
}

// EdgeWide reports a rising edge with a 32-bit counter. A period longer
// than the 16-bit capture range completes with zero ticks instead of
// wrapping.
func (c *Cell) EdgeWide(counter uint32) {
	if !c.enabled.Load() {
		return
	}
	c.edge(c.seq.Load(), counter, true)
}

// edge applies an edge observed while seq was v.
func (c *Cell) edge(v uint64, counter uint32, wide bool) {
	gen, state := unpack(v)
	if gen != c.edgesGen {
		c.edgesGen = gen
		c.edges = 0
	}
	c.edges++
	if c.edges%c.divider.Load() != 0 {
		return
	}

	switch state {
	case StateArmed:
		c.first.Store(counter)
		c.seq.CompareAndSwap(v, pack(gen, StateCaptured))
	case StateCaptured:
		delta := counter - c.first.Load()
		switch {
		case !wide:
			// uint16 wrap-around covers a counter overflow between the two edges.
			delta = uint32(uint16(delta))
		case delta > math.MaxUint16:
			delta = 0
		}
		c.ticks.Store(delta)
		c.seq.CompareAndSwap(v, pack(gen, StateDone))
	case StateDone:
	}
}

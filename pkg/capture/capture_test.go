package capture

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

// scriptedChannel returns ticks in order, one per WaitForEdge.
type scriptedChannel struct {
	ticks []uint32
	arms  int
	waits int
}

func (s *scriptedChannel) Arm() error {
	s.arms++
	return nil
}

func (s *scriptedChannel) WaitForEdge(_ context.Context) (uint32, error) {
	t := s.ticks[s.waits]
	s.waits++
	return t, nil
}

func TestCellHandshake(t *testing.T) {
	c, err := NewCell(1)
	if err != nil {
		t.Fatalf("NewCell: %v", err)
	}

	// Masked cells ignore edges.
	c.Edge(10)
	if c.State() != StateDone {
		t.Fatalf("expected masked cell to stay Done, got %s", c.State())
	}

	c.Arm()
	if c.State() != StateArmed {
		t.Fatalf("expected Armed, got %s", c.State())
	}
	c.Edge(100)
	if c.State() != StateCaptured {
		t.Fatalf("expected Captured, got %s", c.State())
	}
	c.Edge(4006)
	if c.State() != StateDone {
		t.Fatalf("expected Done, got %s", c.State())
	}
	if c.Ticks() != 3906 {
		t.Fatalf("expected 3906 ticks, got %d", c.Ticks())
	}

	// Edges after Done must not change the latched value.
	c.Edge(9000)
	if c.Ticks() != 3906 {
		t.Fatalf("late edge changed ticks to %d", c.Ticks())
	}
}

func TestCellCounterWrap(t *testing.T) {
	c, _ := NewCell(1)
	c.Arm()
	c.Edge(65000)
	c.Edge(3370)
	if got, want := c.Ticks(), uint32(3906); got != want {
		t.Fatalf("Ticks() = %d, want %d", got, want)
	}
}

func TestCellDivider(t *testing.T) {
	c, err := NewCell(8)
	if err != nil {
		t.Fatalf("NewCell: %v", err)
	}
	c.Arm()

	counter := uint16(0)
	for i := 0; i < 16; i++ {
		counter += 100
		c.Edge(counter)
		if i < 15 && c.State() == StateDone {
			t.Fatalf("captured after %d edges", i+1)
		}
	}
	if c.State() != StateDone {
		t.Fatalf("expected Done after 16 edges, got %s", c.State())
	}
	if c.Ticks() != 800 {
		t.Fatalf("expected 800 ticks over 8 edges, got %d", c.Ticks())
	}
}

func TestNewCellInvalidDivider(t *testing.T) {
	if _, err := NewCell(3); !errors.Is(err, ErrInvalidDivider) {
		t.Fatalf("expected ErrInvalidDivider, got %v", err)
	}
}

func TestCellSetDivider(t *testing.T) {
	c, _ := NewCell(8)
	if err := c.SetDivider(4); err != nil {
		t.Fatalf("SetDivider: %v", err)
	}
	if err := c.SetDivider(5); !errors.Is(err, ErrInvalidDivider) {
		t.Fatalf("expected ErrInvalidDivider, got %v", err)
	}
	if c.Divider() != 4 {
		t.Fatalf("Divider() = %d", c.Divider())
	}

	c.Arm()
	counter := uint16(0)
	for i := 0; i < 8; i++ {
		counter += 100
		c.Edge(counter)
	}
	if c.State() != StateDone || c.Ticks() != 400 {
		t.Fatalf("state %s, ticks %d", c.State(), c.Ticks())
	}
}

func TestCellEdgeAcrossArm(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *Cell)
	}{
		{
			name:  "edge seen while armed",
			setup: func(c *Cell) {},
		},
		{
			name:  "edge seen while captured",
			setup: func(c *Cell) { c.Edge(50) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := NewCell(1)
			c.Arm()
			tt.setup(c)

			// The producer loaded seq, then the consumer re-armed before the
			// edge was applied.
			stale := c.seq.Load()
			c.Arm()
			c.edge(stale, 9000, false)

			if c.State() != StateArmed {
				t.Fatalf("stale edge moved the new capture to %s", c.State())
			}
			c.Edge(100)
			c.Edge(4006)
			if c.State() != StateDone || c.Ticks() != 3906 {
				t.Fatalf("state %s, ticks %d", c.State(), c.Ticks())
			}
		})
	}
}

func TestCellEdgeWide(t *testing.T) {
	tests := []struct {
		name   string
		first  uint32
		second uint32
		want   uint32
	}{
		{name: "in range", first: 1000, second: 4906, want: 3906},
		{name: "across 16-bit wrap", first: 65000, second: 68906, want: 3906},
		{name: "longest period", first: 0, second: 65535, want: 65535},
		{name: "too long", first: 0, second: 70000, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := NewCell(1)
			c.Arm()
			c.EdgeWide(tt.first)
			c.EdgeWide(tt.second)
			if c.State() != StateDone || c.Ticks() != tt.want {
				t.Fatalf("state %s, ticks %d, want %d", c.State(), c.Ticks(), tt.want)
			}
		})
	}
}

func TestCellEdgeCountResetsOnArm(t *testing.T) {
	c, _ := NewCell(2)
	c.Arm()
	c.Edge(10)
	c.Arm()
	// First edge of the new capture, not the second overall.
	c.Edge(20)
	if c.State() != StateArmed {
		t.Fatalf("expected Armed, got %s", c.State())
	}
}

func TestCellChannelStalled(t *testing.T) {
	c, _ := NewCell(1)
	ch := NewCellChannel(c)
	if err := ch.Arm(); err != nil {
		t.Fatalf("Arm: %v", err)
	}

	ctx, cancel := WaitContext(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := ch.WaitForEdge(ctx)
	if !errors.Is(err, ErrStalledCapture) {
		t.Fatalf("expected ErrStalledCapture, got %v", err)
	}
}

func TestCellChannelProducer(t *testing.T) {
	c, _ := NewCell(1)
	ch := NewCellChannel(c)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		counter := uint16(0)
		for {
			select {
			case <-stop:
				return
			default:
			}
			counter += 500
			c.Edge(counter)
		}
	}()

	for i := 0; i < 3; i++ {
		if err := ch.Arm(); err != nil {
			t.Fatalf("Arm: %v", err)
		}
		ctx, cancel := WaitContext(context.Background(), 5*time.Second)
		ticks, err := ch.WaitForEdge(ctx)
		cancel()
		if err != nil {
			t.Fatalf("WaitForEdge: %v", err)
		}
		if ticks != 500 {
			t.Fatalf("expected 500 ticks, got %d", ticks)
		}
	}
}

func TestAveragerDiscardsWarmup(t *testing.T) {
	ch := &scriptedChannel{ticks: []uint32{1, 3900, 3910, 3908}}
	a := &Averager{Channel: ch, Samples: 3}

	ticks, err := a.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if ch.arms != 4 || ch.waits != 4 {
		t.Fatalf("expected 4 arm/wait cycles, got %d/%d", ch.arms, ch.waits)
	}
	if len(ticks) != 3 || ticks[0] != 3900 {
		t.Fatalf("unexpected ticks %v", ticks)
	}

	// (4096*3900 + 4096*3910 + 4096*3908) / 3 = 15998976, then << 1.
	hz, err := HSIFrequency(ticks, 4096, 1)
	if err != nil {
		t.Fatalf("HSIFrequency: %v", err)
	}
	if hz != 31997952 {
		t.Fatalf("HSIFrequency() = %d, want 31997952", hz)
	}
}

func TestAveragerInvalidSamples(t *testing.T) {
	a := &Averager{Channel: &scriptedChannel{}, Samples: 0}
	if _, err := a.Collect(context.Background()); !errors.Is(err, ErrInvalidSample) {
		t.Fatalf("expected ErrInvalidSample, got %v", err)
	}
}

func TestHSIFrequency(t *testing.T) {
	tests := []struct {
		name    string
		ticks   []uint32
		ref     uint32
		exp     uint8
		want    uint32
		wantErr error
	}{
		{
			name:  "lse reference",
			ticks: []uint32{3906, 3906, 3907},
			ref:   4096,
			want:  16000341,
		},
		{
			name:  "integer rounding",
			ticks: []uint32{1, 2},
			ref:   3,
			exp:   2,
			want:  16, // (3+6)/2 = 4, << 2
		},
		{
			name:    "zero ticks",
			ticks:   []uint32{10, 0},
			ref:     4096,
			wantErr: ErrInvalidSample,
		},
		{
			name:    "empty",
			ref:     4096,
			wantErr: ErrInvalidSample,
		},
		{
			name:    "product overflow",
			ticks:   []uint32{math.MaxUint16},
			ref:     math.MaxUint32,
			wantErr: ErrOverflow,
		},
		{
			name:    "shift overflow",
			ticks:   []uint32{60000},
			ref:     4096,
			exp:     5,
			wantErr: ErrOverflow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HSIFrequency(tt.ticks, tt.ref, tt.exp)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("HSIFrequency() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLSIFrequency(t *testing.T) {
	// 8 LSI periods at 38 kHz span 3368 ticks of a 16 MHz clock.
	got, err := LSIFrequency([]uint32{3368, 3368}, 16000000, 8)
	if err != nil {
		t.Fatalf("LSIFrequency: %v", err)
	}
	// 16000000/3368 = 4750 (integer), * 8 = 38000.
	if got != 38000 {
		t.Fatalf("LSIFrequency() = %d, want 38000", got)
	}

	if _, err := LSIFrequency([]uint32{0}, 16000000, 8); !errors.Is(err, ErrInvalidSample) {
		t.Fatalf("expected ErrInvalidSample, got %v", err)
	}
}

func TestHSIMeter(t *testing.T) {
	ch := &scriptedChannel{ticks: []uint32{7, 3906, 3906}}
	m := &HSIMeter{
		Averager:    &Averager{Channel: ch, Samples: 2},
		ReferenceHz: 4096,
	}
	hz, err := m.Measure(context.Background())
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if hz != 15998976 {
		t.Fatalf("Measure() = %d, want 15998976", hz)
	}
}

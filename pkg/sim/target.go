// Package sim simulates an RC-oscillator target: a register file and a
// capture timer whose edges are produced by a goroutine standing in for the
// capture interrupt.
package sim

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rccal/pkg/capture"
	"github.com/charlie0129/rccal/pkg/device"
)

// Model describes the simulated oscillators.
type Model struct {
	// LSEHz is the external low-speed crystal, the calibration reference.
	LSEHz uint32 `json:"lseHz"`
	// LSIHz is the low-speed internal oscillator.
	LSIHz uint32 `json:"lsiHz"`
	// HSIHz is the high-speed oscillator frequency at FactoryTrim.
	HSIHz uint32 `json:"hsiHz"`
	// StepHz is the HSI change per trim unit.
	StepHz int32 `json:"stepHz"`
	// FactoryTrim is the value of the factory calibration register.
	FactoryTrim uint8 `json:"factoryTrim"`
}

// DefaultModel is a part running 1% fast at its factory trim, with a trim
// step of 0.25%.
var DefaultModel = Model{
	LSEHz:       32768,
	LSIHz:       38000,
	HSIHz:       16160000,
	StepHz:      40000,
	FactoryTrim: 0x40,
}

// HSIAt returns the modelled HSI frequency at trim.
func (m Model) HSIAt(trim uint8) uint64 {
	hz := int64(m.HSIHz) + (int64(trim)-int64(m.FactoryTrim))*int64(m.StepHz)
	if hz < 1 {
		return 1
	}
	return uint64(hz)
}

// Target is a simulated microcontroller.
type Target struct {
	Model  Model
	Device *device.Device
	Cell   *capture.Cell

	// EdgesPerPoll is the number of edges produced between two register
	// polls.
	EdgesPerPoll int

	wg sync.WaitGroup
}

// NewTarget returns a target with the capture input divided by divider.
// The divider follows TIM2_ICPSC once the capture timer is reconfigured.
func NewTarget(m Model, divider uint8) (*Target, error) {
	cell, err := capture.NewCell(divider)
	if err != nil {
		return nil, err
	}
	icpsc, err := device.CaptureDividerBits(divider)
	if err != nil {
		return nil, err
	}

	d, _ := device.NewMock(map[string][]byte{
		device.HSICalibrationKey: {m.FactoryTrim},
		device.HSITrimKey:        {m.FactoryTrim},
		device.SysClockSourceKey: {device.ClockSourceHSI},
		device.LowSpeedClockKey:  {device.LowSpeedLSE},
		device.TimerICPrescKey:   {icpsc},
	})

	return &Target{
		Model:        m,
		Device:       d,
		Cell:         cell,
		EdgesPerPoll: 64,
	}, nil
}

// Channel returns a capture channel reading the target's cell.
func (t *Target) Channel() *capture.CellChannel {
	return capture.NewCellChannel(t.Cell)
}

type timerConfig struct {
	timerHz uint64
	refHz   uint64
	divider uint8
}

func (t *Target) poll() (timerConfig, error) {
	trim, err := t.Device.CurrentTrim()
	if err != nil {
		return timerConfig{}, err
	}
	exp, err := t.Device.TimerPrescalerExp()
	if err != nil {
		return timerConfig{}, err
	}
	src, err := t.Device.LowSpeedSource()
	if err != nil {
		return timerConfig{}, err
	}
	div, err := t.Device.CaptureDivider()
	if err != nil {
		return timerConfig{}, err
	}

	ref := uint64(t.Model.LSEHz)
	if src == device.LowSpeedLSI {
		ref = uint64(t.Model.LSIHz)
	}
	return timerConfig{
		timerHz: t.Model.HSIAt(trim) >> exp,
		refHz:   ref,
		divider: div,
	}, nil
}

// Start runs the edge producer until ctx ends.
func (t *Target) Start(ctx context.Context) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(ctx)
	}()
}

// Wait blocks until the producer started by Start returns.
func (t *Target) Wait() {
	t.wg.Wait()
}

func (t *Target) run(ctx context.Context) {
	logrus.WithField("model", t.Model).Debug("simulated target running")
	defer logrus.Debug("simulated target stopped")

	var counter uint16
	var frac uint64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !t.Cell.Enabled() {
			time.Sleep(50 * time.Microsecond)
			continue
		}

		gen := t.Cell.Generation()
		conf, err := t.poll()
		if err != nil {
			logrus.WithError(err).Error("simulated target failed to read registers")
			return
		}
		if conf.refHz == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		if conf.divider != t.Cell.Divider() {
			if err := t.Cell.SetDivider(conf.divider); err != nil {
				logrus.WithError(err).Error("simulated target got an invalid capture divider")
				return
			}
			logrus.WithField("divider", conf.divider).Debug("simulated capture divider changed")
		}

		for i := 0; i < t.EdgesPerPoll && t.Cell.Generation() == gen; i++ {
			// Ticks of the timer clock elapsed during one reference period.
			frac += conf.timerHz
			counter += uint16(frac / conf.refHz)
			frac %= conf.refHz
			t.Cell.Edge(counter)
		}
	}
}

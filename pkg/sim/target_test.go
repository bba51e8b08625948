package sim

import (
	"context"
	"testing"
	"time"

	"github.com/charlie0129/rccal/pkg/calibration"
	"github.com/charlie0129/rccal/pkg/capture"
	"github.com/charlie0129/rccal/pkg/device"
)

func within(got, want, tolerance uint32) bool {
	if got > want {
		return got-want <= tolerance
	}
	return want-got <= tolerance
}

func startTarget(t *testing.T) *Target {
	t.Helper()

	target, err := NewTarget(DefaultModel, 8)
	if err != nil {
		t.Fatalf("NewTarget: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	target.Start(ctx)
	t.Cleanup(func() {
		cancel()
		target.Wait()
	})
	return target
}

func newCalibrator(target *Target) *calibration.Calibrator {
	meter := &capture.HSIMeter{
		Averager: &capture.Averager{
			Channel:     target.Channel(),
			Samples:     capture.DefaultSamples,
			EdgeTimeout: 5 * time.Second,
		},
		ReferenceHz: target.Model.LSEHz / 8,
	}
	return &calibration.Calibrator{
		Trim:     target.Device,
		Meter:    meter,
		Clock:    target.Device,
		Window:   calibration.DefaultWindow,
		TargetHz: 16000000,
		Divider:  8,
	}
}

func TestModelHSIAt(t *testing.T) {
	m := DefaultModel
	if got := m.HSIAt(m.FactoryTrim); got != uint64(m.HSIHz) {
		t.Fatalf("HSIAt(factory) = %d", got)
	}
	if got := m.HSIAt(m.FactoryTrim - 4); got != 16000000 {
		t.Fatalf("HSIAt(factory-4) = %d", got)
	}
	if got := (Model{HSIHz: 10, StepHz: 100, FactoryTrim: 10}).HSIAt(0); got != 1 {
		t.Fatalf("expected clamp to 1 Hz, got %d", got)
	}
}

func TestSimulatedMinError(t *testing.T) {
	target := startTarget(t)
	c := newCalibrator(target)

	res, err := c.MinError(context.Background())
	if err != nil {
		t.Fatalf("MinError: %v", err)
	}
	if res.OptimalTrim != DefaultModel.FactoryTrim-4 {
		t.Fatalf("expected trim %#x, got %#x", DefaultModel.FactoryTrim-4, res.OptimalTrim)
	}
	if !within(res.OptimalHz, 16000000, 5000) {
		t.Fatalf("optimal frequency %d too far from 16MHz", res.OptimalHz)
	}
	if !within(res.DefaultHz, DefaultModel.HSIHz, 5000) {
		t.Fatalf("default frequency %d too far from %d", res.DefaultHz, DefaultModel.HSIHz)
	}
	if trim, _ := target.Device.CurrentTrim(); trim != res.OptimalTrim {
		t.Fatalf("register holds %#x", trim)
	}
	if src, _ := target.Device.ReadReg(device.SysClockSourceKey); src != device.ClockSourceHSI {
		t.Fatalf("user clock configuration not restored: %#x", src)
	}
}

func TestSimulatedBoundedError(t *testing.T) {
	target := startTarget(t)
	c := newCalibrator(target)

	res, err := c.BoundedError(context.Background(), 60000)
	if err != nil {
		t.Fatalf("BoundedError: %v", err)
	}
	// medium is factory-2 (80 kHz off), the next candidate factory-3 is 40 kHz off.
	if res.Status != calibration.StatusSuccess || res.Trim != DefaultModel.FactoryTrim-3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(res.Steps))
	}
}

func TestSimulatedLSI(t *testing.T) {
	target := startTarget(t)

	if err := target.Device.ConfigureLSIClock(); err != nil {
		t.Fatalf("ConfigureLSIClock: %v", err)
	}
	if err := target.Device.ConfigureCaptureTimer(0, 8); err != nil {
		t.Fatalf("ConfigureCaptureTimer: %v", err)
	}
	if err := target.Device.SetTrim(DefaultModel.FactoryTrim - 4); err != nil {
		t.Fatalf("SetTrim: %v", err)
	}

	m := &capture.LSIMeter{
		Averager: &capture.Averager{Channel: target.Channel(), Samples: 10, EdgeTimeout: 5 * time.Second},
		HSIHz:    16000000,
		Divider:  8,
	}
	hz, err := m.Measure(context.Background())
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if !within(hz, 38000, 50) {
		t.Fatalf("LSI measured %d, want about 38000", hz)
	}
}

func TestSimulatedDividerFollowsRegister(t *testing.T) {
	target := startTarget(t)

	for _, divider := range []uint8{4, 1, 8} {
		if err := target.Device.ConfigureReferenceClock(); err != nil {
			t.Fatalf("ConfigureReferenceClock: %v", err)
		}
		if err := target.Device.ConfigureCaptureTimer(0, divider); err != nil {
			t.Fatalf("ConfigureCaptureTimer: %v", err)
		}

		m := &capture.HSIMeter{
			Averager:    &capture.Averager{Channel: target.Channel(), Samples: 4, EdgeTimeout: 5 * time.Second},
			ReferenceHz: target.Model.LSEHz / uint32(divider),
		}
		hz, err := m.Measure(context.Background())
		if err != nil {
			t.Fatalf("divider %d: Measure: %v", divider, err)
		}
		// One counter tick of quantisation at this reference.
		if !within(hz, DefaultModel.HSIHz, m.ReferenceHz) {
			t.Fatalf("divider %d: measured %d, want about %d", divider, hz, DefaultModel.HSIHz)
		}
		if target.Cell.Divider() != divider {
			t.Fatalf("cell divider = %d, want %d", target.Cell.Divider(), divider)
		}
	}
}

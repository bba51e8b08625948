package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rccal/pkg/calibration"
	"github.com/charlie0129/rccal/pkg/capture"
	"github.com/charlie0129/rccal/pkg/display"
	"github.com/charlie0129/rccal/pkg/events"
	"github.com/charlie0129/rccal/pkg/types"
	"github.com/charlie0129/rccal/pkg/watchdog"
)

// ErrCalibrationInProgress is returned when a run is requested while another
// one holds the bench.
var ErrCalibrationInProgress = errors.New("calibration already in progress")

var (
	// runMu serialises the runs on the bench.
	runMu = &sync.Mutex{}

	statusMu = &sync.RWMutex{}
	status   = &types.Status{}
)

func currentStatus() types.Status {
	statusMu.RLock()
	defer statusMu.RUnlock()
	return *status
}

func updateStatus(fn func(s *types.Status)) {
	statusMu.Lock()
	defer statusMu.Unlock()
	fn(status)
	status.UpdatedAt = time.Now()
}

// exclusive runs fn while holding the bench, or fails immediately.
func exclusive(name string, fn func() error) error {
	if !runMu.TryLock() {
		return ErrCalibrationInProgress
	}
	defer runMu.Unlock()

	updateStatus(func(s *types.Status) { s.Running = name })
	err := fn()
	updateStatus(func(s *types.Status) {
		s.Running = ""
		s.LastError = ""
		if err != nil {
			s.LastError = err.Error()
		}
	})
	return err
}

func newAverager(samples int) *capture.Averager {
	return &capture.Averager{
		Channel:     bench.Channel,
		Samples:     samples,
		EdgeTimeout: conf.CaptureTimeout(),
	}
}

func newCalibrator(strategy calibration.Strategy) *calibration.Calibrator {
	divider := conf.InputDivider()
	return &calibration.Calibrator{
		Trim: bench.Target,
		Meter: &capture.HSIMeter{
			Averager:     newAverager(conf.SampleCount()),
			ReferenceHz:  conf.ReferenceHz() / uint32(divider),
			PrescalerExp: conf.TimerPrescalerExp(),
		},
		Clock:        bench.Target,
		Window:       conf.Window(),
		TargetHz:     conf.TargetHz(),
		PrescalerExp: conf.TimerPrescalerExp(),
		Divider:      divider,
		OnStep: func(s calibration.Step) {
			sseHub.Publish(events.CalibrationStep, events.CalibrationStepEvent{
				Strategy: string(strategy),
				Index:    s.Index,
				Trim:     s.Trim,
				Hz:       s.Hz,
				ErrorHz:  s.ErrorHz,
				Ts:       time.Now().Unix(),
			})
		},
	}
}

func finishRun(strategy calibration.Strategy, steps []calibration.Step, r display.Report, trim uint8) {
	sum := calibration.Summarize(steps)
	updateStatus(func(s *types.Status) {
		s.Summary = &sum
		s.Report = &r
	})

	if err := screen.Show(r); err != nil {
		logrus.WithError(err).Warn("failed to show calibration report")
	}
	logrus.WithField("report", r.String()).Info("calibration report")

	sseHub.Publish(events.CalibrationDone, events.CalibrationDoneEvent{
		Strategy: string(strategy),
		Status:   string(r.Status),
		Trim:     trim,
		BeforeHz: r.BeforeHz,
		AfterHz:  r.AfterHz,
		Ts:       time.Now().Unix(),
	})
}

func runMinError(ctx context.Context) (*calibration.MinErrorResult, error) {
	var res *calibration.MinErrorResult
	err := exclusive(string(calibration.StrategyMinError), func() error {
		var err error
		res, err = newCalibrator(calibration.StrategyMinError).MinError(ctx)
		if err != nil {
			return pkgerrors.Wrap(err, "minimum-error calibration failed")
		}

		updateStatus(func(s *types.Status) { s.MinError = res })
		finishRun(calibration.StrategyMinError, res.Steps, display.Report{
			Status:   calibration.StatusSuccess,
			BeforeHz: res.DefaultHz,
			AfterHz:  res.OptimalHz,
		}, res.OptimalTrim)
		return nil
	})
	return res, err
}

func runBounded(ctx context.Context, maxErrorHz uint32) (*calibration.BoundedResult, error) {
	var res *calibration.BoundedResult
	err := exclusive(string(calibration.StrategyBounded), func() error {
		var err error
		res, err = newCalibrator(calibration.StrategyBounded).BoundedError(ctx, maxErrorHz)
		if err != nil {
			return pkgerrors.Wrap(err, "bounded-error calibration failed")
		}

		updateStatus(func(s *types.Status) { s.Bounded = res })
		// The first step is taken at the window midpoint, the board shows it
		// as the before value.
		finishRun(calibration.StrategyBounded, res.Steps, display.Report{
			Status:   res.Status,
			BeforeHz: res.Steps[0].Hz,
			AfterHz:  res.Hz,
		}, res.Trim)
		return nil
	})
	return res, err
}

// lsiTimerHz is the clock the capture timer counts during an LSI
// measurement: the last calibrated HSI, or the nominal one.
func lsiTimerHz() uint32 {
	s := currentStatus()
	hz := conf.TargetHz()
	switch {
	case s.Bounded != nil && s.Bounded.Status == calibration.StatusSuccess:
		hz = s.Bounded.Hz
	case s.MinError != nil:
		hz = s.MinError.OptimalHz
	}
	return hz >> conf.TimerPrescalerExp()
}

func measureLSI(ctx context.Context) (hz uint32, err error) {
	t := bench.Target
	if err := t.ConfigureLSIClock(); err != nil {
		return 0, pkgerrors.Wrap(err, "failed to select LSI")
	}
	defer func() {
		if rerr := t.RestoreUserConfiguration(); rerr != nil && err == nil {
			err = pkgerrors.Wrap(rerr, "failed to restore clock configuration")
		}
	}()
	if err := t.ConfigureCaptureTimer(conf.TimerPrescalerExp(), conf.InputDivider()); err != nil {
		return 0, pkgerrors.Wrap(err, "failed to configure capture timer")
	}

	m := &capture.LSIMeter{
		Averager: newAverager(conf.LSISampleCount()),
		HSIHz:    lsiTimerHz(),
		Divider:  conf.InputDivider(),
	}
	hz, err = m.Measure(ctx)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to measure LSI")
	}

	updateStatus(func(s *types.Status) { s.LSIHz = hz })
	sseHub.Publish(events.LSIMeasured, events.LSIMeasuredEvent{Hz: hz, Ts: time.Now().Unix()})
	logrus.WithField("frequency", hz).Info("lsi measured")
	return hz, nil
}

func runLSI(ctx context.Context) (uint32, error) {
	var hz uint32
	err := exclusive("LSI", func() error {
		var err error
		hz, err = measureLSI(ctx)
		return err
	})
	return hz, err
}

// runWatchdog programs the watchdog for timeoutUs, measuring the LSI first
// if it was never measured.
func runWatchdog(ctx context.Context, timeoutUs uint32) (*watchdog.Plan, error) {
	var plan *watchdog.Plan
	err := exclusive("Watchdog", func() error {
		lsi := currentStatus().LSIHz
		if lsi == 0 {
			var err error
			if lsi, err = measureLSI(ctx); err != nil {
				return err
			}
		}

		p, err := watchdog.Apply(bench.Target, timeoutUs, lsi)
		if err != nil {
			return err
		}
		plan = &p

		updateStatus(func(s *types.Status) { s.Watchdog = plan })
		sseHub.Publish(events.WatchdogConfigured, events.WatchdogConfiguredEvent{
			TimeoutUs: timeoutUs,
			Prescaler: p.Prescaler,
			Reload:    p.Reload,
			LSIHz:     lsi,
			Ts:        time.Now().Unix(),
		})
		return nil
	})
	return plan, err
}

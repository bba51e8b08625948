package device

import (
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rccal/pkg/calibration"
)

var _ calibration.Clock = &Device{}

// userConfKeys are saved before a calibration run reconfigures the clocks.
var userConfKeys = []string{SysClockDivKey, SysClockSourceKey, LowSpeedClockKey, TimerRouteKey}

func (d *Device) snapshotUserConf() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.userConf != nil {
		return nil
	}
	conf := make(map[string][]byte, len(userConfKeys))
	for _, key := range userConfKeys {
		v, err := d.Read(key)
		if err != nil {
			return pkgerrors.Wrapf(err, "failed to save %s", key)
		}
		conf[key] = v
	}
	d.userConf = conf
	return nil
}

func (d *Device) configureLowSpeed(source, control byte, controlKey string) error {
	if err := d.snapshotUserConf(); err != nil {
		return err
	}

	return d.writeSeq(
		regWrite{SysClockDivKey, 0x00},
		regWrite{SysClockSourceKey, ClockSourceHSI},
		regWrite{controlKey, control},
		regWrite{LowSpeedClockKey, source},
		regWrite{TimerRouteKey, TimerRouteMSR},
	)
}

// ConfigureReferenceClock runs the system from the undivided HSI and routes
// the LSE to the capture timer input.
func (d *Device) ConfigureReferenceClock() error {
	logrus.Tracef("ConfigureReferenceClock called")

	return d.configureLowSpeed(LowSpeedLSE, ControlOn, LSEControlKey)
}

// ConfigureLSIClock runs the system from the undivided HSI and routes the
// LSI to the capture timer input.
func (d *Device) ConfigureLSIClock() error {
	logrus.Tracef("ConfigureLSIClock called")

	return d.configureLowSpeed(LowSpeedLSI, ControlOn, LSIControlKey)
}

// ConfigureCaptureTimer sets the timer counter prescaler to 2^prescalerExp
// and the capture input divider.
func (d *Device) ConfigureCaptureTimer(prescalerExp, divider uint8) error {
	logrus.WithFields(logrus.Fields{
		"prescalerExp": prescalerExp,
		"divider":      divider,
	}).Tracef("ConfigureCaptureTimer called")

	if prescalerExp > 7 {
		return pkgerrors.Errorf("timer prescaler exponent must be at most 7, got %d", prescalerExp)
	}

	icpsc, err := CaptureDividerBits(divider)
	if err != nil {
		return err
	}

	return d.writeSeq(
		regWrite{TimerPrescalerKey, prescalerExp},
		regWrite{TimerICPrescKey, icpsc},
	)
}

// RestoreUserConfiguration puts back the clock settings saved by the last
// Configure call.
func (d *Device) RestoreUserConfiguration() error {
	logrus.Tracef("RestoreUserConfiguration called")

	d.mu.Lock()
	conf := d.userConf
	d.userConf = nil
	d.mu.Unlock()

	for _, key := range userConfKeys {
		v, ok := conf[key]
		if !ok {
			continue
		}
		if err := d.Write(key, v); err != nil {
			return pkgerrors.Wrapf(err, "failed to restore %s", key)
		}
	}
	return nil
}

// CaptureDividerBits encodes an input capture divider for TIM2_ICPSC.
func CaptureDividerBits(divider uint8) (byte, error) {
	switch divider {
	case 1:
		return 0, nil
	case 2:
		return 1, nil
	case 4:
		return 2, nil
	case 8:
		return 3, nil
	}
	return 0, pkgerrors.Errorf("capture divider must be 1, 2, 4 or 8, got %d", divider)
}

// CaptureDivider returns the programmed input capture divider.
func (d *Device) CaptureDivider() (uint8, error) {
	v, err := d.ReadReg(TimerICPrescKey)
	if err != nil {
		return 0, err
	}
	if v > 3 {
		return 0, pkgerrors.Errorf("invalid %s value %#x", TimerICPrescKey, v)
	}
	return 1 << v, nil
}

// TimerPrescalerExp returns the programmed timer prescaler exponent.
func (d *Device) TimerPrescalerExp() (uint8, error) {
	return d.ReadReg(TimerPrescalerKey)
}

// LowSpeedSource returns the low-speed clock routed to the timer.
func (d *Device) LowSpeedSource() (byte, error) {
	return d.ReadReg(LowSpeedClockKey)
}

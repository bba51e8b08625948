package device

import (
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rccal/pkg/calibration"
)

var _ calibration.TrimRegister = &Device{}

// FactoryTrim returns the factory HSI calibration value.
func (d *Device) FactoryTrim() (uint8, error) {
	logrus.Tracef("FactoryTrim called")

	return d.ReadReg(HSICalibrationKey)
}

// SetTrim unlocks and writes the HSI trim register.
func (d *Device) SetTrim(v uint8) error {
	logrus.Tracef("SetTrim(%d) called", v)

	return d.writeSeq(
		regWrite{HSIUnlockKey, HSIUnlock1},
		regWrite{HSIUnlockKey, HSIUnlock2},
		regWrite{HSITrimKey, v},
	)
}

// CurrentTrim returns the programmed HSI trim value.
func (d *Device) CurrentTrim() (uint8, error) {
	return d.ReadReg(HSITrimKey)
}

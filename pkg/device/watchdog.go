package device

import (
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rccal/pkg/watchdog"
)

var _ watchdog.Programmer = &Device{}

// Program enables the independent watchdog with a validated plan.
func (d *Device) Program(p watchdog.Plan) error {
	logrus.WithFields(logrus.Fields{
		"prescalerIndex": p.PrescalerIndex,
		"reload":         p.Reload,
	}).Tracef("Program called")

	return d.writeSeq(
		regWrite{WatchdogKeyKey, WatchdogEnable},
		regWrite{WatchdogKeyKey, WatchdogAccess},
		regWrite{WatchdogPrescalerKey, p.PrescalerIndex},
		regWrite{WatchdogReloadKey, p.Reload},
		regWrite{WatchdogKeyKey, WatchdogRefresh},
	)
}

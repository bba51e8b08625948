package device

// Register keys of the clock controller, the capture timer and the
// independent watchdog.
const (
	HSICalibrationKey = "CLK_HSICALR"
	HSITrimKey        = "CLK_HSITRIMR"
	HSIUnlockKey      = "CLK_HSIUNLCKR"
	SysClockDivKey    = "CLK_CKDIVR"
	SysClockSourceKey = "CLK_SWR"
	LowSpeedClockKey  = "CLK_CBEEPR"
	LSEControlKey     = "CLK_ECKCR"
	LSIControlKey     = "CLK_ICKCR"
	TimerRouteKey     = "BEEP_CSR1"

	TimerPrescalerKey = "TIM2_PSCR"
	TimerICPrescKey   = "TIM2_ICPSC"

	WatchdogKeyKey       = "IWDG_KR"
	WatchdogPrescalerKey = "IWDG_PR"
	WatchdogReloadKey    = "IWDG_RLR"
)

// Register values.
const (
	ClockSourceHSI byte = 0x01
	ClockSourceLSE byte = 0x08

	LowSpeedLSI byte = 0x02
	LowSpeedLSE byte = 0x04

	ControlOn byte = 0x01
	// TimerRouteMSR connects the low-speed clock to the timer capture input.
	TimerRouteMSR byte = 0x01

	HSIUnlock1 byte = 0xAC
	HSIUnlock2 byte = 0x35

	WatchdogEnable  byte = 0xCC
	WatchdogAccess  byte = 0x55
	WatchdogRefresh byte = 0xAA
)

var allKeys = []string{
	HSICalibrationKey,
	HSITrimKey,
	HSIUnlockKey,
	SysClockDivKey,
	SysClockSourceKey,
	LowSpeedClockKey,
	LSEControlKey,
	LSIControlKey,
	TimerRouteKey,
	TimerPrescalerKey,
	TimerICPrescKey,
	WatchdogKeyKey,
	WatchdogPrescalerKey,
	WatchdogReloadKey,
}

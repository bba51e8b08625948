package device

import (
	"reflect"
	"testing"

	"github.com/charlie0129/rccal/pkg/watchdog"
)

func TestTrimRegister(t *testing.T) {
	d, conn := NewMock(map[string][]byte{HSICalibrationKey: {0x60}})

	factory, err := d.FactoryTrim()
	if err != nil || factory != 0x60 {
		t.Fatalf("FactoryTrim() = %#x, %v", factory, err)
	}

	if err := d.SetTrim(0x55); err != nil {
		t.Fatalf("SetTrim: %v", err)
	}
	if got, _ := d.CurrentTrim(); got != 0x55 {
		t.Fatalf("CurrentTrim() = %#x", got)
	}

	want := []string{HSIUnlockKey, HSIUnlockKey, HSITrimKey}
	if !reflect.DeepEqual(conn.Writes(), want) {
		t.Fatalf("writes = %v, want %v", conn.Writes(), want)
	}
}

func TestClockConfigureAndRestore(t *testing.T) {
	d, _ := NewMock(map[string][]byte{
		SysClockDivKey:    {0x03},
		SysClockSourceKey: {ClockSourceLSE},
	})

	if err := d.ConfigureReferenceClock(); err != nil {
		t.Fatalf("ConfigureReferenceClock: %v", err)
	}
	if err := d.ConfigureCaptureTimer(2, 8); err != nil {
		t.Fatalf("ConfigureCaptureTimer: %v", err)
	}

	if src, _ := d.LowSpeedSource(); src != LowSpeedLSE {
		t.Fatalf("low-speed source = %#x", src)
	}
	if v, _ := d.ReadReg(SysClockSourceKey); v != ClockSourceHSI {
		t.Fatalf("system clock source = %#x", v)
	}
	if exp, _ := d.TimerPrescalerExp(); exp != 2 {
		t.Fatalf("timer prescaler = %d", exp)
	}
	if v, _ := d.ReadReg(TimerICPrescKey); v != 3 {
		t.Fatalf("capture prescaler = %d", v)
	}
	if div, err := d.CaptureDivider(); err != nil || div != 8 {
		t.Fatalf("CaptureDivider() = %d, %v", div, err)
	}

	// A second configure must not overwrite the saved user configuration.
	if err := d.ConfigureLSIClock(); err != nil {
		t.Fatalf("ConfigureLSIClock: %v", err)
	}

	if err := d.RestoreUserConfiguration(); err != nil {
		t.Fatalf("RestoreUserConfiguration: %v", err)
	}
	if v, _ := d.ReadReg(SysClockDivKey); v != 0x03 {
		t.Fatalf("clock divider not restored: %#x", v)
	}
	if v, _ := d.ReadReg(SysClockSourceKey); v != ClockSourceLSE {
		t.Fatalf("clock source not restored: %#x", v)
	}
}

func TestConfigureCaptureTimerInvalid(t *testing.T) {
	d, _ := NewMock(nil)
	if err := d.ConfigureCaptureTimer(0, 3); err == nil {
		t.Fatalf("expected error for divider 3")
	}
	if err := d.ConfigureCaptureTimer(8, 1); err == nil {
		t.Fatalf("expected error for prescaler exponent 8")
	}
}

func TestProgramWatchdog(t *testing.T) {
	d, conn := NewMock(nil)
	if err := d.Program(watchdog.Plan{PrescalerIndex: 0, Prescaler: 4, Reload: 189}); err != nil {
		t.Fatalf("Program: %v", err)
	}
	if v, _ := d.ReadReg(WatchdogReloadKey); v != 189 {
		t.Fatalf("reload = %d", v)
	}
	if v, _ := d.ReadReg(WatchdogKeyKey); v != WatchdogRefresh {
		t.Fatalf("last key = %#x", v)
	}
	if n := len(conn.Writes()); n != 5 {
		t.Fatalf("expected 5 writes, got %d", n)
	}
}

func TestReadMissingRegister(t *testing.T) {
	d := New(NewMockConnection())
	if _, err := d.FactoryTrim(); err == nil {
		t.Fatalf("expected error for missing register")
	}
}

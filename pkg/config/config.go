package config

import (
	"time"

	"github.com/charlie0129/rccal/pkg/calibration"
)

// Backends understood by the daemon.
const (
	BackendSim    = "sim"
	BackendSerial = "serial"
)

type Config interface {
	Backend() string
	SerialPort() string
	SerialBaud() int

	// ReferenceHz is the undivided reference oscillator frequency.
	ReferenceHz() uint32
	InputDivider() uint8
	TimerPrescalerExp() uint8
	TargetHz() uint32
	Window() calibration.Window
	SampleCount() int
	MaxAllowedError() uint32
	// CaptureTimeout bounds the wait for one capture edge. Zero waits
	// forever.
	CaptureTimeout() time.Duration
	WatchdogTimeoutUs() uint32
	LSISampleCount() int
	AllowNonRootAccess() bool

	SetTargetHz(uint32) error
	SetWindow(calibration.Window) error
	SetSampleCount(int) error
	SetMaxAllowedError(uint32)
	SetCaptureTimeout(time.Duration) error
	SetWatchdogTimeoutUs(uint32) error
	SetAllowNonRootAccess(bool)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}

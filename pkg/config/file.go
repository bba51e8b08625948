package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rccal/pkg/calibration"
	"github.com/charlie0129/rccal/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		Backend:           ptr.To(BackendSim),
		SerialPort:        ptr.To("/dev/ttyUSB0"),
		SerialBaud:        ptr.To(115200),
		ReferenceHz:       ptr.To(uint32(32768)),
		InputDivider:      ptr.To(uint8(8)),
		TimerPrescalerExp: ptr.To(uint8(0)),
		TargetHz:          ptr.To(uint32(16000000)),
		LowerThreshold:    ptr.To(calibration.DefaultWindow.Lower),
		UpperThreshold:    ptr.To(calibration.DefaultWindow.Upper),
		SampleCount:       ptr.To(10),
		MaxAllowedError:   ptr.To(uint32(60000)),
		CaptureTimeoutMs:  ptr.To(1000),
		WatchdogTimeoutUs: ptr.To(uint32(20000)),
		LSISampleCount:    ptr.To(10),
		// The socket is root-only unless the user opts in.
		AllowNonRootAccess: ptr.To(false),
	}
)

// maxThreshold keeps a window within half the trim range.
const maxThreshold = 127

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

type RawFileConfig struct {
	Backend            *string `json:"backend,omitempty"`
	SerialPort         *string `json:"serialPort,omitempty"`
	SerialBaud         *int    `json:"serialBaud,omitempty"`
	ReferenceHz        *uint32 `json:"referenceHz,omitempty"`
	InputDivider       *uint8  `json:"inputDivider,omitempty"`
	TimerPrescalerExp  *uint8  `json:"timerPrescalerExp,omitempty"`
	TargetHz           *uint32 `json:"targetHz,omitempty"`
	LowerThreshold     *uint8  `json:"lowerThreshold,omitempty"`
	UpperThreshold     *uint8  `json:"upperThreshold,omitempty"`
	SampleCount        *int    `json:"sampleCount,omitempty"`
	MaxAllowedError    *uint32 `json:"maxAllowedError,omitempty"`
	CaptureTimeoutMs   *int    `json:"captureTimeoutMs,omitempty"`
	WatchdogTimeoutUs  *uint32 `json:"watchdogTimeoutUs,omitempty"`
	LSISampleCount     *int    `json:"lsiSampleCount,omitempty"`
	AllowNonRootAccess *bool   `json:"allowNonRootAccess,omitempty"`
}

// Validate checks the fields that are set.
func (c *RawFileConfig) Validate() error {
	if c.Backend != nil && *c.Backend != BackendSim && *c.Backend != BackendSerial {
		return pkgerrors.Errorf("unknown backend %q", *c.Backend)
	}
	if c.InputDivider != nil {
		switch *c.InputDivider {
		case 1, 2, 4, 8:
		default:
			return pkgerrors.Errorf("input divider must be 1, 2, 4 or 8, got %d", *c.InputDivider)
		}
	}
	if c.TimerPrescalerExp != nil && *c.TimerPrescalerExp > 7 {
		return pkgerrors.Errorf("timer prescaler exponent must be at most 7, got %d", *c.TimerPrescalerExp)
	}
	if c.ReferenceHz != nil && *c.ReferenceHz == 0 {
		return pkgerrors.New("reference frequency must be positive")
	}
	if c.TargetHz != nil && *c.TargetHz == 0 {
		return pkgerrors.New("target frequency must be positive")
	}
	if c.SampleCount != nil && *c.SampleCount <= 0 {
		return pkgerrors.Errorf("sample count must be positive, got %d", *c.SampleCount)
	}
	if c.LSISampleCount != nil && *c.LSISampleCount <= 0 {
		return pkgerrors.Errorf("lsi sample count must be positive, got %d", *c.LSISampleCount)
	}
	if c.CaptureTimeoutMs != nil && *c.CaptureTimeoutMs < 0 {
		return pkgerrors.Errorf("capture timeout must not be negative, got %d", *c.CaptureTimeoutMs)
	}
	if c.WatchdogTimeoutUs != nil && *c.WatchdogTimeoutUs == 0 {
		return pkgerrors.New("watchdog timeout must be positive")
	}
	if c.LowerThreshold != nil && *c.LowerThreshold > maxThreshold {
		return pkgerrors.Errorf("lower threshold must be at most %d, got %d", maxThreshold, *c.LowerThreshold)
	}
	if c.UpperThreshold != nil && *c.UpperThreshold > maxThreshold {
		return pkgerrors.Errorf("upper threshold must be at most %d, got %d", maxThreshold, *c.UpperThreshold)
	}
	return nil
}

// NewRawFileConfigFromConfig resolves every field of c.
func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	w := c.Window()
	return &RawFileConfig{
		Backend:            ptr.To(c.Backend()),
		SerialPort:         ptr.To(c.SerialPort()),
		SerialBaud:         ptr.To(c.SerialBaud()),
		ReferenceHz:        ptr.To(c.ReferenceHz()),
		InputDivider:       ptr.To(c.InputDivider()),
		TimerPrescalerExp:  ptr.To(c.TimerPrescalerExp()),
		TargetHz:           ptr.To(c.TargetHz()),
		LowerThreshold:     ptr.To(w.Lower),
		UpperThreshold:     ptr.To(w.Upper),
		SampleCount:        ptr.To(c.SampleCount()),
		MaxAllowedError:    ptr.To(c.MaxAllowedError()),
		CaptureTimeoutMs:   ptr.To(int(c.CaptureTimeout() / time.Millisecond)),
		WatchdogTimeoutUs:  ptr.To(c.WatchdogTimeoutUs()),
		LSISampleCount:     ptr.To(c.LSISampleCount()),
		AllowNonRootAccess: ptr.To(c.AllowNonRootAccess()),
	}, nil
}

// read resolves one field under the read lock.
func read[T any](f *File, field func(*RawFileConfig) *T) T {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		panic("config is nil")
	}

	return ptr.Deref(field(f.c), *field(defaultFileConfig))
}

func (f *File) Backend() string {
	return read(f, func(c *RawFileConfig) *string { return c.Backend })
}

func (f *File) SerialPort() string {
	return read(f, func(c *RawFileConfig) *string { return c.SerialPort })
}

func (f *File) SerialBaud() int {
	return read(f, func(c *RawFileConfig) *int { return c.SerialBaud })
}

func (f *File) ReferenceHz() uint32 {
	return read(f, func(c *RawFileConfig) *uint32 { return c.ReferenceHz })
}

func (f *File) InputDivider() uint8 {
	return read(f, func(c *RawFileConfig) *uint8 { return c.InputDivider })
}

func (f *File) TimerPrescalerExp() uint8 {
	return read(f, func(c *RawFileConfig) *uint8 { return c.TimerPrescalerExp })
}

func (f *File) TargetHz() uint32 {
	return read(f, func(c *RawFileConfig) *uint32 { return c.TargetHz })
}

func (f *File) Window() calibration.Window {
	return calibration.Window{
		Lower: read(f, func(c *RawFileConfig) *uint8 { return c.LowerThreshold }),
		Upper: read(f, func(c *RawFileConfig) *uint8 { return c.UpperThreshold }),
	}
}

func (f *File) SampleCount() int {
	return read(f, func(c *RawFileConfig) *int { return c.SampleCount })
}

func (f *File) MaxAllowedError() uint32 {
	return read(f, func(c *RawFileConfig) *uint32 { return c.MaxAllowedError })
}

func (f *File) CaptureTimeout() time.Duration {
	ms := read(f, func(c *RawFileConfig) *int { return c.CaptureTimeoutMs })
	return time.Duration(ms) * time.Millisecond
}

func (f *File) WatchdogTimeoutUs() uint32 {
	return read(f, func(c *RawFileConfig) *uint32 { return c.WatchdogTimeoutUs })
}

func (f *File) LSISampleCount() int {
	return read(f, func(c *RawFileConfig) *int { return c.LSISampleCount })
}

func (f *File) AllowNonRootAccess() bool {
	return read(f, func(c *RawFileConfig) *bool { return c.AllowNonRootAccess })
}

func (f *File) SetTargetHz(hz uint32) error {
	if hz == 0 {
		return pkgerrors.New("target frequency must be positive")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.TargetHz = &hz
	return nil
}

func (f *File) SetWindow(w calibration.Window) error {
	if w.Lower > maxThreshold || w.Upper > maxThreshold {
		return pkgerrors.Errorf("window %d/%d exceeds half the trim range", w.Lower, w.Upper)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.LowerThreshold = &w.Lower
	f.c.UpperThreshold = &w.Upper
	return nil
}

func (f *File) SetSampleCount(n int) error {
	if n <= 0 {
		return pkgerrors.Errorf("sample count must be positive, got %d", n)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.SampleCount = &n
	return nil
}

func (f *File) SetMaxAllowedError(hz uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.MaxAllowedError = &hz
}

func (f *File) SetCaptureTimeout(d time.Duration) error {
	if d < 0 {
		return pkgerrors.Errorf("capture timeout must not be negative, got %s", d)
	}
	ms := int(d / time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.CaptureTimeoutMs = &ms
	return nil
}

func (f *File) SetWatchdogTimeoutUs(us uint32) error {
	if us == 0 {
		return pkgerrors.New("watchdog timeout must be positive")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.WatchdogTimeoutUs = &us
	return nil
}

func (f *File) SetAllowNonRootAccess(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.AllowNonRootAccess = &b
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file means defaults. f.c must not stay nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// json.Decoder cannot tell an empty file from a broken one.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	if err := conf.Validate(); err != nil {
		return pkgerrors.Wrapf(err, "invalid config in file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	w := f.Window()
	return logrus.Fields{
		"backend":            f.Backend(),
		"referenceHz":        f.ReferenceHz(),
		"inputDivider":       f.InputDivider(),
		"timerPrescalerExp":  f.TimerPrescalerExp(),
		"targetHz":           f.TargetHz(),
		"lowerThreshold":     w.Lower,
		"upperThreshold":     w.Upper,
		"sampleCount":        f.SampleCount(),
		"maxAllowedError":    f.MaxAllowedError(),
		"captureTimeout":     f.CaptureTimeout().String(),
		"watchdogTimeoutUs":  f.WatchdogTimeoutUs(),
		"allowNonRootAccess": f.AllowNonRootAccess(),
	}
}

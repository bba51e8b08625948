package device

import (
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Device is a register-level view of the target microcontroller. It
// implements the trim register, clock configuration and watchdog
// programming collaborators.
type Device struct {
	conn Connection

	mu       sync.Mutex
	userConf map[string][]byte
}

// New returns a Device on conn.
func New(conn Connection) *Device {
	return &Device{conn: conn}
}

// NewMock returns a Device on a mocked register file with prefill values.
// Registers not in prefill start at zero.
func NewMock(prefillValues map[string][]byte) (*Device, *MockConnection) {
	conn := NewMockConnection()

	for _, key := range allKeys {
		_ = conn.Write(key, []byte{0x0})
	}
	for key, value := range prefillValues {
		if err := conn.Write(key, value); err != nil {
			panic(err)
		}
	}
	conn.writes = nil

	return New(conn), conn
}

// Open opens the connection.
func (d *Device) Open() error {
	return d.conn.Open()
}

// Close closes the connection.
func (d *Device) Close() error {
	return d.conn.Close()
}

// Read reads a register.
func (d *Device) Read(key string) ([]byte, error) {
	logrus.WithFields(logrus.Fields{
		"key": key,
	}).Trace("Trying to read register")

	v, err := d.conn.Read(key)
	if err != nil {
		return v, err
	}

	logrus.WithFields(logrus.Fields{
		"key": key,
		"val": v,
	}).Trace("Read register succeed")

	return v, nil
}

// Write writes a register.
func (d *Device) Write(key string, value []byte) error {
	logrus.WithFields(logrus.Fields{
		"key": key,
		"val": value,
	}).Trace("Trying to write register")

	err := d.conn.Write(key, value)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"key": key,
		"val": value,
	}).Trace("Write register succeed")

	return nil
}

// ReadReg reads a single-byte register.
func (d *Device) ReadReg(key string) (byte, error) {
	v, err := d.Read(key)
	if err != nil {
		return 0, err
	}
	if len(v) != 1 {
		return 0, pkgerrors.Errorf("register %s: expected 1 byte, got %d", key, len(v))
	}
	return v[0], nil
}

// WriteReg writes a single-byte register.
func (d *Device) WriteReg(key string, b byte) error {
	return d.Write(key, []byte{b})
}

type regWrite struct {
	key string
	val byte
}

func (d *Device) writeSeq(seq ...regWrite) error {
	for _, w := range seq {
		if err := d.WriteReg(w.key, w.val); err != nil {
			return pkgerrors.Wrapf(err, "failed to write %s", w.key)
		}
	}
	return nil
}

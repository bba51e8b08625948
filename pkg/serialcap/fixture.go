// Package serialcap drives a calibration bench fixture over a serial line.
//
// The fixture firmware owns the trim register and the capture timer of the
// part under test and speaks a line protocol:
//
//	F            -> F <factory trim>
//	T <trim>     -> OK
//	R            -> OK   (LSE to capture input)
//	L            -> OK   (LSI to capture input)
//	P <exp> <div>-> OK   (timer prescaler and capture divider)
//	U            -> OK   (restore user clock configuration)
//	W <idx> <rl> -> OK   (program watchdog)
//	A            -> C <ticks>  (one captured period)
//
// Any command may be answered with "E <message>". Every request gets
// exactly one reply, in order.
package serialcap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/charlie0129/rccal/pkg/calibration"
	"github.com/charlie0129/rccal/pkg/capture"
	"github.com/charlie0129/rccal/pkg/watchdog"
)

var (
	// ErrFixture is returned when the fixture answers with an error line.
	ErrFixture = errors.New("fixture error")
	// ErrClosed is returned after the serial line closed.
	ErrClosed = errors.New("fixture connection closed")
)

const (
	// DefaultBaudRate of the fixture firmware.
	DefaultBaudRate = 115200
	// DefaultCommandTimeout bounds the wait for a reply to a command other
	// than a capture.
	DefaultCommandTimeout = 2 * time.Second
)

// Fixture is a bench fixture on a serial line.
type Fixture struct {
	// CommandTimeout bounds every command except captures, which are
	// bounded by the context given to WaitForEdge.
	CommandTimeout time.Duration

	rw io.ReadWriteCloser

	mu    sync.Mutex
	lines chan string
	err   error
	// stale counts replies still owed to requests whose wait was abandoned.
	stale int
	done  chan struct{}
}

var (
	_ calibration.TrimRegister = &Fixture{}
	_ calibration.Clock        = &Fixture{}
	_ capture.Channel          = &Fixture{}
	_ watchdog.Programmer      = &Fixture{}
)

// Open opens the serial port at baud.
func Open(portName string, baud int) (*Fixture, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open serial port %s", portName)
	}
	logrus.WithFields(logrus.Fields{
		"port": portName,
		"baud": baud,
	}).Info("fixture serial port opened")

	return New(port), nil
}

// New returns a fixture speaking on rw.
func New(rw io.ReadWriteCloser) *Fixture {
	f := &Fixture{
		CommandTimeout: DefaultCommandTimeout,

		rw:    rw,
		lines: make(chan string, 16),
		done:  make(chan struct{}),
	}
	go f.readLoop()
	return f
}

func (f *Fixture) readLoop() {
	defer close(f.done)

	sc := bufio.NewScanner(f.rw)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		logrus.WithField("line", line).Trace("fixture rx")
		f.lines <- line
	}

	f.mu.Lock()
	f.err = sc.Err()
	f.mu.Unlock()
}

// Close closes the serial line.
func (f *Fixture) Close() error {
	return f.rw.Close()
}

func (f *Fixture) send(cmd string) error {
	logrus.WithField("cmd", cmd).Trace("fixture tx")
	if _, err := io.WriteString(f.rw, cmd+"\n"); err != nil {
		return pkgerrors.Wrapf(err, "failed to send %q", cmd)
	}
	return nil
}

// recv returns the reply to the oldest request. If ctx ends first, the
// reply is owed and skipped when it arrives.
func (f *Fixture) recv(ctx context.Context) (string, error) {
	for {
		select {
		case line := <-f.lines:
			if f.skipStale(line) {
				continue
			}
			if msg, ok := strings.CutPrefix(line, "E "); ok {
				return "", pkgerrors.Wrap(ErrFixture, msg)
			}
			return line, nil
		case <-f.done:
			// Lines read before the line closed are still delivered.
			select {
			case line := <-f.lines:
				if f.skipStale(line) {
					continue
				}
				return line, nil
			default:
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.err != nil {
				return "", pkgerrors.Wrap(ErrClosed, f.err.Error())
			}
			return "", ErrClosed
		case <-ctx.Done():
			f.mu.Lock()
			f.stale++
			f.mu.Unlock()
			return "", ctx.Err()
		}
	}
}

func (f *Fixture) skipStale(line string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stale == 0 {
		return false
	}
	f.stale--
	logrus.WithField("line", line).Debug("dropping late fixture reply")
	return true
}

func (f *Fixture) command(ctx context.Context, cmd string) (string, error) {
	if f.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.CommandTimeout)
		defer cancel()
	}
	if err := f.send(cmd); err != nil {
		return "", err
	}
	resp, err := f.recv(ctx)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "command %q", cmd)
	}
	return resp, nil
}

func (f *Fixture) expectOK(cmd string) error {
	resp, err := f.command(context.Background(), cmd)
	if err != nil {
		return err
	}
	if resp != "OK" {
		return pkgerrors.Errorf("command %q: unexpected response %q", cmd, resp)
	}
	return nil
}

func parseValue(resp, prefix string) (uint32, error) {
	v, ok := strings.CutPrefix(resp, prefix+" ")
	if !ok {
		return 0, pkgerrors.Errorf("unexpected response %q", resp)
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "invalid value in %q", resp)
	}
	return uint32(n), nil
}

func (f *Fixture) FactoryTrim() (uint8, error) {
	resp, err := f.command(context.Background(), "F")
	if err != nil {
		return 0, err
	}
	v, err := parseValue(resp, "F")
	if err != nil {
		return 0, err
	}
	if v > 0xFF {
		return 0, pkgerrors.Errorf("factory trim %d exceeds 8 bits", v)
	}
	return uint8(v), nil
}

func (f *Fixture) SetTrim(v uint8) error {
	return f.expectOK(fmt.Sprintf("T %d", v))
}

func (f *Fixture) ConfigureReferenceClock() error {
	return f.expectOK("R")
}

// ConfigureLSIClock routes the LSI to the capture input.
func (f *Fixture) ConfigureLSIClock() error {
	return f.expectOK("L")
}

func (f *Fixture) ConfigureCaptureTimer(prescalerExp, divider uint8) error {
	return f.expectOK(fmt.Sprintf("P %d %d", prescalerExp, divider))
}

func (f *Fixture) RestoreUserConfiguration() error {
	return f.expectOK("U")
}

func (f *Fixture) Program(p watchdog.Plan) error {
	return f.expectOK(fmt.Sprintf("W %d %d", p.PrescalerIndex, p.Reload))
}

// Arm asks the fixture for one captured period.
func (f *Fixture) Arm() error {
	return f.send("A")
}

// WaitForEdge waits for the capture report requested by Arm.
func (f *Fixture) WaitForEdge(ctx context.Context) (uint32, error) {
	resp, err := f.recv(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return 0, capture.ErrStalledCapture
		}
		return 0, err
	}
	return parseValue(resp, "C")
}

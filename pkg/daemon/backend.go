package daemon

import (
	"context"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rccal/pkg/calibration"
	"github.com/charlie0129/rccal/pkg/capture"
	"github.com/charlie0129/rccal/pkg/config"
	"github.com/charlie0129/rccal/pkg/serialcap"
	"github.com/charlie0129/rccal/pkg/sim"
	"github.com/charlie0129/rccal/pkg/watchdog"
)

// Target is the part under calibration.
type Target interface {
	calibration.TrimRegister
	calibration.Clock
	watchdog.Programmer
	// ConfigureLSIClock routes the low-speed internal oscillator to the
	// capture input.
	ConfigureLSIClock() error
}

// Bench is a target with its capture channel.
type Bench struct {
	Target  Target
	Channel capture.Channel

	// run, if set, blocks for the lifetime of the backend.
	run   func(ctx context.Context) error
	close func() error
}

// Run blocks until ctx ends or the backend fails.
func (b *Bench) Run(ctx context.Context) error {
	if b.run == nil {
		<-ctx.Done()
		return nil
	}
	return b.run(ctx)
}

// Close releases the backend.
func (b *Bench) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// newSimBench returns a bench on a simulated target. Its producer starts
// with Run.
func newSimBench(m sim.Model, divider uint8) (*Bench, error) {
	t, err := sim.NewTarget(m, divider)
	if err != nil {
		return nil, err
	}
	return &Bench{
		Target:  t.Device,
		Channel: t.Channel(),
		run: func(ctx context.Context) error {
			t.Start(ctx)
			t.Wait()
			return nil
		},
	}, nil
}

func newSerialBench(port string, baud int) (*Bench, error) {
	fx, err := serialcap.Open(port, baud)
	if err != nil {
		return nil, err
	}
	return &Bench{
		Target:  fx,
		Channel: fx,
		close:   fx.Close,
	}, nil
}

// BenchOptions selects the backend. Empty fields fall back to the config.
type BenchOptions struct {
	Backend    string
	SerialPort string
}

// resolve fills the unset fields from c and checks the backend.
func (o BenchOptions) resolve(c config.Config) (BenchOptions, error) {
	if o.Backend == "" {
		o.Backend = c.Backend()
	}
	if o.SerialPort == "" {
		o.SerialPort = c.SerialPort()
	}
	switch o.Backend {
	case config.BackendSim, config.BackendSerial:
		return o, nil
	}
	return o, pkgerrors.Errorf("unknown backend %q", o.Backend)
}

// openBench is a seam for tests.
var openBench = func(c config.Config, o BenchOptions) (*Bench, error) {
	switch o.Backend {
	case config.BackendSim:
		m := sim.DefaultModel
		m.LSEHz = c.ReferenceHz()
		logrus.WithField("model", m).Info("using simulated target")
		return newSimBench(m, c.InputDivider())
	case config.BackendSerial:
		logrus.WithField("port", o.SerialPort).Info("using serial bench fixture")
		return newSerialBench(o.SerialPort, c.SerialBaud())
	}
	return nil, pkgerrors.Errorf("unknown backend %q", o.Backend)
}

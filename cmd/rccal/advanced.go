package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/rccal/pkg/capture"
	"github.com/charlie0129/rccal/pkg/display"
	"github.com/charlie0129/rccal/pkg/gpiocap"
	"github.com/charlie0129/rccal/pkg/watchdog"
)

func NewLSICommand() *cobra.Command {
	return &cobra.Command{
		Use:     "lsi",
		Short:   "Measure the low-speed internal oscillator",
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hz, err := apiClient().MeasureLSI()
			if err != nil {
				return fmt.Errorf("failed to measure lsi: %w", err)
			}
			cmd.Printf("LSI: %s\n", bold("%s", display.Frequency(hz)))
			return nil
		},
	}
}

func NewWatchdogCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "watchdog [timeoutUs]",
		Short:   "Program the independent watchdog from the measured LSI",
		GroupID: gBasic,
		Long: `Program the independent watchdog from the measured LSI.

The LSI is measured first if the daemon has no measurement yet. Without an
argument the daemon uses watchdogTimeoutUs from its config.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			timeoutUs, err := optionalUint32Arg(args, "timeout")
			if err != nil {
				return err
			}

			plan, err := apiClient().ConfigureWatchdog(timeoutUs)
			if err != nil {
				return fmt.Errorf("failed to configure watchdog: %w", err)
			}
			cmd.Printf("Watchdog: prescaler %s, reload %s\n", bold("%d", plan.Prescaler), bold("%d", plan.Reload))
			return nil
		},
	}
}

func NewPlanCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "plan <timeoutUs> <lsiHz>",
		Short:   "Compute a watchdog prescaler and reload offline",
		GroupID: gAdvanced,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			timeoutUs, err := parseUint32Arg(args[0], "timeout")
			if err != nil {
				return err
			}
			lsiHz, err := parseUint32Arg(args[1], "lsi frequency")
			if err != nil {
				return err
			}

			plan, err := watchdog.DeriveTimeout(timeoutUs, lsiHz)
			if err != nil {
				return fmt.Errorf("failed to derive watchdog timeout: %w", err)
			}
			cmd.Printf("Prescaler: %s (IWDG_PR=%d)\n", bold("%d", plan.Prescaler), plan.PrescalerIndex)
			cmd.Printf("Reload: %s\n", bold("%d", plan.Reload))
			cmd.Printf("Actual timeout: %s\n", bold("%s", plan.Duration(lsiHz)))
			return nil
		},
	}
}

var (
	measurePin     = "GPIO17"
	measureDivider = uint8(8)
	measureSamples = capture.DefaultSamples
	measureTimeout = time.Second
)

func NewMeasureCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "measure",
		Short:   "Measure the frequency of a signal on a host GPIO pin",
		GroupID: gAdvanced,
		Long: `Measure the frequency of a signal on a host GPIO pin.

Useful to check an MCO output or the reference crystal on the bench. Edges are
timestamped with the host clock, so the result is only as good as the host's
interrupt latency.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gc, err := gpiocap.Open(measurePin, measureDivider)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer func() {
				cancel()
				gc.Wait()
			}()
			gc.Start(ctx)

			logrus.WithField("pin", measurePin).Info("measuring")
			hz, err := gc.Meter(measureSamples, measureTimeout).Measure(ctx)
			if err != nil {
				return fmt.Errorf("failed to measure: %w", err)
			}
			cmd.Printf("%s: %s\n", measurePin, bold("%s", display.Frequency(hz)))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&measurePin, "pin", measurePin, "GPIO pin name")
	f.Uint8Var(&measureDivider, "divider", measureDivider, "act on every Nth edge (1, 2, 4 or 8)")
	f.IntVar(&measureSamples, "samples", measureSamples, "number of periods averaged")
	f.DurationVar(&measureTimeout, "edge-timeout", measureTimeout, "maximum wait for one period, 0 waits forever")

	return cmd
}

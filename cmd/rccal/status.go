package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/charlie0129/rccal/pkg/display"
)

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Get the current status of rccal",
		GroupID: gBasic,
		Long:    `Get the last calibration results, the measured LSI, the watchdog plan and the configuration of the daemon.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := apiClient()
			st, err := c.GetStatus()
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			conf, err := c.GetConfig()
			if err != nil {
				return fmt.Errorf("failed to get config: %w", err)
			}

			cmd.Println(bold("Bench:"))
			cmd.Printf("  Backend: %s\n", bold("%s", st.Backend))
			if st.Running != "" {
				cmd.Printf("  Running: %s\n", bold("%s", st.Running))
			}
			if st.LastError != "" {
				cmd.Printf("  Last error: %s\n", st.LastError)
			}
			cmd.Println()

			if st.Report != nil {
				cmd.Println(bold("Last calibration:"))
				if err := (&display.Terminal{W: os.Stdout}).Show(*st.Report); err != nil {
					return err
				}
				if st.Summary != nil {
					cmd.Printf("  Steps: %s\n", bold("%d", st.Summary.Steps))
					cmd.Printf("  Mean: %s (stddev %.0f Hz)\n", bold("%s", display.Frequency(uint32(st.Summary.MeanHz))), st.Summary.StdDevHz)
					cmd.Printf("  Error: %s to %s\n", bold("%d Hz", st.Summary.MinErrorHz), bold("%d Hz", st.Summary.MaxErrorHz))
					cmd.Printf("  Slope: %s\n", bold("%.0f Hz/step", st.Summary.HzPerStep))
				}
				cmd.Println()
			}

			cmd.Println(bold("Low-speed oscillator:"))
			if st.LSIHz != 0 {
				cmd.Printf("  LSI: %s\n", bold("%s", display.Frequency(st.LSIHz)))
			} else {
				cmd.Println("  LSI: not measured")
			}
			if st.Watchdog != nil && st.LSIHz != 0 {
				cmd.Printf("  Watchdog: prescaler %s, reload %s, timeout %s\n",
					bold("%d", st.Watchdog.Prescaler), bold("%d", st.Watchdog.Reload), bold("%s", st.Watchdog.Duration(st.LSIHz)))
			}
			cmd.Println()

			cmd.Println(bold("Configuration:"))
			if conf.TargetHz != nil {
				cmd.Printf("  Target: %s\n", bold("%s", display.Frequency(*conf.TargetHz)))
			}
			if conf.LowerThreshold != nil && conf.UpperThreshold != nil {
				cmd.Printf("  Trim window: %s\n", bold("-%d/+%d", *conf.LowerThreshold, *conf.UpperThreshold))
			}
			if conf.MaxAllowedError != nil {
				cmd.Printf("  Max allowed error: %s\n", bold("%d Hz", *conf.MaxAllowedError))
			}
			if conf.SampleCount != nil {
				cmd.Printf("  Samples per step: %s\n", bold("%d", *conf.SampleCount))
			}
			if conf.AllowNonRootAccess != nil {
				cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(*conf.AllowNonRootAccess))
			}
			return nil
		},
	}
}

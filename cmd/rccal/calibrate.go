package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/charlie0129/rccal/pkg/calibration"
	"github.com/charlie0129/rccal/pkg/display"
)

var showSteps = false

func NewCalibrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "calibrate",
		Short:   "Calibrate the HSI trim",
		GroupID: gBasic,
		Long: `Calibrate the HSI trim against the reference crystal.

min-error measures every candidate of the trim window and keeps the best one.
bounded tries candidates outward from the window midpoint and stops at the
first one within the allowed error, falling back to the factory trim.`,
	}

	cmd.PersistentFlags().BoolVar(&showSteps, "steps", false, "print every measured candidate")

	minErrCmd := &cobra.Command{
		Use:   "min-error",
		Short: "Sweep the whole trim window and keep the minimum-error candidate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := apiClient().CalibrateMinError()
			if err != nil {
				return fmt.Errorf("failed to calibrate: %w", err)
			}

			if showSteps {
				printSteps(cmd, res.Steps)
			}
			cmd.Printf("Factory trim: %s, optimal trim: %s\n", bold("%#02x", res.FactoryTrim), bold("%#02x", res.OptimalTrim))
			return (&display.Terminal{W: os.Stdout}).Show(display.Report{
				Status:   calibration.StatusSuccess,
				BeforeHz: res.DefaultHz,
				AfterHz:  res.OptimalHz,
			})
		},
	}

	boundedCmd := &cobra.Command{
		Use:   "bounded [maxErrHz]",
		Short: "Stop at the first candidate within maxErrHz of the target",
		Long: `Stop at the first candidate within maxErrHz of the target.

Without an argument the daemon uses maxAllowedError from its config. The
command fails if no candidate is within the limit; the factory trim is then
programmed back.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxErr, err := optionalUint32Arg(args, "maximum error")
			if err != nil {
				return err
			}

			res, err := apiClient().CalibrateBounded(maxErr)
			if err != nil {
				return fmt.Errorf("failed to calibrate: %w", err)
			}

			if showSteps {
				printSteps(cmd, res.Steps)
			}
			cmd.Printf("Trim: %s after %s steps (limit %d Hz)\n", bold("%#02x", res.Trim), bold("%d", len(res.Steps)), res.MaxErrorHz)

			var before uint32
			if len(res.Steps) > 0 {
				before = res.Steps[0].Hz
			}
			if err := (&display.Terminal{W: os.Stdout}).Show(display.Report{
				Status:   res.Status,
				BeforeHz: before,
				AfterHz:  res.Hz,
			}); err != nil {
				return err
			}
			return res.Err()
		},
	}

	cmd.AddCommand(minErrCmd, boundedCmd)
	return cmd
}

func printSteps(cmd *cobra.Command, steps []calibration.Step) {
	cmd.Println(bold("  #  trim  frequency     error"))
	for _, s := range steps {
		cmd.Printf("%3d  %#04x  %-12s  %d Hz\n", s.Index, s.Trim, display.Frequency(s.Hz), s.ErrorHz)
	}
}

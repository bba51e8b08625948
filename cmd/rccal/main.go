package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/charlie0129/rccal/pkg/client"
)

var (
	logLevel       = "info"
	unixSocketPath = "/var/run/rccal.sock"
	configPath     = "/etc/rccal.json"
)

var (
	gBasic        = "Basic:"
	gAdvanced     = "Advanced:"
	commandGroups = []string{
		gBasic,
		gAdvanced,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.StampMilli,
		})
	}

	return nil
}

func handleCmdError(err error) {
	switch {
	case errors.Is(err, client.ErrDaemonNotRunning):
		fmt.Fprintln(os.Stderr, "\nError: rccal daemon is not running")
		fmt.Fprintln(os.Stderr, "Start it with 'rccal daemon' or check --daemon-socket.")
	case errors.Is(err, client.ErrPermissionDenied):
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
		fmt.Fprintln(os.Stderr, "  - Or restart the daemon with '--always-allow-non-root-access'")
	case errors.Is(err, client.ErrBusy):
		fmt.Fprintln(os.Stderr, "\nError: another calibration is running on the bench, try again when it finishes")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rccal",
		Short: "rccal calibrates the internal RC oscillators of a microcontroller",
		Long: `rccal calibrates the internal RC oscillators of a microcontroller.

The HSI is trimmed against a 32.768 kHz crystal, either by sweeping every
candidate around the factory value (min-error) or by stopping at the first
candidate within a tolerance (bounded). The measured LSI is then used to
configure the independent watchdog.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger()
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "rccal daemon unix socket path")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewVersionCommand(),
		NewStatusCommand(),
		NewCalibrateCommand(),
		NewLSICommand(),
		NewWatchdogCommand(),
		NewPlanCommand(),
		NewMeasureCommand(),
		NewConfigCommand(),
	)

	return cmd
}

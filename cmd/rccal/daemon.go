package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/rccal/pkg/daemon"
	"github.com/charlie0129/rccal/pkg/version"
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	opts := daemon.Options{}

	cmd := &cobra.Command{
		Use:     "daemon",
		Short:   "Run the calibration daemon in the foreground",
		GroupID: gAdvanced,
		Long: `Run the calibration daemon in the foreground.

The daemon owns the bench, either the built-in simulated target or a fixture
on a serial port, and serves calibration runs on the unix socket given by
--daemon-socket. Settings come from the file given by --config; the flags
below override the backend without touching that file.`,
		Example: `  rccal daemon
  rccal daemon --backend serial --serial-port /dev/ttyACM0`,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("rccal daemon starting")

			opts.ConfigPath = configPath
			opts.UnixSocketPath = unixSocketPath
			return daemon.Run(opts)
		},
	}

	f := cmd.Flags()

	f.BoolVar(&opts.AllowNonRoot, "always-allow-non-root-access", false,
		"Allow non-root users to use the daemon socket, whatever allowNonRootAccess says.")
	f.StringVar(&opts.Bench.Backend, "backend", "",
		"Bench backend, sim or serial (default from config)")
	f.StringVar(&opts.Bench.SerialPort, "serial-port", "",
		"Serial port of the bench fixture (default from config)")

	return cmd
}

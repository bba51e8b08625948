package main

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/rccal/pkg/client"
	"github.com/charlie0129/rccal/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("client: %s %s\n", version.Version, version.GitCommit)

			v, err := apiClient().GetVersion()
			switch {
			case err == nil:
				cmd.Printf("daemon: %s %s\n", v.Version, v.GitCommit)
				if v.Version != version.Version {
					logrus.WithFields(logrus.Fields{
						"clientVersion": version.Version,
						"daemonVersion": v.Version,
					}).Warn("Version mismatch between client and daemon.")
				}
			case errors.Is(err, client.ErrDaemonNotRunning):
				cmd.Println("daemon: not running")
			default:
				logrus.Debugf("failed to get daemon version: %v", err)
			}
		},
	}
}

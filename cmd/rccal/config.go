package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/charlie0129/rccal/pkg/types"
	"github.com/charlie0129/rccal/pkg/utils/ptr"
)

type configSetting struct {
	use   string
	short string
	nargs int
	build func(args []string) (types.ConfigUpdate, error)
}

func uint32Setting(name string, set func(u *types.ConfigUpdate, v uint32)) func([]string) (types.ConfigUpdate, error) {
	return func(args []string) (types.ConfigUpdate, error) {
		var u types.ConfigUpdate
		v, err := parseUint32Arg(args[0], name)
		if err != nil {
			return u, err
		}
		set(&u, v)
		return u, nil
	}
}

func parseUint8Arg(arg string, valueName string) (uint8, error) {
	value, err := strconv.ParseUint(arg, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}
	return uint8(value), nil
}

var configSettings = []configSetting{
	{
		use:   "target-hz <hz>",
		short: "Set the frequency the calibration aims for",
		nargs: 1,
		build: uint32Setting("target frequency", func(u *types.ConfigUpdate, v uint32) { u.TargetHz = &v }),
	},
	{
		use:   "window <lower> <upper>",
		short: "Set the trim steps searched below and above the factory trim",
		nargs: 2,
		build: func(args []string) (types.ConfigUpdate, error) {
			var u types.ConfigUpdate
			lower, err := parseUint8Arg(args[0], "lower threshold")
			if err != nil {
				return u, err
			}
			upper, err := parseUint8Arg(args[1], "upper threshold")
			if err != nil {
				return u, err
			}
			u.LowerThreshold, u.UpperThreshold = &lower, &upper
			return u, nil
		},
	},
	{
		use:   "samples <n>",
		short: "Set the captures averaged per HSI measurement",
		nargs: 1,
		build: uint32Setting("sample count", func(u *types.ConfigUpdate, v uint32) { u.SampleCount = ptr.To(int(v)) }),
	},
	{
		use:   "max-error <hz>",
		short: "Set the default error limit of the bounded search",
		nargs: 1,
		build: uint32Setting("maximum error", func(u *types.ConfigUpdate, v uint32) { u.MaxAllowedError = &v }),
	},
	{
		use:   "capture-timeout <duration>",
		short: "Set the wait for one capture edge, 0 waits forever",
		nargs: 1,
		build: func(args []string) (types.ConfigUpdate, error) {
			var u types.ConfigUpdate
			d, err := time.ParseDuration(args[0])
			if err != nil {
				return u, fmt.Errorf("invalid capture timeout: %v", err)
			}
			u.CaptureTimeoutMs = ptr.To(int(d / time.Millisecond))
			return u, nil
		},
	},
	{
		use:   "watchdog-timeout <us>",
		short: "Set the default watchdog timeout in microseconds",
		nargs: 1,
		build: uint32Setting("watchdog timeout", func(u *types.ConfigUpdate, v uint32) { u.WatchdogTimeoutUs = &v }),
	},
	{
		use:   "non-root-access <enable|disable>",
		short: "Allow non-root users to talk to the daemon after its next start",
		nargs: 1,
		build: func(args []string) (types.ConfigUpdate, error) {
			var u types.ConfigUpdate
			switch args[0] {
			case "enable":
				u.AllowNonRootAccess = ptr.To(true)
			case "disable":
				u.AllowNonRootAccess = ptr.To(false)
			default:
				return u, fmt.Errorf("expected enable or disable, got %q", args[0])
			}
			return u, nil
		},
	},
}

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Change the daemon configuration",
		GroupID: gAdvanced,
		Long: `Change the daemon configuration.

Each change is saved to the daemon's config file and used by the next run.`,
	}

	for _, s := range configSettings {
		s := s
		cmd.AddCommand(&cobra.Command{
			Use:   s.use,
			Short: s.short,
			Args:  cobra.ExactArgs(s.nargs),
			RunE: func(cmd *cobra.Command, args []string) error {
				u, err := s.build(args)
				if err != nil {
					return err
				}
				raw, err := apiClient().SetConfig(u)
				if err != nil {
					return fmt.Errorf("failed to set config: %w", err)
				}
				cmd.Printf("Config updated (target %s Hz, window -%s/+%s)\n",
					bold("%d", ptr.Deref(raw.TargetHz, 0)),
					bold("%d", ptr.Deref(raw.LowerThreshold, 0)),
					bold("%d", ptr.Deref(raw.UpperThreshold, 0)))
				return nil
			},
		})
	}

	return cmd
}

package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"

	"github.com/charlie0129/rccal/pkg/client"
)

func apiClient() *client.Client {
	return client.NewClient(unixSocketPath)
}

func parseUint32Arg(arg string, valueName string) (uint32, error) {
	value, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}
	return uint32(value), nil
}

// optionalUint32Arg parses args[0] if present.
func optionalUint32Arg(args []string, valueName string) (*uint32, error) {
	if len(args) == 0 {
		return nil, nil
	}
	v, err := parseUint32Arg(args[0], valueName)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

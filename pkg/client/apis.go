package client

import (
	"encoding/json"
	"strconv"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/rccal/pkg/calibration"
	"github.com/charlie0129/rccal/pkg/config"
	"github.com/charlie0129/rccal/pkg/types"
	"github.com/charlie0129/rccal/pkg/watchdog"
)

func decode[T any](ret string, what string) (*T, error) {
	var v T
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return &v, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}
	return decode[config.RawFileConfig](ret, "config")
}

// SetConfig changes the fields set in u and returns the resulting config.
func (c *Client) SetConfig(u types.ConfigUpdate) (*config.RawFileConfig, error) {
	payload, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	ret, err := c.Put("/config", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set config")
	}
	return decode[config.RawFileConfig](ret, "config")
}

func (c *Client) GetStatus() (*types.Status, error) {
	ret, err := c.Get("/status")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get status")
	}
	return decode[types.Status](ret, "status")
}

func (c *Client) GetVersion() (*types.VersionInfo, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get version")
	}
	return decode[types.VersionInfo](ret, "version")
}

func (c *Client) CalibrateMinError() (*calibration.MinErrorResult, error) {
	ret, err := c.Post("/calibration/min-error", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to run minimum-error calibration")
	}
	return decode[calibration.MinErrorResult](ret, "calibration result")
}

// CalibrateBounded runs a bounded-error search. A nil maxErrorHz uses the
// daemon's configured limit.
func (c *Client) CalibrateBounded(maxErrorHz *uint32) (*calibration.BoundedResult, error) {
	payload, err := json.Marshal(types.BoundedRequest{MaxErrorHz: maxErrorHz})
	if err != nil {
		return nil, err
	}
	ret, err := c.Post("/calibration/bounded", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to run bounded-error calibration")
	}
	return decode[calibration.BoundedResult](ret, "calibration result")
}

func (c *Client) MeasureLSI() (uint32, error) {
	ret, err := c.Post("/lsi", "")
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to measure lsi")
	}
	hz, err := strconv.ParseUint(ret, 10, 32)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to parse lsi frequency %q", ret)
	}
	return uint32(hz), nil
}

// ConfigureWatchdog programs the watchdog. A nil timeoutUs uses the daemon's
// configured timeout.
func (c *Client) ConfigureWatchdog(timeoutUs *uint32) (*watchdog.Plan, error) {
	payload, err := json.Marshal(types.WatchdogRequest{TimeoutUs: timeoutUs})
	if err != nil {
		return nil, err
	}
	ret, err := c.Post("/watchdog", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to configure watchdog")
	}
	return decode[watchdog.Plan](ret, "watchdog plan")
}

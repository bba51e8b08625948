package daemon

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rccal/pkg/calibration"
	"github.com/charlie0129/rccal/pkg/capture"
	"github.com/charlie0129/rccal/pkg/config"
	"github.com/charlie0129/rccal/pkg/types"
	"github.com/charlie0129/rccal/pkg/version"
	"github.com/charlie0129/rccal/pkg/watchdog"
)

// statusCode maps run errors to HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, ErrCalibrationInProgress):
		return http.StatusConflict
	case errors.Is(err, watchdog.ErrNoTimeoutBracket),
		errors.Is(err, watchdog.ErrInvalidFrequency),
		errors.Is(err, calibration.ErrTrimOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, capture.ErrStalledCapture):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// bindOptionalJSON decodes the body into v unless the body is empty.
func bindOptionalJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(conf)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

// applyConfigUpdate validates the whole update before changing anything.
func applyConfigUpdate(u types.ConfigUpdate) error {
	raw := config.RawFileConfig{
		TargetHz:           u.TargetHz,
		LowerThreshold:     u.LowerThreshold,
		UpperThreshold:     u.UpperThreshold,
		SampleCount:        u.SampleCount,
		MaxAllowedError:    u.MaxAllowedError,
		CaptureTimeoutMs:   u.CaptureTimeoutMs,
		WatchdogTimeoutUs:  u.WatchdogTimeoutUs,
		AllowNonRootAccess: u.AllowNonRootAccess,
	}
	if err := raw.Validate(); err != nil {
		return err
	}

	if u.TargetHz != nil {
		if err := conf.SetTargetHz(*u.TargetHz); err != nil {
			return err
		}
	}
	if u.LowerThreshold != nil || u.UpperThreshold != nil {
		w := conf.Window()
		if u.LowerThreshold != nil {
			w.Lower = *u.LowerThreshold
		}
		if u.UpperThreshold != nil {
			w.Upper = *u.UpperThreshold
		}
		if err := conf.SetWindow(w); err != nil {
			return err
		}
	}
	if u.SampleCount != nil {
		if err := conf.SetSampleCount(*u.SampleCount); err != nil {
			return err
		}
	}
	if u.MaxAllowedError != nil {
		conf.SetMaxAllowedError(*u.MaxAllowedError)
	}
	if u.CaptureTimeoutMs != nil {
		if err := conf.SetCaptureTimeout(time.Duration(*u.CaptureTimeoutMs) * time.Millisecond); err != nil {
			return err
		}
	}
	if u.WatchdogTimeoutUs != nil {
		if err := conf.SetWatchdogTimeoutUs(*u.WatchdogTimeoutUs); err != nil {
			return err
		}
	}
	if u.AllowNonRootAccess != nil {
		conf.SetAllowNonRootAccess(*u.AllowNonRootAccess)
	}
	return nil
}

func putConfig(c *gin.Context) {
	var u types.ConfigUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if err := applyConfigUpdate(u); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if err := conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	if f, ok := conf.(*config.File); ok {
		logrus.WithFields(f.LogrusFields()).Info("config updated")
	}

	getConfig(c)
}

func getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, currentStatus())
}

func postMinError(c *gin.Context) {
	res, err := runMinError(c.Request.Context())
	if err != nil {
		logrus.Errorf("min-error calibration failed: %v", err)
		abortWithError(c, statusCode(err), err)
		return
	}

	c.IndentedJSON(http.StatusOK, res)
}

func postBounded(c *gin.Context) {
	var req types.BoundedRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	maxErr := conf.MaxAllowedError()
	if req.MaxErrorHz != nil {
		maxErr = *req.MaxErrorHz
	}

	res, err := runBounded(c.Request.Context(), maxErr)
	if err != nil {
		logrus.Errorf("bounded calibration failed: %v", err)
		abortWithError(c, statusCode(err), err)
		return
	}

	// An exhausted search is a valid outcome, reported through Status.
	c.IndentedJSON(http.StatusOK, res)
}

func postLSI(c *gin.Context) {
	hz, err := runLSI(c.Request.Context())
	if err != nil {
		logrus.Errorf("lsi measurement failed: %v", err)
		abortWithError(c, statusCode(err), err)
		return
	}

	c.IndentedJSON(http.StatusOK, hz)
}

func postWatchdog(c *gin.Context) {
	var req types.WatchdogRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	timeoutUs := conf.WatchdogTimeoutUs()
	if req.TimeoutUs != nil {
		timeoutUs = *req.TimeoutUs
	}
	if timeoutUs == 0 {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("timeout must be positive"))
		return
	}

	plan, err := runWatchdog(c.Request.Context(), timeoutUs)
	if err != nil {
		logrus.Errorf("watchdog configuration failed: %v", err)
		abortWithError(c, statusCode(err), err)
		return
	}

	c.IndentedJSON(http.StatusOK, plan)
}

func getEvents(c *gin.Context) {
	ch := sseHub.Subscribe()
	defer sseHub.Unsubscribe(ch)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		}
	})
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, types.VersionInfo{
		Version:   version.Version,
		GitCommit: version.GitCommit,
	})
}

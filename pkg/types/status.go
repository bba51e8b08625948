package types

import (
	"time"

	"github.com/charlie0129/rccal/pkg/calibration"
	"github.com/charlie0129/rccal/pkg/display"
	"github.com/charlie0129/rccal/pkg/watchdog"
)

// Status is the daemon's record of the last runs.
// This struct is shared between the daemon and client packages.
type Status struct {
	Backend   string                      `json:"backend"`
	Running   string                      `json:"running,omitempty"`
	MinError  *calibration.MinErrorResult `json:"minError,omitempty"`
	Bounded   *calibration.BoundedResult  `json:"bounded,omitempty"`
	Summary   *calibration.Summary        `json:"summary,omitempty"`
	Report    *display.Report             `json:"report,omitempty"`
	LSIHz     uint32                      `json:"lsiHz,omitempty"`
	Watchdog  *watchdog.Plan              `json:"watchdog,omitempty"`
	LastError string                      `json:"lastError,omitempty"`
	UpdatedAt time.Time                   `json:"updatedAt"`
}

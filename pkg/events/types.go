package events

import "encoding/json"

// Event names.
const (
	CalibrationStep    = "calibration.step"
	CalibrationDone    = "calibration.done"
	LSIMeasured        = "lsi.measured"
	WatchdogConfigured = "watchdog.configured"
)

// Event is a server-sent event from the daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// CalibrationStepEvent is published for every measured trim candidate.
type CalibrationStepEvent struct {
	Strategy string `json:"strategy"`
	Index    int    `json:"index"`
	Trim     uint8  `json:"trim"`
	Hz       uint32 `json:"hz"`
	ErrorHz  uint32 `json:"errorHz"`
	Ts       int64  `json:"ts"`
}

// CalibrationDoneEvent is published when a run finishes.
type CalibrationDoneEvent struct {
	Strategy string `json:"strategy"`
	Status   string `json:"status"`
	Trim     uint8  `json:"trim"`
	BeforeHz uint32 `json:"beforeHz"`
	AfterHz  uint32 `json:"afterHz"`
	Message  string `json:"message,omitempty"`
	Ts       int64  `json:"ts"`
}

// LSIMeasuredEvent carries a low-speed oscillator measurement.
type LSIMeasuredEvent struct {
	Hz uint32 `json:"hz"`
	Ts int64  `json:"ts"`
}

// WatchdogConfiguredEvent carries the programmed watchdog plan.
type WatchdogConfiguredEvent struct {
	TimeoutUs uint32 `json:"timeoutUs"`
	Prescaler uint16 `json:"prescaler"`
	Reload    uint8  `json:"reload"`
	LSIHz     uint32 `json:"lsiHz"`
	Ts        int64  `json:"ts"`
}

// DecodeAs unmarshals the payload of e into T. Empty payloads give the zero
// value.
//
//	step, err := events.DecodeAs[events.CalibrationStepEvent](ev)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}

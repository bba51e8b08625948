package types

// BoundedRequest is the optional body of POST /calibration/bounded.
type BoundedRequest struct {
	MaxErrorHz *uint32 `json:"maxErrorHz,omitempty"`
}

// WatchdogRequest is the optional body of POST /watchdog.
type WatchdogRequest struct {
	TimeoutUs *uint32 `json:"timeoutUs,omitempty"`
}

// VersionInfo is returned by GET /version.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ConfigUpdate is the body of PUT /config. Only the fields that are set
// change, and the result is saved to the config file.
type ConfigUpdate struct {
	TargetHz           *uint32 `json:"targetHz,omitempty"`
	LowerThreshold     *uint8  `json:"lowerThreshold,omitempty"`
	UpperThreshold     *uint8  `json:"upperThreshold,omitempty"`
	SampleCount        *int    `json:"sampleCount,omitempty"`
	MaxAllowedError    *uint32 `json:"maxAllowedError,omitempty"`
	CaptureTimeoutMs   *int    `json:"captureTimeoutMs,omitempty"`
	WatchdogTimeoutUs  *uint32 `json:"watchdogTimeoutUs,omitempty"`
	AllowNonRootAccess *bool   `json:"allowNonRootAccess,omitempty"`
}

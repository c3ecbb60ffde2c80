package domain

import "time"

// ErrorKind classifies a failed probe.
type ErrorKind string

const (
	ErrorKindNone    ErrorKind = ""
	ErrorKindNetwork ErrorKind = "network"
	ErrorKindTimeout ErrorKind = "timeout"
	ErrorKindConfig  ErrorKind = "config"
)

// Observation is one immutable probe result.
type Observation struct {
	ConnectionID     string    `json:"connectionId"        db:"connection_id"`
	Timestamp        time.Time `json:"timestamp"           db:"observed_at"`
	Success          bool      `json:"success"             db:"success"`
	LatencyMs        *float64  `json:"latencyMs"           db:"latency_ms"`
	HTTPStatus       *int      `json:"httpStatus"          db:"http_status"`
	ErrorMessage     *string   `json:"errorMessage"        db:"error_message"`
	ErrorKind        ErrorKind `json:"errorKind,omitempty" db:"error_kind"`
	PayloadSizeBytes int64     `json:"payloadSizeBytes"    db:"payload_size"`
}

// Latency returns the observed latency, zero when the probe failed.
func (o Observation) Latency() time.Duration {
	if o.LatencyMs == nil {
		return 0
	}
	return time.Duration(*o.LatencyMs * float64(time.Millisecond))
}

// Error returns the error message or an empty string.
func (o Observation) Error() string {
	if o.ErrorMessage == nil {
		return ""
	}
	return *o.ErrorMessage
}

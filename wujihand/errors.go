package wujihand

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	// ErrTimeout reports that no device reply arrived within the
	// operation's deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrClosed reports an operation on a closed device session.
	ErrClosed = errors.New("device session is closed")

	// ErrControllerClosed reports an operation on a closed realtime
	// controller.
	ErrControllerClosed = errors.New("realtime controller is closed")

	// ErrControllerAttached reports an attempt to open a second
	// realtime controller on the same hand.
	ErrControllerAttached = errors.New("a realtime controller is already attached")

	// ErrUpstreamDisabled reports a telemetry read on a controller
	// opened with upstream disabled.
	ErrUpstreamDisabled = errors.New("upstream telemetry is disabled")

	// ErrNoCachedValue reports a cached-value read on a field that has
	// never been read from the device.
	ErrNoCachedValue = errors.New("field has never been read")

	// ErrConcurrentAccess reports overlapping calls on one session.
	// Call DisableThreadSafeCheck and serialize calls with your own
	// mutex to drive a session from multiple goroutines.
	ErrConcurrentAccess = errors.New("concurrent session access detected")
)

// ParameterError reports a shape, range or argument violation. It is a
// programming error, distinct from any protocol failure.
type ParameterError struct {
	Op     string
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("%s: invalid parameter: %s", e.Op, e.Reason)
}

// IndexError reports an out-of-range finger or joint index.
type IndexError struct {
	What  string // "finger" or "joint"
	Index int
	Max   int // exclusive upper bound
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%s index %d out of range [0, %d)", e.What, e.Index, e.Max)
}

// UnsupportedFeatureError reports that the connected firmware predates
// a feature, so callers can probe and degrade gracefully.
type UnsupportedFeatureError struct {
	Feature  string
	Required string // minimum firmware version
	Actual   string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("%s requires firmware >= %s (device reports %s)",
		e.Feature, e.Required, e.Actual)
}

// ProtocolError reports a malformed or unexpected device response.
type ProtocolError struct {
	Op     string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: protocol error: %s", e.Op, e.Reason)
}

// TimeoutError wraps ErrTimeout with the operation that expired.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: request timed out", e.Op)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsUnsupportedFeature returns true if the error reports a
// firmware-gated feature, along with the typed error for inspection.
func IsUnsupportedFeature(err error) (*UnsupportedFeatureError, bool) {
	var ufe *UnsupportedFeatureError
	if errors.As(err, &ufe) {
		return ufe, true
	}
	return nil, false
}

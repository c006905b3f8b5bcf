package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrSensorNameRequired = sterrors.New("sensornode: sensor name is required")
	ErrConfigRequired     = sterrors.New("sensornode: configuration is required")
	ErrLinkRequired       = sterrors.New("sensornode: link is required")
	ErrPublisherRequired  = sterrors.New("sensornode: publisher is required")
	ErrEventTypeRequired  = sterrors.New("sensornode: event type is required")
	ErrMessageTooLarge    = sterrors.New("sensornode: message exceeds transport size limit")
	ErrLinkClosed         = sterrors.New("sensornode: link is closed")
	ErrUnknownSource      = sterrors.New("sensornode: unknown frame source")
	ErrDevicePanic        = sterrors.New("sensornode: device loop panicked")
)

// DefaultDeviceKind is the kind reported by the depth camera driver.
const DefaultDeviceKind = "Kinect"

// DeviceError is the only failure a device loop reports as a recognised,
// recoverable-to-exit-status condition. Everything else is fatal.
type DeviceError struct {
	Kind    string
	Message string
	Err     error
}

// NewDeviceError builds a DeviceError of the default kind.
func NewDeviceError(msg string, cause error) *DeviceError {
	return &DeviceError{Kind: DefaultDeviceKind, Message: msg, Err: cause}
}

// Tag is the prefix written in front of the diagnostic line, e.g. "KinectError".
func (e *DeviceError) Tag() string {
	kind := e.Kind
	if kind == "" {
		kind = DefaultDeviceKind
	}
	return kind + "Error"
}

// Diagnostic renders the single stderr line for this failure.
func (e *DeviceError) Diagnostic() string {
	return fmt.Sprintf("%s- %s", e.Tag(), e.Message)
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Tag(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Tag(), e.Message)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// AsDeviceError reports whether err carries a DeviceError anywhere in its chain.
func AsDeviceError(err error) (*DeviceError, bool) {
	var devErr *DeviceError
	if sterrors.As(err, &devErr) {
		return devErr, true
	}
	return nil, false
}

// ConfigValidationError marks configuration problems so callers can map them
// to a usage failure.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("sensornode: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// AcquisitionError reports that a Link or Device could not be constructed.
type AcquisitionError struct {
	Stage string
	Err   error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("sensornode: acquire %s: %v", e.Stage, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

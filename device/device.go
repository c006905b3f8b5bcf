// Package device defines the contract between the sensor runtime and a
// capture driver.
package device

import (
	"context"

	errspkg "github.com/drblury/sensornode/internal/runtime/errors"
	"github.com/drblury/sensornode/link"
)

// Link is the part of a link.Link a driver may use. A driver never closes
// its Link; the Link outlives it.
type Link interface {
	Name() string
	Publish(ctx context.Context, ev link.Event) error
}

// Device is a capture driver bound to a Link.
type Device interface {
	// Loop blocks while frames are captured. It returns nil when capture
	// stops normally and a *Error when the hardware fails.
	Loop(ctx context.Context) error
	// Close releases the hardware session.
	Close() error
}

// Factory opens a Device bound to l.
type Factory func(ctx context.Context, l Link) (Device, error)

// Error is the typed failure a Loop reports.
type Error = errspkg.DeviceError

// NewError builds an Error of the default kind.
func NewError(msg string, cause error) *Error {
	return errspkg.NewDeviceError(msg, cause)
}

var _ Link = (*link.Link)(nil)

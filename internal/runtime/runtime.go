package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/drblury/sensornode/device"
	errspkg "github.com/drblury/sensornode/internal/runtime/errors"
	loggingpkg "github.com/drblury/sensornode/internal/runtime/logging"
)

// Process exit statuses.
const (
	ExitOK          = 0
	ExitDeviceError = 1
	ExitUsage       = 2
	ExitAcquisition = 3
)

// Lifecycle markers written to stdout.
const (
	StartedLine  = "Started"
	FinishedLine = "Finished"
)

// Link is what the runtime needs from a publish link: the device-facing half
// plus the release the runtime owns.
type Link interface {
	device.Link
	Close() error
}

// LinkFactory acquires the Link for a sensor name.
type LinkFactory func(ctx context.Context, name string) (Link, error)

// Runtime binds one Device to one Link and runs the device loop once.
type Runtime struct {
	Stdout    io.Writer
	Stderr    io.Writer
	Logger    loggingpkg.ServiceLogger
	NewLink   LinkFactory
	NewDevice device.Factory
	Hooks     Hooks
}

// Run acquires the Link, then the Device, runs the loop and reports the
// outcome as an exit status. Both resources are released on every path,
// the Device first.
func (r *Runtime) Run(ctx context.Context, name string) int {
	if name == "" {
		r.logger().Error("Refusing to start", errspkg.ErrSensorNameRequired, nil)
		return ExitUsage
	}
	return r.report(r.run(ctx, name))
}

func (r *Runtime) run(ctx context.Context, name string) error {
	l, err := r.NewLink(ctx, name)
	if err == nil && l == nil {
		err = errspkg.ErrLinkRequired
	}
	if err != nil {
		return &errspkg.AcquisitionError{Stage: "link", Err: err}
	}
	defer r.release("link", l)

	dev, err := r.NewDevice(ctx, l)
	if err == nil && dev == nil {
		err = errors.New("device factory returned no device")
	}
	if err != nil {
		return &errspkg.AcquisitionError{Stage: "device", Err: err}
	}
	defer r.release("device", dev)

	run := RunContext{Context: ctx, SensorName: name, StartedAt: time.Now()}
	_, _ = fmt.Fprintln(r.Stdout, StartedLine)
	r.Hooks.started(run)

	err = r.loop(ctx, dev)
	run.Duration = time.Since(run.StartedAt)
	if err != nil {
		r.Hooks.failed(run, err)
		return err
	}

	_, _ = fmt.Fprintln(r.Stdout, FinishedLine)
	r.Hooks.finished(run)
	return nil
}

// loop turns a panic inside the driver into an error so the deferred
// releases still run in order.
func (r *Runtime) loop(ctx context.Context, dev device.Device) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", errspkg.ErrDevicePanic, p)
		}
	}()
	return dev.Loop(ctx)
}

func (r *Runtime) release(stage string, c io.Closer) {
	if err := c.Close(); err != nil {
		r.logger().Error("Release failed", err, loggingpkg.LogFields{"stage": stage})
		return
	}
	r.logger().Debug("Released", loggingpkg.LogFields{"stage": stage})
}

func (r *Runtime) report(err error) int {
	if err == nil {
		return ExitOK
	}

	var acqErr *errspkg.AcquisitionError
	if errors.As(err, &acqErr) {
		r.logger().Error("Acquisition failed", acqErr.Err, loggingpkg.LogFields{"stage": acqErr.Stage})
		return ExitAcquisition
	}

	// The diagnostic line is the only report of a device error on stderr.
	if devErr, ok := errspkg.AsDeviceError(err); ok {
		_, _ = fmt.Fprintln(r.Stderr, devErr.Diagnostic())
		r.logger().Debug("Device failed", loggingpkg.LogFields{"kind": devErr.Tag()})
		return ExitDeviceError
	}

	r.logger().Error("Device loop aborted", err, nil)
	return ExitAcquisition
}

func (r *Runtime) logger() loggingpkg.ServiceLogger {
	if r.Logger == nil {
		return loggingpkg.Nop()
	}
	return r.Logger
}

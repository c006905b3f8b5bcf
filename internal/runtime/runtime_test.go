package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/sensornode/device"
	errspkg "github.com/drblury/sensornode/internal/runtime/errors"
)

func newTestRuntime(h *harness) (*Runtime, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return &Runtime{
		Stdout:    &stdout,
		Stderr:    &stderr,
		NewLink:   h.newLink,
		NewDevice: h.newDevice,
	}, &stdout, &stderr
}

func requireReleasedOnce(t *testing.T, h *harness) {
	t.Helper()
	for _, l := range h.links {
		assert.Equal(t, 1, l.closes, "link closes")
	}
	for _, d := range h.devices {
		assert.Equal(t, 1, d.closes, "device closes")
	}
}

func TestRun_Nominal(t *testing.T) {
	h := newHarness()
	rt, stdout, stderr := newTestRuntime(h)

	code := rt.Run(context.Background(), "front-desk")

	assert.Equal(t, ExitOK, code)
	assert.Equal(t, "Started\nFinished\n", stdout.String())
	assert.Empty(t, stderr.String())
	assert.Equal(t, []string{
		"link.new front-desk",
		"device.new front-desk",
		"device.loop",
		"device.close",
		"link.close",
	}, h.j.list())

	require.Len(t, h.links, 1)
	require.Len(t, h.devices, 1)
	assert.Same(t, h.links[0], h.devices[0].link)
	assert.Equal(t, 1, h.devices[0].loops)
	requireReleasedOnce(t, h)
}

func TestRun_DeviceError(t *testing.T) {
	h := newHarness()
	h.loop = func(context.Context) error {
		return device.NewError("USB disconnected", errors.New("read /dev/video1: no such device"))
	}
	rt, stdout, stderr := newTestRuntime(h)

	code := rt.Run(context.Background(), "lab-1")

	assert.Equal(t, ExitDeviceError, code)
	assert.Equal(t, "Started\n", stdout.String())
	assert.Equal(t, "KinectError- USB disconnected\n", stderr.String())
	assert.Equal(t, []string{
		"link.new lab-1",
		"device.new lab-1",
		"device.loop",
		"device.close",
		"link.close",
	}, h.j.list())
	requireReleasedOnce(t, h)
}

func TestRun_WrappedDeviceError(t *testing.T) {
	h := newHarness()
	h.loop = func(context.Context) error {
		return fmt.Errorf("capture: %w", device.NewError("frame stream ended", nil))
	}
	rt, _, stderr := newTestRuntime(h)

	assert.Equal(t, ExitDeviceError, rt.Run(context.Background(), "lab-1"))
	assert.Contains(t, stderr.String(), "KinectError- frame stream ended")
}

func TestRun_EmptyNameConstructsNothing(t *testing.T) {
	h := newHarness()
	rt, stdout, _ := newTestRuntime(h)

	assert.Equal(t, ExitUsage, rt.Run(context.Background(), ""))
	assert.Zero(t, h.constructions())
	assert.Empty(t, stdout.String())
}

func TestRun_LinkAcquisitionFails(t *testing.T) {
	h := newHarness()
	h.linkErr = errors.New("nats: no servers available for connection")
	rt, stdout, stderr := newTestRuntime(h)

	assert.Equal(t, ExitAcquisition, rt.Run(context.Background(), "front-desk"))
	assert.Empty(t, stdout.String())
	assert.NotContains(t, stderr.String(), "KinectError")
	assert.Equal(t, []string{"link.new front-desk"}, h.j.list())
}

func TestRun_DeviceAcquisitionFailsReleasesLink(t *testing.T) {
	h := newHarness()
	h.deviceErr = device.NewError("no camera", nil)
	rt, stdout, stderr := newTestRuntime(h)

	assert.Equal(t, ExitAcquisition, rt.Run(context.Background(), "front-desk"))
	assert.Empty(t, stdout.String())
	assert.Empty(t, stderr.String())
	assert.Equal(t, []string{
		"link.new front-desk",
		"device.new front-desk",
		"link.close",
	}, h.j.list())
	requireReleasedOnce(t, h)
}

func TestRun_NilLinkIsAcquisitionFailure(t *testing.T) {
	h := newHarness()
	rt, _, _ := newTestRuntime(h)
	rt.NewLink = func(context.Context, string) (Link, error) { return nil, nil }

	assert.Equal(t, ExitAcquisition, rt.Run(context.Background(), "front-desk"))
	assert.Empty(t, h.devices)
}

func TestRun_LoopPanicReleasesBoth(t *testing.T) {
	h := newHarness()
	h.loop = func(context.Context) error { panic("index out of range") }
	rt, stdout, stderr := newTestRuntime(h)

	var failed error
	rt.Hooks.OnFailed = func(_ RunContext, err error) { failed = err }

	assert.Equal(t, ExitAcquisition, rt.Run(context.Background(), "front-desk"))
	assert.Equal(t, "Started\n", stdout.String())
	assert.NotContains(t, stderr.String(), "KinectError")
	assert.ErrorIs(t, failed, errspkg.ErrDevicePanic)
	assert.Equal(t, []string{
		"link.new front-desk",
		"device.new front-desk",
		"device.loop",
		"device.close",
		"link.close",
	}, h.j.list())
	requireReleasedOnce(t, h)
}

func TestRun_OtherLoopErrorIsNotADeviceError(t *testing.T) {
	h := newHarness()
	h.loop = func(context.Context) error { return errors.New("unexpected") }
	rt, stdout, stderr := newTestRuntime(h)

	assert.Equal(t, ExitAcquisition, rt.Run(context.Background(), "front-desk"))
	assert.Equal(t, "Started\n", stdout.String())
	assert.Empty(t, stderr.String())
	requireReleasedOnce(t, h)
}

func TestRun_ReleaseErrorKeepsExitCode(t *testing.T) {
	h := newHarness()
	rt, stdout, _ := newTestRuntime(h)
	rt.NewLink = func(ctx context.Context, name string) (Link, error) {
		l, err := h.newLink(ctx, name)
		l.(*fakeLink).closeErr = errors.New("connection reset")
		return l, err
	}

	assert.Equal(t, ExitOK, rt.Run(context.Background(), "front-desk"))
	assert.Equal(t, "Started\nFinished\n", stdout.String())
	requireReleasedOnce(t, h)
}

func TestRun_PassesContextToLoop(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "front-desk")

	h := newHarness()
	var seen any
	h.loop = func(ctx context.Context) error {
		seen = ctx.Value(key{})
		return nil
	}
	rt, _, _ := newTestRuntime(h)

	assert.Equal(t, ExitOK, rt.Run(ctx, "front-desk"))
	assert.Equal(t, "front-desk", seen)
}

func TestRun_Hooks(t *testing.T) {
	h := newHarness()
	rt, _, _ := newTestRuntime(h)

	var calls []string
	rt.Hooks = Hooks{
		OnStarted:  func(run RunContext) { calls = append(calls, "started "+run.SensorName) },
		OnFinished: func(run RunContext) { calls = append(calls, "finished") },
		OnFailed:   func(RunContext, error) { calls = append(calls, "failed") },
	}

	assert.Equal(t, ExitOK, rt.Run(context.Background(), "front-desk"))
	assert.Equal(t, []string{"started front-desk", "finished"}, calls)
}

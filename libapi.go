package sensornode

import (
	"context"

	"github.com/drblury/sensornode/device"
	"github.com/drblury/sensornode/device/kinect"
	runtimepkg "github.com/drblury/sensornode/internal/runtime"
	configpkg "github.com/drblury/sensornode/internal/runtime/config"
	errspkg "github.com/drblury/sensornode/internal/runtime/errors"
	idspkg "github.com/drblury/sensornode/internal/runtime/ids"
	jsoncodec "github.com/drblury/sensornode/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/sensornode/internal/runtime/logging"
	metadatapkg "github.com/drblury/sensornode/internal/runtime/metadata"
	"github.com/drblury/sensornode/link"
	"github.com/drblury/sensornode/transport"
)

type (
	Config       = configpkg.Config
	DeviceConfig = configpkg.DeviceConfig

	Runtime      = runtimepkg.Runtime
	Dependencies = runtimepkg.Dependencies
	LinkFactory  = runtimepkg.LinkFactory
	RuntimeLink  = runtimepkg.Link
	Hooks        = runtimepkg.Hooks
	RunContext   = runtimepkg.RunContext
	RunMetrics   = runtimepkg.RunMetrics

	Link       = link.Link
	LinkOption = link.Option
	Event      = link.Event
	Envelope   = link.Envelope

	Device        = device.Device
	DeviceLink    = device.Link
	DeviceFactory = device.Factory
	DeviceError   = errspkg.DeviceError

	KinectConfig = kinect.Config
	DepthFrame   = kinect.DepthFrame
	FrameSource  = kinect.FrameSource

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError
	AcquisitionError      = errspkg.AcquisitionError

	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

var (
	DefaultConfig  = configpkg.Default
	ValidateConfig = configpkg.ValidateConfig
	LoadConfigFile = configpkg.LoadFile
	ApplyEnv       = configpkg.ApplyEnv

	NewLink           = link.New
	WithRegistry      = link.WithRegistry
	WithPublisher     = link.WithPublisher
	WithMetrics       = link.WithMetrics
	WithCorrelationID = link.WithCorrelationID
	EncodePayload     = link.EncodePayload
	DecodePayload     = link.DecodePayload

	NewKinect     = kinect.New
	KinectFactory = kinect.Factory

	NewDeviceError = errspkg.NewDeviceError
	AsDeviceError  = errspkg.AsDeviceError

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build

	NewLogger            = loggingpkg.New
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewWatermillAdapter  = loggingpkg.NewWatermillAdapter

	NewMetadata = metadatapkg.New
	CreateULID  = idspkg.CreateULID

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	ErrSensorNameRequired = errspkg.ErrSensorNameRequired
	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLinkRequired       = errspkg.ErrLinkRequired
	ErrPublisherRequired  = errspkg.ErrPublisherRequired
	ErrEventTypeRequired  = errspkg.ErrEventTypeRequired
	ErrMessageTooLarge    = errspkg.ErrMessageTooLarge
	ErrLinkClosed         = errspkg.ErrLinkClosed
	ErrUnknownSource      = errspkg.ErrUnknownSource
	ErrDevicePanic        = errspkg.ErrDevicePanic
)

// Exit statuses returned by Main.
const (
	ExitOK          = runtimepkg.ExitOK
	ExitDeviceError = runtimepkg.ExitDeviceError
	ExitUsage       = runtimepkg.ExitUsage
	ExitAcquisition = runtimepkg.ExitAcquisition
)

// Version of the sensor runtime.
const Version = runtimepkg.Version

// Main runs the sensor command line with args and returns the exit status.
func Main(ctx context.Context, args []string, deps Dependencies) int {
	return runtimepkg.Main(ctx, args, deps)
}
